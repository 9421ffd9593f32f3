package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/telekom/owners-notify/pkg/owners"
)

// UserURI is the canonical path of a user's profile.
func UserURI(name string) string {
	return "/p/" + name + "/"
}

// CreateUser inserts or updates a user.
func (s *Store) CreateUser(ctx context.Context, id, name, email string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, name, email) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, email=excluded.email`,
		id, name, email)
	if err != nil {
		return fmt.Errorf("create user %s: %w", id, err)
	}
	return nil
}

// CreateRepository inserts or updates a repository. uri is its canonical path.
func (s *Store) CreateRepository(ctx context.Context, id, name, uri string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO repositories(id, name, uri) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, uri=excluded.uri`,
		id, name, uri)
	if err != nil {
		return fmt.Errorf("create repository %s: %w", id, err)
	}
	return nil
}

// SavePackage inserts or updates the package record. ActorID is not stored.
func (s *Store) SavePackage(ctx context.Context, pkg owners.Package) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO packages(id, name, description, primary_owner_id, auditing_enabled) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description,
		   primary_owner_id=excluded.primary_owner_id, auditing_enabled=excluded.auditing_enabled`,
		pkg.ID, pkg.Name, pkg.Description, pkg.PrimaryOwnerID, pkg.AuditingEnabled)
	if err != nil {
		return fmt.Errorf("save package %s: %w", pkg.ID, err)
	}
	return nil
}

// LoadPackage returns the stored package or ErrNotFound.
func (s *Store) LoadPackage(ctx context.Context, id string) (owners.Package, error) {
	var pkg owners.Package
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, primary_owner_id, auditing_enabled FROM packages WHERE id = ?`, id).
		Scan(&pkg.ID, &pkg.Name, &pkg.Description, &pkg.PrimaryOwnerID, &pkg.AuditingEnabled)
	if errors.Is(err, sql.ErrNoRows) {
		return owners.Package{}, fmt.Errorf("package %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return owners.Package{}, fmt.Errorf("load package %s: %w", id, err)
	}
	return pkg, nil
}

// PackageRecord is a package together with its owners and path rules.
type PackageRecord struct {
	Package owners.Package
	Owners  []owners.Owner
	Paths   []owners.PathRule
}

// DeletePackage removes a package with its owners and paths and returns the
// record as it was before deletion, suitable for RestorePackage.
func (s *Store) DeletePackage(ctx context.Context, id string) (PackageRecord, error) {
	pkg, err := s.LoadPackage(ctx, id)
	if err != nil {
		return PackageRecord{}, err
	}
	rec := PackageRecord{Package: pkg}
	if rec.Owners, err = s.LoadOwners(ctx, id); err != nil {
		return PackageRecord{}, fmt.Errorf("delete package %s: %w", id, err)
	}
	if rec.Paths, err = s.LoadPaths(ctx, id); err != nil {
		return PackageRecord{}, fmt.Errorf("delete package %s: %w", id, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PackageRecord{}, err
	}
	defer func() { _ = tx.Rollback() }()
	for _, q := range []string{
		`DELETE FROM package_owners WHERE package_id = ?`,
		`DELETE FROM package_paths WHERE package_id = ?`,
		`DELETE FROM packages WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return PackageRecord{}, fmt.Errorf("delete package %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return PackageRecord{}, fmt.Errorf("delete package %s: %w", id, err)
	}
	return rec, nil
}

// RestorePackage writes back a record returned by DeletePackage, keeping
// the order of owners and paths.
func (s *Store) RestorePackage(ctx context.Context, rec PackageRecord) error {
	pkg := rec.Package
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO packages(id, name, description, primary_owner_id, auditing_enabled) VALUES(?,?,?,?,?)`,
		pkg.ID, pkg.Name, pkg.Description, pkg.PrimaryOwnerID, pkg.AuditingEnabled); err != nil {
		return fmt.Errorf("restore package %s: %w", pkg.ID, err)
	}
	for _, o := range rec.Owners {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO package_owners(package_id, user_id) VALUES(?,?)`, pkg.ID, o.UserID); err != nil {
			return fmt.Errorf("restore package %s: %w", pkg.ID, err)
		}
	}
	for _, r := range rec.Paths {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO package_paths(package_id, repository_id, path) VALUES(?,?,?)`,
			pkg.ID, r.RepositoryID, r.Path); err != nil {
			return fmt.Errorf("restore package %s: %w", pkg.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("restore package %s: %w", pkg.ID, err)
	}
	return nil
}

// AddOwner adds userID to the package owners. Adding an owner twice is a no-op.
func (s *Store) AddOwner(ctx context.Context, packageID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO package_owners(package_id, user_id) VALUES(?,?)`, packageID, userID)
	if err != nil {
		return fmt.Errorf("add owner %s to %s: %w", userID, packageID, err)
	}
	return nil
}

// AddPath adds a path rule. Duplicate rules are ignored.
func (s *Store) AddPath(ctx context.Context, rule owners.PathRule) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO package_paths(package_id, repository_id, path) VALUES(?,?,?)`,
		rule.PackageID, rule.RepositoryID, rule.Path)
	if err != nil {
		return fmt.Errorf("add path %s to %s: %w", rule.Path, rule.PackageID, err)
	}
	return nil
}

// LoadOwners returns the owners of a package in insertion order.
func (s *Store) LoadOwners(ctx context.Context, packageID string) ([]owners.Owner, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT package_id, user_id FROM package_owners WHERE package_id = ? ORDER BY seq`, packageID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []owners.Owner
	for rows.Next() {
		var o owners.Owner
		if err := rows.Scan(&o.PackageID, &o.UserID); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// LoadPaths returns the path rules of a package in insertion order.
func (s *Store) LoadPaths(ctx context.Context, packageID string) ([]owners.PathRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT package_id, repository_id, path FROM package_paths WHERE package_id = ? ORDER BY seq`, packageID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []owners.PathRule
	for rows.Next() {
		var r owners.PathRule
		if err := rows.Scan(&r.PackageID, &r.RepositoryID, &r.Path); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadHandles resolves user and repository identifiers. Identifiers that
// match neither table are reported with *owners.UnresolvedError.
func (s *Store) LoadHandles(ctx context.Context, ids []string) (map[string]owners.Handle, error) {
	out := make(map[string]owners.Handle, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := toArgs(ids)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, email FROM users WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("load user handles: %w", err)
	}
	for rows.Next() {
		var h owners.Handle
		if err := rows.Scan(&h.ID, &h.Name, &h.Email); err != nil {
			_ = rows.Close()
			return nil, err
		}
		h.URI = UserURI(h.Name)
		out[h.ID] = h
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT id, name, uri FROM repositories WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("load repository handles: %w", err)
	}
	for rows.Next() {
		var h owners.Handle
		if err := rows.Scan(&h.ID, &h.Name, &h.URI); err != nil {
			_ = rows.Close()
			return nil, err
		}
		out[h.ID] = h
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	var missing []string
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, &owners.UnresolvedError{IDs: missing}
	}
	return out, nil
}

func closeRows(rows *sql.Rows) error {
	iterErr := rows.Err()
	if err := rows.Close(); err != nil {
		return err
	}
	return iterErr
}
