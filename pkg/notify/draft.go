package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/telekom/owners-notify/pkg/owners"
	"golang.org/x/exp/slices"
)

// RepositoryPaths lists the paths a package covers in one repository.
type RepositoryPaths struct {
	RepositoryID string
	Paths        []string
}

// Draft is the fully loaded data needed to render a notification.
// It is not modified after Load returns.
type Draft struct {
	Package owners.Package
	// OwnerIDs are the package owners in stored order, without duplicates.
	OwnerIDs []string
	// MailTo are the recipients: owners followed by the primary owner.
	MailTo []string
	// Repositories groups path rules by repository in first-seen order.
	Repositories []RepositoryPaths
	Handles      map[string]owners.Handle
}

// Load reads owners and path rules for pkg and resolves all referenced
// identifiers with a single call to resolver.
func Load(ctx context.Context, store owners.RecordStore, resolver owners.HandleResolver, pkg owners.Package) (Draft, error) {
	if strings.TrimSpace(pkg.ActorID) == "" {
		return Draft{}, &MissingDataError{Kind: MissingActor}
	}
	if strings.TrimSpace(pkg.PrimaryOwnerID) == "" {
		return Draft{}, &MissingDataError{Kind: MissingPrimaryOwner}
	}

	ownerRecords, err := store.LoadOwners(ctx, pkg.ID)
	if err != nil {
		return Draft{}, fmt.Errorf("loading owners of package %s: %w", pkg.ID, err)
	}
	pathRules, err := store.LoadPaths(ctx, pkg.ID)
	if err != nil {
		return Draft{}, fmt.Errorf("loading paths of package %s: %w", pkg.ID, err)
	}

	d := Draft{
		Package:      pkg,
		OwnerIDs:     appendUnique(nil, owners.UserIDs(ownerRecords)...),
		Repositories: groupPaths(pathRules),
	}
	d.MailTo = appendUnique(append([]string(nil), d.OwnerIDs...), pkg.PrimaryOwnerID)

	ids := appendUnique(append([]string(nil), d.MailTo...), pkg.ActorID)
	for _, repo := range d.Repositories {
		ids = appendUnique(ids, repo.RepositoryID)
	}

	handles, err := resolver.LoadHandles(ctx, ids)
	var unresolved *owners.UnresolvedError
	if errors.As(err, &unresolved) && len(unresolved.IDs) > 0 {
		id := unresolved.IDs[0]
		return Draft{}, &MissingDataError{Kind: d.kindOf(id), ID: id}
	}
	if err != nil {
		return Draft{}, fmt.Errorf("resolving handles for package %s: %w", pkg.ID, err)
	}
	d.Handles = handles

	if err := d.checkHandles(); err != nil {
		return Draft{}, err
	}
	return d, nil
}

// Recipients returns the handles of MailTo in order.
func (d Draft) Recipients() []owners.Handle {
	to := make([]owners.Handle, 0, len(d.MailTo))
	for _, id := range d.MailTo {
		to = append(to, d.Handles[id])
	}
	return to
}

func (d Draft) checkHandles() error {
	check := func(kind, id string) error {
		if _, ok := d.Handles[id]; !ok {
			return &MissingDataError{Kind: kind, ID: id}
		}
		return nil
	}
	if err := check(MissingActor, d.Package.ActorID); err != nil {
		return err
	}
	if err := check(MissingPrimaryOwner, d.Package.PrimaryOwnerID); err != nil {
		return err
	}
	for _, id := range d.OwnerIDs {
		if err := check(MissingOwner, id); err != nil {
			return err
		}
	}
	for _, repo := range d.Repositories {
		if err := check(MissingRepository, repo.RepositoryID); err != nil {
			return err
		}
	}
	return nil
}

// kindOf names the role an identifier plays in the draft.
func (d Draft) kindOf(id string) string {
	switch {
	case id == d.Package.ActorID:
		return MissingActor
	case id == d.Package.PrimaryOwnerID:
		return MissingPrimaryOwner
	case slices.Contains(d.OwnerIDs, id):
		return MissingOwner
	default:
		return MissingRepository
	}
}

func groupPaths(rules []owners.PathRule) []RepositoryPaths {
	var groups []RepositoryPaths
	index := map[string]int{}
	for _, r := range rules {
		i, ok := index[r.RepositoryID]
		if !ok {
			i = len(groups)
			index[r.RepositoryID] = i
			groups = append(groups, RepositoryPaths{RepositoryID: r.RepositoryID})
		}
		groups[i].Paths = appendUnique(groups[i].Paths, r.Path)
	}
	return groups
}

func appendUnique(dst []string, ids ...string) []string {
	for _, id := range ids {
		if !slices.Contains(dst, id) {
			dst = append(dst, id)
		}
	}
	return dst
}
