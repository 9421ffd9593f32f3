package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/telekom/owners-notify/pkg/owners"
	"github.com/telekom/owners-notify/pkg/store"
)

// Fixture is the YAML document accepted by the import command.
type Fixture struct {
	Users []struct {
		ID    string `yaml:"id"`
		Name  string `yaml:"name"`
		Email string `yaml:"email"`
	} `yaml:"users"`
	Repositories []struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
		URI  string `yaml:"uri"`
	} `yaml:"repositories"`
	Packages []FixturePackage `yaml:"packages"`
}

type FixturePackage struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	PrimaryOwner string   `yaml:"primaryOwner"`
	Auditing     bool     `yaml:"auditing"`
	Owners       []string `yaml:"owners"`
	Paths        []struct {
		Repository string `yaml:"repository"`
		Path       string `yaml:"path"`
	} `yaml:"paths"`
}

// LoadFixture parses a fixture file.
func LoadFixture(path string) (Fixture, error) {
	var f Fixture
	content, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("reading fixture %s: %w", path, err)
	}
	if err := yaml.Unmarshal(content, &f); err != nil {
		return f, fmt.Errorf("parsing fixture %s: %w", path, err)
	}
	return f, nil
}

// Apply writes the fixture into s. Existing records are updated.
func (f Fixture) Apply(ctx context.Context, s *store.Store) error {
	for _, u := range f.Users {
		if err := s.CreateUser(ctx, u.ID, u.Name, u.Email); err != nil {
			return fmt.Errorf("user %s: %w", u.ID, err)
		}
	}
	for _, r := range f.Repositories {
		if err := s.CreateRepository(ctx, r.ID, r.Name, r.URI); err != nil {
			return fmt.Errorf("repository %s: %w", r.ID, err)
		}
	}
	for _, p := range f.Packages {
		pkg := owners.Package{
			ID:              p.ID,
			Name:            p.Name,
			Description:     p.Description,
			PrimaryOwnerID:  p.PrimaryOwner,
			AuditingEnabled: p.Auditing,
		}
		if err := s.SavePackage(ctx, pkg); err != nil {
			return fmt.Errorf("package %s: %w", p.ID, err)
		}
		for _, owner := range p.Owners {
			if err := s.AddOwner(ctx, p.ID, owner); err != nil {
				return fmt.Errorf("package %s owner %s: %w", p.ID, owner, err)
			}
		}
		for _, path := range p.Paths {
			rule := owners.PathRule{PackageID: p.ID, RepositoryID: path.Repository, Path: path.Path}
			if err := s.AddPath(ctx, rule); err != nil {
				return fmt.Errorf("package %s path %s: %w", p.ID, path.Path, err)
			}
		}
	}
	return nil
}

func NewImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <fixture.yaml>",
		Short: "Load users, repositories and packages into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			fixture, err := LoadFixture(args[0])
			if err != nil {
				return err
			}

			s, err := store.Open(cmd.Context(), rt.cfg.Store.DSN, rt.log.Named("store"))
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			if err := fixture.Apply(cmd.Context(), s); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Imported %d users, %d repositories, %d packages\n",
				len(fixture.Users), len(fixture.Repositories), len(fixture.Packages))
			return nil
		},
	}
}
