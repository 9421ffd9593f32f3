// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package owners

import (
	"context"
	"fmt"
	"strings"
)

// Package is an ownership record mapping repository paths to responsible users.
type Package struct {
	ID              string
	Name            string
	Description     string
	PrimaryOwnerID  string
	AuditingEnabled bool

	// ActorID is the user who triggered the change being notified about.
	// It is not part of the stored record.
	ActorID string
}

// Owner associates a user with a package.
type Owner struct {
	PackageID string
	UserID    string
}

// PathRule is a path inside a repository covered by a package.
type PathRule struct {
	PackageID    string
	RepositoryID string
	Path         string
}

// Handle is the resolved display form of a user or repository identifier.
type Handle struct {
	ID   string
	Name string
	// URI is the canonical path of the object, relative to the production host.
	URI string
	// Email is only set for users.
	Email string
}

// RecordStore loads the owners and path rules of a package.
type RecordStore interface {
	LoadOwners(ctx context.Context, packageID string) ([]Owner, error)
	LoadPaths(ctx context.Context, packageID string) ([]PathRule, error)
}

// HandleResolver resolves identifiers in one batch. Implementations must
// either resolve every identifier or return an error.
type HandleResolver interface {
	LoadHandles(ctx context.Context, ids []string) (map[string]Handle, error)
}

// UnresolvedError is returned by a HandleResolver for identifiers it does not know.
type UnresolvedError struct {
	IDs []string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("unresolved identifiers: %s", strings.Join(e.IDs, ", "))
}

// UserIDs returns the user identifiers of owners in order.
func UserIDs(owners []Owner) []string {
	ids := make([]string, 0, len(owners))
	for _, o := range owners {
		ids = append(ids, o.UserID)
	}
	return ids
}
