package notify_test

import (
	"context"
	"sync"

	"github.com/telekom/owners-notify/pkg/mail"
	"github.com/telekom/owners-notify/pkg/owners"
)

type fakeStore struct {
	owners   []owners.Owner
	paths    []owners.PathRule
	ownerErr error
	pathErr  error
}

func (s *fakeStore) LoadOwners(_ context.Context, _ string) ([]owners.Owner, error) {
	return s.owners, s.ownerErr
}

func (s *fakeStore) LoadPaths(_ context.Context, _ string) ([]owners.PathRule, error) {
	return s.paths, s.pathErr
}

// fakeResolver returns only the handles it knows, so missing ones surface as
// missing data in the composer.
type fakeResolver struct {
	handles map[string]owners.Handle
	err     error
	calls   [][]string
}

func (r *fakeResolver) LoadHandles(_ context.Context, ids []string) (map[string]owners.Handle, error) {
	r.calls = append(r.calls, append([]string(nil), ids...))
	if r.err != nil {
		return nil, r.err
	}
	out := make(map[string]owners.Handle, len(ids))
	for _, id := range ids {
		if h, ok := r.handles[id]; ok {
			out[id] = h
		}
	}
	return out, nil
}

// recordingTransport commits failAfter mails before failing with err.
// A zero failAfter fails every commit when err is set.
type recordingTransport struct {
	mu        sync.Mutex
	committed []*mail.Message
	err       error
	failAfter int
}

func (t *recordingTransport) Commit(_ context.Context, m *mail.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil && len(t.committed) >= t.failAfter {
		return &mail.DeliveryError{MessageID: m.ID, Err: t.err}
	}
	t.committed = append(t.committed, m)
	return nil
}

// batchTransport commits whole batches; err rejects a batch entirely.
type batchTransport struct {
	recordingTransport
	batches int
}

func (t *batchTransport) CommitAll(_ context.Context, msgs []*mail.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.batches++
	if t.err != nil {
		return &mail.DeliveryError{MessageID: msgs[0].ID, Err: t.err}
	}
	t.committed = append(t.committed, msgs...)
	return nil
}

func user(id string) owners.Handle {
	return owners.Handle{ID: id, Name: id, URI: "/p/" + id + "/", Email: id + "@example.com"}
}

func repo(id string) owners.Handle {
	return owners.Handle{ID: id, Name: id, URI: "/source/" + id + "/"}
}

func handles(hs ...owners.Handle) map[string]owners.Handle {
	m := make(map[string]owners.Handle, len(hs))
	for _, h := range hs {
		m[h.ID] = h
	}
	return m
}

// examplePackage is package P1 owned by U1 and U2 with U1 as primary owner,
// changed by U3.
func examplePackage() owners.Package {
	return owners.Package{
		ID:              "P1",
		Name:            "P1",
		Description:     "desc",
		PrimaryOwnerID:  "U1",
		AuditingEnabled: true,
		ActorID:         "U3",
	}
}

func exampleStore() *fakeStore {
	return &fakeStore{
		owners: []owners.Owner{{PackageID: "P1", UserID: "U1"}, {PackageID: "P1", UserID: "U2"}},
		paths: []owners.PathRule{
			{PackageID: "P1", RepositoryID: "R1", Path: "/a"},
			{PackageID: "P1", RepositoryID: "R1", Path: "/b"},
		},
	}
}

func exampleResolver() *fakeResolver {
	return &fakeResolver{handles: handles(user("U1"), user("U2"), user("U3"), repo("R1"), repo("R2"))}
}
