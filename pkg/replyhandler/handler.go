// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package replyhandler

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/telekom/owners-notify/pkg/config"
	"github.com/telekom/owners-notify/pkg/mail"
	"github.com/telekom/owners-notify/pkg/owners"
)

// ErrNoReceiver is returned by MultiplexMail when SetMailReceiver was not called.
var ErrNoReceiver = errors.New("reply handler has no mail receiver")

// Handler splits a template into deliverable messages. The receiver is the
// object inbound replies are routed to.
type Handler interface {
	SetMailReceiver(pkg owners.Package)
	MultiplexMail(template *mail.Message, to []owners.Handle, exclude []string) ([]*mail.Message, error)
}

// Options configure reply address generation.
type Options struct {
	// Domain is the domain part of reply addresses.
	Domain string
	// Secret keys private reply address signatures.
	Secret string
}

// Constructor builds a handler from options.
type Constructor func(opts Options) (Handler, error)

// Factory returns a new handler per notification.
type Factory func() (Handler, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{
		"public":  newPublicHandler,
		"private": newPrivateHandler,
	}
)

// Register adds or replaces a named handler implementation.
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = ctor
}

// Names returns the registered handler names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves a configured handler name into a factory. The options are
// checked once here so that misconfiguration surfaces before any mail is built.
func Lookup(name string, opts Options) (Factory, error) {
	registryMu.RLock()
	ctor, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	registryMu.RUnlock()
	if !ok {
		return nil, &config.ConfigurationError{
			Field:  "notify.replyHandler",
			Reason: fmt.Sprintf("unknown reply handler %q (known: %s)", name, strings.Join(Names(), ", ")),
		}
	}
	if _, err := ctor(opts); err != nil {
		return nil, err
	}
	return func() (Handler, error) { return ctor(opts) }, nil
}

// receiver holds the bound mail receiver shared by the built-in handlers.
type receiver struct {
	pkg   owners.Package
	bound bool
}

func (r *receiver) SetMailReceiver(pkg owners.Package) {
	r.pkg = pkg
	r.bound = true
}

func (r *receiver) receiverID() (string, error) {
	if !r.bound || r.pkg.ID == "" {
		return "", ErrNoReceiver
	}
	return r.pkg.ID, nil
}

// filterRecipients drops excluded and duplicate identifiers, keeping order.
func filterRecipients(to []owners.Handle, exclude []string) []owners.Handle {
	out := make([]owners.Handle, 0, len(to))
	seen := make([]string, 0, len(to))
	for _, h := range to {
		if slices.Contains(exclude, h.ID) || slices.Contains(seen, h.ID) {
			continue
		}
		seen = append(seen, h.ID)
		out = append(out, h)
	}
	return out
}

func requireDomain(opts Options) error {
	if strings.TrimSpace(opts.Domain) == "" {
		return &config.ConfigurationError{Field: "notify.replyDomain", Reason: "must be set"}
	}
	return nil
}
