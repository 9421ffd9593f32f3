package notify

import (
	"fmt"

	"github.com/telekom/owners-notify/pkg/config"
)

// ConfigurationError reports absent or invalid composer configuration.
type ConfigurationError = config.ConfigurationError

// Kinds of identifiers reported by MissingDataError.
const (
	MissingActor        = "actor"
	MissingPrimaryOwner = "primary owner"
	MissingOwner        = "owner"
	MissingRepository   = "repository"
)

// MissingDataError is returned when a referenced identifier has no handle.
// Composition is aborted before any message is built.
type MissingDataError struct {
	Kind string
	ID   string
}

func (e *MissingDataError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("missing %s", e.Kind)
	}
	return fmt.Sprintf("no handle for %s %s", e.Kind, e.ID)
}
