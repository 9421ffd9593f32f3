package notify

import (
	"fmt"
	"strings"
)

// Variant is what distinguishes one kind of package notification from another.
type Variant interface {
	// Verb is the past-tense action used in the subject and summary, e.g. "Created".
	Verb() string
	// IsNewThread reports whether the notification starts a new mail thread
	// instead of replying into the package's existing one.
	IsNewThread() bool
}

// Kind is the built-in set of notification variants.
type Kind string

const (
	KindCreated Kind = "created"
	KindChanged Kind = "changed"
	KindDeleted Kind = "deleted"
)

var _ Variant = KindCreated

// Kinds returns all built-in kinds.
func Kinds() []Kind {
	return []Kind{KindCreated, KindChanged, KindDeleted}
}

func (k Kind) Verb() string {
	switch k {
	case KindCreated:
		return "Created"
	case KindChanged:
		return "Changed"
	case KindDeleted:
		return "Deleted"
	default:
		return ""
	}
}

// IsNewThread is true only for creation; later changes reply into the thread.
func (k Kind) IsNewThread() bool {
	return k == KindCreated
}

func (k Kind) String() string {
	return string(k)
}

// ParseKind parses a kind name case-insensitively.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if k.Verb() == "" {
		return "", fmt.Errorf("unknown notification kind %q", s)
	}
	return k, nil
}
