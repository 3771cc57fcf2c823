// Package idgen provides short, URL-safe entity IDs backed by nanoid.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Entity prefixes. Each persisted collection gets its own so IDs are
// self-describing in logs and audit records.
const (
	PrefixClient       = "cl-"
	PrefixConversation = "cv-"
	PrefixMessage      = "msg-"
	PrefixLead         = "ld-"
	PrefixDraft        = "dr-"
	PrefixTask         = "tk-"
	PrefixProject      = "pj-"
	PrefixMilestone    = "ms-"
	PrefixInvoice      = "inv-"
	PrefixNotification = "nt-"
	PrefixMissionLog   = "ml-"
)

const (
	alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	length   = 12
)

// New returns a new ID with the given prefix.
func New(prefix string) (string, error) {
	id, err := nanoid.Generate(alphabet, length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// Must is like New but panics on failure. nanoid only fails when the
// system random source is unavailable.
func Must(prefix string) string {
	id, err := New(prefix)
	if err != nil {
		panic(err)
	}
	return id
}
