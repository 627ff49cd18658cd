package util

import "github.com/google/uuid"

// NewID returns a random UUID, optionally prefixed.
func NewID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// IsID reports whether s looks like an identifier produced by NewID("").
func IsID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil && len(s) == 36
}
