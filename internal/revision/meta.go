// Package revision stores documents as an append-only chain of revisions.
//
// Every save inserts a new row. The row being replaced is flagged stale in
// the same transaction, guarded by a conditional update so that only the
// first of two concurrent writers succeeds. Deleting a document flags rows;
// nothing is ever removed.
package revision

import (
	"errors"
	"time"
)

// State is the lifecycle position of one stored row.
type State string

const (
	StateCurrent    State = "current"
	StateSuperseded State = "superseded"
	StateDeleted    State = "deleted"
)

// ErrAlreadyPersisted is returned when saving a revision row a second time.
// Edits go through NewRevision.
var ErrAlreadyPersisted = errors.New("revision: revision has already been saved")

// Meta is embedded in every document type.
type Meta struct {
	ID                 string     `json:"id"`
	RevisionID         string     `json:"revisionID"`
	RevisionUser       string     `json:"revisionUser"`
	RevisionDate       time.Time  `json:"revisionDate"`
	RevisionTags       []string   `json:"revisionTags"`
	RevisionParent     *string    `json:"revisionParent,omitempty"`
	PreviousRevisionOf *string    `json:"previousRevisionOf,omitempty"`
	Stale              bool       `json:"staleFlag" db:"stale"`
	Deleted            bool       `json:"deletedFlag" db:"deleted"`
	DeletedBy          *string    `json:"deletedBy,omitempty"`
	DeletedOn          *time.Time `json:"deletedOn,omitempty"`

	persisted bool
}

// Revision gives generic code access to the embedded metadata.
func (m *Meta) Revision() *Meta { return m }

func (m *Meta) State() State {
	switch {
	case m.Deleted:
		return StateDeleted
	case m.Stale:
		return StateSuperseded
	default:
		return StateCurrent
	}
}

// Persisted reports whether this revision was loaded from or committed to the store.
func (m *Meta) Persisted() bool { return m.persisted }

// HasTag reports whether the revision was recorded with tag.
func (m *Meta) HasTag(tag string) bool {
	for _, t := range m.RevisionTags {
		if t == tag {
			return true
		}
	}
	return false
}

// Document is implemented by every stored entity.
type Document interface {
	Revision() *Meta
	Validate() error
}

// Doc constrains P to be a pointer to a document struct T.
type Doc[T any] interface {
	*T
	Document
}
