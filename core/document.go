package core

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a document id does not exist.
var ErrNotFound = errors.New("document not found")

// Permission is an ordered access level for a document. Levels compare
// numerically: an operation requiring level L is allowed iff the effective
// level is >= L.
type Permission int

const (
	PermissionNone Permission = iota
	PermissionRead
	PermissionWrite
	PermissionAdmin
)

// String returns the wire representation of the permission level.
func (p Permission) String() string {
	switch p {
	case PermissionRead:
		return "read"
	case PermissionWrite:
		return "write"
	case PermissionAdmin:
		return "admin"
	default:
		return "none"
	}
}

// Allows reports whether this level satisfies the required one.
func (p Permission) Allows(required Permission) bool {
	return p >= required
}

// Valid reports whether p is one of the grantable levels.
func (p Permission) Valid() bool {
	return p >= PermissionRead && p <= PermissionAdmin
}

// ParsePermission converts a wire string into a Permission.
// Unknown strings map to PermissionNone.
func ParsePermission(s string) Permission {
	switch s {
	case "read":
		return PermissionRead
	case "write":
		return PermissionWrite
	case "admin":
		return PermissionAdmin
	default:
		return PermissionNone
	}
}

// MarshalText implements encoding.TextMarshaler so collaborator lists
// serialize with their string level in JSON payloads.
func (p Permission) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Permission) UnmarshalText(text []byte) error {
	*p = ParsePermission(string(text))
	return nil
}

type (
	// Collaborator grants a user an access level on a document.
	Collaborator struct {
		UserID     string     `json:"userId"`
		Permission Permission `json:"permission"`
	}

	// Document is the durable record of a named, owned, versioned text
	// resource with a collaborator access list.
	Document struct {
		ID            string         `json:"id"`
		OwnerID       string         `json:"ownerId"`
		Title         string         `json:"title"`
		Content       string         `json:"content"`
		Revision      int            `json:"revision"`
		Collaborators []Collaborator `json:"collaborators"`
		CreatedAt     time.Time      `json:"createdAt"`
		UpdatedAt     time.Time      `json:"updatedAt"`
	}

	// DocVersion is an immutable snapshot appended on every durable content
	// update.
	DocVersion struct {
		DocID     string    `json:"docId"`
		Revision  int       `json:"revision"`
		Content   string    `json:"content"`
		CreatedAt time.Time `json:"createdAt"`
	}

	// DocumentStore defines the durable persistence layer for documents and
	// their version history.
	DocumentStore interface {
		// FindID returns a document by id, or ErrNotFound.
		FindID(ctx context.Context, id string) (*Document, error)

		// Create stores a new document and returns its assigned id.
		// The initial state is recorded as version 1.
		Create(ctx context.Context, document *Document) (string, error)

		// UpdateContent replaces the content of an existing document, bumps
		// its revision and appends an immutable version record.
		UpdateContent(ctx context.Context, id, content string) (*Document, error)

		// SetCollaborators replaces the collaborator list of a document.
		SetCollaborators(ctx context.Context, id string, collaborators []Collaborator) (*Document, error)

		// ListByOwner returns all documents owned by a user.
		ListByOwner(ctx context.Context, ownerID string) ([]*Document, error)

		// ListByCollaborator returns all documents where the user appears in
		// the collaborator list.
		ListByCollaborator(ctx context.Context, userID string) ([]*Document, error)

		// Versions returns the version history of a document, oldest first.
		Versions(ctx context.Context, id string) ([]*DocVersion, error)
	}
)

// CollaboratorLevel returns the level granted to userID by the collaborator
// list, or PermissionNone if the user is not listed. The owner is not part of
// the list; ownership is resolved separately.
func (d *Document) CollaboratorLevel(userID string) Permission {
	for _, c := range d.Collaborators {
		if c.UserID == userID {
			return c.Permission
		}
	}
	return PermissionNone
}
