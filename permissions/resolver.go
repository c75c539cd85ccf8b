package permissions

import (
	"context"
	"errors"

	"codocs/core"

	"github.com/sirupsen/logrus"
)

// ErrAccessDenied is returned when an identity is present but lacks the
// required level for the operation. It is recoverable: the request is
// rejected, the connection stays open.
var ErrAccessDenied = errors.New("access denied")

// Resolver computes the effective access level of a user for a document:
// the owner holds admin, collaborators hold their granted level, everyone
// else holds none.
type Resolver struct {
	store core.DocumentStore
}

func NewResolver(store core.DocumentStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the effective permission of userID on the document.
// Returns core.ErrNotFound if the document does not exist.
func (r *Resolver) Resolve(ctx context.Context, docID, userID string) (core.Permission, error) {
	doc, err := r.store.FindID(ctx, docID)
	if err != nil {
		return core.PermissionNone, err
	}

	if doc.OwnerID == userID {
		return core.PermissionAdmin, nil
	}
	return doc.CollaboratorLevel(userID), nil
}

// Require resolves the effective level and returns ErrAccessDenied unless it
// satisfies the required one. Every join and every edit passes through here;
// there is no path into the cache or the room state that bypasses it.
func (r *Resolver) Require(ctx context.Context, docID, userID string, required core.Permission) error {
	level, err := r.Resolve(ctx, docID, userID)
	if err != nil {
		return err
	}

	if !level.Allows(required) {
		logrus.WithFields(logrus.Fields{
			"document_id": docID,
			"user_id":     userID,
			"have":        level.String(),
			"need":        required.String(),
		}).Debug("Permission denied")
		return ErrAccessDenied
	}
	return nil
}
