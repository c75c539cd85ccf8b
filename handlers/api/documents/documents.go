package documents

import (
	"errors"
	"net/http"

	"codocs/collab"
	"codocs/core"
	"codocs/handlers/websocket"
	"codocs/middleware"
	"codocs/permissions"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type createRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type updateRequest struct {
	Content string `json:"content"`
}

type collaboratorsRequest struct {
	Collaborators []core.Collaborator `json:"collaborators"`
}

type documentResponse struct {
	ID            string              `json:"id"`
	OwnerID       string              `json:"ownerId"`
	Title         string              `json:"title"`
	Content       string              `json:"content"`
	Revision      int                 `json:"revision"`
	Collaborators []core.Collaborator `json:"collaborators"`
	CreatedAt     string              `json:"createdAt"`
	UpdatedAt     string              `json:"updatedAt"`
}

func toResponse(doc *core.Document) documentResponse {
	collaborators := doc.Collaborators
	if collaborators == nil {
		collaborators = []core.Collaborator{}
	}
	return documentResponse{
		ID:            doc.ID,
		OwnerID:       doc.OwnerID,
		Title:         doc.Title,
		Content:       doc.Content,
		Revision:      doc.Revision,
		Collaborators: collaborators,
		CreatedAt:     doc.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
		UpdatedAt:     doc.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
	}
}

func renderDenied(w http.ResponseWriter, r *http.Request, err error, docID, userID string) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, map[string]string{"error": "Document not found"})
	case errors.Is(err, permissions.ErrAccessDenied):
		render.Status(r, http.StatusForbidden)
		render.JSON(w, r, map[string]string{"error": "Access denied"})
	default:
		logrus.WithFields(logrus.Fields{
			"error":  err,
			"userID": userID,
			"docID":  docID,
		}).Error("Failed to resolve document access")
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, map[string]string{"error": "Failed to resolve document access"})
	}
}

func HandleCreate(store core.DocumentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.Claims(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		var req createRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}

		doc := &core.Document{
			OwnerID: claims.Subject,
			Title:   req.Title,
			Content: req.Content,
		}
		id, err := store.Create(r.Context(), doc)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":  err,
				"userID": claims.Subject,
			}).Error("Failed to create document")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to create document"})
			return
		}

		// Stores assign id, revision and timestamps internally; re-read so the
		// response carries the record the client can address.
		created, err := store.FindID(r.Context(), id)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":  err,
				"userID": claims.Subject,
				"docID":  id,
			}).Error("Failed to load created document")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to create document"})
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, toResponse(created))
	}
}

func HandleListOwned(store core.DocumentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.Claims(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		docs, err := store.ListByOwner(r.Context(), claims.Subject)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":  err,
				"userID": claims.Subject,
			}).Error("Failed to list documents")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to list documents"})
			return
		}

		out := make([]documentResponse, 0, len(docs))
		for _, doc := range docs {
			out = append(out, toResponse(doc))
		}
		render.JSON(w, r, out)
	}
}

func HandleListCollaborations(store core.DocumentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.Claims(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		docs, err := store.ListByCollaborator(r.Context(), claims.Subject)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":  err,
				"userID": claims.Subject,
			}).Error("Failed to list shared documents")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to list shared documents"})
			return
		}

		out := make([]documentResponse, 0, len(docs))
		for _, doc := range docs {
			out = append(out, toResponse(doc))
		}
		render.JSON(w, r, out)
	}
}

// HandleGet serves document metadata from the store with content overlaid
// from the cache, so readers observe edits that have not been flushed yet.
func HandleGet(store core.DocumentStore, cache *collab.Cache, gate *permissions.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.Claims(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		docID := chi.URLParam(r, "docID")
		if docID == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Document ID is required"})
			return
		}

		if err := gate.Require(r.Context(), docID, claims.Subject, core.PermissionRead); err != nil {
			renderDenied(w, r, err, docID, claims.Subject)
			return
		}

		doc, err := store.FindID(r.Context(), docID)
		if err != nil {
			renderDenied(w, r, err, docID, claims.Subject)
			return
		}
		if content, ok := cache.Get(docID); ok {
			doc.Content = content
		}

		render.JSON(w, r, toResponse(doc))
	}
}

// HandleUpdate routes REST content writes through the same session path as
// live edits, so connected collaborators see them broadcast.
func HandleUpdate(sessions *websocket.Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.Claims(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		docID := chi.URLParam(r, "docID")
		if docID == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Document ID is required"})
			return
		}

		var req updateRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}

		if err := sessions.ApplyExternalEdit(r.Context(), claims.Subject, docID, req.Content); err != nil {
			renderDenied(w, r, err, docID, claims.Subject)
			return
		}

		render.Status(r, http.StatusOK)
		render.JSON(w, r, map[string]string{"status": "ok"})
	}
}

func HandleSetCollaborators(store core.DocumentStore, gate *permissions.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.Claims(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		docID := chi.URLParam(r, "docID")
		if docID == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Document ID is required"})
			return
		}

		var req collaboratorsRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}
		for _, c := range req.Collaborators {
			if c.UserID == "" || !c.Permission.Valid() {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, map[string]string{"error": "Invalid collaborator entry"})
				return
			}
		}

		if err := gate.Require(r.Context(), docID, claims.Subject, core.PermissionAdmin); err != nil {
			renderDenied(w, r, err, docID, claims.Subject)
			return
		}

		// The owner always resolves to admin; a grant naming the owner would
		// only persist as dead data.
		current, err := store.FindID(r.Context(), docID)
		if err != nil {
			renderDenied(w, r, err, docID, claims.Subject)
			return
		}
		for _, c := range req.Collaborators {
			if c.UserID == current.OwnerID {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, map[string]string{"error": "Owner cannot appear in the collaborator list"})
				return
			}
		}

		doc, err := store.SetCollaborators(r.Context(), docID, req.Collaborators)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, map[string]string{"error": "Document not found"})
				return
			}
			logrus.WithFields(logrus.Fields{
				"error":  err,
				"userID": claims.Subject,
				"docID":  docID,
			}).Error("Failed to update collaborators")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to update collaborators"})
			return
		}

		render.JSON(w, r, toResponse(doc))
	}
}

func HandleListVersions(store core.DocumentStore, gate *permissions.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.Claims(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		docID := chi.URLParam(r, "docID")
		if docID == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Document ID is required"})
			return
		}

		if err := gate.Require(r.Context(), docID, claims.Subject, core.PermissionRead); err != nil {
			renderDenied(w, r, err, docID, claims.Subject)
			return
		}

		versions, err := store.Versions(r.Context(), docID)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, map[string]string{"error": "Document not found"})
				return
			}
			logrus.WithFields(logrus.Fields{
				"error":  err,
				"userID": claims.Subject,
				"docID":  docID,
			}).Error("Failed to list versions")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to list versions"})
			return
		}

		if versions == nil {
			versions = []*core.DocVersion{}
		}
		render.JSON(w, r, versions)
	}
}
