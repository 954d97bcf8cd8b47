package documents

import (
	"errors"
	"net/http"

	"collab-server/core"
	"collab-server/handlers/auth"
	authMiddleware "collab-server/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// HandleGet returns the stored snapshot of a document. The live room (if
// any) may be ahead of this by up to one debounce window.
func HandleGet(store core.DocumentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "document id is required"})
			return
		}

		log := logrus.WithField("document_id", id)
		if claims, ok := r.Context().Value(authMiddleware.ClaimsContextKey).(*auth.AppClaims); ok {
			log = log.WithField("actor", claims.Email)
		}

		doc, err := store.Load(r.Context(), id)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, map[string]string{"error": "document not found"})
				return
			}
			log.WithError(err).Error("Failed to load document")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "failed to load document"})
			return
		}

		log.WithField("content_length", len(doc.Content)).Debug("document read")
		render.JSON(w, r, doc)
	}
}
