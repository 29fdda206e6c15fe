package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/safar/dental-lab-orders/internal/database"
	"github.com/safar/dental-lab-orders/internal/lifecycle"
	"github.com/safar/dental-lab-orders/internal/store"
	log "github.com/sirupsen/logrus"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Error("encode JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// writeError maps a domain error to its HTTP status. Unknown errors are
// logged and answered with a generic 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *lifecycle.ValidationError
		terr *lifecycle.TransitionError
	)
	switch {
	case errors.As(err, &verr):
		respondError(w, http.StatusBadRequest, verr.Error())
	case errors.As(err, &terr):
		respondError(w, http.StatusConflict, terr.Error())
	case errors.Is(err, lifecycle.ErrForbidden):
		respondError(w, http.StatusForbidden, err.Error())
	case database.IsNotFound(err):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrInvalidCursor):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrLockTimeout), errors.Is(err, database.ErrOptimisticLockFailed):
		respondError(w, http.StatusConflict, "order is being modified, retry")
	default:
		h.log.WithFields(log.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
		}).WithError(err).Error("request failed")
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeJSON(r *http.Request, dst interface{}) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

func idParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
