package api

import (
	"net/http"
	"strconv"
)

func (h *Handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	unreadOnly, _ := strconv.ParseBool(r.URL.Query().Get("no_leidas"))

	inbox, err := h.notifications.ListNotifications(r.Context(), claims.UserID, unreadOnly)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, inbox)
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid notification ID")
		return
	}

	claims, _ := ClaimsFromContext(r.Context())
	if err := h.notifications.MarkNotificationRead(r.Context(), id, claims.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) markAllRead(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())

	updated, err := h.notifications.MarkAllNotificationsRead(r.Context(), claims.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"actualizadas": updated})
}
