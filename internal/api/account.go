package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/safar/dental-lab-orders/internal/database"
	"github.com/safar/dental-lab-orders/internal/models"
	"golang.org/x/crypto/bcrypt"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// HashPassword returns the bcrypt hash stored in users.password_hash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	// Unknown, inactive and wrong-password logins answer the same.
	user, hash, err := h.users.FindUserByEmail(r.Context(), email)
	if errors.Is(err, database.ErrUserNotFound) {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := IssueToken(h.tokens.Secret, Claims{
		UserID:   user.ID,
		Type:     user.Type,
		ClinicID: user.ClinicID,
	}, h.tokens.TTL)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.log.WithField("user_id", user.ID).Info("user logged in")
	respondJSON(w, http.StatusOK, loginResponse{Token: token, User: user})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())

	user, _, err := h.users.UserCredentials(r.Context(), claims.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())

	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		respondError(w, http.StatusBadRequest, "current and new password are required")
		return
	}

	_, hash, err := h.users.UserCredentials(r.Context(), claims.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.CurrentPassword)) != nil {
		respondError(w, http.StatusUnauthorized, "current password is incorrect")
		return
	}

	newHash, err := HashPassword(req.NewPassword)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		respondError(w, http.StatusBadRequest, "new password is too long")
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.users.SetPasswordHash(r.Context(), claims.UserID, newHash); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
