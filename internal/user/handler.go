package user

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"viabill-be/internal/utils"
)

type Handler struct {
	svc    Service
	secure bool
}

// NewHandler sets the token cookie with the Secure flag when secure is true.
func NewHandler(svc Service, secure bool) *Handler {
	return &Handler{svc: svc, secure: secure}
}

type loginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login issues the access token both as a cookie and in the body.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var in loginInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		utils.WriteJSONError(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	token, u, err := h.svc.Login(r.Context(), in.Email, in.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		utils.WriteJSONError(w, err.Error(), http.StatusUnauthorized)
		return
	}
	if err != nil {
		utils.WriteJSONError(w, "internal error", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "access_token",
		Value:    token,
		Path:     "/admin",
		Expires:  time.Now().Add(tokenTTL),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteStrictMode,
	})
	utils.WriteJSON(w, map[string]any{
		"access_token": token,
		"user_id":      u.ID,
		"role":         u.Role,
	}, http.StatusOK)
}
