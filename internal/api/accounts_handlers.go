package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"merchanza/internal/storage"
)

const (
	duplicateEmailMessage   = "Existing user found with the same email"
	wrongCredentialsMessage = "Wrong Email or Password"
)

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
}

// Signup registers a shopper and returns a freshly issued session token. A
// reused email fails with the legacy storefront's exact message so existing
// clients keep rendering it.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeFailure(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
		return
	}
	var req signupRequest
	if err := decodeJSONAllowUnknown(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeFailure(w, http.StatusBadRequest, "email and password are required")
		return
	}
	user, err := h.Store.CreateUser(storage.CreateUserParams{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		if errors.Is(err, storage.ErrEmailTaken) {
			writeFailure(w, http.StatusBadRequest, duplicateEmailMessage)
			return
		}
		h.logger().Error("signup failed", "error", err)
		writeFailure(w, http.StatusInternalServerError, "failed to create account")
		return
	}
	token, err := h.Tokens.Issue(user.ID)
	if err != nil {
		h.logger().Error("token issue failed", "error", err, "user_id", user.ID)
		writeFailure(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	h.observeAuthEvent("issued")
	writeJSON(w, http.StatusOK, tokenResponse{Success: true, Token: token})
}

// Login verifies credentials and returns a session token. Both an unknown
// email and a wrong password answer 200 with the same failure message, which
// keeps the two cases indistinguishable to callers.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeFailure(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
		return
	}
	var req loginRequest
	if err := decodeJSONAllowUnknown(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := h.Store.AuthenticateUser(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidCredentials) || errors.Is(err, storage.ErrUserNotFound) {
			h.observeAuthEvent("rejected")
			writeFailure(w, http.StatusOK, wrongCredentialsMessage)
			return
		}
		h.logger().Error("login failed", "error", err)
		writeFailure(w, http.StatusInternalServerError, "failed to log in")
		return
	}
	token, err := h.Tokens.Issue(user.ID)
	if err != nil {
		h.logger().Error("token issue failed", "error", err, "user_id", user.ID)
		writeFailure(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	h.observeAuthEvent("issued")
	writeJSON(w, http.StatusOK, tokenResponse{Success: true, Token: token})
}
