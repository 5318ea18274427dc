package api

import (
	"context"
	"net/http"
	"strings"

	"merchanza/internal/models"
)

// tokenHeader is the request header the legacy storefront clients use to
// carry the session token.
const tokenHeader = "auth-token"

const (
	missingTokenMessage = "Please authenticate using valid login"
	invalidTokenMessage = "Please authenticate using valid token"
)

type contextKey string

const userContextKey contextKey = "merchanza-user"

// ContextWithUser stores the authenticated shopper on the context.
func ContextWithUser(ctx context.Context, user models.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext retrieves the authenticated shopper, when present.
func UserFromContext(ctx context.Context) (models.User, bool) {
	user, ok := ctx.Value(userContextKey).(models.User)
	return user, ok
}

// ExtractToken reads the session token from the auth-token header.
func ExtractToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.Header.Get(tokenHeader))
}

// AuthenticateRequest resolves the shopper identified by the request's session
// token. A missing header and an unverifiable token produce distinct messages
// so clients can prompt for login versus refresh.
func (h *Handler) AuthenticateRequest(r *http.Request) (models.User, string, bool) {
	token := ExtractToken(r)
	if token == "" {
		return models.User{}, missingTokenMessage, false
	}
	userID, err := h.Tokens.Verify(token)
	if err != nil {
		h.observeAuthEvent("rejected")
		return models.User{}, invalidTokenMessage, false
	}
	user, ok := h.Store.GetUser(userID)
	if !ok {
		h.observeAuthEvent("rejected")
		return models.User{}, invalidTokenMessage, false
	}
	h.observeAuthEvent("verified")
	return user, "", true
}

// WriteAuthError emits the storefront's 401 envelope with the given message.
func WriteAuthError(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusUnauthorized, map[string]string{"errors": message})
}

func (h *Handler) requireAuthenticatedUser(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	if user, ok := UserFromContext(r.Context()); ok {
		return user, true
	}
	user, message, ok := h.AuthenticateRequest(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"errors": message})
		return models.User{}, false
	}
	return user, true
}
