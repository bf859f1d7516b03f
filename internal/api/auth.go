package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/clawnest/internal/domain"
	"github.com/ashureev/clawnest/internal/identity"
	"github.com/ashureev/clawnest/internal/store"
)

// AuthHandler serves account signup, login and session endpoints.
type AuthHandler struct {
	repo   store.Repository
	tokens *identity.Tokens
	isDev  bool
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(repo store.Repository, tokens *identity.Tokens, isDev bool) *AuthHandler {
	return &AuthHandler{repo: repo, tokens: tokens, isDev: isDev}
}

// RegisterRoutes registers the auth routes.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/auth/signup", h.Signup)
	r.Post("/api/auth/login", h.Login)
	r.Get("/api/auth/me", h.Me)
	r.Post("/api/auth/logout", h.Logout)
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type userResponse struct {
	ID    int64       `json:"id"`
	Email string      `json:"email"`
	Name  string      `json:"name"`
	Plan  domain.Plan `json:"plan"`
}

func toUserResponse(u *domain.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, Name: u.Name, Plan: u.EffectivePlan()}
}

// Signup creates an account and starts a session.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		Error(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	ctx := r.Context()
	existing, err := h.repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		slog.Error("Signup lookup failed", "error", err)
		Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if existing != nil {
		Error(w, http.StatusBadRequest, "User already exists")
		return
	}

	hash, err := identity.HashPassword(req.Password)
	if err != nil {
		slog.Error("Signup hash failed", "error", err)
		Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	user := &domain.User{Email: req.Email, PasswordHash: hash, Name: req.Name, Plan: domain.PlanStarter}
	if err := h.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			Error(w, http.StatusBadRequest, "User already exists")
			return
		}
		slog.Error("Signup insert failed", "error", err)
		Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if !h.startSession(w, user) {
		return
	}
	slog.Info("User signed up", "user_id", user.ID)
	JSON(w, http.StatusCreated, map[string]interface{}{"user": toUserResponse(user)})
}

// Login verifies credentials and starts a session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		Error(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	user, err := h.repo.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		slog.Error("Login lookup failed", "error", err)
		Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	hash := ""
	if user != nil {
		hash = user.PasswordHash
	}
	if !identity.CheckPassword(hash, req.Password) {
		Error(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	if !h.startSession(w, user) {
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"user": toUserResponse(user)})
}

// Me returns the signed-in user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, err := identity.Authenticate(r, h.tokens)
	if errors.Is(err, identity.ErrNoSession) {
		Error(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	if err != nil {
		Error(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	user, err := h.repo.GetUser(r.Context(), claims.UserID)
	if err != nil {
		slog.Error("Failed to load current user", "error", err, "user_id", claims.UserID)
		Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if user == nil {
		Error(w, http.StatusUnauthorized, "User not found")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"user": toUserResponse(user)})
}

// Logout clears the session cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, _ *http.Request) {
	identity.ClearSessionCookie(w, h.isDev)
	JSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

func (h *AuthHandler) startSession(w http.ResponseWriter, user *domain.User) bool {
	token, err := h.tokens.Issue(user.ID, user.Email)
	if err != nil {
		slog.Error("Failed to issue session token", "error", err, "user_id", user.ID)
		Error(w, http.StatusInternalServerError, "Internal server error")
		return false
	}
	identity.SetSessionCookie(w, token, h.tokens.TTL(), h.isDev)
	return true
}
