package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aibox-vision/aibox/internal/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	Role      string `json:"role"`
	ExpiresAt string `json:"expires_at"`
}

// handleLogin exchanges role credentials for a bearer token. Roles map
// to the two configured passwords; an unset password disables that
// role entirely.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "Invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		BadRequest(w, "Username and password are required")
		return
	}

	role, ok := s.authenticate(req.Username, req.Password)
	if !ok {
		Unauthorized(w, "Invalid credentials")
		return
	}

	token, expiresAt, err := s.authMgr.GenerateToken(req.Username, role)
	if err != nil {
		s.logger.Error("Failed to generate token", "user", req.Username, "error", err)
		InternalError(w, "Failed to generate token")
		return
	}

	OK(w, loginResponse{
		Token:     token,
		Role:      string(role),
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) authenticate(username, password string) (auth.Role, bool) {
	authCfg := s.cfg.Auth
	switch username {
	case "admin":
		if authCfg.AdminPassword != "" && password == authCfg.AdminPassword {
			return auth.RoleAdmin, true
		}
	case "viewer":
		if authCfg.ViewerPassword != "" && password == authCfg.ViewerPassword {
			return auth.RoleUser, true
		}
	}
	return "", false
}
