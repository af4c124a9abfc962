package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	portalAuth "github.com/MrEthical07/portalAuth"
	"github.com/MrEthical07/portalAuth/middleware"
	"github.com/MrEthical07/portalAuth/profile"
)

const maxBodyBytes = 64 << 10

type signInBody struct {
	Email    string        `json:"email"`
	Password string        `json:"password"`
	Role     *profile.Role `json:"role,omitempty"`
}

type signUpBody struct {
	Email    string        `json:"email"`
	Password string        `json:"password"`
	Role     profile.Role  `json:"role"`
	Profile  profile.Patch `json:"profile"`
	Details  profile.Patch `json:"details"`
}

type meResponse struct {
	State     string           `json:"state"`
	Loading   bool             `json:"loading"`
	UserID    string           `json:"user_id,omitempty"`
	Email     string           `json:"email,omitempty"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
	Profile   *profile.Profile `json:"profile,omitempty"`
}

type emailRoleResponse struct {
	Email  string       `json:"email"`
	Exists bool         `json:"exists"`
	Role   profile.Role `json:"role,omitempty"`
}

func toMe(snap portalAuth.Snapshot) meResponse {
	out := meResponse{
		State:   snap.State.String(),
		Loading: snap.Loading,
		Profile: snap.Profile,
	}
	if snap.Identity != nil {
		out.UserID = snap.Identity.ID
		out.Email = snap.Identity.Email
	}
	if snap.Session != nil && !snap.Session.ExpiresAt.IsZero() {
		exp := snap.Session.ExpiresAt
		out.ExpiresAt = &exp
	}
	return out
}

// POST /auth/sign-in
func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body signInBody
	if !decodeBody(w, r, &body) {
		return
	}

	engine, _ := middleware.EngineFromContext(r.Context())
	err := engine.SignIn(r.Context(), portalAuth.SignInRequest{
		Email:    body.Email,
		Password: body.Password,
		Role:     body.Role,
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	snap, err := engine.WaitSettled(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMe(snap))
}

// POST /auth/sign-up
func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body signUpBody
	if !decodeBody(w, r, &body) {
		return
	}

	engine, _ := middleware.EngineFromContext(r.Context())
	err := engine.SignUp(r.Context(), portalAuth.SignUpRequest{
		Email:    body.Email,
		Password: body.Password,
		Role:     body.Role,
		Base:     body.Profile,
		Details:  body.Details,
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	role := body.Role
	if role == "" && body.Profile.Role != nil {
		role = *body.Profile.Role
	}
	writeJSON(w, http.StatusCreated, emailRoleResponse{
		Email:  profile.NormalizeEmail(body.Email),
		Exists: true,
		Role:   role,
	})
}

// POST /auth/sign-out
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	engine, _ := middleware.EngineFromContext(r.Context())
	if err := engine.SignOut(r.Context()); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /auth/email-role?email=
func (s *Server) handleEmailRole(w http.ResponseWriter, r *http.Request) {
	if entry := clientFromContext(r.Context()); entry != nil && !entry.limiter.Allow() {
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "rate_limited", "")
		return
	}

	email := r.URL.Query().Get("email")
	engine, _ := middleware.EngineFromContext(r.Context())
	res, err := engine.CheckEmailRole(r.Context(), email)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emailRoleResponse{
		Email:  profile.NormalizeEmail(email),
		Exists: res.Exists,
		Role:   res.Role,
	})
}

// GET /me
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	snap, _ := middleware.SnapshotFromContext(r.Context())
	writeJSON(w, http.StatusOK, toMe(snap))
}

// PATCH /me/profile
func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var patch profile.Patch
	if !decodeBody(w, r, &patch) {
		return
	}

	engine, _ := middleware.EngineFromContext(r.Context())
	p, err := engine.UpdateProfile(r.Context(), patch)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid_request", "request body required")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return false
	}
	return true
}
