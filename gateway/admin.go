package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/veyra/stitchd/auth"
	"github.com/veyra/stitchd/errors"
	"github.com/veyra/stitchd/extension"
)

// AdminServer is the request/response administrative transport: provider
// listing and pings, extension loading, bootstrap, and token issuance.
// It also mounts the WebSocket flavor of the streaming transport at /ws.
type AdminServer struct {
	dispatcher *Dispatcher
	authsvc    *auth.Service
}

// NewAdminServer creates the administrative transport.
func NewAdminServer(d *Dispatcher, authsvc *auth.Service) *AdminServer {
	return &AdminServer{dispatcher: d, authsvc: authsvc}
}

// Handler builds the admin mux.
func (s *AdminServer) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public: the only ways to obtain a token
	mux.HandleFunc("/setup", s.handleSetup)
	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/token/refresh", s.handleRefresh)

	// Token-gated when auth is enabled
	mux.HandleFunc("/providers", s.authed(s.handleListProviders))
	mux.HandleFunc("/providers/", s.authed(s.handlePingProvider))
	mux.HandleFunc("/plugins/load", s.authed(s.handleLoadExtension))
	mux.HandleFunc("/ws", s.handleWS)

	return mux
}

// authed wraps a handler with the process-wide auth toggle. Tokens are
// accepted as a bearer header or an access_token query parameter.
func (s *AdminServer) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.dispatcher.Authorize(r.Context(), bearerToken(r)); err != nil {
			writeEnvelope(w, http.StatusUnauthorized, Fail("", err))
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("access_token")
}

// GET /providers -> {ok:true, providers:[name...]}
func (s *AdminServer) handleListProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeEnvelope(w, http.StatusMethodNotAllowed, Fail("", errors.NewValidation("method not allowed")))
		return
	}
	writeEnvelope(w, http.StatusOK, OK("", map[string]interface{}{
		"providers": s.dispatcher.registry.List(),
		"detail":    s.dispatcher.registry.Descriptors(),
	}))
}

// GET /providers/{name}/ping -> {ok:true, provider:name}
func (s *AdminServer) handlePingProvider(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeEnvelope(w, http.StatusMethodNotAllowed, Fail("", errors.NewValidation("method not allowed")))
		return
	}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/providers/"), "/")
	if len(parts) != 2 || parts[1] != "ping" || parts[0] == "" {
		writeEnvelope(w, http.StatusNotFound, Fail("", errors.NewNotFound("unknown admin path %s", r.URL.Path)))
		return
	}
	name := parts[0]
	if !s.dispatcher.registry.Has(name) {
		writeEnvelope(w, http.StatusNotFound, Fail("", errors.NewNotFound("unknown provider %q", name)))
		return
	}
	writeEnvelope(w, http.StatusOK, OK("", map[string]interface{}{"provider": name}))
}

// POST /plugins/load {module, base_dir} | {file_path}, plus {entry_point, alias?}
// -> {ok:true, name:alias}
func (s *AdminServer) handleLoadExtension(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeEnvelope(w, http.StatusMethodNotAllowed, Fail("", errors.NewValidation("method not allowed")))
		return
	}
	var spec extension.Spec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeEnvelope(w, http.StatusBadRequest, Fail("", errors.NewValidation("invalid load spec: %v", err)))
		return
	}
	name, err := s.dispatcher.LoadExtension(r.Context(), spec)
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, Fail("", err))
		return
	}
	writeEnvelope(w, http.StatusOK, OK("", map[string]interface{}{"name": name}))
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// POST /setup {email, password} - first user only, while the table is empty
func (s *AdminServer) handleSetup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeEnvelope(w, http.StatusMethodNotAllowed, Fail("", errors.NewValidation("method not allowed")))
		return
	}
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, Fail("", errors.NewValidation("invalid setup request: %v", err)))
		return
	}
	user, pair, err := s.authsvc.Bootstrap(r.Context(), req.Email, req.Password)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errors.ErrAlreadyInitialized) {
			status = http.StatusConflict
		}
		writeEnvelope(w, status, Fail("", err))
		return
	}
	writeEnvelope(w, http.StatusOK, OK("", map[string]interface{}{
		"user":          user,
		"access_token":  pair.Access.Value,
		"refresh_token": pair.Refresh.Value,
	}))
}

// POST /login {email, password}
func (s *AdminServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeEnvelope(w, http.StatusMethodNotAllowed, Fail("", errors.NewValidation("method not allowed")))
		return
	}
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, Fail("", errors.NewValidation("invalid login request: %v", err)))
		return
	}
	user, pair, err := s.authsvc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeEnvelope(w, http.StatusUnauthorized, Fail("", err))
		return
	}
	writeEnvelope(w, http.StatusOK, OK("", map[string]interface{}{
		"user":          user,
		"access_token":  pair.Access.Value,
		"refresh_token": pair.Refresh.Value,
	}))
}

// POST /token/refresh {refresh_token} -> {ok:true, access_token}
func (s *AdminServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeEnvelope(w, http.StatusMethodNotAllowed, Fail("", errors.NewValidation("method not allowed")))
		return
	}
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, Fail("", errors.NewValidation("invalid refresh request: %v", err)))
		return
	}
	access, err := s.authsvc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeEnvelope(w, http.StatusUnauthorized, Fail("", err))
		return
	}
	writeEnvelope(w, http.StatusOK, OK("", map[string]interface{}{
		"access_token": access.Value,
		"expires_at":   access.ExpiresAt,
	}))
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}
