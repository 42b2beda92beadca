// Package api serves the credential operations over HTTP, normally on a
// Unix socket owned by the daemon.
//
// Every operation is a POST to /v1/exec/{action} with a JSON body of
// positional arguments, {"args": [...]}, and yields exactly one response:
// {"ok": true, "payload": ...} or {"ok": false, "code": "<stable code>"}.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"os"

	"github.com/benaskins/biokey/internal/errcode"
	"github.com/benaskins/biokey/internal/policy"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 64 << 10

// Controller is the credential lifecycle the server exposes.
type Controller interface {
	IsAvailable() (policy.Modality, error)
	Has(key string) bool
	Save(ctx context.Context, key, secret string, requireAuth bool) error
	Verify(ctx context.Context, key, reason string) (string, error)
	Delete(key string) error
	Keys() []string
}

// Request is the body of an exec call.
type Request struct {
	Args []any `json:"args"`
}

// Response is the single terminal result of an exec call.
type Response struct {
	OK      bool   `json:"ok"`
	Payload any    `json:"payload,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Server serves the biokey API.
type Server struct {
	vault   Controller
	limiter *rate.Limiter
	server  *http.Server
	logger  *slog.Logger
}

// NewServer creates an API server backed by the given controller. Challenges
// started by a request are canceled when ctx is. A nil limiter disables
// throttling.
func NewServer(c Controller, limiter *rate.Limiter, ctx context.Context) *Server {
	s := &Server{
		vault:   c,
		limiter: limiter,
		logger:  slog.With("component", "api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/exec/{action}", s.exec)
	mux.HandleFunc("GET /v1/keys", s.keys)
	mux.HandleFunc("GET /v1/health", s.health)

	s.server = &http.Server{
		Handler:     mux,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	return s
}

// ListenUnix starts the server on a Unix socket only the owner can connect to.
func (s *Server) ListenUnix(path string) error {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	if err := os.Chmod(path, 0600); err != nil {
		ln.Close()
		return err
	}
	s.logger.Info("API listening", "socket", path)
	return s.server.Serve(ln)
}

// ListenTCP starts the server on a TCP address.
func (s *Server) ListenTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.logger.Info("API listening", "addr", addr)
	return s.server.Serve(ln)
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) exec(w http.ResponseWriter, r *http.Request) {
	action := r.PathValue("action")

	var req Request
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, action, errcode.InvalidArgument)
		return
	}

	if guarded(action) && s.limiter != nil && !s.limiter.Allow() {
		s.fail(w, action, errcode.RateLimited)
		return
	}

	payload, err := s.dispatch(r.Context(), action, args(req.Args))
	if err != nil {
		s.fail(w, action, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{OK: true, Payload: payload})
}

func (s *Server) dispatch(ctx context.Context, action string, a args) (any, error) {
	switch action {
	case "isAvailable":
		if err := a.count(0, 0); err != nil {
			return nil, err
		}
		modality, err := s.vault.IsAvailable()
		if err != nil {
			return nil, err
		}
		return modality, nil

	case "has":
		if err := a.count(1, 1); err != nil {
			return nil, err
		}
		key, err := a.key(0)
		if err != nil {
			return nil, err
		}
		if !s.vault.Has(key) {
			return nil, errcode.UserNotFound
		}
		return nil, nil

	case "save":
		if err := a.count(3, 3); err != nil {
			return nil, err
		}
		key, err := a.key(0)
		if err != nil {
			return nil, err
		}
		secret, err := a.text(1)
		if err != nil {
			return nil, err
		}
		requireAuth, err := a.flag(2)
		if err != nil {
			return nil, err
		}
		return nil, s.vault.Save(ctx, key, secret, requireAuth)

	case "verify":
		if err := a.count(1, 2); err != nil {
			return nil, err
		}
		key, err := a.key(0)
		if err != nil {
			return nil, err
		}
		reason, err := a.optionalString(1)
		if err != nil {
			return nil, err
		}
		return s.vault.Verify(ctx, key, reason)

	case "delete":
		if err := a.count(1, 1); err != nil {
			return nil, err
		}
		key, err := a.key(0)
		if err != nil {
			return nil, err
		}
		return nil, s.vault.Delete(key)

	default:
		return nil, errcode.InvalidArgument
	}
}

func guarded(action string) bool {
	return action == "save" || action == "verify"
}

func (s *Server) fail(w http.ResponseWriter, action string, err error) {
	code := errcode.Of(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		s.logger.Error("exec failed", "action", action, "code", code, "error", err)
	} else {
		s.logger.Debug("exec rejected", "action", action, "code", code)
	}
	writeJSON(w, status, Response{OK: false, Code: code})
}

func statusFor(code string) int {
	switch errcode.Code(code) {
	case errcode.InvalidArgument:
		return http.StatusBadRequest
	case errcode.AuthFailed:
		return http.StatusUnauthorized
	case errcode.UserNotFound:
		return http.StatusNotFound
	case errcode.UserCanceled:
		return http.StatusConflict
	case errcode.KeychainExpired:
		return http.StatusGone
	case errcode.RateLimited:
		return http.StatusTooManyRequests
	case errcode.BiometricsNotAvailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) keys(w http.ResponseWriter, r *http.Request) {
	keys := s.vault.Keys()
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, keys)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
