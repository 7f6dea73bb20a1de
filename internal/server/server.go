// ABOUTME: Assembles the stores, policy engine, and HTTP API into one running server
// ABOUTME: Owns startup, the signup and health endpoints, and graceful shutdown

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/2389/tinytodo-gateway/internal/api"
	"github.com/2389/tinytodo-gateway/internal/auth"
	"github.com/2389/tinytodo-gateway/internal/authz"
	"github.com/2389/tinytodo-gateway/internal/config"
	"github.com/2389/tinytodo-gateway/internal/identity"
	"github.com/2389/tinytodo-gateway/internal/kv"
	"github.com/2389/tinytodo-gateway/internal/liststore"
	"github.com/2389/tinytodo-gateway/internal/provision"
	"github.com/2389/tinytodo-gateway/internal/share"
)

const shutdownTimeout = 10 * time.Second

// Server holds everything the gateway needs at runtime. Both SQLite
// databases are opened here and closed on shutdown.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	store  *kv.SQLiteStore
	engine *authz.LocalEngine

	verifier    *auth.JWTVerifier
	provisioner *provision.Provisioner
	httpServer  *http.Server
}

// New opens the databases and wires the request handlers. The returned
// server is ready for Run.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	store, err := kv.NewSQLiteStore(cfg.Database.TablePath)
	if err != nil {
		return nil, fmt.Errorf("opening table store: %w", err)
	}

	templates := authz.Templates{
		Editor: cfg.Authz.EditorTemplateID,
		Viewer: cfg.Authz.ViewerTemplateID,
	}

	engine, err := authz.NewLocalEngine(cfg.Database.PolicyPath, templates)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening policy engine: %w", err)
	}

	lists := liststore.NewStore(store)
	users := identity.NewDirectory(store)
	shares := share.NewManager(engine, lists, templates)
	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))

	var starter *provision.StarterList
	if cfg.Provision.StarterListPath != "" {
		starter, err = provision.LoadStarterList(cfg.Provision.StarterListPath)
		if err != nil {
			store.Close()
			engine.Close()
			return nil, fmt.Errorf("loading starter list: %w", err)
		}
	}

	s := &Server{
		cfg:         cfg,
		logger:      logger,
		store:       store,
		engine:      engine,
		verifier:    verifier,
		provisioner: provision.NewProvisioner(users, lists, starter),
	}

	mux := http.NewServeMux()
	api.NewServer(verifier, engine, lists, shares, users).RegisterRoutes(mux)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /signup", s.handleSignUp)

	s.httpServer = &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s, nil
}

// Run serves HTTP until the context is cancelled, then shuts down
// gracefully and closes both databases.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.closeStores()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http shutdown failed", "err", err)
	}

	s.closeStores()
	return nil
}

func (s *Server) closeStores() {
	if err := s.store.Close(); err != nil {
		s.logger.Error("closing table store", "err", err)
	}
	if err := s.engine.Close(); err != nil {
		s.logger.Error("closing policy engine", "err", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleSignUp provisions a newly confirmed user: identity records plus
// the starter list if they have none. Safe to call repeatedly.
func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "missing bearer token"})
		return
	}

	principal, err := s.verifier.Verify(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "token broken"})
		return
	}

	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "name is required"})
		return
	}

	if err := s.provisioner.SignUp(r.Context(), principal, body.Name); err != nil {
		s.logger.Error("signup failed", "principal", principal, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"user": principal})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
