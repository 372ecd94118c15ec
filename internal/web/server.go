// Package web is the operator surface: a small JSON API for inspecting
// runner state and attempt history, managing accounts and triggering manual
// runs. It only reads snapshots and publishes config edits; a wedged runner
// can never take the API down with it.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/himecorleone/course-registration-system/internal/config"
	"github.com/himecorleone/course-registration-system/internal/manager"
	"github.com/himecorleone/course-registration-system/internal/storage"
	logx "github.com/himecorleone/course-registration-system/pkg/logx"
)

// Controller is the slice of the account manager the API needs.
type Controller interface {
	Healthy() bool
	Statuses() []manager.Status
	Trigger(account string) int
}

// ConfigStore is the slice of the config manager the accounts API needs.
type ConfigStore interface {
	Get() *config.Config
	Save(cfg *config.Config) error
}

type Config struct {
	Addr string // default "127.0.0.1:8080"

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = "127.0.0.1:8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	return c
}

type Server struct {
	cfg     Config
	ctrl    Controller
	cfgs    ConfigStore
	history storage.Store // may be nil
	log     logx.Logger

	router *mux.Router
}

func New(cfg Config, ctrl Controller, cfgs ConfigStore, history storage.Store, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		cfg:     cfg.withDefaults(),
		ctrl:    ctrl,
		cfgs:    cfgs,
		history: history,
		log:     log,
	}
	s.router = s.routes()
	return s
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/accounts", s.handleListAccounts).Methods(http.MethodGet)
	api.HandleFunc("/accounts", s.handleAddAccount).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{idx:[0-9]+}", s.handleRemoveAccount).Methods(http.MethodDelete)
	api.HandleFunc("/attempts", s.handleAttempts).Methods(http.MethodGet)
	api.HandleFunc("/run", s.handleRun).Methods(http.MethodPost)
	return r
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("operator api listening", logx.String("addr", ln.Addr().String()))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// ---- handlers ----

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !s.ctrl.Healthy() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"healthy": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"healthy": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"healthy":  s.ctrl.Healthy(),
		"accounts": s.ctrl.Statuses(),
	})
}

// accountView never carries the password.
type accountView struct {
	Email    string   `json:"email"`
	Excluded []string `json:"excluded,omitempty"`
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfgs.Get()
	if cfg == nil {
		writeError(w, http.StatusServiceUnavailable, "no configuration loaded")
		return
	}
	accounts, err := cfg.EffectiveAccounts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]accountView, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, accountView{Email: a.Email, Excluded: a.Excluded})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddAccount(w http.ResponseWriter, r *http.Request) {
	var in config.AccountConfig
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in.Email = strings.TrimSpace(in.Email)
	if in.Email == "" || in.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	cur := s.cfgs.Get()
	if cur == nil {
		writeError(w, http.StatusServiceUnavailable, "no configuration loaded")
		return
	}
	next := *cur
	next.Accounts = append(append([]config.AccountConfig(nil), cur.Accounts...), in)

	if err := s.cfgs.Save(&next); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.log.Info("account added via api", logx.String("account", in.Email))
	writeJSON(w, http.StatusCreated, accountView{Email: in.Email, Excluded: in.Excluded})
}

func (s *Server) handleRemoveAccount(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(mux.Vars(r)["idx"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid index")
		return
	}

	cur := s.cfgs.Get()
	if cur == nil {
		writeError(w, http.StatusServiceUnavailable, "no configuration loaded")
		return
	}
	// Only document-managed accounts can be edited here; accounts injected
	// via the environment are not part of the document.
	if idx < 0 || idx >= len(cur.Accounts) {
		writeError(w, http.StatusNotFound, "no such account index")
		return
	}

	next := *cur
	next.Accounts = append([]config.AccountConfig(nil), cur.Accounts...)
	removed := next.Accounts[idx]
	next.Accounts = append(next.Accounts[:idx], next.Accounts[idx+1:]...)

	if err := s.cfgs.Save(&next); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.log.Info("account removed via api", logx.String("account", removed.Email))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "attempt history storage is disabled")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	recs, err := s.history.RecentAttempts(r.Context(), r.URL.Query().Get("account"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []storage.AttemptRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Account string `json:"account,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &in); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	n := s.ctrl.Trigger(strings.TrimSpace(in.Account))
	if n == 0 {
		writeError(w, http.StatusConflict, "no runner accepted the trigger")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"triggered": n})
}

// ---- helpers ----

func decodeBody(r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
