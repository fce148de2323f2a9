package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/lherron/fieldsync/internal/cli/appctx"
	"github.com/lherron/fieldsync/internal/config"
	"github.com/lherron/fieldsync/internal/db"
	"github.com/lherron/fieldsync/internal/domain"
	"github.com/lherron/fieldsync/internal/gateway"
	"github.com/lherron/fieldsync/internal/ledger"
	"github.com/lherron/fieldsync/internal/milestone"
	"github.com/lherron/fieldsync/internal/webhooks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultDaemonAddr is where fieldsyncd listens when no address is given
const DefaultDaemonAddr = "127.0.0.1:7272"

// DaemonOptions configures the fieldsyncd daemon.
type DaemonOptions struct {
	Addr          string
	Unix          string
	Token         string
	DBPath        string
	TemplatesPath string
	// Webhooks are URL templates notified after each applied update
	Webhooks []string
}

// ServeDaemon starts the fieldsyncd daemon and blocks until it is
// interrupted or fails.
func ServeDaemon(opts DaemonOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if opts.DBPath != "" {
		cfg.DBPath = opts.DBPath
	}
	if opts.TemplatesPath != "" {
		cfg.TemplatesPath = opts.TemplatesPath
	}
	logger := appctx.NewLogger(cfg)

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	if err := database.RequiresMigrationError(); err != nil {
		return err
	}

	reg, err := milestone.LoadRegistry(cfg.TemplatesPath)
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	server := newDaemonServer(ledger.New(database, reg), opts.Token, logger, promReg)
	server.hooks = webhooks.New(opts.Webhooks, webhooks.WithLogger(logger))
	mux := http.NewServeMux()
	server.registerRoutes(mux)

	httpServer := &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	var listener net.Listener
	if opts.Unix != "" {
		_ = os.Remove(opts.Unix)
		listener, err = net.Listen("unix", opts.Unix)
		if err != nil {
			return fmt.Errorf("failed to listen on unix socket: %w", err)
		}
	} else {
		addr := opts.Addr
		if addr == "" {
			addr = DefaultDaemonAddr
		}
		listener, err = net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
	}
	defer listener.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("fieldsyncd listening", "addr", listener.Addr().String(), "db", cfg.DBPath, "auth", opts.Token != "")
	if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("fieldsyncd stopped")
	return nil
}

type daemonServer struct {
	ledger *ledger.Ledger
	token  string
	logger *slog.Logger
	gather prometheus.Gatherer
	hooks  *webhooks.Dispatcher

	requests *prometheus.CounterVec
	applied  *prometheus.CounterVec
}

func newDaemonServer(l *ledger.Ledger, token string, logger *slog.Logger, reg *prometheus.Registry) *daemonServer {
	s := &daemonServer{
		ledger: l,
		token:  token,
		logger: logger,
		gather: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsyncd_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsyncd_milestone_updates_total",
			Help: "Milestone update requests by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(s.requests, s.applied)
	return s
}

func (s *daemonServer) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/health", s.route("/v1/health", s.withAuth(s.handleHealth)))

	mux.HandleFunc("/v1/milestones/apply", s.route("/v1/milestones/apply", s.withAuth(s.handleMilestonesApply)))

	mux.HandleFunc("/v1/components/get", s.route("/v1/components/get", s.withAuth(s.handleComponentsGet)))
	mux.HandleFunc("/v1/components/list", s.route("/v1/components/list", s.withAuth(s.handleComponentsList)))
	mux.HandleFunc("/v1/components/register", s.route("/v1/components/register", s.withAuth(s.handleComponentsRegister)))
	mux.HandleFunc("/v1/components/history", s.route("/v1/components/history", s.withAuth(s.handleComponentsHistory)))

	mux.HandleFunc("/v1/drawings/progress", s.route("/v1/drawings/progress", s.withAuth(s.handleDrawingsProgress)))

	mux.Handle("/metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{}))
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *daemonServer) route(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next(rec, r)
		s.requests.WithLabelValues(name, strconv.Itoa(rec.status)).Inc()
		s.logger.Debug("request", "method", r.Method, "route", name, "status", rec.status, "duration", time.Since(start))
	}
}

func (s *daemonServer) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			token := r.Header.Get("Authorization")
			if strings.HasPrefix(token, "Bearer ") {
				token = strings.TrimPrefix(token, "Bearer ")
			}
			if token == "" {
				token = r.Header.Get("X-Fieldsyncd-Token")
			}
			if token != s.token {
				s.writeError(w, http.StatusUnauthorized, fmt.Errorf("unauthorized"))
				return
			}
		}

		next(w, r)
	}
}

func (s *daemonServer) decodeJSON(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(r.Body)
	return decoder.Decode(dst)
}

func (s *daemonServer) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *daemonServer) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]interface{}{
		"message": err.Error(),
	})
}

// writeLedgerError maps ledger errors onto the status codes the gateway
// client understands.
func (s *daemonServer) writeLedgerError(w http.ResponseWriter, err error) {
	var ve *domain.ValidationError
	switch {
	case domain.IsConflict(err):
		s.writeError(w, http.StatusConflict, err)
	case errors.Is(err, ledger.ErrComponentNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, ledger.ErrComponentExists):
		s.writeError(w, http.StatusConflict, err)
	case errors.As(err, &ve):
		s.writeError(w, http.StatusBadRequest, err)
	default:
		s.logger.Error("ledger operation failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *daemonServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":   true,
		"time": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *daemonServer) handleMilestonesApply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}

	var req gateway.Request
	if err := s.decodeJSON(r, &req); err != nil {
		s.applied.WithLabelValues("invalid").Inc()
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.ledger.Apply(r.Context(), req)
	if err != nil {
		switch {
		case domain.IsConflict(err):
			s.applied.WithLabelValues("conflict").Inc()
			s.logger.Info("milestone update conflicted", "update_id", req.UpdateID, "target", req.TargetID, "milestone", req.MilestoneName, "reason", err)
		default:
			s.applied.WithLabelValues("error").Inc()
		}
		s.writeLedgerError(w, err)
		return
	}

	s.applied.WithLabelValues("applied").Inc()
	s.logger.Info("milestone updated",
		"update_id", req.UpdateID,
		"target", req.TargetID,
		"milestone", req.MilestoneName,
		"value", req.Value.String(),
		"percent", res.PercentComplete,
		"audit_id", res.AuditID,
	)
	s.writeJSON(w, http.StatusOK, res)

	if s.hooks.Enabled() {
		go s.notify(context.WithoutCancel(r.Context()), req, res)
	}
}

// notify posts an applied update to the configured webhooks
func (s *daemonServer) notify(ctx context.Context, req gateway.Request, res *gateway.Result) {
	comp, err := s.ledger.Component(ctx, req.TargetID)
	if err != nil {
		s.logger.Warn("webhook lookup failed", "target", req.TargetID, "error", err)
		return
	}
	s.hooks.Dispatch(ctx, webhooks.Payload{
		UpdateID:        req.UpdateID,
		ComponentID:     comp.ID,
		DrawingID:       comp.DrawingID,
		Template:        comp.Template,
		Milestone:       req.MilestoneName,
		Value:           req.Value,
		PercentComplete: res.PercentComplete,
		ActorID:         req.ActorID,
		AuditID:         res.AuditID,
	})
}

type componentGetRequest struct {
	ID string `json:"id"`
}

func (s *daemonServer) handleComponentsGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}

	var req componentGetRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ID == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("id required"))
		return
	}

	comp, err := s.ledger.Component(r.Context(), req.ID)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, comp)
}

type componentsListRequest struct {
	DrawingID string `json:"drawing_id,omitempty"`
}

func (s *daemonServer) handleComponentsList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}

	var req componentsListRequest
	if err := s.decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	comps, err := s.ledger.Components(r.Context(), req.DrawingID)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"components": comps,
	})
}

type componentRegisterRequest struct {
	ID        string `json:"id,omitempty"`
	DrawingID string `json:"drawing_id,omitempty"`
	Template  string `json:"template"`
	ActorID   string `json:"actor_id,omitempty"`
}

func (s *daemonServer) handleComponentsRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}

	var req componentRegisterRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	actor := req.ActorID
	if actor == "" {
		actor = r.Header.Get("X-Fieldsync-Actor")
	}
	if actor == "" {
		actor = "fieldsyncd"
	}

	comp, err := s.ledger.RegisterComponent(r.Context(), actor, ledger.RegisterParams{
		ID:        req.ID,
		DrawingID: req.DrawingID,
		Template:  req.Template,
	})
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, comp)
}

type componentHistoryRequest struct {
	ID    string `json:"id"`
	Limit int    `json:"limit,omitempty"`
}

func (s *daemonServer) handleComponentsHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}

	var req componentHistoryRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := s.ledger.Component(r.Context(), req.ID); err != nil {
		s.writeLedgerError(w, err)
		return
	}
	if req.Limit <= 0 {
		req.Limit = 100
	}

	evs, err := s.ledger.History(r.Context(), req.ID, req.Limit)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": evs,
	})
}

type drawingProgressRequest struct {
	DrawingID string `json:"drawing_id"`
}

func (s *daemonServer) handleDrawingsProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}

	var req drawingProgressRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.DrawingID == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("drawing_id required"))
		return
	}

	rollup, err := s.ledger.DrawingProgress(r.Context(), req.DrawingID)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rollup)
}
