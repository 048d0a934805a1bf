package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/faultline/faultline/internal/repository"
	"github.com/faultline/faultline/internal/service/admin"
	"github.com/faultline/faultline/internal/service/auth"
	"github.com/faultline/faultline/internal/service/errlog"
	"github.com/faultline/faultline/internal/service/hook"
	"github.com/faultline/faultline/internal/service/project"
	"github.com/faultline/faultline/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	auth     auth.Service
	project  project.Service
	errlog   *errlog.Service
	hook     hook.Service
	admin    admin.Service
	upgrader websocket.Upgrader
	limiter  RateLimiter
	dbHealth func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitSignup    = 5
	rateLimitLogin     = 12
	rateLimitIngest    = 120
	rateLimitUserWrite = 60
	rateLimitUserRead  = 120
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, projectSvc project.Service, errlogSvc *errlog.Service, hookSvc hook.Service, adminSvc admin.Service, limiter RateLimiter, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  logger,
		auth:    authSvc,
		project: projectSvc,
		errlog:  errlogSvc,
		hook:    hookSvc,
		admin:   adminSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		dbHealth: dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/auth/signup", r.audit("auth_signup", r.withRateLimit("auth_signup", rateLimitSignup, rateWindowDefault, rateLimitKeyIP, r.handleSignup)))
	r.mux.HandleFunc("/auth/login", r.audit("auth_login", r.withRateLimit("auth_login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/api/ingest/", r.audit("ingest", r.withRateLimit("ingest", rateLimitIngest, rateWindowDefault, rateLimitKeyIP, r.handleIngest)))
	r.mux.HandleFunc("/projects", r.audit("projects", r.handlerAuthRate("projects", rateLimitUserWrite, rateWindowDefault, r.handleProjects)))
	r.mux.HandleFunc("/projects/", r.audit("project_subroutes", r.handlerAuthRate("project_subroutes", rateLimitUserRead, rateWindowDefault, r.handleProjectSubroutes)))
	r.mux.HandleFunc("/errors/", r.audit("errors", r.handlerAuthRate("errors", rateLimitUserWrite, rateWindowDefault, r.handleErrorSubroutes)))
	r.mux.HandleFunc("/webhooks/test", r.audit("webhook_test", r.handlerAuthRate("webhook_test", rateLimitUserWrite, rateWindowDefault, r.handleWebhookTest)))
	r.mux.HandleFunc("/webhooks/", r.audit("webhook_subroutes", r.handlerAuthRate("webhook_subroutes", rateLimitUserWrite, rateWindowDefault, r.handleWebhookSubroutes)))
	r.mux.HandleFunc("/ws/errors", r.audit("ws_errors", r.handlerAuthRate("ws_errors", rateLimitWebsocket, rateWindowRealtime, r.handleErrorsWS)))
	r.mux.HandleFunc("/admin/stats", r.audit("admin_stats", r.requireAdmin(r.handleAdminStats)))
}

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, tokens, err := r.auth.Signup(req.Context(), payload.Name, payload.Email, payload.Password)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":   marshalUser(user.ID, user.Name, user.Email, user.Role),
		"tokens": tokens,
	})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, tokens, err := r.auth.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":   marshalUser(user.ID, user.Name, user.Email, user.Role),
		"tokens": tokens,
	})
}

// handleIngest accepts error reports authenticated by the project credential
// pair. Unauthorized responses are plain text so minimal SDKs can surface the
// reason without JSON parsing.
func (r *Router) handleIngest(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	apiKey := strings.TrimPrefix(req.URL.Path, "/api/ingest/")
	if apiKey == "" || strings.Contains(apiKey, "/") {
		r.notFound(w)
		return
	}
	securityKey := req.Header.Get("X-Security-Key")
	var payload struct {
		Message    string `json:"message"`
		StackTrace string `json:"stackTrace"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	entry, err := r.errlog.Submit(req.Context(), apiKey, securityKey, payload.Message, payload.StackTrace)
	if err != nil {
		switch {
		case errors.Is(err, errlog.ErrInvalidAPIKey):
			http.Error(w, "Invalid API Key", http.StatusUnauthorized)
		case errors.Is(err, errlog.ErrInvalidSecurityKey):
			http.Error(w, "Invalid Security Key", http.StatusUnauthorized)
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": entry.ID})
}

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for projects route", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			Name      string `json:"name"`
			TechStack string `json:"tech_stack"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		proj, err := r.project.Create(req.Context(), info.UserID, payload.Name, payload.TechStack)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, project.ErrQuotaExceeded) {
				status = http.StatusForbidden
			}
			writeError(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, marshalProject(*proj))
	case http.MethodGet:
		summaries, err := r.project.ListByOwner(req.Context(), info.UserID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		payload := make([]map[string]any, 0, len(summaries))
		for _, s := range summaries {
			item := marshalProject(s.Project)
			item["stats"] = map[string]any{
				"total_errors":       s.Stats.TotalErrors,
				"errors_last_24h":    s.Stats.ErrorsLast24Hours,
				"open_errors":        s.Stats.OpenErrors,
				"resolved_errors":    s.Stats.ResolvedErrors,
				"resolve_percentage": s.Stats.ResolvePercentage(),
			}
			payload = append(payload, item)
		}
		writeJSON(w, http.StatusOK, payload)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectSubroutes(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for project subroutes", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	trimmed := strings.TrimPrefix(req.URL.Path, "/projects/")
	parts := strings.Split(trimmed, "/")
	projectID := parts[0]
	if projectID == "" {
		r.notFound(w)
		return
	}
	switch {
	case len(parts) == 1:
		r.handleProjectByID(w, req, info, projectID)
	case len(parts) == 2 && parts[1] == "errors":
		r.handleProjectErrors(w, req, info, projectID)
	case len(parts) == 2 && parts[1] == "webhooks":
		r.handleProjectWebhooks(w, req, info, projectID)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleProjectByID(w http.ResponseWriter, req *http.Request, info authInfo, projectID string) {
	switch req.Method {
	case http.MethodGet:
		proj, err := r.project.GetOwned(req.Context(), info.UserID, projectID)
		if err != nil {
			r.writeOwnershipError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, marshalProject(*proj))
	case http.MethodDelete:
		if err := r.project.Delete(req.Context(), info.UserID, projectID); err != nil {
			r.writeOwnershipError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectErrors(w http.ResponseWriter, req *http.Request, info authInfo, projectID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(req.URL.Query().Get("offset"))
	entries, err := r.errlog.ListByProject(req.Context(), info.UserID, projectID, limit, offset)
	if err != nil {
		r.writeOwnershipError(w, err)
		return
	}
	payload := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, marshalErrorLog(entry))
	}
	writeJSON(w, http.StatusOK, payload)
}

func (r *Router) handleProjectWebhooks(w http.ResponseWriter, req *http.Request, info authInfo, projectID string) {
	switch req.Method {
	case http.MethodGet:
		hooks, err := r.hook.ListByProject(req.Context(), info.UserID, projectID)
		if err != nil {
			r.writeOwnershipError(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(hooks))
		for _, wh := range hooks {
			payload = append(payload, marshalWebhook(wh))
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodPost:
		var payload hook.CreateInput
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		payload.ProjectID = projectID
		webhook, err := r.hook.Create(req.Context(), info.UserID, payload)
		if err != nil {
			r.writeOwnershipError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, marshalWebhook(*webhook))
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleErrorSubroutes(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for error subroutes", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	trimmed := strings.TrimPrefix(req.URL.Path, "/errors/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "toggle" {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	entry, err := r.errlog.ToggleStatus(req.Context(), info.UserID, parts[0])
	if err != nil {
		r.writeOwnershipError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, marshalErrorLog(*entry))
}

func (r *Router) handleWebhookSubroutes(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for webhook subroutes", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	trimmed := strings.TrimPrefix(req.URL.Path, "/webhooks/")
	parts := strings.Split(trimmed, "/")
	webhookID := parts[0]
	if webhookID == "" {
		r.notFound(w)
		return
	}
	switch {
	case len(parts) == 1 && req.Method == http.MethodDelete:
		if err := r.hook.Delete(req.Context(), info.UserID, webhookID); err != nil {
			r.writeOwnershipError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	case len(parts) == 2 && parts[1] == "toggle" && req.Method == http.MethodPost:
		active, err := r.hook.Toggle(req.Context(), info.UserID, webhookID)
		if err != nil {
			r.writeOwnershipError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"is_active": active})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleWebhookTest(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		URL         string `json:"url"`
		SecretToken string `json:"secretToken"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(payload.URL) == "" {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"message": "Please provide a valid webhook URL.",
		})
		return
	}
	success := r.hook.TestWebhook(req.Context(), payload.URL, payload.SecretToken)
	message := "Webhook test failed. Please verify the URL."
	if success {
		message = "Webhook test successful! Check your endpoint."
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": success, "message": message})
}

func (r *Router) handleErrorsWS(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for errors websocket", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	projectID := req.URL.Query().Get("project_id")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "project_id query parameter required")
		return
	}
	if _, err := r.project.GetOwned(req.Context(), info.UserID, projectID); err != nil {
		r.writeOwnershipError(w, err)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.errlog.Hub().Register(projectID, client)
	go func() {
		defer func() {
			r.errlog.Hub().Unregister(projectID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleAdminStats(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	stats, err := r.admin.Overview(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

// writeOwnershipError maps service errors to HTTP statuses without leaking
// whether a foreign resource exists.
func (r *Router) writeOwnershipError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, project.ErrNotOwner),
		errors.Is(err, errlog.ErrNotOwner),
		errors.Is(err, hook.ErrNotOwner):
		r.notFound(w)
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)
		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.UserID)
		} else if strings.HasPrefix(req.URL.Path, "/api/ingest/") {
			actor = "reporter"
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (sr *statusRecorder) Push(target string, opts *http.PushOptions) error {
	if p, ok := sr.ResponseWriter.(http.Pusher); ok {
		return p.Push(target, opts)
	}
	return http.ErrNotSupported
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
