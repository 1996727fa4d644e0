package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/deadlydiamond/devflow/internal/jira"
	"github.com/deadlydiamond/devflow/internal/repository"
	"github.com/deadlydiamond/devflow/internal/service/auth"
	"github.com/deadlydiamond/devflow/internal/service/links"
	"github.com/deadlydiamond/devflow/internal/service/settings"
	"github.com/deadlydiamond/devflow/internal/service/syncer"
	"github.com/deadlydiamond/devflow/internal/service/tracker"
	"github.com/deadlydiamond/devflow/internal/slack"
	"github.com/deadlydiamond/devflow/internal/ws"
)

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitLogin     = 12
	rateLimitWrite     = 60
	rateLimitRead      = 120
	rateLimitWebsocket = 30
	rateLimitSync      = 20
	healthCheckTimeout = 2 * time.Second
	upstreamTimeout    = 15 * time.Second
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	auth     auth.Service
	links    links.Service
	store    *tracker.EventStore
	syncer   syncer.Service
	settings *settings.Service
	slack    *slack.Client
	jira     *jira.Client
	hub      *ws.Hub
	upgrader websocket.Upgrader
	limiter  RateLimiter
	dbHealth func(context.Context) error
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, linkSvc links.Service, store *tracker.EventStore, syncSvc syncer.Service, settingsSvc *settings.Service, slackClient *slack.Client, jiraClient *jira.Client, hub *ws.Hub, limiter RateLimiter, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		auth:     authSvc,
		links:    linkSvc,
		store:    store,
		syncer:   syncSvc,
		settings: settingsSvc,
		slack:    slackClient,
		jira:     jiraClient,
		hub:      hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		dbHealth: dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
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
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.HandleFunc("/v1/auth/login", r.audit(r.withRateLimit(rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/v1/events", r.audit(r.handlerAuthRate(rateLimitRead, rateWindowDefault, r.handleEvents)))
	r.mux.HandleFunc("/v1/links", r.audit(r.handlerAuthRate(rateLimitWrite, rateWindowDefault, r.handleLinks)))
	r.mux.HandleFunc("/v1/links/", r.audit(r.handlerAuthRate(rateLimitWrite, rateWindowDefault, r.handleLinkSubroutes)))
	r.mux.HandleFunc("/v1/integrations/slack", r.audit(r.handlerAuthRate(rateLimitWrite, rateWindowDefault, r.handleSlackSettings)))
	r.mux.HandleFunc("/v1/integrations/slack/test", r.audit(r.handlerAuthRate(rateLimitSync, rateWindowDefault, r.handleSlackTest)))
	r.mux.HandleFunc("/v1/integrations/slack/channels", r.audit(r.handlerAuthRate(rateLimitRead, rateWindowDefault, r.handleSlackChannels)))
	r.mux.HandleFunc("/v1/integrations/jira", r.audit(r.handlerAuthRate(rateLimitWrite, rateWindowDefault, r.handleJiraSettings)))
	r.mux.HandleFunc("/v1/integrations/jira/test", r.audit(r.handlerAuthRate(rateLimitSync, rateWindowDefault, r.handleJiraTest)))
	r.mux.HandleFunc("/v1/stream", r.audit(r.handlerAuthRate(rateLimitWebsocket, rateWindowRealtime, r.handleStream)))
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	session, err := r.auth.Login(payload.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      session.Token,
		"expires_in": int(session.ExpiresIn.Seconds()),
	})
}

func (r *Router) handleEvents(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	events := r.store.Snapshot()
	if limit, _ := strconv.Atoi(req.URL.Query().Get("limit")); limit > 0 && limit < len(events) {
		events = events[:limit]
	}
	writeJSON(w, http.StatusOK, events)
}

func (r *Router) handleLinks(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		list, err := r.links.List(req.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, list)
	case http.MethodPost:
		var payload struct {
			JobID    string `json:"job_id"`
			TicketID string `json:"ticket_id"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		link, err := r.links.Add(req.Context(), strings.TrimSpace(payload.JobID), strings.TrimSpace(payload.TicketID))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, link)
	case http.MethodDelete:
		if err := r.links.ClearAll(req.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleLinkSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/v1/links/")
	parts := strings.Split(trimmed, "/")
	jobID := parts[0]
	if jobID == "" {
		r.notFound(w)
		return
	}
	if len(parts) == 2 && parts[1] == "sync" {
		r.handleLinkSync(w, req, jobID)
		return
	}
	if len(parts) > 1 {
		r.notFound(w)
		return
	}
	switch req.Method {
	case http.MethodGet:
		link, err := r.links.Get(req.Context(), jobID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				r.notFound(w)
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, link)
	case http.MethodDelete:
		if err := r.links.Remove(req.Context(), jobID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				r.notFound(w)
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
	default:
		r.methodNotAllowed(w)
	}
}

// handleLinkSync replays the stored deployment status of one link into Jira.
func (r *Router) handleLinkSync(w http.ResponseWriter, req *http.Request, jobID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	link, err := r.links.Get(req.Context(), jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.notFound(w)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(req.Context(), upstreamTimeout)
	defer cancel()
	result, err := r.syncer.Synchronize(ctx, link.TicketID, link.Status)
	if err != nil {
		writeError(w, upstreamStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) handleSlackSettings(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		current := r.settings.Slack()
		cooling, remaining := r.slack.Guard().Status()
		writeJSON(w, http.StatusOK, map[string]any{
			"channel_id":         current.ChannelID,
			"token_configured":   current.Token != "",
			"cooldown_active":    cooling,
			"cooldown_remaining": int(remaining.Seconds()),
		})
	case http.MethodPut:
		var payload struct {
			Token     string `json:"token"`
			ChannelID string `json:"channel_id"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := r.settings.SetSlack(req.Context(), settings.SlackSettings{Token: payload.Token, ChannelID: payload.ChannelID}); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "stored"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleSlackTest(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	ctx, cancel := context.WithTimeout(req.Context(), upstreamTimeout)
	defer cancel()
	identity, err := r.slack.AuthTest(ctx)
	if err != nil {
		writeError(w, upstreamStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

func (r *Router) handleSlackChannels(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	ctx, cancel := context.WithTimeout(req.Context(), upstreamTimeout)
	defer cancel()
	channels, err := r.slack.ListChannels(ctx)
	if err != nil {
		writeError(w, upstreamStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, channels)
}

func (r *Router) handleJiraSettings(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		current := r.settings.Jira()
		writeJSON(w, http.StatusOK, map[string]any{
			"base_url":         current.BaseURL,
			"email":            current.Email,
			"token_configured": current.APIToken != "",
		})
	case http.MethodPut:
		var payload struct {
			BaseURL  string `json:"base_url"`
			Email    string `json:"email"`
			APIToken string `json:"api_token"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := r.settings.SetJira(req.Context(), settings.JiraSettings{BaseURL: payload.BaseURL, Email: payload.Email, APIToken: payload.APIToken}); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "stored"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleJiraTest(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	ctx, cancel := context.WithTimeout(req.Context(), upstreamTimeout)
	defer cancel()
	account, err := r.jira.AuthTest(ctx)
	if err != nil {
		writeError(w, upstreamStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"account": account})
}

func (r *Router) handleStream(w http.ResponseWriter, req *http.Request) {
	topic := req.URL.Query().Get("topic")
	if topic == "" {
		topic = ws.TopicEvents
	}
	if topic != ws.TopicEvents && topic != ws.TopicNotices {
		writeError(w, http.StatusBadRequest, "unknown topic")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(topic, client)
	go func() {
		defer func() {
			r.hub.Unregister(topic, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
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
	if cooling, remaining := r.slack.Guard().Status(); cooling {
		components["slack"] = map[string]any{
			"status":             "cooldown",
			"cooldown_remaining": int(remaining.Seconds()),
		}
	} else {
		components["slack"] = map[string]any{"status": "up"}
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

// upstreamStatus maps integration client errors to HTTP codes.
func upstreamStatus(err error) int {
	switch {
	case errors.Is(err, slack.ErrCooldownActive), errors.Is(err, slack.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, slack.ErrUnauthorized), errors.Is(err, jira.ErrUnauthorized):
		return http.StatusBadGateway
	case errors.Is(err, jira.ErrForbidden):
		return http.StatusBadGateway
	case errors.Is(err, jira.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
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
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	return sr.ResponseWriter.Write(b)
}

// Hijack lets the websocket upgrader take over the connection through the
// audit wrapper.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
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
