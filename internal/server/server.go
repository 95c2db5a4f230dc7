// Package server exposes the memory engine over a small HTTP API.
//
// All /api/ routes except /api/health require a bearer token when the
// security mode is "production". A websocket endpoint pushes due
// reminders to connected clients as they fire.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"nhooyr.io/websocket"

	"github.com/scrypster/engram/internal/config"
	"github.com/scrypster/engram/internal/engine"
	"github.com/scrypster/engram/internal/reminder"
	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

// wsPollInterval is how often the reminder websocket checks for newly due
// reminders. Tests shorten it.
var wsPollInterval = 2 * time.Second

// Start launches the HTTP server and returns the address it is actually
// listening on. Port 0 requests a random port. The server shuts down
// gracefully when ctx is cancelled.
func Start(ctx context.Context, cfg *config.Config, eng *engine.Engine) (string, error) {
	mux := http.NewServeMux()

	api := http.NewServeMux()
	api.HandleFunc("POST /api/turn", handleTurn(eng))
	api.HandleFunc("GET /api/context", handleContext(eng))
	api.HandleFunc("GET /api/recent", handleRecent(eng))
	api.HandleFunc("POST /api/reminders", handleReminderCreate(eng))
	api.HandleFunc("GET /api/reminders", handleReminderList(eng))
	api.HandleFunc("DELETE /api/reminders", handleReminderDelete(eng))
	api.HandleFunc("POST /api/reminders/{id}/ack", handleReminderAck(eng))
	api.HandleFunc("POST /api/goals", handleGoalCreate(eng))
	api.HandleFunc("GET /api/goals", handleGoalList(eng))
	api.HandleFunc("DELETE /api/goals", handleGoalDelete(eng))

	mux.HandleFunc("GET /api/health", handleHealth)
	mux.Handle("/api/", requireAuth(api, cfg))
	mux.Handle("GET /ws/reminders", requireAuth(handleReminderSocket(ctx, eng), cfg))

	handler := rateLimitMiddleware(securityHeadersMiddleware(mux))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("server: listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("server: shutdown: %v", err)
		}
	}()

	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("server: serve: %v", err)
		}
	}()

	actual := listener.Addr().String()
	log.Printf("server: listening on http://%s", actual)
	return actual, nil
}

// securityHeadersMiddleware sets standard security headers on every reply.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware applies a global token-bucket limit across all clients.
func rateLimitMiddleware(next http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(10), 20)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth enforces the bearer token in production security mode.
// Development mode passes everything through.
func requireAuth(next http.Handler, cfg *config.Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cfg.Security.SecurityMode != "production" {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if cfg.Security.APIToken == "" || token != cfg.Security.APIToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "1.0.0",
	})
}

type turnRequest struct {
	UserID        string   `json:"user_id"`
	UserText      string   `json:"user_text"`
	AssistantText string   `json:"assistant_text,omitempty"`
	ToolSummaries []string `json:"tool_summaries,omitempty"`
}

func handleTurn(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req turnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON body", http.StatusBadRequest)
			return
		}

		result, err := eng.IngestTurn(r.Context(), req.UserID, req.UserText, req.AssistantText, req.ToolSummaries...)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func handleContext(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user")
		if userID == "" {
			http.Error(w, "Missing user parameter", http.StatusBadRequest)
			return
		}
		query := r.URL.Query().Get("query")

		block, err := eng.BuildInjectedContext(r.Context(), userID, query)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"user_id": userID,
			"context": block,
		})
	}
}

func handleRecent(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user")
		if userID == "" {
			http.Error(w, "Missing user parameter", http.StatusBadRequest)
			return
		}

		limit := 20
		if s := r.URL.Query().Get("limit"); s != "" {
			if n, err := strconv.Atoi(s); err == nil && n > 0 {
				limit = n
			}
		}

		items, err := eng.ListRecent(r.Context(), userID, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		if items == nil {
			items = []types.Item{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	}
}

type reminderCreateRequest struct {
	UserID   string `json:"user_id"`
	Title    string `json:"title"`
	When     string `json:"when"`
	Details  string `json:"details,omitempty"`
	Scope    string `json:"scope,omitempty"`
	Priority int    `json:"priority,omitempty"`
}

func handleReminderCreate(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reminderCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON body", http.StatusBadRequest)
			return
		}

		rem, err := eng.Scheduler().Add(r.Context(), req.UserID, req.Title, req.When, reminder.AddOptions{
			Details:  req.Details,
			Scope:    req.Scope,
			Priority: req.Priority,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rem)
	}
}

func handleReminderList(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user")
		if userID == "" {
			http.Error(w, "Missing user parameter", http.StatusBadRequest)
			return
		}

		status := types.ReminderStatus(r.URL.Query().Get("status"))
		if status == "" {
			status = types.ReminderActive
		}
		if !status.Valid() {
			http.Error(w, "Invalid status parameter", http.StatusBadRequest)
			return
		}

		reminders, err := eng.Scheduler().List(r.Context(), userID, status, r.URL.Query().Get("scope"))
		if err != nil {
			writeError(w, err)
			return
		}
		if reminders == nil {
			reminders = []types.Reminder{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"reminders": reminders})
	}
}

type reminderAckRequest struct {
	UserID        string `json:"user_id"`
	Action        string `json:"action"` // done, cancel or snooze
	SnoozeMinutes int    `json:"snooze_minutes,omitempty"`
}

func handleReminderAck(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		var req reminderAckRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON body", http.StatusBadRequest)
			return
		}
		if req.UserID == "" {
			http.Error(w, "Missing user_id", http.StatusBadRequest)
			return
		}

		var err error
		switch req.Action {
		case "done":
			err = eng.Scheduler().Ack(r.Context(), req.UserID, id, types.ReminderDone)
		case "cancel":
			err = eng.Scheduler().Ack(r.Context(), req.UserID, id, types.ReminderCancelled)
		case "snooze":
			minutes := req.SnoozeMinutes
			if minutes <= 0 {
				minutes = 10
			}
			err = eng.Scheduler().Snooze(r.Context(), req.UserID, id, time.Duration(minutes)*time.Minute)
		default:
			http.Error(w, "Action must be done, cancel or snooze", http.StatusBadRequest)
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// handleReminderDelete cancels active reminders by title.
func handleReminderDelete(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user")
		title := r.URL.Query().Get("title")
		if userID == "" || title == "" {
			http.Error(w, "Missing user or title parameter", http.StatusBadRequest)
			return
		}

		n, err := eng.Scheduler().DeleteByTitle(r.Context(), userID, title, r.URL.Query().Get("scope"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"cancelled": n})
	}
}

type goalCreateRequest struct {
	UserID string `json:"user_id"`
	Title  string `json:"title"`
}

func handleGoalCreate(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req goalCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON body", http.StatusBadRequest)
			return
		}
		if req.UserID == "" {
			http.Error(w, "Missing user_id", http.StatusBadRequest)
			return
		}

		item, err := eng.AddGoal(r.Context(), req.UserID, req.Title)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, item)
	}
}

func handleGoalList(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user")
		if userID == "" {
			http.Error(w, "Missing user parameter", http.StatusBadRequest)
			return
		}

		limit := 6
		if s := r.URL.Query().Get("limit"); s != "" {
			if n, err := strconv.Atoi(s); err == nil && n > 0 {
				limit = n
			}
		}

		goals, err := eng.ListGoals(r.Context(), userID, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		if goals == nil {
			goals = []types.Item{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"goals": goals})
	}
}

func handleGoalDelete(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user")
		title := r.URL.Query().Get("title")
		if userID == "" || title == "" {
			http.Error(w, "Missing user or title parameter", http.StatusBadRequest)
			return
		}

		deleted, err := eng.DeleteGoalByTitle(r.Context(), userID, title)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
	}
}

// reminderEvent is the websocket frame sent when a reminder fires.
type reminderEvent struct {
	Type     string         `json:"type"`
	Reminder types.Reminder `json:"reminder"`
}

// handleReminderSocket upgrades to a websocket and pushes due reminders as
// they fire. Reminders delivered here are consumed, so they will not also
// appear in the next injected context block.
func handleReminderSocket(serverCtx context.Context, eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user")
		if userID == "" {
			http.Error(w, "Missing user parameter", http.StatusBadRequest)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
		})
		if err != nil {
			log.Printf("server: websocket upgrade: %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		// CloseRead drains incoming frames and cancels the returned
		// context when the peer goes away.
		ctx := conn.CloseRead(r.Context())

		ticker := time.NewTicker(wsPollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-serverCtx.Done():
				return
			case <-ticker.C:
				err := pushDue(ctx, eng, userID, func(wctx context.Context, data []byte) error {
					writeCtx, cancel := context.WithTimeout(wctx, 10*time.Second)
					defer cancel()
					return conn.Write(writeCtx, websocket.MessageText, data)
				})
				if err != nil {
					log.Printf("server: reminder push for %s: %v", userID, err)
					return
				}
			}
		}
	}
}

// pushDue consumes due reminders and writes one frame per reminder. A
// failed write records a delivery failure for every consumed reminder that
// was not delivered, so they do not vanish silently.
func pushDue(ctx context.Context, eng *engine.Engine, userID string, write func(context.Context, []byte) error) error {
	due, err := eng.Scheduler().Consume(ctx, userID, 10)
	if err != nil {
		log.Printf("server: consume reminders for %s: %v", userID, err)
		return nil
	}

	for i := range due {
		data, err := json.Marshal(reminderEvent{Type: "reminder_due", Reminder: due[i]})
		if err != nil {
			continue
		}
		if err := write(ctx, data); err != nil {
			// The connection context may already be dead here.
			failCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			for _, rem := range due[i:] {
				if ferr := eng.Scheduler().RecordDeliveryFailure(failCtx, userID, rem.ID); ferr != nil {
					log.Printf("server: record delivery failure %s: %v", rem.ID, ferr)
				}
			}
			cancel()
			return fmt.Errorf("write reminder frame: %w", err)
		}
	}
	return nil
}

// writeError maps storage sentinel errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	default:
		log.Printf("server: internal error: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: encode response: %v", err)
	}
}
