// Package bridge is the local listener a web page uses to drive a devrun
// session on the developer's machine:
//
//	GET  /start-run/{problemId}  start a run for problemId
//	POST /auth                   store the session credential {"cookies": "..."}
//
// Requests from an Origin other than loopback or a configured remote origin
// are refused with 403. Requests without an Origin (curl) are allowed.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"

	"github.com/zoobzio/devrun"
)

// DefaultAddr is the loopback address the bridge listens on.
const DefaultAddr = "127.0.0.1:63780"

// Config holds configuration for a Bridge.
type Config struct {
	Addr           string                                    // Optional, defaults to DefaultAddr
	AllowedOrigins []string                                  // Remote origins allowed besides loopback
	OnStart        func(ctx context.Context, problem string) // Called in its own goroutine
	Credentials    *devrun.CredentialStore                   // Receives POST /auth
	Logger         *slog.Logger                              // Optional, defaults to slog.Default()
}

// Bridge is the local HTTP listener.
type Bridge struct {
	config Config
	logger *slog.Logger
	router *mux.Router
	server *http.Server
}

// New creates a Bridge.
func New(cfg Config) *Bridge {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Credentials == nil {
		cfg.Credentials = devrun.NewCredentialStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	b := &Bridge{config: cfg, logger: cfg.Logger}

	r := mux.NewRouter()
	r.Use(b.accessLog, b.checkOrigin)
	r.Methods(http.MethodGet).Path("/start-run/{problemId}").HandlerFunc(b.startRun)
	r.Methods(http.MethodPost).Path("/auth").HandlerFunc(b.auth)
	r.Methods(http.MethodOptions).HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusNoContent)
	})
	b.router = r
	b.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return b
}

// Handler returns the router.
func (b *Bridge) Handler() http.Handler {
	return b.router
}

// Credentials returns the store POST /auth writes to.
func (b *Bridge) Credentials() *devrun.CredentialStore {
	return b.config.Credentials
}

// ListenAndServe listens on the configured address until Shutdown.
func (b *Bridge) ListenAndServe() error {
	l, err := net.Listen("tcp", b.config.Addr)
	if err != nil {
		return err
	}
	return b.Serve(l)
}

// Serve accepts connections on l until Shutdown.
func (b *Bridge) Serve(l net.Listener) error {
	b.logger.Info("bridge listening", "addr", l.Addr().String())
	if err := b.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener.
func (b *Bridge) Shutdown(ctx context.Context) error {
	return b.server.Shutdown(ctx)
}

func (b *Bridge) accessLog(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		m := httpsnoop.CaptureMetrics(handler, writer, request)
		b.logger.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
	})
}

func (b *Bridge) checkOrigin(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		origin := request.Header.Get("Origin")
		if origin == "" {
			handler.ServeHTTP(writer, request)
			return
		}
		if !b.allowed(origin) {
			writeJSON(writer, http.StatusForbidden, map[string]any{"ok": false, "error": "origin not allowed"})
			return
		}
		writer.Header().Set("Access-Control-Allow-Origin", origin)
		writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		writer.Header().Add("Vary", "Origin")
		handler.ServeHTTP(writer, request)
	})
}

func (b *Bridge) allowed(origin string) bool {
	if slices.Contains(b.config.AllowedOrigins, origin) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

func (b *Bridge) startRun(writer http.ResponseWriter, request *http.Request) {
	problem := mux.Vars(request)["problemId"]
	if err := devrun.ValidateProblem(problem); err != nil {
		writeJSON(writer, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	if b.config.OnStart != nil {
		go b.config.OnStart(context.WithoutCancel(request.Context()), problem)
	}
	writeJSON(writer, http.StatusOK, map[string]any{"ok": true, "problemId": problem})
}

func (b *Bridge) auth(writer http.ResponseWriter, request *http.Request) {
	var body devrun.AuthRequest
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil || body.Cookies == "" {
		writeJSON(writer, http.StatusBadRequest, map[string]any{"ok": false, "error": "cookies required"})
		return
	}
	b.config.Credentials.Set(body.Cookies)
	writeJSON(writer, http.StatusOK, map[string]any{"ok": true})
}

func writeJSON(writer http.ResponseWriter, status int, v any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(v)
}
