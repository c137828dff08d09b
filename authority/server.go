package authority

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/zoobzio/devrun"
)

// Server exposes an Authority over HTTP:
//
//	GET  /ws                    streamed protocol
//	PUT  /api/run               create
//	POST /api/run               submit
//	POST /api/run/move          send moves
//	GET  /api/run/{runId}       run info
//	GET  /api/run/{runId}/text  run text
//
// Plain requests carry their credential in the Cookie header.
type Server struct {
	authority *Authority
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	router    *mux.Router
}

// NewServer creates the HTTP surface of a.
func NewServer(a *Authority) *Server {
	s := &Server{
		authority: a,
		logger:    a.logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	r := mux.NewRouter()
	r.Use(s.accessLog)
	r.Methods(http.MethodGet).Path("/ws").HandlerFunc(s.serveWS)
	r.Methods(http.MethodPut).Path("/api/run").Handler(s.requireCredential(s.createRun))
	r.Methods(http.MethodPost).Path("/api/run").Handler(s.requireCredential(s.submitRun))
	r.Methods(http.MethodPost).Path("/api/run/move").Handler(s.requireCredential(s.sendMoves))
	r.Methods(http.MethodGet).Path("/api/run/{runId}").Handler(s.requireCredential(s.getRun))
	r.Methods(http.MethodGet).Path("/api/run/{runId}/text").Handler(s.requireCredential(s.getText))
	s.router = r
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) accessLog(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		m := httpsnoop.CaptureMetrics(handler, writer, request)
		s.logger.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
	})
}

func (s *Server) requireCredential(handler http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if !s.authority.Authenticate(request.Header.Get("Cookie")) {
			s.writeError(writer, ErrUnauthenticated)
			return
		}
		handler.ServeHTTP(writer, request)
	})
}

func (s *Server) createRun(writer http.ResponseWriter, request *http.Request) {
	var req devrun.CreateRequest
	if !s.decode(writer, request, &req) {
		return
	}
	runID, err := s.authority.Create(request.Context(), req.Problem, req.Category)
	if err != nil {
		s.writeError(writer, err)
		return
	}
	s.writeJSON(writer, http.StatusOK, devrun.CreateResult{RunID: runID})
}

func (s *Server) submitRun(writer http.ResponseWriter, request *http.Request) {
	var req devrun.SubmitRequest
	if !s.decode(writer, request, &req) {
		return
	}
	if err := s.authority.Submit(request.Context(), req.RunID); err != nil {
		s.writeError(writer, err)
		return
	}
	writer.WriteHeader(http.StatusNoContent)
}

func (s *Server) sendMoves(writer http.ResponseWriter, request *http.Request) {
	var req devrun.MoveRequest
	if !s.decode(writer, request, &req) {
		return
	}
	if err := s.authority.Move(request.Context(), req); err != nil {
		s.writeError(writer, err)
		return
	}
	writer.WriteHeader(http.StatusNoContent)
}

func (s *Server) getRun(writer http.ResponseWriter, request *http.Request) {
	info, err := s.authority.Info(request.Context(), mux.Vars(request)["runId"])
	if err != nil {
		s.writeError(writer, err)
		return
	}
	s.writeJSON(writer, http.StatusOK, info)
}

func (s *Server) getText(writer http.ResponseWriter, request *http.Request) {
	text, err := s.authority.Text(request.Context(), mux.Vars(request)["runId"])
	if err != nil {
		s.writeError(writer, err)
		return
	}
	s.writeJSON(writer, http.StatusOK, text)
}

func (s *Server) decode(writer http.ResponseWriter, request *http.Request, v any) bool {
	if err := json.NewDecoder(request.Body).Decode(v); err != nil {
		s.writeJSON(writer, http.StatusBadRequest, map[string]string{"error": "invalid body: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) writeError(writer http.ResponseWriter, err error) {
	s.writeJSON(writer, statusOf(err), map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(writer http.ResponseWriter, status int, v any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(v); err != nil {
		s.logger.Error("failed to write out", "err", err)
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrUnknownRun):
		return http.StatusNotFound
	case errors.Is(err, ErrSubmitted):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidMove),
		errors.Is(err, devrun.ErrInvalidProblem),
		errors.Is(err, devrun.ErrInvalidMode):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
