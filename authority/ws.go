package authority

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zoobzio/devrun"
)

func (s *Server) serveWS(writer http.ResponseWriter, request *http.Request) {
	conn, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade", "err", err)
		return
	}
	defer conn.Close()

	sess := &session{
		conn:      conn,
		authority: s.authority,
		logger:    s.logger.With("remote", request.RemoteAddr),
	}
	sess.serve(request.Context())
}

// session serves one streamed connection. The first request must be auth;
// requests are answered in the order they arrive.
type session struct {
	conn      *websocket.Conn
	authority *Authority
	logger    *slog.Logger
	writeMu   sync.Mutex
	authed    bool
}

func (s *session) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.keepalive(ctx, s.authority.config.PingInterval)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("connection ended", "err", err)
			}
			return
		}
		if !s.handle(ctx, frame) {
			return
		}
	}
}

// handle answers one frame. It reports false when the connection must end.
func (s *session) handle(ctx context.Context, frame []byte) bool {
	requestID, req, err := devrun.DecodeRequest(frame)
	if err != nil {
		if requestID == "" {
			s.logger.Warn("dropped frame", "err", err)
			return true
		}
		return s.fail(requestID, err)
	}

	if auth, ok := req.(devrun.AuthRequest); ok {
		if !s.authority.Authenticate(auth.Cookies) {
			s.fail(requestID, ErrUnauthenticated)
			return false
		}
		s.authed = true
		return s.reply(requestID, nil)
	}
	if !s.authed {
		return s.fail(requestID, ErrUnauthenticated)
	}

	switch req := req.(type) {
	case devrun.CreateRequest:
		runID, err := s.authority.Create(ctx, req.Problem, req.Category)
		if err != nil {
			return s.fail(requestID, err)
		}
		return s.reply(requestID, devrun.CreateResult{RunID: runID})
	case devrun.SubmitRequest:
		if err := s.authority.Submit(ctx, req.RunID); err != nil {
			return s.fail(requestID, err)
		}
		return s.reply(requestID, nil)
	case devrun.MoveRequest:
		if err := s.authority.Move(ctx, req); err != nil {
			return s.fail(requestID, err)
		}
		return s.reply(requestID, nil)
	case devrun.GetTextRequest:
		text, err := s.authority.Text(ctx, req.RunID)
		if err != nil {
			return s.fail(requestID, err)
		}
		return s.reply(requestID, text)
	}
	return s.fail(requestID, errors.New("unsupported request"))
}

func (s *session) reply(requestID string, data any) bool {
	frame, err := devrun.EncodeResult(requestID, data)
	if err != nil {
		s.logger.Error("failed to encode response", "err", err)
		return s.fail(requestID, err)
	}
	return s.write(frame)
}

func (s *session) fail(requestID string, cause error) bool {
	frame, err := devrun.EncodeFailure(requestID, cause.Error())
	if err != nil {
		s.logger.Error("failed to encode failure", "err", err)
		return false
	}
	return s.write(frame)
}

func (s *session) write(frame []byte) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		s.logger.Error("failed to write message", "err", err)
		return false
	}
	return true
}

func (s *session) keepalive(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
