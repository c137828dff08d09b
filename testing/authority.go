package testing

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/zoobzio/devrun"
	"github.com/zoobzio/devrun/authority"
)

// TestCredential is the credential the harness authority accepts.
const TestCredential = "session=test"

// AuthorityHarness is a reference authority served from an httptest server,
// backed by an in-memory SQLite store.
type AuthorityHarness struct {
	Authority *authority.Authority
	Store     *authority.SQLiteStore
	Server    *httptest.Server
}

// NewAuthorityHarness starts an authority for the duration of the test.
func NewAuthorityHarness(t testing.TB) *AuthorityHarness {
	t.Helper()

	store, err := authority.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	a, err := authority.New(context.Background(), authority.Config{
		Store:          store,
		Authenticate:   func(credential string) bool { return credential == TestCredential },
		BackupInterval: 50 * time.Millisecond,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("failed to create authority: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.Run(ctx)
	}()

	server := httptest.NewServer(authority.NewServer(a).Handler())
	t.Cleanup(func() {
		server.Close()
		cancel()
		<-done
		_ = store.Close()
	})

	return &AuthorityHarness{Authority: a, Store: store, Server: server}
}

// URL returns the base URL for plain requests.
func (h *AuthorityHarness) URL() string {
	return h.Server.URL
}

// WSURL returns the streamed protocol endpoint.
func (h *AuthorityHarness) WSURL() string {
	return "ws" + strings.TrimPrefix(h.Server.URL, "http") + "/ws"
}

// Transport creates a transport to the harness with the test credential.
// It is closed when the test ends.
func (h *AuthorityHarness) Transport(t testing.TB) *devrun.Transport {
	t.Helper()
	transport := devrun.NewTransport(devrun.TransportConfig{
		Origins:     map[devrun.Origin]string{devrun.OriginLocal: h.WSURL()},
		Credentials: devrun.StaticCredential(TestCredential),
	})
	t.Cleanup(func() { _ = transport.Close() })
	return transport
}

// HTTPClient creates a plain-request client to the harness.
func (h *AuthorityHarness) HTTPClient() *devrun.HTTPClient {
	return devrun.NewHTTPClient(devrun.HTTPConfig{
		BaseURL:     h.URL(),
		Credentials: devrun.StaticCredential(TestCredential),
	})
}
