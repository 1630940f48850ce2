package webhook

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/inboxd/internal/core/domain"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockBridge struct {
	mu       sync.Mutex
	received []domain.Notification
	err      error
}

func (m *mockBridge) Notify(_ context.Context, n domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, n)
	return m.err
}

func (m *mockBridge) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

var testNow = time.Date(2026, 7, 1, 9, 30, 0, 0, time.UTC)

func newTestServer(bridge *mockBridge, cfg Config) *Server {
	s := NewServer(bridge, cfg)
	s.now = func() time.Time { return testNow }
	return s
}

func pushBody(data string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(data))
	return fmt.Sprintf(`{"message":{"data":%q,"messageId":"136969346945"},"subscription":"projects/p/subscriptions/gmail-push"}`, encoded)
}

func post(s *Server, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(&mockBridge{}, Config{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestPush_ForwardsNotification(t *testing.T) {
	bridge := &mockBridge{}
	s := newTestServer(bridge, Config{})

	rec := post(s, PushPath, pushBody(`{"emailAddress":"alice@example.com","historyId":1234}`))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, bridge.received, 1)
	assert.Equal(t, domain.Notification{
		EmailAddress: "alice@example.com",
		Marker:       "1234",
		Source:       domain.NotificationPush,
		ReceivedAt:   testNow,
	}, bridge.received[0])
}

func TestPush_Token(t *testing.T) {
	bridge := &mockBridge{}
	s := newTestServer(bridge, Config{Token: "s3cret"})
	body := pushBody(`{"emailAddress":"alice@example.com","historyId":1}`)

	assert.Equal(t, http.StatusUnauthorized, post(s, PushPath, body).Code)
	assert.Equal(t, http.StatusUnauthorized, post(s, PushPath+"?token=wrong", body).Code)
	assert.Empty(t, bridge.received)

	assert.Equal(t, http.StatusNoContent, post(s, PushPath+"?token=s3cret", body).Code)
	assert.Len(t, bridge.received, 1)
}

func TestPush_InvalidEnvelope(t *testing.T) {
	bridge := &mockBridge{}
	s := newTestServer(bridge, Config{})

	rec := post(s, PushPath, "not json")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, bridge.received)
}

func TestPush_AcknowledgesUnusablePayloads(t *testing.T) {
	bridge := &mockBridge{}
	s := newTestServer(bridge, Config{})

	rec := post(s, PushPath, pushBody(`{"historyId":1}`))

	assert.Equal(t, http.StatusNoContent, rec.Code, "redelivery cannot fix the payload")
	assert.Empty(t, bridge.received)
}

func TestPush_BridgeErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{name: "unknown account", err: fmt.Errorf("resolve: %w", domain.ErrNotFound), code: http.StatusNoContent},
		{name: "invalid", err: domain.ErrInvalidInput, code: http.StatusNoContent},
		{name: "store failure", err: errors.New("database is locked"), code: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&mockBridge{err: tt.err}, Config{})
			rec := post(s, PushPath, pushBody(`{"emailAddress":"alice@example.com","historyId":1}`))
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestMCPMount(t *testing.T) {
	mcpHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	s := newTestServer(&mockBridge{}, Config{MCP: mcpHandler})

	rec := post(s, "/mcp", `{}`)
	assert.Equal(t, http.StatusTeapot, rec.Code)

	s = newTestServer(&mockBridge{}, Config{})
	rec = post(s, "/mcp", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRun_StopsOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	s := newTestServer(&mockBridge{}, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health") //nolint:noctx // test helper
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRun_ListenError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	s := newTestServer(&mockBridge{}, Config{})
	err = s.Run(context.Background(), l.Addr().String())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook")
}
