package gmail

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/custodia-labs/inboxd/internal/connectors/google"
	"github.com/custodia-labs/inboxd/internal/core/domain"
)

func newTestProvider(t *testing.T, handler http.Handler, cfg *Config) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc, err := gmail.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return NewProvider(svc, "acct", cfg, google.NewRateLimiter(google.RateLimitConfig{RequestsPerSecond: 1000, BurstSize: 100}))
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestProvider_Profile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/profile", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"emailAddress":"bob@example.com","historyId":"900"}`)
	})
	p := newTestProvider(t, mux, nil)

	prof, err := p.Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", prof.EmailAddress)

	c, err := DecodeCursor(prof.Cursor)
	require.NoError(t, err)
	assert.Equal(t, uint64(900), c.HistoryID)
}

func TestProvider_ListAllPaginates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "INBOX", r.URL.Query().Get("labelIds"))
		if r.URL.Query().Get("pageToken") == "" {
			writeJSON(w, http.StatusOK, `{"messages":[{"id":"a"},{"id":"b"}],"nextPageToken":"p2"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"messages":[{"id":"c"}]}`)
	})
	p := newTestProvider(t, mux, &Config{LabelIDs: []string{"INBOX"}, MaxResults: 2})

	page, err := p.ListAll(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, page.MessageIDs)
	assert.Equal(t, "p2", page.NextPageToken)

	page, err = p.ListAll(context.Background(), "p2")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, page.MessageIDs)
	assert.Empty(t, page.NextPageToken)
}

func TestProvider_ListChanges(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/history", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "100", r.URL.Query().Get("startHistoryId"))
		writeJSON(w, http.StatusOK, `{
			"historyId": "150",
			"history": [
				{"id":"101","messagesAdded":[{"message":{"id":"m1","threadId":"t1","labelIds":["INBOX"]}}]},
				{"id":"102","messagesAdded":[{"message":{"id":"spam1","labelIds":["SPAM"]}}]},
				{"id":"103","labelsAdded":[{"message":{"id":"m2","labelIds":["INBOX","STARRED"]},"labelIds":["STARRED"]}]},
				{"id":"104","messagesDeleted":[{"message":{"id":"m3"}}]}
			]
		}`)
	})
	p := newTestProvider(t, mux, DefaultConfig())

	page, err := p.ListChanges(context.Background(), CursorAt(100).Encode(), "")
	require.NoError(t, err)

	require.Len(t, page.Changes, 3)
	assert.Equal(t, domain.Change{Kind: domain.ChangeAdded, MessageID: "m1", ThreadID: "t1", LabelIDs: []string{"INBOX"}}, page.Changes[0])
	assert.Equal(t, domain.ChangeLabelsChanged, page.Changes[1].Kind)
	assert.Equal(t, []string{"INBOX", "STARRED"}, page.Changes[1].LabelIDs)
	assert.Equal(t, domain.ChangeDeleted, page.Changes[2].Kind)

	c, err := DecodeCursor(page.NewCursor)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), c.HistoryID)
}

func TestProvider_ListChangesExpiredCursor(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/history", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, `{"error":{"code":404,"message":"Requested entity was not found."}}`)
	})
	p := newTestProvider(t, mux, nil)

	_, err := p.ListChanges(context.Background(), CursorAt(1).Encode(), "")
	assert.ErrorIs(t, err, domain.ErrCursorExpired)

	_, err = p.ListChanges(context.Background(), "garbage", "")
	assert.ErrorIs(t, err, domain.ErrCursorExpired)
}

func TestProvider_FetchMessage(t *testing.T) {
	raw := base64.URLEncoding.EncodeToString([]byte(plainRaw))
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages/m1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "raw", r.URL.Query().Get("format"))
		writeJSON(w, http.StatusOK, `{"id":"m1","threadId":"t1","labelIds":["INBOX"],"internalDate":"1700000000000","raw":"`+raw+`"}`)
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/gone", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, `{"error":{"code":404,"message":"Not Found"}}`)
	})
	p := newTestProvider(t, mux, nil)

	m, err := p.FetchMessage(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "Quarterly report", m.Subject)
	assert.Equal(t, "acct", m.AccountID)

	_, err = p.FetchMessage(context.Background(), "gone")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProvider_RateLimitedMapsToDomain(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages/m1", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusForbidden, `{"error":{"code":403,"message":"Rate Limit Exceeded","errors":[{"reason":"rateLimitExceeded","message":"Rate Limit Exceeded"}]}}`)
	})
	p := newTestProvider(t, mux, nil)

	_, err := p.FetchMessage(context.Background(), "m1")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestProvider_Watch(t *testing.T) {
	var stopped bool
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/stop", func(w http.ResponseWriter, _ *http.Request) {
		stopped = true
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/gmail/v1/users/me/watch", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"historyId":"77","expiration":"1700000000000"}`)
	})
	p := newTestProvider(t, mux, nil)

	expiry, err := p.Watch(context.Background(), "projects/p/topics/gmail", []string{"INBOX"})
	require.NoError(t, err)
	assert.True(t, stopped)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), expiry)
}

func TestProvider_Labels(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/labels", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"labels":[{"id":"INBOX","name":"INBOX","type":"system"},{"id":"Label_1","name":"Work","type":"user"}]}`)
	})
	p := newTestProvider(t, mux, nil)

	labels, err := p.Labels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.Label{
		{ID: "INBOX", Name: "INBOX", Type: "system"},
		{ID: "Label_1", Name: "Work", Type: "user"},
	}, labels)
}
