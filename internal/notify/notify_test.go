package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "ops@example.com", time.Second)
	err := n.Notify(context.Background(), Event{
		Source:  "backup",
		Level:   LevelCritical,
		Title:   "backup failed",
		Message: "database stage failed",
		Fields:  map[string]any{"stage": "database"},
		Time:    time.Now(),
	})
	require.NoError(t, err)

	assert.Equal(t, "backup", got["source"])
	assert.Equal(t, "critical", got["level"])
	assert.Equal(t, "ops@example.com", got["recipient"])
	assert.Equal(t, "database", got["fields"].(map[string]any)["stage"])
}

func TestWebhookNotifierReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, "", time.Second).Notify(context.Background(), Event{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

type failing struct{}

func (failing) Notify(context.Context, Event) error { return errors.New("down") }

func TestMultiJoinsErrors(t *testing.T) {
	var buf bytes.Buffer
	m := Multi{NewLogNotifier(log.New(&buf)), failing{}, Nop{}}
	err := m.Notify(context.Background(), Event{Level: LevelWarning, Message: "replication failed"})
	require.Error(t, err)
	assert.Contains(t, buf.String(), "replication failed")
}
