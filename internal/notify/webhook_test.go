package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/hostwatch/internal/models"
)

func TestWebhookSinkPostsText(t *testing.T) {
	var got webhookPayload
	var contentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink, err := NewWebhookSink(server.URL, time.Second)
	require.NoError(t, err)
	require.NoError(t, sink.Send(context.Background(), "nginx is down"))

	assert.Equal(t, "nginx is down", got.Text)
	assert.Contains(t, contentType, "application/json")
}

func TestWebhookSinkDoesNotRetry(t *testing.T) {
	hits := 0
	sink, err := NewWebhookSink("https://chat.example.com/hook", time.Second)
	require.NoError(t, err)
	sink.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		hits++
		return &http.Response{
			StatusCode: http.StatusServiceUnavailable,
			Body:       io.NopCloser(bytes.NewReader([]byte("try later"))),
			Header:     make(http.Header),
		}, nil
	}))

	err = sink.Send(context.Background(), "hello")
	require.ErrorIs(t, err, ErrDelivery)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "try later")
	assert.Equal(t, 1, hits)
}

func TestWebhookSinkTransportError(t *testing.T) {
	sink, err := NewWebhookSink("https://chat.example.com/hook", time.Second)
	require.NoError(t, err)
	sink.httpClient = newTestClient(roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection reset")
	}))

	assert.ErrorIs(t, sink.Send(context.Background(), "hello"), ErrDelivery)
}

func TestNewWebhookSinkRequiresURL(t *testing.T) {
	_, err := NewWebhookSink("", 0)
	assert.Error(t, err)
}

func TestNotifierSwallowsDeliveryErrors(t *testing.T) {
	var sent []string
	failing := SinkFunc(func(_ context.Context, text string) error {
		sent = append(sent, text)
		return ErrDelivery
	})
	n := NewNotifier(nil, failing, "web-1")

	ok := n.Notify(context.Background(), models.AlertEvent{Severity: models.SeverityCritical, Text: "nginx down"})
	assert.False(t, ok)
	require.Len(t, sent, 1)
	assert.Equal(t, "🚨 [web-1] nginx down", sent[0])
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "✅ all good", Format("", models.AlertEvent{Severity: models.SeveritySuccess, Text: "all good"}))
	assert.Equal(t, "[db-2] plain", Format("db-2", models.AlertEvent{Text: "plain"}))
}
