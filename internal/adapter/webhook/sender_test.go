package webhook_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/odoo-poller/internal/adapter/webhook"
)

func TestSender_Success(t *testing.T) {
	t.Parallel()
	var got struct {
		headers http.Header
		body    map[string]any
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.headers = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got.body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := webhook.NewSender(5 * time.Second)
	err := s.Send(context.Background(), srv.URL, map[string]any{"source": "odoo"}, "shh", 42)
	require.NoError(t, err)

	assert.Equal(t, "application/json", got.headers.Get("Content-Type"))
	assert.Equal(t, "42", got.headers.Get("X-Odoo-Connection-Id"))
	assert.Equal(t, "shh", got.headers.Get("X-Webhook-Secret"))
	assert.Equal(t, "odoo", got.body["source"])
}

func TestSender_NoSecretHeaderWhenEmpty(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, present := r.Header["X-Webhook-Secret"]
		assert.False(t, present)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := webhook.NewSender(5 * time.Second)
	require.NoError(t, s.Send(context.Background(), srv.URL, map[string]any{}, "", 1))
}

func TestSender_HTTPErrorCapturesBodyPrefix(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(strings.Repeat("x", 500)))
	}))
	defer srv.Close()

	s := webhook.NewSender(5 * time.Second)
	err := s.Send(context.Background(), srv.URL, map[string]any{}, "", 1)
	require.Error(t, err)

	var sendErr *webhook.SendError
	require.True(t, errors.As(err, &sendErr))
	assert.Equal(t, http.StatusInternalServerError, sendErr.Status)
	assert.Len(t, sendErr.Body, 200)
}

func TestSender_ClientError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := webhook.NewSender(5 * time.Second)
	err := s.Send(context.Background(), srv.URL, map[string]any{}, "", 1)
	var sendErr *webhook.SendError
	require.True(t, errors.As(err, &sendErr))
	assert.Equal(t, http.StatusBadRequest, sendErr.Status)
	assert.Contains(t, sendErr.Body, "bad request")
}

func TestSender_TransportError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // closed before use: connection refused

	s := webhook.NewSender(time.Second)
	err := s.Send(context.Background(), srv.URL, map[string]any{}, "", 1)
	var sendErr *webhook.SendError
	require.True(t, errors.As(err, &sendErr))
	assert.Zero(t, sendErr.Status)
	require.Error(t, sendErr.Unwrap())
}
