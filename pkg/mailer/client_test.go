package mailer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/procure-cli/internal/resilience"
)

func TestSend_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Equal(t, "rfq-1", r.Header.Get("Idempotency-Key"))

		var msg Message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		assert.Equal(t, "ops@volt.example", msg.To)
		assert.Equal(t, "Request for quotation", msg.Subject)
		assert.Equal(t, "st-1", msg.Tags["stage_id"])

		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"id":"msg-42"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewClient("key", WithBaseURL(srv.URL), WithDelay(0))
	got, err := client.Send(context.Background(), Message{
		From:           "rfq@procure.local",
		To:             "ops@volt.example",
		Subject:        "Request for quotation",
		Text:           "Please quote.",
		Tags:           map[string]string{"stage_id": "st-1"},
		IdempotencyKey: "rfq-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "msg-42", got.ID)
}

func TestSend_MissingRecipient(t *testing.T) {
	t.Parallel()

	_, err := NewClient("key").Send(context.Background(), Message{Subject: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing recipient")
}

func TestSend_RateLimitedIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient("key", WithBaseURL(srv.URL), WithDelay(0)).Send(context.Background(), Message{To: "a@b.c"})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestSend_RejectedIsPermanent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte("invalid address")) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := NewClient("key", WithBaseURL(srv.URL), WithDelay(0)).Send(context.Background(), Message{To: "nope"})
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
	assert.Contains(t, err.Error(), "invalid address")
}

func TestSend_PacesConsecutiveSends(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient("key", WithBaseURL(srv.URL), WithDelay(50*time.Millisecond))
	start := time.Now()
	for range 3 {
		_, err := client.Send(context.Background(), Message{To: "a@b.c"})
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
}
