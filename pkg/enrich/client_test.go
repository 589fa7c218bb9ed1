package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/procure-cli/internal/resilience"
)

func TestLookup_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/lookup", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req LookupRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Volt SA", req.CompanyName)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"risk_score":22.5,"rating":4.4,"verified":true,"has_tax_debt":false}`)) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL), WithRateLimit(0))
	got, err := client.Lookup(context.Background(), LookupRequest{CompanyName: "Volt SA"})
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.RiskScore)
	assert.InDelta(t, 22.5, *got.RiskScore, 1e-9)
	require.NotNil(t, got.Rating)
	assert.True(t, got.Verified)
	assert.False(t, got.HasTaxDebt)
}

func TestLookup_NotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	got, err := NewClient("k", WithBaseURL(srv.URL)).Lookup(context.Background(), LookupRequest{CompanyName: "x"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLookup_ServerErrorIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("down")) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := NewClient("k", WithBaseURL(srv.URL)).Lookup(context.Background(), LookupRequest{CompanyName: "x"})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Contains(t, err.Error(), "enrich: unexpected status 503")
}

func TestLookup_BadRequestIsPermanent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewClient("k", WithBaseURL(srv.URL)).Lookup(context.Background(), LookupRequest{CompanyName: "x"})
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}

func TestLookup_MalformedJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("{not json")) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := NewClient("k", WithBaseURL(srv.URL)).Lookup(context.Background(), LookupRequest{CompanyName: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}

func TestLookup_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient("k", WithBaseURL("http://127.0.0.1:1")).Lookup(ctx, LookupRequest{CompanyName: "x"})
	require.Error(t, err)
}

func TestOptions(t *testing.T) {
	t.Parallel()

	c := NewClient("k", WithTimeout(3*time.Second), WithRateLimit(0)).(*httpClient)
	assert.Equal(t, 3*time.Second, c.http.Timeout)
	assert.Nil(t, c.limiter)

	c = NewClient("k", WithTimeout(0), WithRateLimit(2)).(*httpClient)
	assert.Equal(t, 15*time.Second, c.http.Timeout)
	require.NotNil(t, c.limiter)
	assert.Equal(t, 2, c.limiter.Burst())
}
