package apiclient

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

	"conjure/internal/types"
)

func noSleep(time.Duration) {}

func TestBaseClient_RetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	bc := NewBaseClient(srv.Client(), "test", DefaultRetryPolicy(), "test-agent", WithSleepFunc(noSleep))

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := bc.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestBaseClient_NoRetryOn4xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	bc := NewBaseClient(srv.Client(), "test", DefaultRetryPolicy(), "test-agent", WithSleepFunc(noSleep))

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := bc.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestBaseClient_ExhaustedRetriesMapsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	bc := NewBaseClient(srv.Client(), "test", RetryPolicy{MaxRetries: 2, MinWait: time.Millisecond, MaxWait: time.Millisecond}, "test-agent", WithSleepFunc(noSleep))

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := bc.Do(req)
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamInternalAPI, appErr.Code)
}

func TestBaseClient_SetsUserAgentAndTraceID(t *testing.T) {
	var gotUA, gotTrace string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotTrace = r.Header.Get("X-B3-TraceId")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	bc := NewBaseClient(srv.Client(), "test", DefaultRetryPolicy(), "test-agent", WithSleepFunc(noSleep))

	ctx := types.WithRequestID(context.Background(), "trace-123")
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := bc.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "test-agent", gotUA)
	assert.Equal(t, "trace-123", gotTrace)
}

func TestClient_GetSpellCast(t *testing.T) {
	var gotKey, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Internal-Client-Key")
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]any{
			"id":            "cast_1",
			"spellId":       "spell_9",
			"spellSlug":     "dreamscape",
			"status":        "completed",
			"generationIds": []string{"gen_1", "gen_2"},
			"costUsd":       map[string]string{"$numberDecimal": "0.05"},
		})
	}))
	defer srv.Close()

	c := New(srv.Client(), srv.URL, types.SecretString("internal-key"), types.NopLogger{}, WithSleepFunc(noSleep))

	cast, err := c.GetSpellCast(context.Background(), "cast_1")
	require.NoError(t, err)

	assert.Equal(t, "internal-key", gotKey)
	assert.Equal(t, "/internal/v1/data/spells/casts/cast_1", gotPath)
	assert.Equal(t, "cast_1", cast.ID)
	assert.Equal(t, "dreamscape", cast.SpellSlug)
	assert.Equal(t, []string{"gen_1", "gen_2"}, cast.GenerationIDs)
	assert.Equal(t, "0.05", types.NormalizeDecimal(cast.CostUSD))
}

func TestClient_GetSpellCast_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.Client(), srv.URL, types.SecretString("k"), types.NopLogger{}, WithSleepFunc(noSleep))

	_, err := c.GetSpellCast(context.Background(), "missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamInternalAPI, appErr.Code)
}
