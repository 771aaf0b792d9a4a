package webhook

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
	"go.uber.org/zap/zaptest"
)

func TestNotifyApproval(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody approvalPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, http.MethodPatch, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(Config{BaseURL: srv.URL, Token: "secret"}, zaptest.NewLogger(t))
	require.NoError(t, d.NotifyApproval(context.Background(), "p1", true))

	assert.Equal(t, "/api/texts/p1/", gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.True(t, gotBody.IsApproved)
}

func TestNotifyApprovalRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(Config{BaseURL: srv.URL, MaxElapsed: 10 * time.Second}, zaptest.NewLogger(t))
	require.NoError(t, d.NotifyApproval(context.Background(), "p1", false))
	assert.Equal(t, int32(3), calls.Load())
}

func TestNotifyApprovalPermanentError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewDispatcher(Config{BaseURL: srv.URL}, zaptest.NewLogger(t))
	err := d.NotifyApproval(context.Background(), "gone", true)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestNotifyApprovalDisabled(t *testing.T) {
	d := NewDispatcher(Config{}, zaptest.NewLogger(t))
	assert.False(t, d.Enabled())
	assert.NoError(t, d.NotifyApproval(context.Background(), "p1", true))
}

func TestNotifyApprovalContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	d := NewDispatcher(Config{BaseURL: srv.URL, MaxElapsed: time.Minute}, zaptest.NewLogger(t))
	err := d.NotifyApproval(ctx, "p1", true)
	require.Error(t, err)
}
