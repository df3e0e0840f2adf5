package activities

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortressi/paysaga"
)

func newFXServer(t *testing.T, handler http.HandlerFunc) *FXClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewFXClient(ServiceOptions{BaseURL: srv.URL})
}

func TestFXClient_LockRate(t *testing.T) {
	client := newFXServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/lock_rate", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "CAD", body["from"])
		assert.Equal(t, "USD", body["to"])
		_, _ = w.Write([]byte(`{"success":true,"lock_id":"lock-1","from":"CAD","to":"USD","rate":0.7512}`))
	})

	lock, err := client.LockRate(context.Background(), paysaga.LockRateInput{From: "cad", To: "usd"})
	require.NoError(t, err)
	assert.Equal(t, "lock-1", lock.LockID)
	assert.Equal(t, "0.7512", lock.Rate.String())
	assert.Equal(t, LockExpiry, lock.ExpiresAt.Sub(lock.IssuedAt))
}

func TestFXClient_LockRateUnknownPairIsRejected(t *testing.T) {
	client := newFXServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"Exchange rate not found for CAD to JPY"}`))
	})

	_, err := client.LockRate(context.Background(), paysaga.LockRateInput{From: "CAD", To: "JPY"})
	require.Error(t, err)
	assert.Equal(t, paysaga.KindRejection, paysaga.Classify(err))
	assert.Contains(t, err.Error(), "Exchange rate not found for CAD to JPY")
}

func TestFXClient_ServerErrorIsTransient(t *testing.T) {
	client := newFXServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := client.LockRate(context.Background(), paysaga.LockRateInput{From: "CAD", To: "USD"})
	require.Error(t, err)
	assert.Equal(t, paysaga.KindTransient, paysaga.Classify(err))
	assert.True(t, paysaga.Retryable(err))
}

func TestFXClient_UnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewFXClient(ServiceOptions{BaseURL: url})
	_, err := client.LockRate(context.Background(), paysaga.LockRateInput{From: "CAD", To: "USD"})
	require.Error(t, err)
	assert.Equal(t, paysaga.KindTransient, paysaga.Classify(err))
}

func TestFXClient_ReleaseRateLock(t *testing.T) {
	released := map[string]bool{}
	client := newFXServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/release_lock", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if released[body["lock_id"]] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		released[body["lock_id"]] = true
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	for i := 0; i < 2; i++ {
		result, err := client.ReleaseRateLock(context.Background(), paysaga.ReleaseRateLockInput{LockID: "lock-1"})
		require.NoError(t, err)
		assert.True(t, result.Success)
	}
}
