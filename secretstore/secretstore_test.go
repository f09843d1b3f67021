package secretstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/secretmanager/config"
	"go.uber.org/zap"
)

// fakeKV serves the subset of the KV v2 HTTP API the client uses
type fakeKV struct {
	mu      sync.Mutex
	data    map[string]map[string]interface{}
	version map[string]int
	token   string
	fail    bool
	delay   time.Duration
}

func newFakeKV(token string) *fakeKV {
	return &fakeKV{
		data:    make(map[string]map[string]interface{}),
		version: make(map[string]int),
		token:   token,
	}
}

func (f *fakeKV) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if r.Header.Get("X-Vault-Token") != f.token {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errors":["permission denied"]}`))
		return
	}
	if f.fail {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"errors":["internal error"]}`))
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	meta := func(version int) map[string]interface{} {
		return map[string]interface{}{
			"created_time":    "2026-10-19T10:00:00.000000Z",
			"custom_metadata": nil,
			"deletion_time":   "",
			"destroyed":       false,
			"version":         version,
		}
	}

	switch {
	case r.URL.Path == "/v1/sys/health":
		writeJSON(w, http.StatusOK, map[string]interface{}{"initialized": true, "sealed": false, "standby": false})

	case strings.HasPrefix(r.URL.Path, "/v1/secret/data/") && (r.Method == http.MethodPut || r.Method == http.MethodPost):
		name := strings.TrimPrefix(r.URL.Path, "/v1/secret/data/")
		var body struct {
			Data map[string]interface{} `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.data[name] = body.Data
		f.version[name]++
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": meta(f.version[name])})

	case strings.HasPrefix(r.URL.Path, "/v1/secret/data/") && r.Method == http.MethodGet:
		name := strings.TrimPrefix(r.URL.Path, "/v1/secret/data/")
		payload, ok := f.data[name]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{"errors": []string{}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data": map[string]interface{}{"data": payload, "metadata": meta(f.version[name])},
		})

	case r.URL.Path == "/v1/secret/metadata" || r.URL.Path == "/v1/secret/metadata/":
		if len(f.data) == 0 {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{"errors": []string{}})
			return
		}
		keys := []string{"folder/"}
		for name := range f.data {
			keys = append(keys, name)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]interface{}{"keys": keys}})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeKV) versionOf(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.version[name]
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestOpenBao(t *testing.T, kv *fakeKV, timeout time.Duration) *OpenBao {
	t.Helper()
	srv := httptest.NewServer(kv)
	t.Cleanup(srv.Close)

	store, err := NewOpenBao(config.OpenBaoConfig{
		Address:        srv.URL,
		Token:          "root",
		Mount:          "/secret/",
		RequestTimeout: timeout,
		MaxRetries:     0,
	}, zap.NewNop())
	require.NoError(t, err)
	return store
}

func TestOpenBao_WriteReadList(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV("root")
	store := newTestOpenBao(t, kv, 2*time.Second)

	names, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, store.Write(ctx, "secret-1-a", map[string]interface{}{"password": "x"}))
	require.NoError(t, store.Write(ctx, "secret-1-a", map[string]interface{}{"password": "y"}))
	assert.Equal(t, 2, kv.versionOf("secret-1-a"))

	data, err := store.Read(ctx, "secret-1-a")
	require.NoError(t, err)
	assert.Equal(t, "y", data["password"])

	names, err = store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"secret-1-a"}, names)

	require.NoError(t, store.HealthCheck(ctx))
}

func TestOpenBao_ReadMissing(t *testing.T) {
	store := newTestOpenBao(t, newFakeKV("root"), 2*time.Second)

	_, err := store.Read(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenBao_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("server error", func(t *testing.T) {
		kv := newFakeKV("root")
		kv.fail = true
		store := newTestOpenBao(t, kv, 2*time.Second)

		err := store.Write(ctx, "secret-1-a", map[string]interface{}{"k": "v"})
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrNotFound))
	})

	t.Run("wrong token", func(t *testing.T) {
		kv := newFakeKV("other")
		store := newTestOpenBao(t, kv, 2*time.Second)

		assert.Error(t, store.Write(ctx, "secret-1-a", map[string]interface{}{"k": "v"}))
	})

	t.Run("timeout", func(t *testing.T) {
		kv := newFakeKV("root")
		kv.delay = 200 * time.Millisecond
		store := newTestOpenBao(t, kv, 50*time.Millisecond)

		assert.Error(t, store.Write(ctx, "secret-1-a", map[string]interface{}{"k": "v"}))
	})
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	_, err := store.Read(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	payload := map[string]interface{}{"password": "x"}
	require.NoError(t, store.Write(ctx, "b", payload))
	require.NoError(t, store.Write(ctx, "a", map[string]interface{}{"token": "t"}))
	payload["password"] = "mutated"

	got, err := store.Read(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "x", got["password"])

	require.NoError(t, store.Write(ctx, "b", map[string]interface{}{"password": "z"}))
	assert.Equal(t, 2, store.Versions("b"))

	names, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, store.Write(cancelled, "c", payload))
}

type recordingObserver struct {
	ops []string
}

func (r *recordingObserver) ObserveStoreCall(op string, err error, d time.Duration) {
	r.ops = append(r.ops, op)
}

func TestInstrument(t *testing.T) {
	ctx := context.Background()
	obs := &recordingObserver{}
	store := Instrument(NewMemory(), obs)

	require.NoError(t, store.Write(ctx, "a", map[string]interface{}{"k": "v"}))
	_, _ = store.Read(ctx, "a")
	_, _ = store.List(ctx)

	assert.Equal(t, []string{"write", "read", "list"}, obs.ops)
}
