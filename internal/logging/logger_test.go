package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareLogsRequestFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLoggerTo(&buf, slog.LevelInfo)
	handler := Middleware(logger, Environment{Service: "glogos-node", NodeID: "node-1"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			AddField(r.Context(), "op", "submit")
			w.WriteHeader(http.StatusCreated)
		}))

	req := httptest.NewRequest(http.MethodPost, "/v1/attestations", nil)
	req.Header.Set("X-Request-ID", "req_fixed")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "req_fixed", rec.Header().Get("X-Request-ID"))
	var line struct {
		Msg   string         `json:"msg"`
		Event map[string]any `json:"event"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "http_request", line.Msg)
	assert.Equal(t, "submit", line.Event["op"])
	assert.Equal(t, "node-1", line.Event["node_id"])
	assert.EqualValues(t, http.StatusCreated, line.Event["status_code"])
	assert.Equal(t, "success", line.Event["outcome"])
}

func TestAddFieldWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	AddField(req.Context(), "ignored", true)
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)

	_, err = ParseLevel("loud")
	require.Error(t, err)
}
