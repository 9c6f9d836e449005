package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/bambu-gateway/internal/audit"
	"github.com/2389/bambu-gateway/internal/config"
)

const testDeviceID = "0948BB5B1200532"

// newFakeCloud serves canned Bambu Cloud responses for the device endpoints.
func newFakeCloud(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/iot-service/api/user/print", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"devices":[{"dev_id":"%s","gcode_state":"RUNNING"}]}`, testDeviceID)
	})
	mux.HandleFunc("/v1/iot-service/api/user/bind", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"devices":[{"dev_id":"%s","name":"Workshop X1C"}]}`, testDeviceID)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestConfig(cloudURL string) *config.Config {
	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Bambu.Token = "test-token"
	if cloudURL != "" {
		cfg.Bambu.APIBase = cloudURL
	}
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := New(cfg, logger)
	require.NoError(t, err)
	return srv
}

func doRequest(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, newTestConfig(""))

	rec := doRequest(t, srv, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "bambu-printer", body["server"])
	assert.Equal(t, "0.1.0", body["version"])
	assert.Equal(t, testDeviceID, body["device_id"])
}

func TestRoot_DescribesEndpoints(t *testing.T) {
	srv := newTestServer(t, newTestConfig(""))

	rec := doRequest(t, srv, http.MethodGet, "/", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "bambu-printer", body["name"])
	assert.Equal(t, "Bambu Lab 3D Printer MCP Server", body["description"])

	endpoints, ok := body["endpoints"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "/health", endpoints["health"])
	assert.Equal(t, "/mcp", endpoints["mcp"])
	assert.Equal(t, "/api/tool", endpoints["api_tool"])
	assert.Equal(t, "/setup/status", endpoints["setup"])
	assert.Equal(t, "/setup/guide", endpoints["guide"])
}

func TestRoot_OnlyMatchesExactPath(t *testing.T) {
	srv := newTestServer(t, newTestConfig(""))

	rec := doRequest(t, srv, http.MethodGet, "/nonsense", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestToolCall_Success(t *testing.T) {
	cloud := newFakeCloud(t)
	srv := newTestServer(t, newTestConfig(cloud.URL))

	rec := doRequest(t, srv, http.MethodPost, "/api/tool", map[string]any{
		"name":      "get_printer_status",
		"arguments": map[string]any{},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, testDeviceID, body["device_id"])
	assert.Equal(t, "RUNNING", body["status"])

	printStatus, ok := body["print_status"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, printStatus, "devices")
}

func TestToolCall_NoCloudCallForStubs(t *testing.T) {
	// pause_print never reaches the cloud, so no fake backend is needed.
	srv := newTestServer(t, newTestConfig(""))

	rec := doRequest(t, srv, http.MethodPost, "/api/tool", map[string]any{"name": "pause_print"})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["message"], "not yet implemented")
}

func TestToolCall_UnknownTool(t *testing.T) {
	srv := newTestServer(t, newTestConfig(""))

	rec := doRequest(t, srv, http.MethodPost, "/api/tool", map[string]any{"name": "get_weather"})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Unknown tool: get_weather", decodeBody(t, rec)["error"])
}

func TestToolCall_MissingArgument(t *testing.T) {
	srv := newTestServer(t, newTestConfig(""))

	rec := doRequest(t, srv, http.MethodPost, "/api/tool", map[string]any{
		"name":      "upload_file",
		"arguments": map[string]any{},
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing required argument: file_path", decodeBody(t, rec)["error"])
}

func TestToolCall_HandlerErrorIs500(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/iot-service/api/user/print", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"message":"cloud exploded"}`)
	})
	cloud := httptest.NewServer(mux)
	t.Cleanup(cloud.Close)

	srv := newTestServer(t, newTestConfig(cloud.URL))

	rec := doRequest(t, srv, http.MethodPost, "/api/tool", map[string]any{"name": "get_printer_status"})

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	errMsg, ok := decodeBody(t, rec)["error"].(string)
	require.True(t, ok)
	assert.Contains(t, errMsg, "status 500")
	assert.Contains(t, errMsg, "cloud exploded")
}

func TestToolCall_ValidatesRequest(t *testing.T) {
	srv := newTestServer(t, newTestConfig(""))

	rec := doRequest(t, srv, http.MethodPost, "/api/tool", map[string]any{"arguments": map[string]any{}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "tool name is required", decodeBody(t, rec)["error"])

	req := httptest.NewRequest(http.MethodPost, "/api/tool", strings.NewReader("{broken"))
	rec = httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid request body", decodeBody(t, rec)["error"])
}

func TestToolCalls_AreAudited(t *testing.T) {
	cfg := newTestConfig("")
	cfg.Audit.Path = filepath.Join(t.TempDir(), "audit.db")
	srv := newTestServer(t, cfg)
	t.Cleanup(func() { _ = srv.audit.Close() })

	rec := doRequest(t, srv, http.MethodPost, "/api/tool", map[string]any{"name": "pause_print"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(t, srv, http.MethodPost, "/api/tool", map[string]any{"name": "get_weather"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	events, err := srv.audit.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	kinds := []audit.Kind{events[0].Kind, events[1].Kind}
	assert.Contains(t, kinds, audit.KindToolInvoked)
	assert.Contains(t, kinds, audit.KindToolFailed)
	for _, ev := range events {
		if ev.Kind == audit.KindToolFailed {
			assert.Equal(t, "get_weather", ev.Identity)
			assert.Contains(t, ev.Detail, "unknown tool")
		}
		if ev.Kind == audit.KindToolInvoked {
			assert.Equal(t, "pause_print", ev.Identity)
		}
	}
}

func TestMCPRoutes_Registered(t *testing.T) {
	srv := newTestServer(t, newTestConfig(""))

	rec := doRequest(t, srv, http.MethodPost, "/mcp", map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params":  map[string]any{"protocolVersion": "2025-03-26"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Mcp-Session-Id"))
}

func TestSetupRoutes_Registered(t *testing.T) {
	srv := newTestServer(t, newTestConfig(""))

	rec := doRequest(t, srv, http.MethodGet, "/setup/status", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["has_token"])
	assert.Equal(t, testDeviceID, body["device_id"])
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	srv := newTestServer(t, newTestConfig(""))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestResolveTailscaleStateDir(t *testing.T) {
	dir, err := resolveTailscaleStateDir("/explicit/state")
	require.NoError(t, err)
	assert.Equal(t, "/explicit/state", dir)

	dir, err = resolveTailscaleStateDir("")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(dir, filepath.Join(".local", "share", "bambu-gateway", "tailscale")), "got %s", dir)
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")
	_, err := resolveTailscaleAuthKey("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tailscale auth key required")

	key, err := resolveTailscaleAuthKey("tskey-configured")
	require.NoError(t, err)
	assert.Equal(t, "tskey-configured", key)

	t.Setenv("TS_AUTHKEY", "tskey-env")
	key, err = resolveTailscaleAuthKey("")
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", key)
}
