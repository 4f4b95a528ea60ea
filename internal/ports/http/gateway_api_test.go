package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ioe-dream/device-gateway/pkg/adapter"
	"github.com/ioe-dream/device-gateway/pkg/constants"
	"github.com/ioe-dream/device-gateway/pkg/metrics"
	"github.com/ioe-dream/device-gateway/pkg/session"
)

func newTestServer(t *testing.T) (*GinHTTPServer, *session.Store) {
	t.Helper()

	store := session.NewStore()
	registry := adapter.NewRegistry(store)

	entropy := adapter.NewEntropyAdapter(adapter.Options{
		Store:       store,
		ConfigStore: adapter.NewMemoryConfigStore(),
	})
	require.NoError(t, registry.Register(entropy))

	return NewGinHTTPServer("127.0.0.1:0", registry, store), store
}

func doRequest(t *testing.T, server *GinHTTPServer, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	return w
}

func decodeStandard(t *testing.T, w *httptest.ResponseRecorder) StandardResponse {
	t.Helper()

	var resp StandardResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestGatewayAPI_Ping(t *testing.T) {
	server, _ := newTestServer(t)

	w := doRequest(t, server, http.MethodGet, "/ping", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pong")
}

func TestGatewayAPI_GetAdapters(t *testing.T) {
	server, _ := newTestServer(t)

	w := doRequest(t, server, http.MethodGet, "/api/v1/adapters", "")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeStandard(t, w)
	assert.True(t, resp.Success)

	adapters, ok := resp.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, adapters, 1)

	info := adapters[0].(map[string]interface{})
	assert.Equal(t, constants.ProtocolTypeAccessEntropy, info["protocol_type"])
	assert.Equal(t, "熵基科技", info["manufacturer"])
	assert.Equal(t, string(constants.AdapterStatusInitialized), info["status"])
}

func TestGatewayAPI_Sessions(t *testing.T) {
	server, store := newTestServer(t)

	t.Run("缺少device_id返回400", func(t *testing.T) {
		w := doRequest(t, server, http.MethodGet, "/api/v1/session", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("不存在的设备返回404", func(t *testing.T) {
		w := doRequest(t, server, http.MethodGet, "/api/v1/session?device_id=GHOST", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("会话列表与详情", func(t *testing.T) {
		_, err := store.GetOrCreate("DEV001", constants.ProtocolTypeAccessEntropy)
		require.NoError(t, err)
		_, err = store.GetOrCreate("DEV002", constants.ProtocolTypeAccessEntropy)
		require.NoError(t, err)

		w := doRequest(t, server, http.MethodGet, "/api/v1/sessions", "")
		require.Equal(t, http.StatusOK, w.Code)
		resp := decodeStandard(t, w)
		list := resp.Data.(map[string]interface{})
		assert.Equal(t, float64(2), list["total"])

		w = doRequest(t, server, http.MethodGet, "/api/v1/session?device_id=DEV001", "")
		require.Equal(t, http.StatusOK, w.Code)
		resp = decodeStandard(t, w)
		snap := resp.Data.(map[string]interface{})
		assert.Equal(t, "DEV001", snap["device_id"])
		assert.Equal(t, string(constants.DeviceStatusInitialized), snap["status"])
	})

	t.Run("按协议过滤无结果", func(t *testing.T) {
		w := doRequest(t, server, http.MethodGet, "/api/v1/sessions?protocol="+constants.ProtocolTypeConsumeZkteco, "")
		require.Equal(t, http.StatusOK, w.Code)
		resp := decodeStandard(t, w)
		list := resp.Data.(map[string]interface{})
		assert.Equal(t, float64(0), list["total"])
	})
}

func TestGatewayAPI_DeregisterDevice(t *testing.T) {
	server, store := newTestServer(t)

	_, err := store.GetOrCreate("DEV003", constants.ProtocolTypeAccessEntropy)
	require.NoError(t, err)

	w := doRequest(t, server, http.MethodDelete, "/api/v1/session?device_id=DEV003", "")
	assert.Equal(t, http.StatusOK, w.Code)

	// 会话已被移除，再次注销返回404
	w = doRequest(t, server, http.MethodDelete, "/api/v1/session?device_id=DEV003", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	_, ok := store.Get("DEV003")
	assert.False(t, ok)
}

func TestGatewayAPI_DeviceConfig(t *testing.T) {
	server, store := newTestServer(t)

	_, err := store.GetOrCreate("DEV004", constants.ProtocolTypeAccessEntropy)
	require.NoError(t, err)

	t.Run("更新并读取配置", func(t *testing.T) {
		body := `{"config":{"doorOpenTimeout":"5","volume":"80"}}`
		w := doRequest(t, server, http.MethodPut, "/api/v1/session/config?device_id=DEV004", body)
		require.Equal(t, http.StatusOK, w.Code)

		w = doRequest(t, server, http.MethodGet, "/api/v1/session/config?device_id=DEV004", "")
		require.Equal(t, http.StatusOK, w.Code)
		resp := decodeStandard(t, w)
		cfg := resp.Data.(map[string]interface{})
		assert.Equal(t, "5", cfg["doorOpenTimeout"])
		assert.Equal(t, "80", cfg["volume"])
	})

	t.Run("未注册设备返回404", func(t *testing.T) {
		w := doRequest(t, server, http.MethodGet, "/api/v1/session/config?device_id=GHOST", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("非法请求体返回400", func(t *testing.T) {
		w := doRequest(t, server, http.MethodPut, "/api/v1/session/config?device_id=DEV004", `{"bad":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGatewayAPI_Statistics(t *testing.T) {
	server, _ := newTestServer(t)

	w := doRequest(t, server, http.MethodGet, "/api/v1/statistics", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeStandard(t, w)
	stats := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(0), stats["total_sessions"])

	t.Run("清零未知协议返回404", func(t *testing.T) {
		w := doRequest(t, server, http.MethodPost, "/api/v1/statistics/reset?protocol=UNKNOWN", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("清零已注册协议", func(t *testing.T) {
		w := doRequest(t, server, http.MethodPost, "/api/v1/statistics/reset?protocol="+constants.ProtocolTypeAccessEntropy, "")
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestGatewayAPI_Health(t *testing.T) {
	server, _ := newTestServer(t)

	w := doRequest(t, server, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeStandard(t, w)
	health := resp.Data.(map[string]interface{})
	// 适配器尚未Initialize，健康检查应降级
	assert.Equal(t, "degraded", health["status"])
}

func TestGatewayAPI_MetricsEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	metrics.IncMessageReceived(constants.ProtocolTypeAccessEntropy, "HEARTBEAT")

	w := doRequest(t, server, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "gateway_messages_received_total")
}
