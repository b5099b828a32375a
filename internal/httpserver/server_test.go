package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pulsemetric/attribution-engine/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{Addr: ":0", Env: "test"},
		Ingest: config.IngestConfig{EventsPerMinute: 1000},
		Attribution: config.AttributionConfig{
			LookbackWindow:   30 * 24 * time.Hour,
			HalfLife:         7 * 24 * time.Hour,
			CollapseInterval: 5 * time.Minute,
			ConversionTypes:  []string{"trial_started", "subscription_started", "payment_succeeded"},
		},
		Metrics: config.MetricsConfig{Enabled: false},
	}

	return NewServer(&Dependencies{
		Config: cfg,
		Logger: zap.NewNop(),
	})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}, headers map[string]string) (*httptest.ResponseRecorder, *APIResponse) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp APIResponse
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	}
	return rec, &resp
}

func seedBrand(t *testing.T, h http.Handler) {
	t.Helper()
	rec, _ := doJSON(t, h, http.MethodPost, "/v1/brands", map[string]string{
		"id":          "b1",
		"name":        "Acme",
		"tracking_id": "trk_acme",
		"api_key":     "key_acme",
		"status":      "active",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Health(t *testing.T) {
	h := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestServer_Track_RequiresAPIKey(t *testing.T) {
	h := newTestServer(t)
	seedBrand(t, h)

	rec, resp := doJSON(t, h, http.MethodPost, "/track", map[string]string{
		"brand_id": "b1", "type": "page_view",
	}, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
}

func TestServer_Track_SingleEvent(t *testing.T) {
	h := newTestServer(t)
	seedBrand(t, h)

	rec, resp := doJSON(t, h, http.MethodPost, "/track", map[string]interface{}{
		"brand_id": "b1",
		"type":     "page_view",
	}, map[string]string{"X-API-Key": "key_acme"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, data["eventId"])
	assert.Contains(t, data, "processingTimeMs")
}

func TestServer_Track_Batch(t *testing.T) {
	h := newTestServer(t)
	seedBrand(t, h)

	rec, resp := doJSON(t, h, http.MethodPost, "/track", map[string]interface{}{
		"events": []map[string]interface{}{
			{"brand_id": "b1", "type": "page_view"},
			{"type": "page_view"}, // missing brand reference
			{"brand_id": "b1", "type": "trial_started"},
		},
	}, map[string]string{"X-API-Key": "key_acme"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(2), data["accepted"])
	assert.Equal(t, float64(1), data["rejected"])

	errs, ok := data["errors"].([]interface{})
	require.True(t, ok)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "event 1")
}

func TestServer_Track_InvalidJSON(t *testing.T) {
	h := newTestServer(t)
	seedBrand(t, h)

	req := httptest.NewRequest(http.MethodPost, "/track", bytes.NewBufferString("{not json"))
	req.Header.Set("X-API-Key", "key_acme")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Track_CORS(t *testing.T) {
	h := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/track", nil)
	req.Header.Set("Origin", "https://customer-site.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")
}

func TestServer_KPIs(t *testing.T) {
	h := newTestServer(t)
	seedBrand(t, h)

	// Ingest a bit of traffic first.
	rec, _ := doJSON(t, h, http.MethodPost, "/track", map[string]interface{}{
		"events": []map[string]interface{}{
			{"brand_id": "b1", "type": "page_view", "anonymous_id": "a1", "utm_source": "google", "utm_medium": "cpc"},
			{"brand_id": "b1", "type": "lead_captured", "anonymous_id": "a1"},
			{"brand_id": "b1", "type": "subscription_started", "anonymous_id": "a1", "revenue": 199},
		},
	}, map[string]string{"X-API-Key": "key_acme"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, resp := doJSON(t, h, http.MethodGet, "/v1/kpis?brand_id=b1&period=daily", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), data["page_views"])
	assert.Equal(t, float64(1), data["leads"])
	assert.Equal(t, float64(1), data["conversions"])
	assert.Equal(t, float64(199), data["revenue"])
	// No spend recorded: CAC computes to 0, ROAS is the null sentinel.
	assert.Equal(t, float64(0), data["cac"])
	assert.Nil(t, data["roas"])
	assert.Contains(t, data, "lastUpdated")
	assert.Contains(t, data, "nextUpdate")
}

func TestServer_KPIs_Validation(t *testing.T) {
	h := newTestServer(t)

	rec, _ := doJSON(t, h, http.MethodGet, "/v1/kpis", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, h, http.MethodGet, "/v1/kpis?brand_id=b1&period=fortnightly", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_KPIs_Compare(t *testing.T) {
	h := newTestServer(t)
	seedBrand(t, h)

	rec, resp := doJSON(t, h, http.MethodGet, "/v1/kpis?brand_id=b1&period=daily&compare=true", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, data, "current")
	assert.Contains(t, data, "previous")
	assert.Contains(t, data, "changes")
	assert.Contains(t, data, "nextUpdate")
}

func TestServer_Attribution(t *testing.T) {
	h := newTestServer(t)
	seedBrand(t, h)

	now := time.Now().UTC()
	past := now.Add(-2 * time.Hour)
	rec, _ := doJSON(t, h, http.MethodPost, "/track", map[string]interface{}{
		"events": []map[string]interface{}{
			{"brand_id": "b1", "type": "page_view", "anonymous_id": "a1", "utm_source": "google", "utm_medium": "cpc", "timestamp": past.Format(time.RFC3339)},
			{"brand_id": "b1", "type": "subscription_started", "anonymous_id": "a1", "revenue": 100, "timestamp": now.Format(time.RFC3339)},
		},
	}, map[string]string{"X-API-Key": "key_acme"})
	require.Equal(t, http.StatusOK, rec.Code)

	from := now.AddDate(0, 0, -1).Format("2006-01-02")
	to := now.Format("2006-01-02")
	rec, resp := doJSON(t, h, http.MethodGet,
		fmt.Sprintf("/v1/attribution?brand_id=b1&from=%s&to=%s", from, to), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), data["conversions"])

	modelReports, ok := data["models"].(map[string]interface{})
	require.True(t, ok)
	assert.Len(t, modelReports, 5)

	topPaths, ok := data["top_paths"].([]interface{})
	require.True(t, ok)
	require.Len(t, topPaths, 1)
	first := topPaths[0].(map[string]interface{})
	assert.Equal(t, "paid_search", first["sequence"])
}

func TestServer_Attribution_ModelFilter(t *testing.T) {
	h := newTestServer(t)
	seedBrand(t, h)

	rec, resp := doJSON(t, h, http.MethodGet, "/v1/attribution?brand_id=b1&model=linear", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	data := resp.Data.(map[string]interface{})
	modelReports, ok := data["models"].(map[string]interface{})
	require.True(t, ok)
	assert.Len(t, modelReports, 1)
	assert.Contains(t, modelReports, "linear")

	rec, _ = doJSON(t, h, http.MethodGet, "/v1/attribution?brand_id=b1&model=markov", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_BudgetRecommendation(t *testing.T) {
	h := newTestServer(t)
	seedBrand(t, h)

	rec, resp := doJSON(t, h, http.MethodPost, "/v1/budget/recommendation", map[string]interface{}{
		"brand_id":          "b1",
		"mrr":               10000,
		"growth_target_pct": 10,
		"industry":          "saas",
		"historical_cac":    200,
		"arpc":              100,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(2400), data["recommended_budget"])
	assert.Equal(t, "high", data["confidence"])
}

func TestServer_Spend(t *testing.T) {
	h := newTestServer(t)

	rec, resp := doJSON(t, h, http.MethodPut, "/v1/spend", map[string]interface{}{
		"brand_id": "b1",
		"date":     "2026-03-18",
		"amount":   250.0,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	rec, _ = doJSON(t, h, http.MethodPut, "/v1/spend", map[string]interface{}{
		"brand_id": "b1", "date": "18/03/2026", "amount": 1,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, h, http.MethodPut, "/v1/spend", map[string]interface{}{
		"brand_id": "b1", "date": "2026-03-18", "amount": -5,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Brands(t *testing.T) {
	h := newTestServer(t)
	seedBrand(t, h)

	rec, resp := doJSON(t, h, http.MethodGet, "/v1/brands/b1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "Acme", data["name"])

	rec, _ = doJSON(t, h, http.MethodGet, "/v1/brands/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = doJSON(t, h, http.MethodPost, "/v1/brands", map[string]string{"name": "no id"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	h := newTestServer(t)

	rec, _ := doJSON(t, h, http.MethodGet, "/track", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec, _ = doJSON(t, h, http.MethodPost, "/v1/kpis", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
