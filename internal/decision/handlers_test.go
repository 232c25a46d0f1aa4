package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quipu/debitcheck/internal/features"
	"github.com/quipu/debitcheck/internal/scoring"
	"github.com/quipu/debitcheck/internal/signals"
)

// downDirectory always fails with a transient upstream error.
type downDirectory struct{}

func (downDirectory) ResolveUser(ctx context.Context, creditUID string) (string, error) {
	return "", fmt.Errorf("connection refused: %w", signals.ErrUpstreamUnavailable)
}

func testRouter(t *testing.T, svc *Service) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(svc)
	h.RegisterRoutes(r)
	h.RegisterAuditRoutes(r.Group("/v1"))
	return r
}

func doRequest(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestRunCheck(t *testing.T) {
	store := NewMemoryStore()
	r := testRouter(t, testService(t, stubScorer{p: 0.4860}, store))

	w := doRequest(r, http.MethodPost, "/run_debito_check/cr_1")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	assert.Equal(t, "cr_1", body["credit_uid"])
	assert.Equal(t, "user_1", body["user_id"])
	assert.Equal(t, string(Aprobado), body["decision"])
	assert.Equal(t, 0.4860, body["fraud_probability"])
	assert.Equal(t, 0.509, body["threshold"])
	assert.Equal(t, float64(1), body["device_count"])
	assert.Equal(t, float64(3), body["sms_count"])
	assert.Equal(t, "v1", body["model_version"])

	featuresUsed, ok := body["features_used"].(map[string]interface{})
	require.True(t, ok, "features_used must be an object")
	assert.Len(t, featuresUsed, len(features.DefaultSelectedFeatures()))
}

func TestRunCheck_Rejected(t *testing.T) {
	r := testRouter(t, testService(t, stubScorer{p: 0.95}, nil))

	w := doRequest(r, http.MethodPost, "/run_debito_check/cr_1")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(Rechazado), body["decision"])
}

func TestRunCheck_NotFound(t *testing.T) {
	r := testRouter(t, testService(t, stubScorer{p: 0.1}, nil))

	w := doRequest(r, http.MethodPost, "/run_debito_check/cr_unknown")
	require.Equal(t, http.StatusNotFound, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "credit_not_found", body["error"])
	assert.NotEmpty(t, body["message"])
}

func TestRunCheck_UpstreamUnavailable(t *testing.T) {
	ms := seededSignals(t)
	fetcher := signals.NewFetcher(downDirectory{}, ms, ms, ms, signals.WithRetry(1, time.Millisecond))

	formulas, err := features.NewFormulaSet(nil)
	require.NoError(t, err)
	bundle := scoring.NewBundle("v1", 0.509, features.DefaultSchema(), formulas, stubScorer{p: 0.1})

	r := testRouter(t, NewService(fetcher, bundle, nil))

	w := doRequest(r, http.MethodPost, "/run_debito_check/cr_1")
	require.Equal(t, http.StatusBadGateway, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "upstream_unavailable", body["error"])
}

func TestListDecisions(t *testing.T) {
	store := NewMemoryStore()
	svc := testService(t, stubScorer{p: 0.4860}, store)
	r := testRouter(t, svc)

	rec := &Record{
		ID:               "dec_test1",
		CreditUID:        "cr_1",
		UserID:           "user_1",
		FraudProbability: 0.4860,
		Decision:         Aprobado,
		Threshold:        0.509,
		ModelVersion:     "v1",
		FeaturesUsed:     features.NewVector([]string{"x"}),
		EvaluatedAt:      time.Now().UTC(),
	}
	require.NoError(t, store.Record(context.Background(), rec))

	w := doRequest(r, http.MethodGet, "/v1/decisions/cr_1")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Decisions []Record `json:"decisions"`
		Count     int      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	require.Len(t, body.Decisions, 1)
	assert.Equal(t, "dec_test1", body.Decisions[0].ID)
}

func TestListDecisions_Empty(t *testing.T) {
	r := testRouter(t, testService(t, stubScorer{p: 0.1}, NewMemoryStore()))

	w := doRequest(r, http.MethodGet, "/v1/decisions/cr_empty")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(0), body["count"])
}
