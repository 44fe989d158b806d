package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Skufu/postop-risk/internal/bundle"
	"github.com/Skufu/postop-risk/internal/features"
	"github.com/Skufu/postop-risk/internal/ml"
)

type fakeDB struct {
	err error
}

func (f fakeDB) Ping(ctx context.Context) error {
	return f.err
}

type fixedClassifier struct{ p float64 }

func (f fixedClassifier) Fit([][]float64, []int) error { return nil }
func (f fixedClassifier) PredictProba([]float64) float64 { return f.p }
func (f fixedClassifier) Fitted() bool { return true }
func (f fixedClassifier) FeatureImportances() []float64 { return nil }
func (f fixedClassifier) Family() ml.Family { return ml.TreeEnsemble }

func fixedBundle(p float64) *bundle.Bundle {
	names := features.Names()
	scaler := &ml.Scaler{Mean: make([]float64, len(names)), Scale: make([]float64, len(names))}
	for i := range scaler.Scale {
		scaler.Scale[i] = 1
	}
	return &bundle.Bundle{
		Family:       ml.TreeEnsemble,
		Classifier:   fixedClassifier{p: p},
		Scaler:       scaler,
		FeatureNames: names,
		Importances: bundle.RankImportances(
			[]string{"dor_d1_normalizada", "febre", "retencao_urinaria", "tem_irc"},
			[]float64{0.4, 0.3, 0.2, 0.1},
		),
		Metrics: ml.Metrics{ROCAUC: 0.82, TestSize: 20},
	}
}

func newTestRouter(t *testing.T, db HealthChecker) (*gin.Engine, *bundle.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	models := bundle.NewRegistry(t.TempDir(), zap.NewNop())
	return setupRouter(db, models, newServerMetrics(), zap.NewNop()), models
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	router.ServeHTTP(w, req)
	return w
}

const validBody = `{
	"idade": 65,
	"sexo": "Masculino",
	"comorbidades": ["HAS", "IRC"],
	"tipo_cirurgia": "hemorroidectomia",
	"duracao_minutos": 90,
	"bloqueio_pudendo": 1,
	"dor_d1": 8,
	"retencao_urinaria": 1,
	"febre": true,
	"sangramento_intenso": 0
}`

func TestRouterHealthz(t *testing.T) {
	router, _ := newTestRouter(t, fakeDB{})

	w := do(router, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestRouterReadyz(t *testing.T) {
	t.Run("db disabled", func(t *testing.T) {
		router, _ := newTestRouter(t, nil)
		w := do(router, "GET", "/readyz", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"db":"disabled"`)
	})

	t.Run("db down", func(t *testing.T) {
		router, _ := newTestRouter(t, fakeDB{err: errors.New("connection refused")})
		w := do(router, "GET", "/readyz", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "degraded")
	})
}

func TestHealth(t *testing.T) {
	router, models := newTestRouter(t, nil)

	var body struct {
		Models map[string]struct {
			Loaded bool    `json:"loaded"`
			Type   *string `json:"type"`
		} `json:"models"`
		Recommended string `json:"recommended_model"`
	}

	w := do(router, "GET", "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Models["individual"].Loaded)
	assert.Nil(t, body.Models["collective"].Type)
	assert.Contains(t, w.Body.String(), `"metrics":null`)
	assert.Equal(t, "individual", body.Recommended)

	models.Publish(bundle.Collective, fixedBundle(0.3))
	w = do(router, "GET", "/health", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Models["collective"].Loaded)
	require.NotNil(t, body.Models["collective"].Type)
	assert.Equal(t, "random_forest", *body.Models["collective"].Type)
	assert.Equal(t, "collective", body.Recommended)
}

func TestPredict_NoModel(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	w := do(router, "POST", "/predict", validBody)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestPredict_Validation(t *testing.T) {
	router, models := newTestRouter(t, nil)
	models.Publish(bundle.Individual, fixedBundle(0.5))

	tests := []struct {
		name   string
		body   string
		fields []string
	}{
		{"missing required", `{"comorbidades": "HAS"}`, []string{"idade", "sexo", "tipo_cirurgia", "dor_d1"}},
		{"out of range", `{"idade": 130, "sexo": "Feminino", "tipo_cirurgia": "fissura", "dor_d1": 11}`, []string{"idade", "dor_d1"}},
		{"bad flag", `{"idade": 40, "sexo": "Feminino", "tipo_cirurgia": "fissura", "dor_d1": 3, "febre": "talvez"}`, []string{"body"}},
		{"wrong type", `{"idade": "quarenta", "sexo": "Feminino", "tipo_cirurgia": "fissura", "dor_d1": 3}`, []string{"idade"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, "POST", "/predict", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

			var body struct {
				Error   string `json:"error"`
				Details []struct {
					Field string `json:"field"`
				} `json:"details"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, "validation_failed", body.Error)
			var got []string
			for _, d := range body.Details {
				got = append(got, d.Field)
			}
			assert.ElementsMatch(t, tt.fields, got)
		})
	}
}

func TestPredict_SelectsModel(t *testing.T) {
	router, models := newTestRouter(t, nil)
	models.Publish(bundle.Individual, fixedBundle(0.3))

	var res struct {
		Probability float64 `json:"probability"`
		Prediction  int     `json:"prediction"`
		RiskLevel   string  `json:"risk_level"`
		RiskLabel   string  `json:"risk_label"`
		Factors     []struct {
			Name         string  `json:"name"`
			Contribution float64 `json:"contribution"`
		} `json:"top_risk_factors"`
		ModelUsed string `json:"model_used"`
	}

	w := do(router, "POST", "/predict", validBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "individual", res.ModelUsed, "falls back when no collective model is loaded")
	assert.Equal(t, "medium", res.RiskLevel)
	assert.Equal(t, "MÉDIO", res.RiskLabel)
	assert.Equal(t, 0, res.Prediction)
	require.Len(t, res.Factors, 3)
	assert.Equal(t, "dor_d1_normalizada", res.Factors[0].Name)
	assert.Equal(t, "febre", res.Factors[1].Name)
	assert.Equal(t, "retencao_urinaria", res.Factors[2].Name)

	models.Publish(bundle.Collective, fixedBundle(0.9))
	w = do(router, "POST", "/predict", validBody)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "collective", res.ModelUsed)
	assert.Equal(t, "critical", res.RiskLevel)
	assert.Equal(t, 1, res.Prediction)

	optOut := strings.Replace(validBody, `"idade": 65,`, `"idade": 65, "use_collective_model": false,`, 1)
	w = do(router, "POST", "/predict", optOut)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "individual", res.ModelUsed)
}

func TestPredict_CollectiveOnlyIndividualRequested(t *testing.T) {
	router, models := newTestRouter(t, nil)
	models.Publish(bundle.Collective, fixedBundle(0.9))

	body := strings.Replace(validBody, `"idade": 65,`, `"idade": 65, "use_collective_model": false,`, 1)
	w := do(router, "POST", "/predict", body)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestFeatureImportance(t *testing.T) {
	router, models := newTestRouter(t, nil)

	assert.Equal(t, http.StatusServiceUnavailable, do(router, "GET", "/feature-importance", "").Code)
	models.Publish(bundle.Individual, fixedBundle(0.5))

	w := do(router, "GET", "/feature-importance", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		All   []bundle.Importance `json:"feature_importance"`
		Top10 []bundle.Importance `json:"top_10"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.All, 4)
	assert.Equal(t, "dor_d1_normalizada", body.Top10[0].Name)

	assert.Equal(t, http.StatusServiceUnavailable, do(router, "GET", "/feature-importance?model=collective", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(router, "GET", "/feature-importance?model=shared", "").Code)
}

func TestModelMetrics(t *testing.T) {
	router, models := newTestRouter(t, nil)
	models.Publish(bundle.Individual, fixedBundle(0.5))

	w := do(router, "GET", "/model-metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"model_type":"random_forest"`)
	assert.Contains(t, w.Body.String(), `"roc_auc":0.82`)
}

func TestPrometheusMetrics(t *testing.T) {
	router, models := newTestRouter(t, nil)
	models.Publish(bundle.Individual, fixedBundle(0.6))
	require.Equal(t, http.StatusOK, do(router, "POST", "/predict", validBody).Code)

	w := do(router, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `postop_predictions_total{model="individual",risk_level="high"} 1`)
}

// Ensure limitBodySize middleware allows small payloads and blocks large ones.
func TestLimitBodySize(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(limitBodySize(10))
	router.POST("/echo", func(c *gin.Context) {
		_, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "too large"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	t.Run("within limit", func(t *testing.T) {
		w := do(router, "POST", "/echo", "12345")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("over limit", func(t *testing.T) {
		w := do(router, "POST", "/echo", "01234567890")
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}
