package testutil

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/quantai/surveyflow/internal/api"
	"github.com/quantai/surveyflow/internal/audit"
	"github.com/quantai/surveyflow/internal/config"
	"github.com/quantai/surveyflow/internal/gate"
	"github.com/quantai/surveyflow/internal/progress"
	"github.com/quantai/surveyflow/internal/quota"
	"github.com/quantai/surveyflow/internal/snapshot"
	"github.com/quantai/surveyflow/internal/store"
	"github.com/quantai/surveyflow/internal/survey"
)

// TestConfig returns a config suitable for in-memory tests.
func TestConfig() *config.Config {
	return &config.Config{
		AppEnv:          "dev",
		HTTPAddr:        ":0",
		MetricsAddr:     ":0",
		StoreType:       "memory",
		AdminAPIKey:     "test-admin-key",
		AdminAPIRole:    "admin",
		RateLimitPerIP:  1000,
		RateLimitPerKey: 1000,
		RotationSalt:    "test-salt",
	}
}

// NewFlowService wires a progress service over an in-memory store.
func NewFlowService(t *testing.T) (*progress.Service, *store.MemoryStore) {
	t.Helper()
	log := zerolog.Nop()
	memStore := store.NewMemoryStore()
	tracker := quota.NewTracker(memStore, log)
	eligibility := gate.New(memStore, memStore, memStore, tracker, log)
	flow := progress.NewService(memStore, eligibility, "test-salt", nil, audit.New(nil, log), log)
	return flow, memStore
}

// NewTestServer creates an API server over an in-memory store.
func NewTestServer(t *testing.T) (*api.Server, *store.MemoryStore) {
	t.Helper()
	flow, memStore := NewFlowService(t)
	server := api.NewServer(flow, memStore, snapshot.NewCache(), TestConfig(), zerolog.Nop())
	return server, memStore
}

// HTTPRequest is a helper for making test HTTP requests.
type HTTPRequest struct {
	Method  string
	Path    string
	Body    string
	Headers map[string]string
}

// Do executes the HTTP request and returns the response recorder.
func (r *HTTPRequest) Do(t *testing.T, handler http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if r.Body != "" {
		body = bytes.NewBufferString(r.Body)
	}
	req := httptest.NewRequest(r.Method, r.Path, body)
	if r.Body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

// SeedBasicSurvey loads a three-question survey with a respondent, returning
// the survey id used.
func SeedBasicSurvey(memStore *store.MemoryStore) int64 {
	const surveyID = int64(1)
	memStore.SeedSurvey(
		survey.Survey{ID: surveyID, Code: "SV-1", Title: "Consumer habits", Active: true},
		[]survey.Question{
			{ID: 10, SurveyID: surveyID, Variable: "age", Type: "NUMBER", DisplayIndex: 1, Initial: true},
			{ID: 20, SurveyID: surveyID, Variable: "drinks_coffee", Type: "SINGLE", DisplayIndex: 2,
				Options: []survey.Choice{
					{ID: "opt_yes", Text: "Yes", Value: "yes", Order: 1},
					{ID: "opt_no", Text: "No", Value: "no", Order: 2},
				}},
			{ID: 30, SurveyID: surveyID, Variable: "brand", Type: "SINGLE", DisplayIndex: 3,
				Options: []survey.Choice{
					{ID: "opt_a", Text: "Brand A", Value: "a", Order: 1},
					{ID: "opt_b", Text: "Brand B", Value: "b", Order: 2},
				}},
		},
	)
	memStore.SeedRespondent(survey.Respondent{ID: "resp-1", Email: "r1@example.com", Country: "US"})
	return surveyID
}
