package api_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/rs/zerolog"

	"github.com/quantai/surveyflow/internal/api"
	"github.com/quantai/surveyflow/internal/auth"
	"github.com/quantai/surveyflow/internal/config"
	"github.com/quantai/surveyflow/internal/progress"
	"github.com/quantai/surveyflow/internal/snapshot"
	"github.com/quantai/surveyflow/internal/store"
	"github.com/quantai/surveyflow/internal/testutil"
)

func newServerWithConfig(t *testing.T, cfg *config.Config) (*api.Server, *store.MemoryStore) {
	t.Helper()
	flow, memStore := testutil.NewFlowService(t)
	return api.NewServer(flow, memStore, snapshot.NewCache(), cfg, zerolog.Nop()), memStore
}

func decode(t *testing.T, body []byte, dst any) {
	t.Helper()
	if err := json.Unmarshal(body, dst); err != nil {
		t.Fatalf("decode response: %v\nbody: %s", err, body)
	}
}

func TestHealthz(t *testing.T) {
	server, _ := testutil.NewTestServer(t)
	rr := (&testutil.HTTPRequest{Method: "GET", Path: "/healthz"}).Do(t, server.Router())
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestEligibility(t *testing.T) {
	server, memStore := testutil.NewTestServer(t)
	testutil.SeedBasicSurvey(memStore)

	rr := (&testutil.HTTPRequest{
		Method: "POST",
		Path:   "/v1/surveys/1/eligibility",
		Body:   `{"respondentId":"resp-1"}`,
	}).Do(t, server.Router())

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body)
	}
	var decision struct {
		Allowed bool   `json:"allowed"`
		Reason  string `json:"reason"`
	}
	decode(t, rr.Body.Bytes(), &decision)
	if !decision.Allowed {
		t.Fatalf("expected admission, got %s", rr.Body)
	}
}

func TestEligibility_MissingRespondent(t *testing.T) {
	server, memStore := testutil.NewTestServer(t)
	testutil.SeedBasicSurvey(memStore)

	rr := (&testutil.HTTPRequest{
		Method: "POST",
		Path:   "/v1/surveys/1/eligibility",
		Body:   `{}`,
	}).Do(t, server.Router())
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}

	var errResp api.ErrorResponse
	decode(t, rr.Body.Bytes(), &errResp)
	if errResp.Code != api.ErrCodeValidation {
		t.Fatalf("code = %s, want %s", errResp.Code, api.ErrCodeValidation)
	}
}

func TestJoinAndSubmitFlow(t *testing.T) {
	server, memStore := testutil.NewTestServer(t)
	testutil.SeedBasicSurvey(memStore)
	router := server.Router()

	rr := (&testutil.HTTPRequest{
		Method: "POST",
		Path:   "/v1/surveys/1/join",
		Body:   `{"respondentId":"resp-1"}`,
	}).Do(t, router)
	if rr.Code != http.StatusOK {
		t.Fatalf("join status = %d, body %s", rr.Code, rr.Body)
	}

	var joined struct {
		Progress progress.Record `json:"progress"`
	}
	decode(t, rr.Body.Bytes(), &joined)
	if joined.Progress.Status != progress.StatusPending || joined.Progress.NextQuestionID != 10 {
		t.Fatalf("unexpected join result: %+v", joined.Progress)
	}

	submissions := []string{
		`{"questionId":10,"input":"30"}`,
		`{"questionId":20,"optionIds":["opt_yes"]}`,
		`{"questionId":30,"optionIds":["opt_a"]}`,
	}
	var result progress.SubmitResult
	for _, body := range submissions {
		rr = (&testutil.HTTPRequest{
			Method: "POST",
			Path:   fmt.Sprintf("/v1/progress/%d/answers", joined.Progress.ID),
			Body:   body,
		}).Do(t, router)
		if rr.Code != http.StatusOK {
			t.Fatalf("submit status = %d, body %s", rr.Code, rr.Body)
		}
		decode(t, rr.Body.Bytes(), &result)
	}

	if result.Record.Status != progress.StatusCompleted {
		t.Fatalf("final status = %s, want COMPLETED", result.Record.Status)
	}
}

func TestSubmit_StalePointerConflicts(t *testing.T) {
	server, memStore := testutil.NewTestServer(t)
	testutil.SeedBasicSurvey(memStore)
	router := server.Router()

	rr := (&testutil.HTTPRequest{
		Method: "POST",
		Path:   "/v1/surveys/1/join",
		Body:   `{"respondentId":"resp-1"}`,
	}).Do(t, router)
	var joined struct {
		Progress progress.Record `json:"progress"`
	}
	decode(t, rr.Body.Bytes(), &joined)

	// Answering a question the pointer is not at is a conflict.
	rr = (&testutil.HTTPRequest{
		Method: "POST",
		Path:   fmt.Sprintf("/v1/progress/%d/answers", joined.Progress.ID),
		Body:   `{"questionId":20,"optionIds":["opt_yes"]}`,
	}).Do(t, router)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}

	var errResp api.ErrorResponse
	decode(t, rr.Body.Bytes(), &errResp)
	if errResp.Code != api.ErrCodeStalePointer {
		t.Fatalf("code = %s, want %s", errResp.Code, api.ErrCodeStalePointer)
	}
}

func TestStructure_ETagRoundTrip(t *testing.T) {
	server, memStore := testutil.NewTestServer(t)
	testutil.SeedBasicSurvey(memStore)
	router := server.Router()

	rr := (&testutil.HTTPRequest{Method: "GET", Path: "/v1/surveys/1/structure"}).Do(t, router)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body)
	}
	etag := rr.Header().Get("ETag")
	if etag == "" {
		t.Fatal("missing ETag header")
	}

	rr = (&testutil.HTTPRequest{
		Method:  "GET",
		Path:    "/v1/surveys/1/structure",
		Headers: map[string]string{"If-None-Match": etag},
	}).Do(t, router)
	if rr.Code != http.StatusNotModified {
		t.Fatalf("status = %d, want 304", rr.Code)
	}
}

func TestStructure_UnknownSurvey(t *testing.T) {
	server, _ := testutil.NewTestServer(t)
	rr := (&testutil.HTTPRequest{Method: "GET", Path: "/v1/surveys/999/structure"}).Do(t, server.Router())
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestResolve(t *testing.T) {
	server, memStore := testutil.NewTestServer(t)
	testutil.SeedBasicSurvey(memStore)

	rr := (&testutil.HTTPRequest{
		Method: "POST",
		Path:   "/v1/surveys/1/resolve",
		Body:   `{"questionId":10,"respondentId":"resp-1","input":"30"}`,
	}).Do(t, server.Router())
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body)
	}

	var res struct {
		NextQuestionID int64 `json:"nextQuestionId"`
	}
	decode(t, rr.Body.Bytes(), &res)
	if res.NextQuestionID != 20 {
		t.Fatalf("nextQuestionId = %d, want 20", res.NextQuestionID)
	}
}

func TestInvalidJSON(t *testing.T) {
	server, memStore := testutil.NewTestServer(t)
	testutil.SeedBasicSurvey(memStore)

	rr := (&testutil.HTTPRequest{
		Method: "POST",
		Path:   "/v1/surveys/1/eligibility",
		Body:   `{not json`,
	}).Do(t, server.Router())
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}

	var errResp api.ErrorResponse
	decode(t, rr.Body.Bytes(), &errResp)
	if errResp.Code != api.ErrCodeInvalidJSON {
		t.Fatalf("code = %s, want %s", errResp.Code, api.ErrCodeInvalidJSON)
	}
}

func TestInvalidPathID(t *testing.T) {
	server, _ := testutil.NewTestServer(t)
	rr := (&testutil.HTTPRequest{
		Method: "POST",
		Path:   "/v1/surveys/abc/eligibility",
		Body:   `{"respondentId":"resp-1"}`,
	}).Do(t, server.Router())
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestAdminAuth(t *testing.T) {
	server, memStore := testutil.NewTestServer(t)
	testutil.SeedBasicSurvey(memStore)
	router := server.Router()

	tests := []struct {
		name     string
		headers  map[string]string
		wantCode int
	}{
		{name: "missing token", wantCode: http.StatusUnauthorized},
		{
			name:     "wrong token",
			headers:  map[string]string{"Authorization": "Bearer wrong-key"},
			wantCode: http.StatusForbidden,
		},
		{
			name:     "valid token",
			headers:  map[string]string{"Authorization": "Bearer test-admin-key"},
			wantCode: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := (&testutil.HTTPRequest{
				Method:  "GET",
				Path:    "/v1/surveys/1/quotas",
				Headers: tt.headers,
			}).Do(t, router)
			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", rr.Code, tt.wantCode, rr.Body)
			}
		})
	}
}

func TestAdminAuth_HashedKey(t *testing.T) {
	key, err := auth.GenerateAPIKey("sfk_")
	if err != nil {
		t.Fatalf("GenerateAPIKey() error = %v", err)
	}
	hash, err := auth.HashAPIKey(key)
	if err != nil {
		t.Fatalf("HashAPIKey() error = %v", err)
	}

	cfg := testutil.TestConfig()
	cfg.AdminAPIKeyHash = hash
	cfg.AuthTokenPrefix = "sfk_"
	server, memStore := newServerWithConfig(t, cfg)
	testutil.SeedBasicSurvey(memStore)
	router := server.Router()

	tests := []struct {
		name     string
		token    string
		wantCode int
	}{
		{name: "hashed key accepted", token: key, wantCode: http.StatusOK},
		{name: "wrong key with prefix", token: "sfk_not-the-key", wantCode: http.StatusForbidden},
		{name: "missing prefix skips bcrypt", token: "no-prefix", wantCode: http.StatusForbidden},
		// Plaintext fallback is disabled once a hash is configured.
		{name: "plaintext key ignored", token: cfg.AdminAPIKey, wantCode: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := (&testutil.HTTPRequest{
				Method:  "GET",
				Path:    "/v1/surveys/1/quotas",
				Headers: map[string]string{"Authorization": "Bearer " + tt.token},
			}).Do(t, router)
			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", rr.Code, tt.wantCode, rr.Body)
			}
		})
	}
}

func TestAdminAuth_ReadonlyRole(t *testing.T) {
	cfg := testutil.TestConfig()
	cfg.AdminAPIRole = "readonly"
	server, memStore := newServerWithConfig(t, cfg)
	testutil.SeedBasicSurvey(memStore)
	router := server.Router()
	admin := map[string]string{"Authorization": "Bearer test-admin-key"}

	rr := (&testutil.HTTPRequest{
		Method:  "GET",
		Path:    "/v1/surveys/1/quotas",
		Headers: admin,
	}).Do(t, router)
	if rr.Code != http.StatusOK {
		t.Fatalf("readonly list status = %d, want 200 (body %s)", rr.Code, rr.Body)
	}

	rr = (&testutil.HTTPRequest{
		Method:  "PUT",
		Path:    "/v1/surveys/1/quotas",
		Body:    `{"country":"US","limit":100,"actionOnFull":"BLOCK"}`,
		Headers: admin,
	}).Do(t, router)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("readonly write status = %d, want 403", rr.Code)
	}
}

func TestQuotaAdminFlow(t *testing.T) {
	server, memStore := testutil.NewTestServer(t)
	testutil.SeedBasicSurvey(memStore)
	router := server.Router()
	admin := map[string]string{"Authorization": "Bearer test-admin-key"}

	rr := (&testutil.HTTPRequest{
		Method:  "PUT",
		Path:    "/v1/surveys/1/quotas",
		Body:    `{"country":"US","limit":100,"actionOnFull":"BLOCK"}`,
		Headers: admin,
	}).Do(t, router)
	if rr.Code != http.StatusOK {
		t.Fatalf("upsert status = %d, body %s", rr.Code, rr.Body)
	}

	rr = (&testutil.HTTPRequest{
		Method:  "GET",
		Path:    "/v1/surveys/1/quotas",
		Headers: admin,
	}).Do(t, router)
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d, body %s", rr.Code, rr.Body)
	}

	var listed struct {
		Quotas []struct {
			ID      int64  `json:"id"`
			Country string `json:"country"`
			Limit   int    `json:"limit"`
		} `json:"quotas"`
	}
	decode(t, rr.Body.Bytes(), &listed)
	if len(listed.Quotas) != 1 || listed.Quotas[0].Country != "US" || listed.Quotas[0].Limit != 100 {
		t.Fatalf("unexpected quotas: %s", rr.Body)
	}

	rr = (&testutil.HTTPRequest{
		Method:  "POST",
		Path:    fmt.Sprintf("/v1/quotas/%d/status", listed.Quotas[0].ID),
		Body:    `{"status":"PAUSED"}`,
		Headers: admin,
	}).Do(t, router)
	if rr.Code != http.StatusOK {
		t.Fatalf("status change = %d, body %s", rr.Code, rr.Body)
	}
}

func TestQuotaUpsert_Validation(t *testing.T) {
	server, memStore := testutil.NewTestServer(t)
	testutil.SeedBasicSurvey(memStore)
	admin := map[string]string{"Authorization": "Bearer test-admin-key"}

	rr := (&testutil.HTTPRequest{
		Method:  "PUT",
		Path:    "/v1/surveys/1/quotas",
		Body:    `{"country":"","limit":0,"actionOnFull":"EXPLODE"}`,
		Headers: admin,
	}).Do(t, server.Router())
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}

	var errResp api.ErrorResponse
	decode(t, rr.Body.Bytes(), &errResp)
	for _, field := range []string{"country", "limit", "actionOnFull"} {
		if _, ok := errResp.Fields[field]; !ok {
			t.Fatalf("missing field error for %q: %s", field, rr.Body)
		}
	}
}

func TestProgressAdminOperations(t *testing.T) {
	server, memStore := testutil.NewTestServer(t)
	testutil.SeedBasicSurvey(memStore)
	router := server.Router()
	admin := map[string]string{"Authorization": "Bearer test-admin-key"}

	rr := (&testutil.HTTPRequest{
		Method: "POST",
		Path:   "/v1/surveys/1/join",
		Body:   `{"respondentId":"resp-1"}`,
	}).Do(t, router)
	var joined struct {
		Progress progress.Record `json:"progress"`
	}
	decode(t, rr.Body.Bytes(), &joined)

	rr = (&testutil.HTTPRequest{
		Method:  "POST",
		Path:    fmt.Sprintf("/v1/progress/%d/remove", joined.Progress.ID),
		Headers: admin,
	}).Do(t, router)
	if rr.Code != http.StatusOK {
		t.Fatalf("remove status = %d, body %s", rr.Code, rr.Body)
	}
	var removed struct {
		Progress progress.Record `json:"progress"`
	}
	decode(t, rr.Body.Bytes(), &removed)
	if removed.Progress.Status != progress.StatusRemoved {
		t.Fatalf("status = %s, want REMOVED", removed.Progress.Status)
	}

	rr = (&testutil.HTTPRequest{
		Method:  "POST",
		Path:    fmt.Sprintf("/v1/progress/%d/reevaluate", joined.Progress.ID),
		Headers: admin,
	}).Do(t, router)
	if rr.Code != http.StatusOK {
		t.Fatalf("reevaluate status = %d, body %s", rr.Code, rr.Body)
	}

	rr = (&testutil.HTTPRequest{
		Method:  "POST",
		Path:    fmt.Sprintf("/v1/progress/%d/end", joined.Progress.ID),
		Headers: admin,
	}).Do(t, router)
	if rr.Code != http.StatusOK {
		t.Fatalf("end status = %d, body %s", rr.Code, rr.Body)
	}
	var ended struct {
		Progress progress.Record `json:"progress"`
	}
	decode(t, rr.Body.Bytes(), &ended)
	if ended.Progress.Status != progress.StatusEnded {
		t.Fatalf("status = %s, want ENDED", ended.Progress.Status)
	}
}
