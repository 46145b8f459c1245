// Package api exposes the survey flow engine over HTTP: eligibility checks,
// answer submission, next-question resolution, cached structure reads, and
// the administrative quota and progress operations.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/quantai/surveyflow/internal/auth"
	"github.com/quantai/surveyflow/internal/config"
	"github.com/quantai/surveyflow/internal/progress"
	"github.com/quantai/surveyflow/internal/quota"
	"github.com/quantai/surveyflow/internal/snapshot"
	"github.com/quantai/surveyflow/internal/store"
	"github.com/quantai/surveyflow/internal/survey"
	"github.com/quantai/surveyflow/internal/telemetry"
)

type Server struct {
	flow      *progress.Service
	store     store.Store
	snapshots *snapshot.Cache
	cfg       *config.Config
	log       zerolog.Logger
}

func NewServer(flow *progress.Service, st store.Store, snapshots *snapshot.Cache, cfg *config.Config, log zerolog.Logger) *Server {
	return &Server{
		flow:      flow,
		store:     st,
		snapshots: snapshots,
		cfg:       cfg,
		log:       log.With().Str("component", "api").Logger(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	r.Use(telemetry.Middleware)

	// health
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// respondent-facing endpoints, rate limited per IP
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.cfg.RateLimitPerIP, time.Minute))

		r.Post("/v1/surveys/{surveyID}/eligibility", s.handleEligibility)
		r.Post("/v1/surveys/{surveyID}/join", s.handleJoin)
		r.Post("/v1/surveys/{surveyID}/resolve", s.handleResolve)
		r.Get("/v1/surveys/{surveyID}/structure", s.handleStructure)
		r.Post("/v1/progress/{progressID}/answers", s.handleSubmit)
	})

	// admin endpoints; reads need the readonly role, writes the admin role
	r.Group(func(r chi.Router) {
		r.Use(s.authAdmin)
		r.Use(httprate.LimitByIP(s.cfg.RateLimitPerKey, time.Minute))

		r.With(s.requireRole(auth.RoleReadonly)).
			Get("/v1/surveys/{surveyID}/quotas", s.handleListQuotas)

		r.Group(func(r chi.Router) {
			r.Use(s.requireRole(auth.RoleAdmin))

			r.Put("/v1/surveys/{surveyID}/quotas", s.handleUpsertQuota)
			r.Post("/v1/quotas/{quotaID}/status", s.handleQuotaStatus)
			r.Post("/v1/progress/{progressID}/remove", s.handleRemove)
			r.Post("/v1/progress/{progressID}/reevaluate", s.handleReevaluate)
			r.Post("/v1/progress/{progressID}/end", s.handleEnd)
		})
	})

	return r
}

// ---- respondent handlers ----

type respondentRequest struct {
	RespondentID string `json:"respondentId"`
}

func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	surveyID, ok := pathID(w, r, "surveyID")
	if !ok {
		return
	}
	var req respondentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RespondentID == "" {
		ValidationError(w, r, "respondentId is required", map[string]string{"respondentId": "required"})
		return
	}

	decision, err := s.flow.EvaluateEligibility(r.Context(), surveyID, req.RespondentID)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	surveyID, ok := pathID(w, r, "surveyID")
	if !ok {
		return
	}
	var req respondentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RespondentID == "" {
		ValidationError(w, r, "respondentId is required", map[string]string{"respondentId": "required"})
		return
	}

	rec, decision, err := s.flow.Begin(r.Context(), surveyID, req.RespondentID)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusForbidden, map[string]any{"decision": decision})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"progress": rec, "decision": decision})
}

type resolveRequest struct {
	QuestionID   int64           `json:"questionId"`
	RespondentID string          `json:"respondentId"`
	OptionIDs    []string        `json:"optionIds,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	surveyID, ok := pathID(w, r, "surveyID")
	if !ok {
		return
	}
	var req resolveRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.flow.ResolvePreview(r.Context(), surveyID, req.QuestionID, req.RespondentID, progress.SubmitParams{
		QuestionID: req.QuestionID,
		OptionIDs:  req.OptionIDs,
		Input:      req.Input,
	})
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStructure(w http.ResponseWriter, r *http.Request) {
	surveyID, ok := pathID(w, r, "surveyID")
	if !ok {
		return
	}

	snap := s.snapshots.Load(surveyID)
	if snap == nil {
		st, err := s.store.GetStructure(r.Context(), surveyID)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		snap = s.snapshots.Update(st)
	}

	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == snap.ETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", snap.ETag)
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	progressID, ok := pathID(w, r, "progressID")
	if !ok {
		return
	}
	var params progress.SubmitParams
	if !decodeBody(w, r, &params) {
		return
	}
	params.ProgressID = progressID

	result, err := s.flow.SubmitAnswer(r.Context(), params)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ---- admin handlers ----

func (s *Server) handleListQuotas(w http.ResponseWriter, r *http.Request) {
	surveyID, ok := pathID(w, r, "surveyID")
	if !ok {
		return
	}
	quotas, err := s.store.ListQuotas(r.Context(), surveyID)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quotas": quotas})
}

type upsertQuotaRequest struct {
	Country      string             `json:"country"`
	Limit        int                `json:"limit"`
	ActionOnFull quota.ActionOnFull `json:"actionOnFull"`
	Status       quota.Status       `json:"status,omitempty"`
}

func (s *Server) handleUpsertQuota(w http.ResponseWriter, r *http.Request) {
	surveyID, ok := pathID(w, r, "surveyID")
	if !ok {
		return
	}
	var req upsertQuotaRequest
	if !decodeBody(w, r, &req) {
		return
	}

	fields := map[string]string{}
	if req.Country == "" {
		fields["country"] = "required"
	}
	if req.Limit <= 0 {
		fields["limit"] = "must be positive"
	}
	switch req.ActionOnFull {
	case quota.OnFullBlock, quota.OnFullClose:
	default:
		fields["actionOnFull"] = "must be BLOCK or CLOSE"
	}
	if len(fields) > 0 {
		ValidationError(w, r, "invalid quota", fields)
		return
	}

	status := req.Status
	if status == "" {
		status = quota.StatusActive
	}
	q := quota.Quota{
		SurveyID:     surveyID,
		Country:      req.Country,
		Limit:        req.Limit,
		ActionOnFull: req.ActionOnFull,
		Status:       status,
	}
	if err := s.store.UpsertQuota(r.Context(), q); err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type quotaStatusRequest struct {
	Status quota.Status `json:"status"`
}

func (s *Server) handleQuotaStatus(w http.ResponseWriter, r *http.Request) {
	quotaID, ok := pathID(w, r, "quotaID")
	if !ok {
		return
	}
	var req quotaStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	switch req.Status {
	case quota.StatusActive, quota.StatusPaused, quota.StatusFull:
	default:
		ValidationError(w, r, "invalid status", map[string]string{"status": "must be ACTIVE, PAUSED, or FULL"})
		return
	}

	if err := s.store.SetQuotaStatus(r.Context(), quotaID, req.Status); err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	progressID, ok := pathID(w, r, "progressID")
	if !ok {
		return
	}
	rec, err := s.flow.Remove(r.Context(), progressID)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"progress": rec})
}

func (s *Server) handleReevaluate(w http.ResponseWriter, r *http.Request) {
	progressID, ok := pathID(w, r, "progressID")
	if !ok {
		return
	}
	rec, decision, err := s.flow.Reevaluate(r.Context(), progressID)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"progress": rec, "decision": decision})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	progressID, ok := pathID(w, r, "progressID")
	if !ok {
		return
	}
	rec, err := s.flow.End(r.Context(), progressID)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"progress": rec})
}

// ---- middleware & helpers ----

// authAdmin verifies the bearer token. When a bcrypt hash is configured it
// takes precedence and the token must carry the configured prefix; the
// plaintext ADMIN_API_KEY compare remains as the development fallback.
func (s *Server) authAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := auth.ExtractBearerToken(r.Header.Get("Authorization"))
		if got == "" {
			UnauthorizedError(w, r, "missing bearer token")
			return
		}
		if !s.verifyAdminToken(got) {
			ForbiddenError(w, r, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) verifyAdminToken(token string) bool {
	if s.cfg.AdminAPIKeyHash != "" {
		// Prefix check is cheap and rejects garbage before the bcrypt compare.
		if s.cfg.AuthTokenPrefix != "" && !strings.HasPrefix(token, s.cfg.AuthTokenPrefix) {
			return false
		}
		return auth.VerifyAPIKey(token, s.cfg.AdminAPIKeyHash)
	}
	return auth.VerifyAPIKeyConstantTime(token, s.cfg.AdminAPIKey)
}

// requireRole gates a route on the role granted to the configured admin key.
func (s *Server) requireRole(required auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !auth.HasPermission(auth.Role(s.cfg.AdminAPIRole), required) {
				ForbiddenError(w, r, "role "+s.cfg.AdminAPIRole+" lacks permission")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeMappedError translates domain errors into structured responses.
func (s *Server) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, survey.ErrNotFound):
		NotFoundError(w, r, err.Error())
	case errors.Is(err, progress.ErrStalePointer):
		ConflictError(w, r, ErrCodeStalePointer, err.Error())
	case errors.Is(err, progress.ErrTerminalStatus):
		ConflictError(w, r, ErrCodeTerminalStatus, err.Error())
	case errors.Is(err, progress.ErrQuotaExhausted):
		ConflictError(w, r, ErrCodeQuotaExhausted, err.Error())
	case errors.Is(err, progress.ErrIllegalTransition):
		ConflictError(w, r, ErrCodeBadRequest, err.Error())
	default:
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		InternalError(w, r, "internal error")
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		BadRequestError(w, r, ErrCodeBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		BadRequestError(w, r, ErrCodeInvalidJSON, "invalid JSON")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
