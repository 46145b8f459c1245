package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantai/surveyflow/internal/audit"
	"github.com/quantai/surveyflow/internal/engine"
	"github.com/quantai/surveyflow/internal/gate"
	"github.com/quantai/surveyflow/internal/rotation"
	"github.com/quantai/surveyflow/internal/survey"
	"github.com/quantai/surveyflow/internal/telemetry"
)

// Commit bundles everything a submission persists: the answer (superseding
// any previous answer for the same triple), the progress transition, and,
// for submissions that complete the survey, the quota admission. Stores
// apply a Commit atomically or not at all.
type Commit struct {
	Answer   survey.Answer
	Progress Record
	// AdmitQuota consumes one slot for Country on the answer's survey.
	AdmitQuota bool
	Country    string
}

// Store is the persistence surface the service depends on. Implementations
// live in internal/store; CommitSubmission must return ErrQuotaExhausted
// (rolling everything back) when the admission inside it is rejected.
type Store interface {
	GetStructure(ctx context.Context, surveyID int64) (*survey.Structure, error)
	GetRespondent(ctx context.Context, id string) (*survey.Respondent, error)
	LatestAnswer(ctx context.Context, respondentID, variable string) (*survey.Answer, error)

	GetProgress(ctx context.Context, id int64) (*Record, error)
	FindProgress(ctx context.Context, surveyID int64, respondentID string) (*Record, error)
	CreateProgress(ctx context.Context, r *Record) error
	UpdateProgress(ctx context.Context, r *Record) error

	CommitSubmission(ctx context.Context, c Commit) error
}

// GateChecker is the eligibility gate surface.
type GateChecker interface {
	CanAccess(ctx context.Context, surveyID int64, respondentID string) (gate.Decision, error)
}

// HookEvent notifies external systems about a finished participation.
type HookEvent struct {
	Type         string `json:"type"` // "survey.completed" or "survey.terminated"
	SurveyID     int64  `json:"surveyId"`
	RespondentID string `json:"respondentId"`
	ProgressID   int64  `json:"progressId"`
	Status       Status `json:"status"`
}

// Hook receives completion events. Implementations must not block the
// submission path.
type Hook interface {
	Fire(ctx context.Context, evt HookEvent)
}

// SubmitParams is one answer submission.
type SubmitParams struct {
	ProgressID int64             `json:"progressId"`
	QuestionID int64             `json:"questionId"`
	OptionIDs  []string          `json:"optionIds,omitempty"`
	Input      json.RawMessage   `json:"input,omitempty"`
	InputRows  map[string]string `json:"inputRows,omitempty"`
}

// SubmitResult reports the outcome of a submission.
type SubmitResult struct {
	Record       Record             `json:"record"`
	NextQuestion *survey.Question   `json:"nextQuestion,omitempty"`
	Resolution   engine.Resolution  `json:"resolution"`
	// Decision is set when the gate (or a post-hoc quota rejection) blocked
	// the submission instead of advancing it.
	Decision *gate.Decision `json:"decision,omitempty"`
}

// Service drives the audience progress state machine: it gates, records the
// answer, resolves the next question, and persists the transition as one
// unit.
type Service struct {
	store   Store
	gate    GateChecker
	salt    string
	hook    Hook
	auditor *audit.Recorder
	log     zerolog.Logger
}

// NewService creates the flow service. hook and auditor may be nil.
func NewService(store Store, g GateChecker, rotationSalt string, hook Hook, auditor *audit.Recorder, log zerolog.Logger) *Service {
	return &Service{
		store:   store,
		gate:    g,
		salt:    rotationSalt,
		hook:    hook,
		auditor: auditor,
		log:     log.With().Str("component", "progress").Logger(),
	}
}

// EvaluateEligibility runs the gate without touching any state.
func (s *Service) EvaluateEligibility(ctx context.Context, surveyID int64, respondentID string) (gate.Decision, error) {
	d, err := s.gate.CanAccess(ctx, surveyID, respondentID)
	if err != nil {
		return gate.Decision{}, err
	}
	telemetry.GateDecisions.WithLabelValues(string(d.Reason)).Inc()
	s.auditor.Record(ctx, audit.ActionEligibilityChecked, surveyID, respondentID, string(d.Reason), nil)
	return d, nil
}

// Begin admits a respondent into a survey: on first admission it creates the
// record in PENDING pointing at the survey's initial question; a REMOVED
// record that is eligible again restores its prior status.
func (s *Service) Begin(ctx context.Context, surveyID int64, respondentID string) (*Record, gate.Decision, error) {
	decision, err := s.EvaluateEligibility(ctx, surveyID, respondentID)
	if err != nil {
		return nil, gate.Decision{}, err
	}
	if !decision.Allowed {
		return nil, decision, nil
	}

	existing, err := s.store.FindProgress(ctx, surveyID, respondentID)
	if err != nil && !errors.Is(err, survey.ErrNotFound) {
		return nil, gate.Decision{}, err
	}
	if existing != nil {
		if existing.Restorable() {
			if err := existing.restore(); err != nil {
				return nil, gate.Decision{}, err
			}
			if err := s.store.UpdateProgress(ctx, existing); err != nil {
				return nil, gate.Decision{}, err
			}
		}
		return existing, decision, nil
	}

	st, err := s.store.GetStructure(ctx, surveyID)
	if err != nil {
		return nil, gate.Decision{}, err
	}
	initial := st.Initial()
	if initial == nil {
		return nil, gate.Decision{}, fmt.Errorf("survey %d has no questions: %w", surveyID, survey.ErrNotFound)
	}

	rec := &Record{
		SurveyID:     surveyID,
		RespondentID: respondentID,
		Status:       StatusPending,
	}
	s.point(rec, initial, nil)
	if err := s.store.CreateProgress(ctx, rec); err != nil {
		return nil, gate.Decision{}, err
	}
	s.auditor.Record(ctx, audit.ActionProgressChanged, surveyID, respondentID, string(StatusPending), nil)
	return rec, decision, nil
}

// SubmitAnswer processes one answer in strict pointer order.
//
// The gate validates continued participation first; if admitted, the answer
// is recorded, the resolver computes the next question from the submitted
// answer, and the state machine transition persists together with the
// answer (and, on completion, the quota admission) in one atomic commit. A
// submission against an already-advanced pointer fails with ErrStalePointer.
func (s *Service) SubmitAnswer(ctx context.Context, p SubmitParams) (*SubmitResult, error) {
	rec, err := s.store.GetProgress(ctx, p.ProgressID)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return nil, fmt.Errorf("%w: status %s", ErrTerminalStatus, rec.Status)
	}
	if rec.NextQuestionID != p.QuestionID {
		return nil, fmt.Errorf("%w: expected question %d, got %d", ErrStalePointer, rec.NextQuestionID, p.QuestionID)
	}

	decision, err := s.gate.CanAccess(ctx, rec.SurveyID, rec.RespondentID)
	if err != nil {
		return nil, err
	}
	telemetry.GateDecisions.WithLabelValues(string(decision.Reason)).Inc()
	if !decision.Allowed {
		return s.block(ctx, rec, decision)
	}

	st, err := s.store.GetStructure(ctx, rec.SurveyID)
	if err != nil {
		return nil, err
	}
	question, ok := st.Question(p.QuestionID)
	if !ok {
		return nil, fmt.Errorf("question %d: %w", p.QuestionID, survey.ErrNotFound)
	}

	evalCtx, err := s.buildContext(ctx, question, rec.RespondentID, p)
	if err != nil {
		return nil, err
	}
	res, err := engine.ResolveNext(st, question.ID, evalCtx)
	if err != nil {
		return nil, err
	}
	telemetry.Resolutions.WithLabelValues(string(res.Action)).Inc()

	answer := s.buildAnswer(question, rec, p)

	updated := *rec
	var next *survey.Question
	switch res.Action {
	case engine.ActionContinue:
		next, _ = st.Question(res.NextQuestionID)
		if err := updated.transition(StatusPartial); err != nil {
			return nil, err
		}
		s.point(&updated, next, res.MaskedOptionIDs)
	case engine.ActionTerminate:
		if err := updated.transition(StatusTerminated); err != nil {
			return nil, err
		}
		s.point(&updated, nil, nil)
	case engine.ActionEndSurvey:
		if err := updated.transition(StatusCompleted); err != nil {
			return nil, err
		}
		s.point(&updated, nil, nil)
	}

	commit := Commit{Answer: answer, Progress: updated}
	if updated.Status == StatusCompleted {
		respondent, err := s.store.GetRespondent(ctx, rec.RespondentID)
		if err != nil {
			return nil, err
		}
		commit.AdmitQuota = true
		commit.Country = respondent.Country
	}

	if err := s.store.CommitSubmission(ctx, commit); err != nil {
		return s.handleCommitError(ctx, rec, err)
	}

	telemetry.Submissions.Inc()
	s.auditor.Record(ctx, audit.ActionAnswerSubmitted, rec.SurveyID, rec.RespondentID, string(updated.Status), map[string]any{
		"question": question.ID,
		"action":   string(res.Action),
	})
	s.fireIfFinished(ctx, &updated)

	return &SubmitResult{Record: updated, NextQuestion: next, Resolution: res}, nil
}

// ResolvePreview is the side-effect-free variant for dry runs: it resolves
// the next question for a hypothetical answer without gating or persisting.
func (s *Service) ResolvePreview(ctx context.Context, surveyID, questionID int64, respondentID string, p SubmitParams) (engine.Resolution, error) {
	st, err := s.store.GetStructure(ctx, surveyID)
	if err != nil {
		return engine.Resolution{}, err
	}
	question, ok := st.Question(questionID)
	if !ok {
		return engine.Resolution{}, fmt.Errorf("question %d: %w", questionID, survey.ErrNotFound)
	}
	evalCtx, err := s.buildContext(ctx, question, respondentID, p)
	if err != nil {
		return engine.Resolution{}, err
	}
	return engine.ResolveNext(st, questionID, evalCtx)
}

// Remove soft-removes a record, remembering its status for restore.
func (s *Service) Remove(ctx context.Context, progressID int64) (*Record, error) {
	rec, err := s.store.GetProgress(ctx, progressID)
	if err != nil {
		return nil, err
	}
	if err := rec.transition(StatusRemoved); err != nil {
		return nil, err
	}
	if err := s.store.UpdateProgress(ctx, rec); err != nil {
		return nil, err
	}
	s.auditor.Record(ctx, audit.ActionProgressChanged, rec.SurveyID, rec.RespondentID, string(StatusRemoved), nil)
	return rec, nil
}

// Reevaluate re-runs eligibility for a REMOVED record and restores it when
// it passes again.
func (s *Service) Reevaluate(ctx context.Context, progressID int64) (*Record, gate.Decision, error) {
	rec, err := s.store.GetProgress(ctx, progressID)
	if err != nil {
		return nil, gate.Decision{}, err
	}
	decision, err := s.EvaluateEligibility(ctx, rec.SurveyID, rec.RespondentID)
	if err != nil {
		return nil, gate.Decision{}, err
	}
	if decision.Allowed && rec.Restorable() {
		if err := rec.restore(); err != nil {
			return nil, gate.Decision{}, err
		}
		if err := s.store.UpdateProgress(ctx, rec); err != nil {
			return nil, gate.Decision{}, err
		}
	}
	return rec, decision, nil
}

// End applies the administrative terminal override.
func (s *Service) End(ctx context.Context, progressID int64) (*Record, error) {
	rec, err := s.store.GetProgress(ctx, progressID)
	if err != nil {
		return nil, err
	}
	if rec.Status == StatusEnded {
		return rec, nil
	}
	if !CanTransition(rec.Status, StatusEnded) && rec.Status.Terminal() {
		// ENDED overrides any state, including terminal ones.
		rec.LastStatus = rec.Status
		rec.Status = StatusEnded
	} else if err := rec.transition(StatusEnded); err != nil {
		return nil, err
	}
	if err := s.store.UpdateProgress(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// block persists a gate rejection: quota failures park the record in
// QUOTA_FULL (recoverable), filter failures terminate it.
func (s *Service) block(ctx context.Context, rec *Record, decision gate.Decision) (*SubmitResult, error) {
	to := StatusTerminated
	if decision.Reason == gate.ReasonQuotaFull {
		to = StatusQuotaFull
	}
	updated := *rec
	if err := updated.transition(to); err != nil {
		return nil, err
	}
	s.point(&updated, nil, nil)
	if err := s.store.UpdateProgress(ctx, &updated); err != nil {
		return nil, err
	}
	s.auditor.Record(ctx, audit.ActionProgressChanged, rec.SurveyID, rec.RespondentID, string(to), map[string]any{
		"reason": string(decision.Reason),
	})
	s.fireIfFinished(ctx, &updated)
	d := decision
	return &SubmitResult{Record: updated, Decision: &d}, nil
}

// handleCommitError maps a failed atomic commit. A post-hoc quota rejection
// transitions the record to QUOTA_FULL and reports the conflict; everything
// else propagates for the caller to retry, state unchanged.
func (s *Service) handleCommitError(ctx context.Context, rec *Record, err error) (*SubmitResult, error) {
	if !errors.Is(err, ErrQuotaExhausted) {
		return nil, err
	}
	telemetry.QuotaRejections.Inc()
	updated := *rec
	if terr := updated.transition(StatusQuotaFull); terr != nil {
		return nil, err
	}
	s.point(&updated, nil, nil)
	if uerr := s.store.UpdateProgress(ctx, &updated); uerr != nil {
		return nil, uerr
	}
	return nil, fmt.Errorf("submission for progress %d: %w", rec.ID, err)
}

// point sets the record's next-question pointer and snapshots the
// presentable options (rotation applied, masks subtracted), rows, and
// columns. A nil question clears the pointer.
func (s *Service) point(rec *Record, q *survey.Question, masked []string) {
	if q == nil {
		rec.NextQuestionID = 0
		rec.NextOptionIDs = nil
		rec.NextRowIDs = nil
		rec.NextColumnIDs = nil
		return
	}
	rec.NextQuestionID = q.ID
	rec.NextOptionIDs = rotation.Subtract(rotation.Apply(q, rec.RespondentID, s.salt), masked)
	rec.NextRowIDs = rowIDs(q.Rows)
	rec.NextColumnIDs = columnIDs(q.Columns)
}

// buildContext assembles the evaluation context: the submitted answer's
// value plus, for every other variable the question's conditions reference,
// the respondent's latest answer.
func (s *Service) buildContext(ctx context.Context, q *survey.Question, respondentID string, p SubmitParams) (engine.Context, error) {
	evalCtx := engine.NewContext()
	evalCtx.Set(q.Variable, engine.BuildAnswerValue(q, p.OptionIDs, scalarInput(p.Input)))

	for _, node := range q.Nodes {
		for _, c := range node.Conditions {
			for _, name := range []string{c.SourceVariable, c.TargetVariable} {
				if name == "" || name == q.Variable {
					continue
				}
				if _, ok := evalCtx.Lookup(name); ok {
					continue
				}
				answer, err := s.store.LatestAnswer(ctx, respondentID, name)
				if err != nil {
					return engine.Context{}, err
				}
				if answer != nil {
					evalCtx.Set(name, engine.Value{Scalar: answer.ScalarValue(), Options: answer.OptionIDs})
				}
			}
		}
	}
	return evalCtx, nil
}

// buildAnswer materializes the submission as the new authoritative answer,
// denormalizing selected option values for later variable resolution.
func (s *Service) buildAnswer(q *survey.Question, rec *Record, p SubmitParams) survey.Answer {
	values := make([]string, 0, len(p.OptionIDs))
	for _, id := range p.OptionIDs {
		for _, opt := range q.Options {
			if opt.ID == id {
				values = append(values, opt.Value)
				break
			}
		}
	}
	return survey.Answer{
		ID:           uuid.NewString(),
		SurveyID:     rec.SurveyID,
		QuestionID:   q.ID,
		RespondentID: rec.RespondentID,
		Variable:     q.Variable,
		OptionIDs:    p.OptionIDs,
		OptionValues: values,
		Input:        p.Input,
		InputRows:    p.InputRows,
		IsLast:       true,
	}
}

func (s *Service) fireIfFinished(ctx context.Context, rec *Record) {
	if s.hook == nil {
		return
	}
	var evtType string
	switch rec.Status {
	case StatusCompleted:
		evtType = "survey.completed"
	case StatusTerminated:
		evtType = "survey.terminated"
	default:
		return
	}
	s.hook.Fire(ctx, HookEvent{
		Type:         evtType,
		SurveyID:     rec.SurveyID,
		RespondentID: rec.RespondentID,
		ProgressID:   rec.ID,
		Status:       rec.Status,
	})
}

func scalarInput(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func rowIDs(rows []survey.Row) []string {
	if len(rows) == 0 {
		return nil
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	return ids
}

func columnIDs(cols []survey.Column) []string {
	if len(cols) == 0 {
		return nil
	}
	ids := make([]string, 0, len(cols))
	for _, c := range cols {
		ids = append(ids, c.ID)
	}
	return ids
}
