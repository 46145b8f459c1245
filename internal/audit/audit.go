// Package audit records eligibility decisions and answer submissions so
// operators can reconstruct why a respondent was admitted or blocked.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Action constants.
const (
	ActionEligibilityChecked = "eligibility_checked"
	ActionAnswerSubmitted    = "answer_submitted"
	ActionProgressChanged    = "progress_changed"
)

// Entry is one audit record.
type Entry struct {
	ID           string         `json:"id"`
	Action       string         `json:"action"`
	SurveyID     int64          `json:"surveyId"`
	RespondentID string         `json:"respondentId"`
	Outcome      string         `json:"outcome"`
	Details      map[string]any `json:"details,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// Sink persists entries. Implementations must tolerate being called from
// request paths: failures are logged, never propagated into the flow.
type Sink interface {
	Write(ctx context.Context, e Entry) error
}

// LogSink writes entries to the structured log only.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Write(_ context.Context, e Entry) error {
	s.Log.Info().
		Str("action", e.Action).
		Int64("survey", e.SurveyID).
		Str("respondent", e.RespondentID).
		Str("outcome", e.Outcome).
		Fields(e.Details).
		Msg("audit")
	return nil
}

// Recorder assembles entries and hands them to the sink.
type Recorder struct {
	sink Sink
	now  func() time.Time
	log  zerolog.Logger
}

// New creates a Recorder. A nil sink falls back to log-only.
func New(sink Sink, log zerolog.Logger) *Recorder {
	if sink == nil {
		sink = LogSink{Log: log}
	}
	return &Recorder{sink: sink, now: time.Now, log: log.With().Str("component", "audit").Logger()}
}

// Record writes one entry. Sink failures are swallowed after logging; an
// audit outage must not abort survey flow.
func (r *Recorder) Record(ctx context.Context, action string, surveyID int64, respondentID, outcome string, details map[string]any) {
	if r == nil {
		return
	}
	e := Entry{
		ID:           uuid.NewString(),
		Action:       action,
		SurveyID:     surveyID,
		RespondentID: respondentID,
		Outcome:      outcome,
		Details:      details,
		CreatedAt:    r.now().UTC(),
	}
	if err := r.sink.Write(ctx, e); err != nil {
		r.log.Warn().Err(err).Str("action", action).Msg("audit write failed")
	}
}
