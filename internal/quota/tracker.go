package quota

import (
	"context"

	"github.com/rs/zerolog"
)

// Store is the persistence surface the tracker needs. AdmitQuota must be a
// single atomic unit: implementations re-run Evaluate under a row lock (or
// mutex), increment the counter, and recompute the status in one step.
// Reading the count, comparing, and writing count+1 in separate statements
// loses updates under concurrent admissions.
type Store interface {
	ListQuotas(ctx context.Context, surveyID int64) ([]Quota, error)
	AdmitQuota(ctx context.Context, surveyID int64, country string) (Decision, error)
	MarkSurveyQuotaFull(ctx context.Context, surveyID int64) error
}

// Tracker exposes quota decisions over a Store.
type Tracker struct {
	store Store
	log   zerolog.Logger
}

// NewTracker creates a quota tracker.
func NewTracker(store Store, log zerolog.Logger) *Tracker {
	return &Tracker{store: store, log: log.With().Str("component", "quota").Logger()}
}

// Check evaluates the quota rules without consuming a slot. A CLOSE_SURVEY
// verdict flags the survey quota-full as a side effect, so the flag is set
// even for respondents who were merely screened, not admitted.
func (t *Tracker) Check(ctx context.Context, surveyID int64, country string) (Decision, error) {
	quotas, err := t.store.ListQuotas(ctx, surveyID)
	if err != nil {
		return Decision{}, err
	}

	d := Evaluate(quotas, country)
	if d.CloseSurvey {
		if err := t.store.MarkSurveyQuotaFull(ctx, surveyID); err != nil {
			return Decision{}, err
		}
		t.log.Info().Int64("survey", surveyID).Str("country", country).Msg("survey closed: quota full")
	}
	return d, nil
}

// Admit consumes one slot for the country, atomically re-checking under the
// store's lock. Callers must use Admit, never Check followed by a bare
// increment; the returned decision reflects the state observed inside the
// critical section. Stores flag the survey quota-full themselves when the
// admission closes it, inside the same atomic unit.
func (t *Tracker) Admit(ctx context.Context, surveyID int64, country string) (Decision, error) {
	d, err := t.store.AdmitQuota(ctx, surveyID, country)
	if err != nil {
		return Decision{}, err
	}
	if !d.Allowed {
		t.log.Debug().Int64("survey", surveyID).Str("country", country).Str("action", string(d.Action)).Msg("admission rejected")
	}
	return d, nil
}
