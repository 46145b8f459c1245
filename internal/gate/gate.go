// Package gate implements the multi-stage access-control check run before a
// respondent may enter or continue a survey: admin bypass, platform-wide
// filters, survey-specific filters, then the quota check. The gate
// short-circuits on the first failing stage and reports why.
package gate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/quantai/surveyflow/internal/engine"
	"github.com/quantai/surveyflow/internal/logic"
	"github.com/quantai/surveyflow/internal/quota"
	"github.com/quantai/surveyflow/internal/survey"
)

// Reason identifies which stage of the gate produced the decision.
type Reason string

const (
	ReasonAdminBypass         Reason = "admin_bypass"
	ReasonGlobalFilterFailed  Reason = "global_filter_failed"
	ReasonProjectFilterFailed Reason = "project_filter_failed"
	ReasonQuotaFull           Reason = "quota_full"
	ReasonAllChecksPassed     Reason = "all_checks_passed"
)

// FilterType decides how a matching filter is interpreted.
type FilterType string

const (
	FilterInclude FilterType = "INCLUDE"
	FilterExclude FilterType = "EXCLUDE"
)

// Filter is a single condition-like audience rule, either platform-wide
// (global) or scoped to one survey.
type Filter struct {
	ID       int64          `json:"id"`
	SurveyID int64          `json:"surveyId,omitempty"` // zero for global filters
	Name     string         `json:"name"`
	Type     FilterType     `json:"type"`
	Variable string         `json:"variable"`
	Operator logic.Operator `json:"operator"`
	Value    string         `json:"value,omitempty"`
	// OptionIDs configures the option set for IN / NOT_IN membership filters.
	OptionIDs []string `json:"optionIds,omitempty"`
	Active    bool     `json:"active"`
	Priority  int      `json:"priority"`
}

// Label returns the name used in failure messages; survey filters are
// usually unnamed and fall back to their id.
func (f Filter) Label() string {
	if f.Name != "" {
		return f.Name
	}
	return fmt.Sprintf("filter %d", f.ID)
}

// Decision is the gate's verdict with enough detail for the caller to act:
// retrying makes sense only for quota failures, never for filter failures.
type Decision struct {
	Allowed       bool           `json:"allowed"`
	Reason        Reason         `json:"reason"`
	Message       string         `json:"message"`
	FailedFilters []string       `json:"failedFilters,omitempty"`
	Quota         quota.Decision `json:"quota,omitempty"`
}

// FilterSource supplies the configured filters. Implementations return only
// active filters; global filters come back ordered by ascending priority.
type FilterSource interface {
	GlobalFilters(ctx context.Context) ([]Filter, error)
	SurveyFilters(ctx context.Context, surveyID int64) ([]Filter, error)
}

// AnswerSource resolves a respondent's latest non-superseded answer for a
// variable. A nil answer with nil error means no answer exists.
type AnswerSource interface {
	LatestAnswer(ctx context.Context, respondentID, variable string) (*survey.Answer, error)
}

// RespondentSource loads the profile slice the gate needs.
type RespondentSource interface {
	GetRespondent(ctx context.Context, id string) (*survey.Respondent, error)
}

// QuotaChecker is the tracker surface the gate invokes last.
type QuotaChecker interface {
	Check(ctx context.Context, surveyID int64, country string) (quota.Decision, error)
}

// Gate wires the stages together.
type Gate struct {
	filters     FilterSource
	answers     AnswerSource
	respondents RespondentSource
	quotas      QuotaChecker
	log         zerolog.Logger
}

// New creates a Gate.
func New(filters FilterSource, answers AnswerSource, respondents RespondentSource, quotas QuotaChecker, log zerolog.Logger) *Gate {
	return &Gate{
		filters:     filters,
		answers:     answers,
		respondents: respondents,
		quotas:      quotas,
		log:         log.With().Str("component", "gate").Logger(),
	}
}

// CanAccess runs the gate for one (survey, respondent) pair. Stage order is
// fixed: elevated-role bypass, global filters, survey filters, quota. The
// first failing stage decides; later stages are not invoked.
func (g *Gate) CanAccess(ctx context.Context, surveyID int64, respondentID string) (Decision, error) {
	respondent, err := g.respondents.GetRespondent(ctx, respondentID)
	if err != nil {
		return Decision{}, err
	}

	if respondent.Elevated {
		return Decision{
			Allowed: true,
			Reason:  ReasonAdminBypass,
			Message: "access granted (admin/staff bypass)",
		}, nil
	}

	globals, err := g.filters.GlobalFilters(ctx)
	if err != nil {
		return Decision{}, err
	}
	if failed, err := g.runFilters(ctx, globals, respondent, true); err != nil {
		return Decision{}, err
	} else if len(failed) > 0 {
		return Decision{
			Reason:        ReasonGlobalFilterFailed,
			Message:       "does not meet requirements: " + strings.Join(failed, ", "),
			FailedFilters: failed,
		}, nil
	}

	surveyFilters, err := g.filters.SurveyFilters(ctx, surveyID)
	if err != nil {
		return Decision{}, err
	}
	if failed, err := g.runFilters(ctx, surveyFilters, respondent, false); err != nil {
		return Decision{}, err
	} else if len(failed) > 0 {
		return Decision{
			Reason:        ReasonProjectFilterFailed,
			Message:       "does not meet survey requirements",
			FailedFilters: failed,
		}, nil
	}

	qd, err := g.quotas.Check(ctx, surveyID, respondent.Country)
	if err != nil {
		return Decision{}, err
	}
	if !qd.Allowed {
		return Decision{
			Reason:  ReasonQuotaFull,
			Message: qd.Message,
			Quota:   qd,
		}, nil
	}

	return Decision{
		Allowed: true,
		Reason:  ReasonAllChecksPassed,
		Message: "respondent can access survey",
		Quota:   qd,
	}, nil
}

// runFilters evaluates an AND set of filters and returns the labels of every
// failing one, not just the first: failure messages list them all. Global
// filters are evaluated in ascending priority order.
func (g *Gate) runFilters(ctx context.Context, filters []Filter, respondent *survey.Respondent, ordered bool) ([]string, error) {
	if ordered {
		sort.SliceStable(filters, func(i, j int) bool { return filters[i].Priority < filters[j].Priority })
	}

	var failed []string
	for _, f := range filters {
		if !f.Active {
			continue
		}
		matches, err := g.matches(ctx, f, respondent)
		if err != nil {
			return nil, err
		}
		switch f.Type {
		case FilterInclude:
			if !matches {
				failed = append(failed, f.Label())
			}
		case FilterExclude:
			if matches {
				failed = append(failed, f.Label())
			}
		}
	}
	return failed, nil
}

// matches evaluates one filter against the respondent's resolved value for
// its variable. Resolution order: latest non-superseded answer, then known
// profile attributes, else the filter is non-matching.
func (g *Gate) matches(ctx context.Context, f Filter, respondent *survey.Respondent) (bool, error) {
	value, ok, err := g.resolveValue(ctx, f.Variable, respondent)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	switch f.Operator {
	case logic.OpIn:
		return anySelected(value.Options, f.OptionIDs), nil
	case logic.OpNotIn:
		return !anySelected(value.Options, f.OptionIDs), nil
	default:
		return engine.Compare(f.Operator, value, f.Value), nil
	}
}

func (g *Gate) resolveValue(ctx context.Context, variable string, respondent *survey.Respondent) (engine.Value, bool, error) {
	answer, err := g.answers.LatestAnswer(ctx, respondent.ID, variable)
	if err != nil {
		return engine.Value{}, false, err
	}
	if answer != nil {
		return engine.Value{Scalar: answer.ScalarValue(), Options: answer.OptionIDs}, true, nil
	}

	switch variable {
	case "country":
		return engine.Value{Scalar: respondent.Country}, respondent.Country != "", nil
	case "email":
		return engine.Value{Scalar: respondent.Email}, respondent.Email != "", nil
	}
	return engine.Value{}, false, nil
}

func anySelected(selected, configured []string) bool {
	set := make(map[string]struct{}, len(configured))
	for _, id := range configured {
		set[id] = struct{}{}
	}
	for _, id := range selected {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}
