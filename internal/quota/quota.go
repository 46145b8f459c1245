// Package quota implements per-(survey, country) participation caps. The
// decision rules live in Evaluate, a pure function; stores call it under
// their own locking discipline so that check-and-admit is one atomic unit.
package quota

import "fmt"

// Action is the tracker's verdict for a respondent's country.
type Action string

const (
	ActionAllow        Action = "ALLOW"
	ActionBlockSegment Action = "BLOCK_SEGMENT"
	ActionCloseSurvey  Action = "CLOSE_SURVEY"
)

// Status of a single quota row.
type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusFull   Status = "FULL"
	StatusPaused Status = "PAUSED"
)

// ActionOnFull configures what happens when a quota fills up.
type ActionOnFull string

const (
	OnFullBlock ActionOnFull = "BLOCK"
	OnFullClose ActionOnFull = "CLOSE"
)

// Quota is a participation cap for one (survey, country) pair.
type Quota struct {
	ID           int64        `json:"id"`
	SurveyID     int64        `json:"surveyId"`
	Country      string       `json:"country"`
	Limit        int          `json:"limit"`
	CurrentCount int          `json:"currentCount"`
	ActionOnFull ActionOnFull `json:"actionOnFull"`
	Status       Status       `json:"status"`
}

// Full reports whether the cap is reached.
func (q Quota) Full() bool { return q.CurrentCount >= q.Limit }

// Remaining returns the free slots, never negative.
func (q Quota) Remaining() int {
	if r := q.Limit - q.CurrentCount; r > 0 {
		return r
	}
	return 0
}

// ComputeStatus derives the status a quota row should carry for its counts,
// preserving an explicit PAUSED.
func (q Quota) ComputeStatus() Status {
	if q.Status == StatusPaused {
		return StatusPaused
	}
	if q.Full() {
		return StatusFull
	}
	return StatusActive
}

// Decision is the outcome of a quota check or admission.
type Decision struct {
	Allowed   bool   `json:"allowed"`
	Action    Action `json:"action"`
	Message   string `json:"message"`
	Remaining int    `json:"remaining,omitempty"`
	// CloseSurvey is set when the whole survey must be flagged quota-full as
	// a side effect of this decision.
	CloseSurvey bool `json:"-"`
}

// Evaluate applies the decision rules to the configured quotas of a survey
// for one country. Pure function; callers needing atomicity run it while
// holding the lock that protects the counters.
//
// Rules, in order: no quotas configured allows everyone; an unknown or empty
// country blocks the segment; PAUSED blocks the segment; a full quota closes
// the survey or blocks the segment depending on ActionOnFull; otherwise the
// respondent is allowed with the remaining capacity reported.
func Evaluate(quotas []Quota, country string) Decision {
	if len(quotas) == 0 {
		return Decision{Allowed: true, Action: ActionAllow, Message: "no quotas configured"}
	}

	if country == "" {
		return Decision{Action: ActionBlockSegment, Message: "country not specified"}
	}

	var match *Quota
	for i := range quotas {
		if quotas[i].Country == country {
			match = &quotas[i]
			break
		}
	}
	if match == nil {
		return Decision{Action: ActionBlockSegment, Message: fmt.Sprintf("survey not available in %s", country)}
	}

	if match.Status == StatusPaused {
		return Decision{Action: ActionBlockSegment, Message: "quota temporarily paused"}
	}

	if match.Full() {
		if match.ActionOnFull == OnFullClose {
			return Decision{Action: ActionCloseSurvey, Message: "survey is now closed", CloseSurvey: true}
		}
		return Decision{Action: ActionBlockSegment, Message: fmt.Sprintf("quota full for %s", country)}
	}

	return Decision{
		Allowed:   true,
		Action:    ActionAllow,
		Message:   fmt.Sprintf("%d slots remaining", match.Remaining()),
		Remaining: match.Remaining(),
	}
}
