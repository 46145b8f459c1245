// Package progress tracks one respondent's journey through one survey: the
// status state machine, the next-question pointer with its presentable
// option snapshot, and the submission flow that drives both.
package progress

import (
	"errors"
	"time"
)

// Status of an audience progress record.
type Status string

const (
	// StatusPending: admitted, no answer submitted yet.
	StatusPending Status = "PENDING"
	// StatusPartial: mid-survey, pointer set to the next question.
	StatusPartial Status = "PARTIAL"
	// StatusCompleted: reached the end of the question order.
	StatusCompleted Status = "COMPLETED"
	// StatusTerminated: an explicit END_SURVEY node fired, or the gate
	// rejected continued participation on filters.
	StatusTerminated Status = "TERMINATED"
	// StatusQuotaFull: blocked by quota, possibly post-hoc at commit time.
	StatusQuotaFull Status = "QUOTA_FULL"
	// StatusRemoved: soft-removed; LastStatus remembers where to restore.
	StatusRemoved Status = "REMOVED"
	// StatusEnded: administrative terminal override.
	StatusEnded Status = "ENDED"
)

// Terminal reports whether no further answers are accepted in this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusTerminated, StatusQuotaFull, StatusRemoved, StatusEnded:
		return true
	}
	return false
}

// transitions is the allowed state machine. REMOVED is reachable from any
// non-terminal state and restores to LastStatus; ENDED only via the
// administrative override.
var transitions = map[Status][]Status{
	StatusPending:   {StatusPartial, StatusCompleted, StatusTerminated, StatusQuotaFull, StatusRemoved, StatusEnded},
	StatusPartial:   {StatusPartial, StatusCompleted, StatusTerminated, StatusQuotaFull, StatusRemoved, StatusEnded},
	StatusQuotaFull: {StatusPending, StatusPartial, StatusRemoved, StatusEnded},
	StatusRemoved:   {StatusPending, StatusPartial, StatusQuotaFull, StatusEnded},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ErrStalePointer is returned when a submission references a question the
// record has already advanced past. Resubmitting the same answer twice is a
// conflict, never a silent reprocess.
var ErrStalePointer = errors.New("stale question pointer")

// ErrTerminalStatus is returned for submissions against a record that no
// longer accepts answers.
var ErrTerminalStatus = errors.New("progress record is terminal")

// ErrQuotaExhausted is returned by stores when the quota admission inside a
// submission commit finds the quota already consumed, despite an earlier
// ALLOW check. The whole commit rolls back; the caller should re-run
// eligibility rather than reuse the cached decision.
var ErrQuotaExhausted = errors.New("quota exhausted at commit time")

// ErrIllegalTransition is returned by administrative operations that would
// violate the state machine.
var ErrIllegalTransition = errors.New("illegal status transition")

// Record is the per-(survey, respondent) audience progress row. It
// exclusively owns its next-question pointer and the snapshot of currently
// presentable options, rows, and columns; answers are referenced, never
// owned. Records are never deleted, only soft-transitioned to REMOVED.
type Record struct {
	ID           int64     `json:"id"`
	SurveyID     int64     `json:"surveyId"`
	RespondentID string    `json:"respondentId"`
	Status       Status    `json:"status"`
	LastStatus   Status    `json:"lastStatus,omitempty"`
	// NextQuestionID is zero once the record is terminal.
	NextQuestionID int64    `json:"nextQuestionId,omitempty"`
	NextOptionIDs  []string `json:"nextOptionIds,omitempty"`
	NextRowIDs     []string `json:"nextRowIds,omitempty"`
	NextColumnIDs  []string `json:"nextColumnIds,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// transition mutates the record's status, tracking LastStatus so a REMOVED
// record can be restored.
func (r *Record) transition(to Status) error {
	if r.Status == to {
		return nil
	}
	if !CanTransition(r.Status, to) {
		return ErrIllegalTransition
	}
	r.LastStatus = r.Status
	r.Status = to
	return nil
}

// Restorable reports whether a REMOVED record can return to its prior state.
func (r *Record) Restorable() bool {
	return r.Status == StatusRemoved && r.LastStatus != "" && !r.LastStatus.Terminal()
}

// restore returns a REMOVED record to its remembered prior status.
func (r *Record) restore() error {
	if !r.Restorable() {
		return ErrIllegalTransition
	}
	r.Status, r.LastStatus = r.LastStatus, r.Status
	return nil
}
