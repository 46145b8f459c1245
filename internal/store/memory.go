package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quantai/surveyflow/internal/gate"
	"github.com/quantai/surveyflow/internal/progress"
	"github.com/quantai/surveyflow/internal/quota"
	"github.com/quantai/surveyflow/internal/survey"
)

type pairKey struct {
	surveyID     int64
	respondentID string
}

// MemoryStore is an in-memory implementation of the Store interface. It uses
// maps guarded by an RWMutex; the single mutex is what makes check-and-admit
// and CommitSubmission atomic here. Suitable for development, testing, or
// single-instance deployments.
type MemoryStore struct {
	mu          sync.RWMutex
	surveys     map[int64]survey.Survey
	questions   map[int64][]survey.Question
	respondents map[string]survey.Respondent
	answers     []survey.Answer
	filters     []gate.Filter
	quotas      map[int64][]quota.Quota
	records     map[int64]*progress.Record
	byPair      map[pairKey]int64
	nextID      int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		surveys:     make(map[int64]survey.Survey),
		questions:   make(map[int64][]survey.Question),
		respondents: make(map[string]survey.Respondent),
		quotas:      make(map[int64][]quota.Quota),
		records:     make(map[int64]*progress.Record),
		byPair:      make(map[pairKey]int64),
	}
}

// SeedSurvey loads a survey and its questions.
func (m *MemoryStore) SeedSurvey(s survey.Survey, questions []survey.Question) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.surveys[s.ID] = s
	m.questions[s.ID] = questions
}

// SeedRespondent loads a respondent profile.
func (m *MemoryStore) SeedRespondent(r survey.Respondent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.respondents[r.ID] = r
}

// SeedFilter loads an audience filter (global when SurveyID is zero).
func (m *MemoryStore) SeedFilter(f gate.Filter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters = append(m.filters, f)
}

// SeedAnswer loads a pre-existing answer.
func (m *MemoryStore) SeedAnswer(a survey.Answer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers = append(m.answers, a)
}

func (m *MemoryStore) GetSurvey(ctx context.Context, id int64) (*survey.Survey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.surveys[id]
	if !ok {
		return nil, fmt.Errorf("survey %d: %w", id, survey.ErrNotFound)
	}
	return &s, nil
}

func (m *MemoryStore) GetStructure(ctx context.Context, surveyID int64) (*survey.Structure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.surveys[surveyID]
	if !ok {
		return nil, fmt.Errorf("survey %d: %w", surveyID, survey.ErrNotFound)
	}
	return survey.NewStructure(s, m.questions[surveyID]), nil
}

func (m *MemoryStore) GetRespondent(ctx context.Context, id string) (*survey.Respondent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.respondents[id]
	if !ok {
		return nil, fmt.Errorf("respondent %s: %w", id, survey.ErrNotFound)
	}
	return &r, nil
}

// LatestAnswer returns the newest non-superseded answer for the variable, or
// (nil, nil) when the respondent has never answered it.
func (m *MemoryStore) LatestAnswer(ctx context.Context, respondentID, variable string) (*survey.Answer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latestAnswerLocked(respondentID, variable), nil
}

func (m *MemoryStore) latestAnswerLocked(respondentID, variable string) *survey.Answer {
	var latest *survey.Answer
	for i := range m.answers {
		a := &m.answers[i]
		if a.RespondentID != respondentID || a.Variable != variable || !a.IsLast {
			continue
		}
		if latest == nil || a.CreatedAt.After(latest.CreatedAt) {
			latest = a
		}
	}
	if latest == nil {
		return nil
	}
	cp := *latest
	return &cp
}

func (m *MemoryStore) GlobalFilters(ctx context.Context) ([]gate.Filter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []gate.Filter
	for _, f := range m.filters {
		if f.SurveyID == 0 && f.Active {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *MemoryStore) SurveyFilters(ctx context.Context, surveyID int64) ([]gate.Filter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []gate.Filter
	for _, f := range m.filters {
		if f.SurveyID == surveyID && f.Active {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListQuotas(ctx context.Context, surveyID int64) ([]quota.Quota, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	qs := m.quotas[surveyID]
	out := make([]quota.Quota, len(qs))
	copy(out, qs)
	return out, nil
}

// AdmitQuota consumes one slot for the country. The evaluation and the
// increment happen under the same lock, so concurrent admissions can never
// push the counter past the limit.
func (m *MemoryStore) AdmitQuota(ctx context.Context, surveyID int64, country string) (quota.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.admitLocked(surveyID, country), nil
}

func (m *MemoryStore) admitLocked(surveyID int64, country string) quota.Decision {
	qs := m.quotas[surveyID]
	d := quota.Evaluate(qs, country)
	if d.CloseSurvey {
		m.markQuotaFullLocked(surveyID)
	}
	if !d.Allowed {
		return d
	}

	for i := range qs {
		if qs[i].Country != country {
			continue
		}
		qs[i].CurrentCount++
		qs[i].Status = qs[i].ComputeStatus()
		if qs[i].Full() && qs[i].ActionOnFull == quota.OnFullClose {
			m.markQuotaFullLocked(surveyID)
		}
		d.Remaining = qs[i].Remaining()
		break
	}
	return d
}

func (m *MemoryStore) MarkSurveyQuotaFull(ctx context.Context, surveyID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markQuotaFullLocked(surveyID)
	return nil
}

func (m *MemoryStore) markQuotaFullLocked(surveyID int64) {
	if s, ok := m.surveys[surveyID]; ok {
		s.QuotaFull = true
		s.UpdatedAt = time.Now().UTC()
		m.surveys[surveyID] = s
	}
}

func (m *MemoryStore) UpsertQuota(ctx context.Context, q quota.Quota) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.quotas[q.SurveyID]
	for i := range qs {
		if qs[i].Country == q.Country {
			q.ID = qs[i].ID
			qs[i] = q
			return nil
		}
	}
	if q.ID == 0 {
		m.nextID++
		q.ID = m.nextID
	}
	m.quotas[q.SurveyID] = append(qs, q)
	return nil
}

func (m *MemoryStore) SetQuotaStatus(ctx context.Context, quotaID int64, status quota.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, qs := range m.quotas {
		for i := range qs {
			if qs[i].ID == quotaID {
				qs[i].Status = status
				return nil
			}
		}
	}
	return fmt.Errorf("quota %d: %w", quotaID, survey.ErrNotFound)
}

func (m *MemoryStore) GetProgress(ctx context.Context, id int64) (*progress.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("progress %d: %w", id, survey.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) FindProgress(ctx context.Context, surveyID int64, respondentID string) (*progress.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byPair[pairKey{surveyID, respondentID}]
	if !ok {
		return nil, fmt.Errorf("progress for survey %d respondent %s: %w", surveyID, respondentID, survey.ErrNotFound)
	}
	cp := *m.records[id]
	return &cp, nil
}

func (m *MemoryStore) CreateProgress(ctx context.Context, r *progress.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pairKey{r.SurveyID, r.RespondentID}
	if _, exists := m.byPair[key]; exists {
		return fmt.Errorf("progress for survey %d respondent %s already exists", r.SurveyID, r.RespondentID)
	}

	m.nextID++
	r.ID = m.nextID
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	cp := *r
	m.records[r.ID] = &cp
	m.byPair[key] = r.ID
	return nil
}

func (m *MemoryStore) UpdateProgress(ctx context.Context, r *progress.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateProgressLocked(r)
}

func (m *MemoryStore) updateProgressLocked(r *progress.Record) error {
	if _, ok := m.records[r.ID]; !ok {
		return fmt.Errorf("progress %d: %w", r.ID, survey.ErrNotFound)
	}
	r.UpdatedAt = time.Now().UTC()
	cp := *r
	m.records[r.ID] = &cp
	return nil
}

// CommitSubmission applies the answer, the progress transition, and the
// optional quota admission as one atomic unit. When the admission is
// rejected nothing is applied and progress.ErrQuotaExhausted is returned.
//
// The stored record's pointer is re-validated under the lock: a commit built
// from a read that another submission has since advanced past fails with
// progress.ErrStalePointer instead of double-applying.
func (m *MemoryStore) CommitSubmission(ctx context.Context, c progress.Commit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.records[c.Progress.ID]
	if !ok {
		return fmt.Errorf("progress %d: %w", c.Progress.ID, survey.ErrNotFound)
	}
	if stored.NextQuestionID != c.Answer.QuestionID {
		return fmt.Errorf("%w: progress %d expects question %d, commit answers %d",
			progress.ErrStalePointer, c.Progress.ID, stored.NextQuestionID, c.Answer.QuestionID)
	}
	if c.AdmitQuota {
		d := quota.Evaluate(m.quotas[c.Answer.SurveyID], c.Country)
		if !d.Allowed {
			if d.CloseSurvey {
				m.markQuotaFullLocked(c.Answer.SurveyID)
			}
			return fmt.Errorf("%s: %w", d.Message, progress.ErrQuotaExhausted)
		}
	}

	// Supersede any previous answer for the same triple.
	for i := range m.answers {
		a := &m.answers[i]
		if a.RespondentID == c.Answer.RespondentID && a.SurveyID == c.Answer.SurveyID && a.QuestionID == c.Answer.QuestionID {
			a.IsLast = false
		}
	}
	ans := c.Answer
	ans.IsLast = true
	if ans.CreatedAt.IsZero() {
		ans.CreatedAt = time.Now().UTC()
	}
	m.answers = append(m.answers, ans)

	rec := c.Progress
	if err := m.updateProgressLocked(&rec); err != nil {
		return err
	}

	if c.AdmitQuota {
		m.admitLocked(c.Answer.SurveyID, c.Country)
	}
	return nil
}

// Close is a no-op for MemoryStore as there are no resources to release.
func (m *MemoryStore) Close() error {
	return nil
}
