package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/quantai/surveyflow/internal/progress"
	"github.com/quantai/surveyflow/internal/quota"
	"github.com/quantai/surveyflow/internal/survey"
)

func seededStore(t *testing.T) *MemoryStore {
	t.Helper()
	m := NewMemoryStore()
	m.SeedSurvey(survey.Survey{ID: 1, Active: true}, []survey.Question{
		{ID: 10, SurveyID: 1, Variable: "age", DisplayIndex: 1},
	})
	m.SeedRespondent(survey.Respondent{ID: "resp-1", Country: "US"})
	return m
}

func createRecord(t *testing.T, m *MemoryStore) *progress.Record {
	t.Helper()
	rec := &progress.Record{SurveyID: 1, RespondentID: "resp-1", Status: progress.StatusPending}
	if err := m.CreateProgress(context.Background(), rec); err != nil {
		t.Fatalf("CreateProgress() error = %v", err)
	}
	return rec
}

func TestCreateProgress_RejectsDuplicatePair(t *testing.T) {
	m := seededStore(t)
	createRecord(t, m)

	dup := &progress.Record{SurveyID: 1, RespondentID: "resp-1", Status: progress.StatusPending}
	if err := m.CreateProgress(context.Background(), dup); err == nil {
		t.Fatal("expected duplicate (survey, respondent) pair to be rejected")
	}
}

func TestFindProgress(t *testing.T) {
	m := seededStore(t)
	rec := createRecord(t, m)

	found, err := m.FindProgress(context.Background(), 1, "resp-1")
	if err != nil {
		t.Fatalf("FindProgress() error = %v", err)
	}
	if found.ID != rec.ID {
		t.Fatalf("found record %d, want %d", found.ID, rec.ID)
	}

	if _, err := m.FindProgress(context.Background(), 1, "resp-2"); !errors.Is(err, survey.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCommitSubmission_SupersedesPreviousAnswer(t *testing.T) {
	m := seededStore(t)
	rec := createRecord(t, m)
	rec.Status = progress.StatusPartial
	rec.NextQuestionID = 10
	if err := m.UpdateProgress(context.Background(), rec); err != nil {
		t.Fatalf("UpdateProgress() error = %v", err)
	}

	// The committed progress keeps pointing at question 10, as a re-presented
	// question would.
	for _, val := range []string{"20", "21"} {
		err := m.CommitSubmission(context.Background(), progress.Commit{
			Answer: survey.Answer{
				ID: "a-" + val, SurveyID: 1, QuestionID: 10, RespondentID: "resp-1",
				Variable: "age", OptionValues: []string{val},
			},
			Progress: *rec,
		})
		if err != nil {
			t.Fatalf("CommitSubmission(%s) error = %v", val, err)
		}
	}

	latest, err := m.LatestAnswer(context.Background(), "resp-1", "age")
	if err != nil {
		t.Fatalf("LatestAnswer() error = %v", err)
	}
	if latest.ScalarValue() != "21" {
		t.Fatalf("latest answer = %q, want the superseding 21", latest.ScalarValue())
	}

	// Both rows survive; only IsLast flips.
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.answers) != 2 {
		t.Fatalf("answer history length = %d, want 2", len(m.answers))
	}
	if m.answers[0].IsLast || !m.answers[1].IsLast {
		t.Fatalf("IsLast flags = %v/%v, want false/true", m.answers[0].IsLast, m.answers[1].IsLast)
	}
}

func TestCommitSubmission_QuotaRejectLeavesNothingBehind(t *testing.T) {
	m := seededStore(t)
	rec := createRecord(t, m)
	rec.NextQuestionID = 10
	if err := m.UpdateProgress(context.Background(), rec); err != nil {
		t.Fatalf("UpdateProgress() error = %v", err)
	}
	rec.Status = progress.StatusCompleted
	rec.NextQuestionID = 0

	if err := m.UpsertQuota(context.Background(), quota.Quota{
		SurveyID: 1, Country: "US", Limit: 1, CurrentCount: 1,
		ActionOnFull: quota.OnFullBlock, Status: quota.StatusFull,
	}); err != nil {
		t.Fatalf("UpsertQuota() error = %v", err)
	}

	before, _ := m.GetProgress(context.Background(), rec.ID)

	err := m.CommitSubmission(context.Background(), progress.Commit{
		Answer: survey.Answer{
			ID: "a-1", SurveyID: 1, QuestionID: 10, RespondentID: "resp-1",
			Variable: "age", OptionValues: []string{"30"},
		},
		Progress:   *rec,
		AdmitQuota: true,
		Country:    "US",
	})
	if !errors.Is(err, progress.ErrQuotaExhausted) {
		t.Fatalf("expected ErrQuotaExhausted, got %v", err)
	}

	// The rejection must not leave a partial commit.
	if ans, _ := m.LatestAnswer(context.Background(), "resp-1", "age"); ans != nil {
		t.Fatal("rejected commit must not record an answer")
	}
	after, _ := m.GetProgress(context.Background(), rec.ID)
	if after.Status != before.Status || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("rejected commit must not touch progress: %+v -> %+v", before, after)
	}
}

func TestCommitSubmission_StaleReplayRejected(t *testing.T) {
	m := seededStore(t)
	rec := createRecord(t, m)
	rec.NextQuestionID = 10
	if err := m.UpdateProgress(context.Background(), rec); err != nil {
		t.Fatalf("UpdateProgress() error = %v", err)
	}

	_ = m.UpsertQuota(context.Background(), quota.Quota{
		SurveyID: 1, Country: "US", Limit: 5, ActionOnFull: quota.OnFullBlock, Status: quota.StatusActive,
	})

	// Both commits are built from the same pre-advance read, as two racing
	// submissions of the final question would be.
	completed := *rec
	completed.Status = progress.StatusCompleted
	completed.NextQuestionID = 0
	commit := func(answerID string) error {
		return m.CommitSubmission(context.Background(), progress.Commit{
			Answer: survey.Answer{
				ID: answerID, SurveyID: 1, QuestionID: 10, RespondentID: "resp-1",
				Variable: "age", OptionValues: []string{"30"},
			},
			Progress:   completed,
			AdmitQuota: true,
			Country:    "US",
		})
	}

	if err := commit("a-1"); err != nil {
		t.Fatalf("first commit error = %v", err)
	}
	if err := commit("a-2"); !errors.Is(err, progress.ErrStalePointer) {
		t.Fatalf("replayed commit error = %v, want ErrStalePointer", err)
	}

	// The replay must not consume a second quota slot or add an answer.
	qs, _ := m.ListQuotas(context.Background(), 1)
	if qs[0].CurrentCount != 1 {
		t.Fatalf("CurrentCount = %d, want 1 after duplicate rejection", qs[0].CurrentCount)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.answers) != 1 {
		t.Fatalf("answer count = %d, want 1", len(m.answers))
	}
}

func TestCommitSubmission_CloseQuotaRejectionFlagsSurvey(t *testing.T) {
	m := seededStore(t)
	rec := createRecord(t, m)
	rec.NextQuestionID = 10
	_ = m.UpdateProgress(context.Background(), rec)
	rec.Status = progress.StatusCompleted

	// The quota filled between the gate check and the commit.
	_ = m.UpsertQuota(context.Background(), quota.Quota{
		SurveyID: 1, Country: "US", Limit: 1, CurrentCount: 1,
		ActionOnFull: quota.OnFullClose, Status: quota.StatusFull,
	})

	err := m.CommitSubmission(context.Background(), progress.Commit{
		Answer: survey.Answer{
			ID: "a-1", SurveyID: 1, QuestionID: 10, RespondentID: "resp-1",
			Variable: "age", OptionValues: []string{"30"},
		},
		Progress:   *rec,
		AdmitQuota: true,
		Country:    "US",
	})
	if !errors.Is(err, progress.ErrQuotaExhausted) {
		t.Fatalf("expected ErrQuotaExhausted, got %v", err)
	}

	s, _ := m.GetSurvey(context.Background(), 1)
	if !s.QuotaFull {
		t.Fatal("CLOSE quota observed full at commit time must flag the survey")
	}
}

func TestCommitSubmission_AdmitsQuotaOnCompletion(t *testing.T) {
	m := seededStore(t)
	rec := createRecord(t, m)
	rec.NextQuestionID = 10
	_ = m.UpdateProgress(context.Background(), rec)
	rec.Status = progress.StatusCompleted
	rec.NextQuestionID = 0

	_ = m.UpsertQuota(context.Background(), quota.Quota{
		SurveyID: 1, Country: "US", Limit: 2, ActionOnFull: quota.OnFullClose, Status: quota.StatusActive,
	})

	err := m.CommitSubmission(context.Background(), progress.Commit{
		Answer: survey.Answer{
			ID: "a-1", SurveyID: 1, QuestionID: 10, RespondentID: "resp-1",
			Variable: "age", OptionValues: []string{"30"},
		},
		Progress:   *rec,
		AdmitQuota: true,
		Country:    "US",
	})
	if err != nil {
		t.Fatalf("CommitSubmission() error = %v", err)
	}

	qs, _ := m.ListQuotas(context.Background(), 1)
	if qs[0].CurrentCount != 1 {
		t.Fatalf("CurrentCount = %d, want 1", qs[0].CurrentCount)
	}
}

func TestCommitSubmission_LastSlotClosesSurvey(t *testing.T) {
	m := seededStore(t)
	rec := createRecord(t, m)
	rec.NextQuestionID = 10
	_ = m.UpdateProgress(context.Background(), rec)
	rec.Status = progress.StatusCompleted
	rec.NextQuestionID = 0

	_ = m.UpsertQuota(context.Background(), quota.Quota{
		SurveyID: 1, Country: "US", Limit: 1, ActionOnFull: quota.OnFullClose, Status: quota.StatusActive,
	})

	err := m.CommitSubmission(context.Background(), progress.Commit{
		Answer: survey.Answer{
			ID: "a-1", SurveyID: 1, QuestionID: 10, RespondentID: "resp-1",
			Variable: "age", OptionValues: []string{"30"},
		},
		Progress:   *rec,
		AdmitQuota: true,
		Country:    "US",
	})
	if err != nil {
		t.Fatalf("CommitSubmission() error = %v", err)
	}

	s, _ := m.GetSurvey(context.Background(), 1)
	if !s.QuotaFull {
		t.Fatal("filling the last CLOSE quota slot must flag the survey")
	}
}

func TestAdmitQuota_ConcurrentNeverOverfills(t *testing.T) {
	m := seededStore(t)
	const limit = 10
	_ = m.UpsertQuota(context.Background(), quota.Quota{
		SurveyID: 1, Country: "US", Limit: limit, ActionOnFull: quota.OnFullBlock, Status: quota.StatusActive,
	})

	var wg sync.WaitGroup
	admitted := make(chan bool, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := m.AdmitQuota(context.Background(), 1, "US")
			if err != nil {
				t.Errorf("AdmitQuota() error = %v", err)
				return
			}
			admitted <- d.Allowed
		}()
	}
	wg.Wait()
	close(admitted)

	allowed := 0
	for ok := range admitted {
		if ok {
			allowed++
		}
	}
	if allowed != limit {
		t.Fatalf("admitted %d respondents, want exactly %d", allowed, limit)
	}

	qs, _ := m.ListQuotas(context.Background(), 1)
	if qs[0].CurrentCount != limit {
		t.Fatalf("CurrentCount = %d, want %d", qs[0].CurrentCount, limit)
	}
	if qs[0].Status != quota.StatusFull {
		t.Fatalf("Status = %s, want FULL", qs[0].Status)
	}
}

func TestUpsertQuota_PreservesIDOnUpdate(t *testing.T) {
	m := seededStore(t)

	_ = m.UpsertQuota(context.Background(), quota.Quota{
		SurveyID: 1, Country: "US", Limit: 10, ActionOnFull: quota.OnFullBlock, Status: quota.StatusActive,
	})
	first, _ := m.ListQuotas(context.Background(), 1)

	_ = m.UpsertQuota(context.Background(), quota.Quota{
		SurveyID: 1, Country: "US", Limit: 20, ActionOnFull: quota.OnFullClose, Status: quota.StatusActive,
	})
	second, _ := m.ListQuotas(context.Background(), 1)

	if len(second) != 1 {
		t.Fatalf("quota count = %d, want upsert not append", len(second))
	}
	if second[0].ID != first[0].ID {
		t.Fatalf("ID changed %d -> %d on update", first[0].ID, second[0].ID)
	}
	if second[0].Limit != 20 {
		t.Fatalf("Limit = %d, want 20", second[0].Limit)
	}
}

func TestSetQuotaStatus(t *testing.T) {
	m := seededStore(t)
	_ = m.UpsertQuota(context.Background(), quota.Quota{
		SurveyID: 1, Country: "US", Limit: 10, ActionOnFull: quota.OnFullBlock, Status: quota.StatusActive,
	})
	qs, _ := m.ListQuotas(context.Background(), 1)

	if err := m.SetQuotaStatus(context.Background(), qs[0].ID, quota.StatusPaused); err != nil {
		t.Fatalf("SetQuotaStatus() error = %v", err)
	}
	qs, _ = m.ListQuotas(context.Background(), 1)
	if qs[0].Status != quota.StatusPaused {
		t.Fatalf("Status = %s, want PAUSED", qs[0].Status)
	}

	if err := m.SetQuotaStatus(context.Background(), 999, quota.StatusActive); !errors.Is(err, survey.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLatestAnswer_MissingIsNilNil(t *testing.T) {
	m := seededStore(t)
	ans, err := m.LatestAnswer(context.Background(), "resp-1", "never_asked")
	if err != nil || ans != nil {
		t.Fatalf("LatestAnswer() = %v, %v, want nil, nil", ans, err)
	}
}
