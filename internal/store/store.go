// Package store provides the persistence implementations behind the flow
// engine: an in-memory store for development and tests and a PostgreSQL
// store for production. Both satisfy the narrow interfaces declared by the
// consuming packages (gate, quota, progress).
package store

import (
	"context"

	"github.com/quantai/surveyflow/internal/gate"
	"github.com/quantai/surveyflow/internal/progress"
	"github.com/quantai/surveyflow/internal/quota"
	"github.com/quantai/surveyflow/internal/survey"
)

// Store is the full persistence surface. It is the union of the consumer
// interfaces plus the administrative operations the API exposes.
type Store interface {
	// Surveys and structure.
	GetSurvey(ctx context.Context, id int64) (*survey.Survey, error)
	GetStructure(ctx context.Context, surveyID int64) (*survey.Structure, error)
	GetRespondent(ctx context.Context, id string) (*survey.Respondent, error)
	LatestAnswer(ctx context.Context, respondentID, variable string) (*survey.Answer, error)

	// Filters (gate.FilterSource).
	GlobalFilters(ctx context.Context) ([]gate.Filter, error)
	SurveyFilters(ctx context.Context, surveyID int64) ([]gate.Filter, error)

	// Quotas (quota.Store) plus administration.
	ListQuotas(ctx context.Context, surveyID int64) ([]quota.Quota, error)
	AdmitQuota(ctx context.Context, surveyID int64, country string) (quota.Decision, error)
	MarkSurveyQuotaFull(ctx context.Context, surveyID int64) error
	UpsertQuota(ctx context.Context, q quota.Quota) error
	SetQuotaStatus(ctx context.Context, quotaID int64, status quota.Status) error

	// Progress (progress.Store).
	GetProgress(ctx context.Context, id int64) (*progress.Record, error)
	FindProgress(ctx context.Context, surveyID int64, respondentID string) (*progress.Record, error)
	CreateProgress(ctx context.Context, r *progress.Record) error
	UpdateProgress(ctx context.Context, r *progress.Record) error
	CommitSubmission(ctx context.Context, c progress.Commit) error

	Close() error
}
