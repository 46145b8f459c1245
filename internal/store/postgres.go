package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantai/surveyflow/internal/gate"
	"github.com/quantai/surveyflow/internal/progress"
	"github.com/quantai/surveyflow/internal/quota"
	"github.com/quantai/surveyflow/internal/survey"
)

// PostgresStore is a PostgreSQL implementation of the Store interface.
// Nested question data (options, rows, columns, branching nodes) lives in
// JSONB columns; quota admissions and submission commits run inside
// transactions with row locks so counters never drift under concurrency.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (p *PostgresStore) GetSurvey(ctx context.Context, id int64) (*survey.Survey, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, code, title, active, quota_full, quota_full_message, start_time, end_time, updated_at
		FROM surveys WHERE id = $1`, id)

	var s survey.Survey
	err := row.Scan(&s.ID, &s.Code, &s.Title, &s.Active, &s.QuotaFull, &s.QuotaFullMessage, &s.StartTime, &s.EndTime, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("survey %d: %w", id, survey.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetStructure loads the survey and all of its questions in display order.
func (p *PostgresStore) GetStructure(ctx context.Context, surveyID int64) (*survey.Structure, error) {
	s, err := p.GetSurvey(ctx, surveyID)
	if err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, survey_id, variable, title, type, display_index, initial, required, rotation,
		       options, matrix_rows, matrix_columns, nodes
		FROM questions WHERE survey_id = $1 ORDER BY display_index`, surveyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []survey.Question
	for rows.Next() {
		var q survey.Question
		var options, matrixRows, matrixCols, nodes []byte
		if err := rows.Scan(&q.ID, &q.SurveyID, &q.Variable, &q.Title, &q.Type, &q.DisplayIndex,
			&q.Initial, &q.Required, &q.Rotation, &options, &matrixRows, &matrixCols, &nodes); err != nil {
			return nil, err
		}
		if err := unmarshalInto(options, &q.Options); err != nil {
			return nil, err
		}
		if err := unmarshalInto(matrixRows, &q.Rows); err != nil {
			return nil, err
		}
		if err := unmarshalInto(matrixCols, &q.Columns); err != nil {
			return nil, err
		}
		if err := unmarshalInto(nodes, &q.Nodes); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return survey.NewStructure(*s, questions), nil
}

func (p *PostgresStore) GetRespondent(ctx context.Context, id string) (*survey.Respondent, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, email, country, elevated FROM respondents WHERE id = $1`, id)

	var r survey.Respondent
	err := row.Scan(&r.ID, &r.Email, &r.Country, &r.Elevated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("respondent %s: %w", id, survey.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// LatestAnswer returns the newest non-superseded answer for the variable, or
// (nil, nil) when none exists.
func (p *PostgresStore) LatestAnswer(ctx context.Context, respondentID, variable string) (*survey.Answer, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, survey_id, question_id, respondent_id, variable, option_ids, option_values,
		       input, input_rows, is_last, created_at
		FROM answers
		WHERE respondent_id = $1 AND variable = $2 AND is_last
		ORDER BY created_at DESC LIMIT 1`, respondentID, variable)

	a, err := scanAnswer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func scanAnswer(row pgx.Row) (*survey.Answer, error) {
	var a survey.Answer
	var optionIDs, optionValues, input, inputRows []byte
	if err := row.Scan(&a.ID, &a.SurveyID, &a.QuestionID, &a.RespondentID, &a.Variable,
		&optionIDs, &optionValues, &input, &inputRows, &a.IsLast, &a.CreatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalInto(optionIDs, &a.OptionIDs); err != nil {
		return nil, err
	}
	if err := unmarshalInto(optionValues, &a.OptionValues); err != nil {
		return nil, err
	}
	a.Input = input
	if err := unmarshalInto(inputRows, &a.InputRows); err != nil {
		return nil, err
	}
	return &a, nil
}

func (p *PostgresStore) GlobalFilters(ctx context.Context) ([]gate.Filter, error) {
	return p.queryFilters(ctx, `
		SELECT id, COALESCE(survey_id, 0), name, type, variable, operator, value, option_ids, active, priority
		FROM filters WHERE survey_id IS NULL AND active ORDER BY priority`)
}

func (p *PostgresStore) SurveyFilters(ctx context.Context, surveyID int64) ([]gate.Filter, error) {
	return p.queryFilters(ctx, `
		SELECT id, COALESCE(survey_id, 0), name, type, variable, operator, value, option_ids, active, priority
		FROM filters WHERE survey_id = $1 AND active ORDER BY priority`, surveyID)
}

func (p *PostgresStore) queryFilters(ctx context.Context, sql string, args ...any) ([]gate.Filter, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gate.Filter
	for rows.Next() {
		var f gate.Filter
		var optionIDs []byte
		if err := rows.Scan(&f.ID, &f.SurveyID, &f.Name, &f.Type, &f.Variable, &f.Operator,
			&f.Value, &optionIDs, &f.Active, &f.Priority); err != nil {
			return nil, err
		}
		if err := unmarshalInto(optionIDs, &f.OptionIDs); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListQuotas(ctx context.Context, surveyID int64) ([]quota.Quota, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, survey_id, country, limit_count, current_count, action_on_full, status
		FROM quotas WHERE survey_id = $1 ORDER BY country`, surveyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectQuotas(rows)
}

func collectQuotas(rows pgx.Rows) ([]quota.Quota, error) {
	var out []quota.Quota
	for rows.Next() {
		var q quota.Quota
		if err := rows.Scan(&q.ID, &q.SurveyID, &q.Country, &q.Limit, &q.CurrentCount, &q.ActionOnFull, &q.Status); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// AdmitQuota locks the survey's quota rows, re-evaluates, and increments the
// matching counter inside one transaction.
func (p *PostgresStore) AdmitQuota(ctx context.Context, surveyID int64, country string) (quota.Decision, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return quota.Decision{}, err
	}
	defer tx.Rollback(ctx)

	d, err := p.admitInTx(ctx, tx, surveyID, country)
	if err != nil {
		return quota.Decision{}, err
	}
	return d, tx.Commit(ctx)
}

func (p *PostgresStore) admitInTx(ctx context.Context, tx pgx.Tx, surveyID int64, country string) (quota.Decision, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, survey_id, country, limit_count, current_count, action_on_full, status
		FROM quotas WHERE survey_id = $1 FOR UPDATE`, surveyID)
	if err != nil {
		return quota.Decision{}, err
	}
	quotas, err := collectQuotas(rows)
	rows.Close()
	if err != nil {
		return quota.Decision{}, err
	}

	d := quota.Evaluate(quotas, country)
	if d.CloseSurvey {
		if err := markQuotaFullInTx(ctx, tx, surveyID); err != nil {
			return quota.Decision{}, err
		}
	}
	if !d.Allowed {
		return d, nil
	}

	for _, q := range quotas {
		if q.Country != country {
			continue
		}
		q.CurrentCount++
		q.Status = q.ComputeStatus()
		if _, err := tx.Exec(ctx, `
			UPDATE quotas SET current_count = $2, status = $3 WHERE id = $1`,
			q.ID, q.CurrentCount, q.Status); err != nil {
			return quota.Decision{}, err
		}
		if q.Full() && q.ActionOnFull == quota.OnFullClose {
			if err := markQuotaFullInTx(ctx, tx, surveyID); err != nil {
				return quota.Decision{}, err
			}
		}
		d.Remaining = q.Remaining()
		break
	}
	return d, nil
}

func markQuotaFullInTx(ctx context.Context, tx pgx.Tx, surveyID int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE surveys SET quota_full = TRUE, updated_at = NOW() WHERE id = $1`, surveyID)
	return err
}

func (p *PostgresStore) MarkSurveyQuotaFull(ctx context.Context, surveyID int64) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE surveys SET quota_full = TRUE, updated_at = NOW() WHERE id = $1`, surveyID)
	return err
}

func (p *PostgresStore) UpsertQuota(ctx context.Context, q quota.Quota) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO quotas (survey_id, country, limit_count, current_count, action_on_full, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (survey_id, country) DO UPDATE
		SET limit_count = EXCLUDED.limit_count,
		    action_on_full = EXCLUDED.action_on_full,
		    status = EXCLUDED.status`,
		q.SurveyID, q.Country, q.Limit, q.CurrentCount, q.ActionOnFull, q.Status)
	return err
}

func (p *PostgresStore) SetQuotaStatus(ctx context.Context, quotaID int64, status quota.Status) error {
	tag, err := p.pool.Exec(ctx, `UPDATE quotas SET status = $2 WHERE id = $1`, quotaID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("quota %d: %w", quotaID, survey.ErrNotFound)
	}
	return nil
}

func (p *PostgresStore) GetProgress(ctx context.Context, id int64) (*progress.Record, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, survey_id, respondent_id, status, last_status, next_question_id,
		       next_option_ids, next_row_ids, next_column_ids, created_at, updated_at
		FROM progress WHERE id = $1`, id)

	r, err := scanProgress(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("progress %d: %w", id, survey.ErrNotFound)
	}
	return r, err
}

func (p *PostgresStore) FindProgress(ctx context.Context, surveyID int64, respondentID string) (*progress.Record, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, survey_id, respondent_id, status, last_status, next_question_id,
		       next_option_ids, next_row_ids, next_column_ids, created_at, updated_at
		FROM progress WHERE survey_id = $1 AND respondent_id = $2`, surveyID, respondentID)

	r, err := scanProgress(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("progress for survey %d respondent %s: %w", surveyID, respondentID, survey.ErrNotFound)
	}
	return r, err
}

func scanProgress(row pgx.Row) (*progress.Record, error) {
	var r progress.Record
	var optionIDs, rowIDs, colIDs []byte
	if err := row.Scan(&r.ID, &r.SurveyID, &r.RespondentID, &r.Status, &r.LastStatus,
		&r.NextQuestionID, &optionIDs, &rowIDs, &colIDs, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalInto(optionIDs, &r.NextOptionIDs); err != nil {
		return nil, err
	}
	if err := unmarshalInto(rowIDs, &r.NextRowIDs); err != nil {
		return nil, err
	}
	if err := unmarshalInto(colIDs, &r.NextColumnIDs); err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *PostgresStore) CreateProgress(ctx context.Context, r *progress.Record) error {
	optionIDs, rowIDs, colIDs, err := marshalPointer(r)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	row := p.pool.QueryRow(ctx, `
		INSERT INTO progress (survey_id, respondent_id, status, last_status, next_question_id,
		                      next_option_ids, next_row_ids, next_column_ids, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING id`,
		r.SurveyID, r.RespondentID, r.Status, r.LastStatus, r.NextQuestionID,
		optionIDs, rowIDs, colIDs, now)
	if err := row.Scan(&r.ID); err != nil {
		return err
	}
	r.CreatedAt = now
	r.UpdatedAt = now
	return nil
}

func (p *PostgresStore) UpdateProgress(ctx context.Context, r *progress.Record) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := updateProgressInTx(ctx, tx, r); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func updateProgressInTx(ctx context.Context, tx pgx.Tx, r *progress.Record) error {
	optionIDs, rowIDs, colIDs, err := marshalPointer(r)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		UPDATE progress
		SET status = $2, last_status = $3, next_question_id = $4,
		    next_option_ids = $5, next_row_ids = $6, next_column_ids = $7, updated_at = $8
		WHERE id = $1`,
		r.ID, r.Status, r.LastStatus, r.NextQuestionID, optionIDs, rowIDs, colIDs, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("progress %d: %w", r.ID, survey.ErrNotFound)
	}
	r.UpdatedAt = now
	return nil
}

// swapProgressPointerInTx writes the new progress state only if the stored
// pointer still equals the question being answered. Zero rows affected means
// a concurrent submission already advanced the pointer.
func swapProgressPointerInTx(ctx context.Context, tx pgx.Tx, r *progress.Record, expectedQuestionID int64) error {
	optionIDs, rowIDs, colIDs, err := marshalPointer(r)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		UPDATE progress
		SET status = $2, last_status = $3, next_question_id = $4,
		    next_option_ids = $5, next_row_ids = $6, next_column_ids = $7, updated_at = $8
		WHERE id = $1 AND next_question_id = $9`,
		r.ID, r.Status, r.LastStatus, r.NextQuestionID, optionIDs, rowIDs, colIDs, now, expectedQuestionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: progress %d no longer expects question %d",
			progress.ErrStalePointer, r.ID, expectedQuestionID)
	}
	r.UpdatedAt = now
	return nil
}

// CommitSubmission runs the progress pointer swap, the answer
// supersede-and-insert, and the quota admission (when requested) in one
// transaction. A quota rejection rolls everything back and surfaces
// progress.ErrQuotaExhausted; a pointer another submission has already
// advanced past surfaces progress.ErrStalePointer.
func (p *PostgresStore) CommitSubmission(ctx context.Context, c progress.Commit) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Compare-and-swap on the stored pointer first: a stale duplicate must
	// fail here, before it can touch answers or consume a quota slot.
	rec := c.Progress
	if err := swapProgressPointerInTx(ctx, tx, &rec, c.Answer.QuestionID); err != nil {
		return err
	}

	if c.AdmitQuota {
		d, err := p.admitInTx(ctx, tx, c.Answer.SurveyID, c.Country)
		if err != nil {
			return err
		}
		if !d.Allowed {
			_ = tx.Rollback(ctx)
			// The close-survey side effect must survive the rollback.
			if d.CloseSurvey {
				if err := p.MarkSurveyQuotaFull(ctx, c.Answer.SurveyID); err != nil {
					return err
				}
			}
			return fmt.Errorf("%s: %w", d.Message, progress.ErrQuotaExhausted)
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE answers SET is_last = FALSE
		WHERE respondent_id = $1 AND survey_id = $2 AND question_id = $3 AND is_last`,
		c.Answer.RespondentID, c.Answer.SurveyID, c.Answer.QuestionID); err != nil {
		return err
	}

	optionIDs, err := marshalOrNil(c.Answer.OptionIDs)
	if err != nil {
		return err
	}
	optionValues, err := marshalOrNil(c.Answer.OptionValues)
	if err != nil {
		return err
	}
	inputRows, err := marshalOrNil(c.Answer.InputRows)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO answers (id, survey_id, question_id, respondent_id, variable,
		                     option_ids, option_values, input, input_rows, is_last, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, NOW())`,
		c.Answer.ID, c.Answer.SurveyID, c.Answer.QuestionID, c.Answer.RespondentID, c.Answer.Variable,
		optionIDs, optionValues, []byte(c.Answer.Input), inputRows); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Close closes the database connection pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

func unmarshalInto(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func marshalOrNil(v any) ([]byte, error) {
	switch t := v.(type) {
	case []string:
		if len(t) == 0 {
			return nil, nil
		}
	case map[string]string:
		if len(t) == 0 {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func marshalPointer(r *progress.Record) (optionIDs, rowIDs, colIDs []byte, err error) {
	if optionIDs, err = marshalOrNil(r.NextOptionIDs); err != nil {
		return
	}
	if rowIDs, err = marshalOrNil(r.NextRowIDs); err != nil {
		return
	}
	colIDs, err = marshalOrNil(r.NextColumnIDs)
	return
}
