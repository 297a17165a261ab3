package repository

import (
	"context"
	"database/sql"
	"fmt"

	"tle_zone_judge/internal/domain/model"
)

type SubmissionRepository interface {
	// CreateSubmission inserts the row; submissions are never updated afterwards.
	CreateSubmission(ctx context.Context, tx *sql.Tx, sub *model.Submission) error
	// HasAcceptedSubmission reports whether the pair already has an Accepted row visible to tx.
	HasAcceptedSubmission(ctx context.Context, tx *sql.Tx, userID, problemID string) (bool, error)

	// For code history
	GetSubmissionsForUserProblem(ctx context.Context, userID, problemID string, limit, offset int) ([]model.Submission, int, error)
}

type pgSubmissionRepository struct {
	db *sql.DB
}

func NewPgSubmissionRepository(db *sql.DB) SubmissionRepository {
	return &pgSubmissionRepository{db: db}
}

func (r *pgSubmissionRepository) CreateSubmission(ctx context.Context, tx *sql.Tx, s *model.Submission) error {
	query := `INSERT INTO submissions (id, user_id, problem_id, language, code, status, execution_time_ms, memory_kb)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	          RETURNING submitted_at`

	var row *sql.Row
	if tx != nil {
		row = tx.QueryRowContext(ctx, query, s.ID, s.UserID, s.ProblemID, s.Language, s.Code, s.Status, s.ExecutionTimeMs, s.MemoryKb)
	} else {
		row = r.db.QueryRowContext(ctx, query, s.ID, s.UserID, s.ProblemID, s.Language, s.Code, s.Status, s.ExecutionTimeMs, s.MemoryKb)
	}
	if err := row.Scan(&s.SubmittedAt); err != nil {
		return fmt.Errorf("pgSubmissionRepository.CreateSubmission: %w", err)
	}
	return nil
}

func (r *pgSubmissionRepository) HasAcceptedSubmission(ctx context.Context, tx *sql.Tx, userID, problemID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM submissions WHERE user_id = $1 AND problem_id = $2 AND status = $3)`

	var exists bool
	var err error
	if tx != nil {
		err = tx.QueryRowContext(ctx, query, userID, problemID, model.StatusAccepted).Scan(&exists)
	} else {
		err = r.db.QueryRowContext(ctx, query, userID, problemID, model.StatusAccepted).Scan(&exists)
	}
	if err != nil {
		return false, fmt.Errorf("pgSubmissionRepository.HasAcceptedSubmission: %w", err)
	}
	return exists, nil
}

func (r *pgSubmissionRepository) GetSubmissionsForUserProblem(ctx context.Context, userID, problemID string, limit, offset int) ([]model.Submission, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM submissions WHERE user_id = $1 AND problem_id = $2`, userID, problemID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("pgSubmissionRepository.GetSubmissionsForUserProblem count: %w", err)
	}

	query := `SELECT id, user_id, problem_id, language, code, status, execution_time_ms, memory_kb, submitted_at
	          FROM submissions WHERE user_id = $1 AND problem_id = $2
	          ORDER BY submitted_at DESC LIMIT $3 OFFSET $4`
	rows, err := r.db.QueryContext(ctx, query, userID, problemID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("pgSubmissionRepository.GetSubmissionsForUserProblem query: %w", err)
	}
	defer rows.Close()

	subs := []model.Submission{}
	for rows.Next() {
		var s model.Submission
		if err := rows.Scan(&s.ID, &s.UserID, &s.ProblemID, &s.Language, &s.Code, &s.Status, &s.ExecutionTimeMs, &s.MemoryKb, &s.SubmittedAt); err != nil {
			return nil, 0, fmt.Errorf("pgSubmissionRepository.GetSubmissionsForUserProblem scan: %w", err)
		}
		subs = append(subs, s)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgSubmissionRepository.GetSubmissionsForUserProblem rows.Err: %w", err)
	}
	return subs, total, nil
}
