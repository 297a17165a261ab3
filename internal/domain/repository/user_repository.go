package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tle_zone_judge/internal/common"
	"tle_zone_judge/internal/domain/model"

	"github.com/jackc/pgx/v5/pgconn"
)

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	FindByID(ctx context.Context, id string) (*model.User, error)

	// LockForXP takes the row lock that serializes XP awards for one user until tx ends.
	LockForXP(ctx context.Context, tx *sql.Tx, userID string) (*model.UserXP, error)
	// AddXP increments durable XP and returns the new total.
	AddXP(ctx context.Context, tx *sql.Tx, userID string, points int) (int, error)
	// ListXP returns users with XP ordered by XP descending; limit <= 0 returns everyone.
	ListXP(ctx context.Context, limit int) ([]model.UserXP, error)
}

type pgUserRepository struct {
	db *sql.DB
}

func NewPgUserRepository(db *sql.DB) UserRepository {
	return &pgUserRepository{db: db}
}

func (r *pgUserRepository) Create(ctx context.Context, user *model.User) error {
	query := `INSERT INTO users (id, username, email, hashed_password, role)
	          VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.ExecContext(ctx, query, user.ID, user.Username, user.Email, user.HashedPassword, user.Role)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // Unique constraint violation
			return fmt.Errorf("user with given username or email already exists: %w", common.ErrConflict)
		}
		return fmt.Errorf("pgUserRepository.Create: %w", err)
	}
	return nil
}

func (r *pgUserRepository) findOne(ctx context.Context, column, value, caller string) (*model.User, error) {
	query := `SELECT id, username, email, hashed_password, role, xp, created_at, updated_at
	          FROM users WHERE ` + column + ` = $1`
	user := &model.User{}
	err := r.db.QueryRowContext(ctx, query, value).Scan(
		&user.ID, &user.Username, &user.Email, &user.HashedPassword, &user.Role, &user.XP, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgUserRepository.%s: %w", caller, err)
	}
	return user, nil
}

func (r *pgUserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, "email", email, "FindByEmail")
}

func (r *pgUserRepository) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.findOne(ctx, "username", username, "FindByUsername")
}

func (r *pgUserRepository) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, "id", id, "FindByID")
}

func (r *pgUserRepository) LockForXP(ctx context.Context, tx *sql.Tx, userID string) (*model.UserXP, error) {
	if tx == nil {
		return nil, fmt.Errorf("pgUserRepository.LockForXP: transaction required")
	}
	u := &model.UserXP{}
	err := tx.QueryRowContext(ctx, `SELECT username, xp FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&u.Username, &u.XP)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", userID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("pgUserRepository.LockForXP: %w", err)
	}
	return u, nil
}

func (r *pgUserRepository) AddXP(ctx context.Context, tx *sql.Tx, userID string, points int) (int, error) {
	query := `UPDATE users SET xp = xp + $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2 RETURNING xp`

	var total int
	var err error
	if tx != nil {
		err = tx.QueryRowContext(ctx, query, points, userID).Scan(&total)
	} else {
		err = r.db.QueryRowContext(ctx, query, points, userID).Scan(&total)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("user %s: %w", userID, common.ErrNotFound)
		}
		return 0, fmt.Errorf("pgUserRepository.AddXP: %w", err)
	}
	return total, nil
}

func (r *pgUserRepository) ListXP(ctx context.Context, limit int) ([]model.UserXP, error) {
	query := `SELECT username, xp FROM users WHERE xp > 0 ORDER BY xp DESC, username ASC`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+` LIMIT $1`, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("pgUserRepository.ListXP query: %w", err)
	}
	defer rows.Close()

	out := []model.UserXP{}
	for rows.Next() {
		var u model.UserXP
		if err := rows.Scan(&u.Username, &u.XP); err != nil {
			return nil, fmt.Errorf("pgUserRepository.ListXP scan: %w", err)
		}
		out = append(out, u)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("pgUserRepository.ListXP rows.Err: %w", err)
	}
	return out, nil
}
