package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"

	"schat-service/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

const userColumns = `id, display_name, handle, is_online, last_seen, is_ai, created_at`

// UserRepository abstracts user lookups and presence flags.
type UserRepository interface {
	GetUser(ctx context.Context, userID int) (models.User, error)
	GetUserByHandle(ctx context.Context, handle string) (models.User, error)
	GetAIUser(ctx context.Context) (models.User, error)
	UpdateUserOnlineStatus(ctx context.Context, userID int, online bool) error
	EnsureAIUser(ctx context.Context, displayName, handle string) (models.User, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// GetUser fetches a user by id.
func (r *UserRepo) GetUser(ctx context.Context, userID int) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// GetUserByHandle fetches a user by public handle, case-insensitively.
func (r *UserRepo) GetUserByHandle(ctx context.Context, handle string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE UPPER(handle)=UPPER($1)`, strings.TrimSpace(handle))
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// GetAIUser returns the assistant account.
func (r *UserRepo) GetAIUser(ctx context.Context) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE is_ai LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// UpdateUserOnlineStatus flips the online flag; going offline also stamps last_seen.
func (r *UserRepo) UpdateUserOnlineStatus(ctx context.Context, userID int, online bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET is_online=$2,
        last_seen = CASE WHEN $2 THEN last_seen ELSE NOW() END
        WHERE id=$1`, userID, online)
	return err
}

// EnsureAIUser returns the assistant account, creating it on first start.
func (r *UserRepo) EnsureAIUser(ctx context.Context, displayName, handle string) (models.User, error) {
	user, err := r.GetAIUser(ctx)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return models.User{}, err
	}

	err = r.db.QueryRowxContext(ctx, `INSERT INTO users (display_name, handle, is_online, is_ai)
        VALUES ($1, $2, TRUE, TRUE)
        ON CONFLICT DO NOTHING
        RETURNING `+userColumns, displayName, handle).StructScan(&user)
	if errors.Is(err, sql.ErrNoRows) {
		// lost a race with another instance
		return r.GetAIUser(ctx)
	}
	return user, err
}
