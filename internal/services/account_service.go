package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/talkbridge/backend/internal/models"
)

// AccountService reads and updates profile fields. It never writes credits.
type AccountService struct {
	db *sql.DB
}

func NewAccountService(db *sql.DB) *AccountService {
	return &AccountService{db: db}
}

func (s *AccountService) GetAccount(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	var fullName, bio sql.NullString
	var isActive sql.NullBool
	var lastLogin sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, full_name, bio, language, credits, is_active, last_login, created_at
		FROM users
		WHERE id = $1`, id).Scan(&u.ID, &u.Username, &u.Email, &fullName, &bio, &u.Language, &u.Credits, &isActive, &lastLogin, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, storeError("get account", err)
	}
	u.FullName = fullName.String
	u.Bio = bio.String
	u.IsActive = !isActive.Valid || isActive.Bool
	if lastLogin.Valid {
		u.LastLogin = &lastLogin.Time
	}
	return &u, nil
}

// UpdateAccount applies the non-nil fields of update.
func (s *AccountService) UpdateAccount(ctx context.Context, id int64, update models.UserUpdate) (*models.User, error) {
	var sets []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.FullName != nil {
		add("full_name", *update.FullName)
	}
	if update.Bio != nil {
		add("bio", *update.Bio)
	}
	if update.Language != nil {
		add("language", *update.Language)
	}
	if len(sets) == 0 {
		return s.GetAccount(ctx, id)
	}
	add("updated_at", time.Now())
	args = append(args, id)

	query := fmt.Sprintf("UPDATE users SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("update account", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	return s.GetAccount(ctx, id)
}
