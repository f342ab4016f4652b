package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"groupdrive/internal/domain"
)

type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create добавляет пользователя. Занятый email даёт ErrConflict.
func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	if _, err := r.GetByEmail(ctx, user.Email); err == nil {
		return fmt.Errorf("%w: user with email %s", domain.ErrConflict, user.Email)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	query := r.db.Rebind(`
        INSERT INTO users (id, email, first_name, last_name, created_at)
        VALUES (?, ?, ?, ?, ?)`)
	if _, err := r.db.ExecContext(ctx, query, user.ID, user.Email, user.FirstName, user.LastName, user.CreatedAt); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	query := r.db.Rebind(`SELECT id, email, first_name, last_name, created_at FROM users WHERE id = ?`)
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	query := r.db.Rebind(`SELECT id, email, first_name, last_name, created_at FROM users WHERE email = ?`)
	if err := r.db.GetContext(ctx, &user, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: user with email %s", domain.ErrNotFound, email)
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return &user, nil
}

// AdminRepository управляет записями administrators
type AdminRepository struct {
	db *sqlx.DB
}

func NewAdminRepository(db *sqlx.DB) *AdminRepository {
	return &AdminRepository{db: db}
}

// Grant делает пользователя администратором. Повторный вызов ничего не меняет.
func (r *AdminRepository) Grant(ctx context.Context, userID string, at time.Time) error {
	query := r.db.Rebind(`
        INSERT INTO administrators (user_id, created_at) VALUES (?, ?)
        ON CONFLICT (user_id) DO NOTHING`)
	if _, err := r.db.ExecContext(ctx, query, userID, at); err != nil {
		return fmt.Errorf("failed to grant admin: %w", err)
	}
	return nil
}

func (r *AdminRepository) Revoke(ctx context.Context, userID string) error {
	query := r.db.Rebind(`DELETE FROM administrators WHERE user_id = ?`)
	result, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke admin: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: user %s is not an administrator", domain.ErrNotFound, userID)
	}
	return nil
}

func (r *AdminRepository) IsAdmin(ctx context.Context, userID string) (bool, error) {
	var n int
	query := r.db.Rebind(`SELECT COUNT(*) FROM administrators WHERE user_id = ?`)
	if err := r.db.GetContext(ctx, &n, query, userID); err != nil {
		return false, fmt.Errorf("failed to check admin: %w", err)
	}
	return n > 0, nil
}
