// Package auth turns an authenticated user id into the principal the engine works with.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"groupdrive/internal/domain"
	"groupdrive/internal/repository"
)

// Resolver пользователи и администраторы. Администратор определяется наличием записи в administrators.
type Resolver struct {
	users    *repository.UserRepository
	admins   *repository.AdminRepository
	validate *validator.Validate
	now      func() time.Time
}

func NewResolver(users *repository.UserRepository, admins *repository.AdminRepository) *Resolver {
	return &Resolver{
		users:    users,
		admins:   admins,
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CurrentUser принципал для userID. ErrNotFound, если пользователь удалён.
func (r *Resolver) CurrentUser(ctx context.Context, userID string) (*domain.CurrentUser, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}
	user, err := r.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	isAdmin, err := r.admins.IsAdmin(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &domain.CurrentUser{ID: user.ID, Email: user.Email, IsAdmin: isAdmin}, nil
}

// Register создаёт пользователя с новым идентификатором
func (r *Resolver) Register(ctx context.Context, email, firstName, lastName string) (*domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := r.validate.Var(email, "required,email"); err != nil {
		return nil, fmt.Errorf("%w: invalid email %q", domain.ErrInvalidArgument, email)
	}
	user := &domain.User{
		ID:        uuid.NewString(),
		Email:     email,
		FirstName: strings.TrimSpace(firstName),
		LastName:  strings.TrimSpace(lastName),
		CreatedAt: r.now(),
	}
	if err := r.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// GrantAdmin делает пользователя администратором
func (r *Resolver) GrantAdmin(ctx context.Context, userID string) error {
	if _, err := r.users.GetByID(ctx, userID); err != nil {
		return err
	}
	return r.admins.Grant(ctx, userID, r.now())
}

// RevokeAdmin снимает права администратора
func (r *Resolver) RevokeAdmin(ctx context.Context, userID string) error {
	return r.admins.Revoke(ctx, userID)
}

// UsersByIDs пользователи по списку идентификаторов; пустые значения и повторы отбрасываются,
// отсутствующие пользователи пропускаются
func (r *Resolver) UsersByIDs(ctx context.Context, userIDs []string) ([]domain.User, error) {
	seen := make(map[string]bool)
	users := make([]domain.User, 0, len(userIDs))
	for _, id := range userIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		user, err := r.users.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		users = append(users, *user)
	}
	return users, nil
}
