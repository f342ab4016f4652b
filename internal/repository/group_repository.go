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

type GroupRepository struct {
	db *sqlx.DB
}

func NewGroupRepository(db *sqlx.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// Create сохраняет группу и добавляет создателя в участники одной транзакцией
func (r *GroupRepository) Create(ctx context.Context, group *domain.Group) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.GetContext(ctx, &exists, tx.Rebind(`SELECT COUNT(*) FROM user_groups WHERE name = ?`), group.Name); err != nil {
		return fmt.Errorf("failed to check group name: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: group %s", domain.ErrConflict, group.Name)
	}

	query := tx.Rebind(`
        INSERT INTO user_groups (name, creator_id, created_at)
        VALUES (?, ?, ?)
        RETURNING id`)
	if err := tx.QueryRowxContext(ctx, query, group.Name, group.CreatorID, group.CreatedAt).Scan(&group.ID); err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}

	if err := addMember(ctx, tx, group.ID, group.CreatorID, group.CreatedAt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *GroupRepository) GetByName(ctx context.Context, name string) (*domain.Group, error) {
	var group domain.Group
	query := r.db.Rebind(`SELECT id, name, creator_id, created_at FROM user_groups WHERE name = ?`)
	if err := r.db.GetContext(ctx, &group, query, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: group %s", domain.ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return &group, nil
}

func (r *GroupRepository) GetByID(ctx context.Context, id int64) (*domain.Group, error) {
	var group domain.Group
	query := r.db.Rebind(`SELECT id, name, creator_id, created_at FROM user_groups WHERE id = ?`)
	if err := r.db.GetContext(ctx, &group, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: group %d", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return &group, nil
}

func (r *GroupRepository) List(ctx context.Context) ([]domain.Group, error) {
	var groups []domain.Group
	if err := r.db.SelectContext(ctx, &groups, `SELECT id, name, creator_id, created_at FROM user_groups ORDER BY name`); err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	return groups, nil
}

// ListByUser группы, в которых состоит пользователь
func (r *GroupRepository) ListByUser(ctx context.Context, userID string) ([]domain.Group, error) {
	var groups []domain.Group
	query := r.db.Rebind(`
        SELECT g.id, g.name, g.creator_id, g.created_at
        FROM user_groups g
        JOIN group_members m ON m.group_id = g.id
        WHERE m.user_id = ?
        ORDER BY g.name`)
	if err := r.db.SelectContext(ctx, &groups, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list user groups: %w", err)
	}
	return groups, nil
}

func (r *GroupRepository) AddMember(ctx context.Context, groupID int64, userID string, at time.Time) error {
	return addMember(ctx, r.db, groupID, userID, at)
}

func addMember(ctx context.Context, q sqlx.ExtContext, groupID int64, userID string, at time.Time) error {
	query := q.Rebind(`
        INSERT INTO group_members (group_id, user_id, added_at) VALUES (?, ?, ?)
        ON CONFLICT (group_id, user_id) DO NOTHING`)
	if _, err := q.ExecContext(ctx, query, groupID, userID, at); err != nil {
		return fmt.Errorf("failed to add group member: %w", err)
	}
	return nil
}

func (r *GroupRepository) RemoveMember(ctx context.Context, groupID int64, userID string) error {
	query := r.db.Rebind(`DELETE FROM group_members WHERE group_id = ? AND user_id = ?`)
	result, err := r.db.ExecContext(ctx, query, groupID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove group member: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: user %s is not a member of group %d", domain.ErrNotFound, userID, groupID)
	}
	return nil
}

func (r *GroupRepository) IsMember(ctx context.Context, groupID int64, userID string) (bool, error) {
	var n int
	query := r.db.Rebind(`SELECT COUNT(*) FROM group_members WHERE group_id = ? AND user_id = ?`)
	if err := r.db.GetContext(ctx, &n, query, groupID, userID); err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return n > 0, nil
}

func (r *GroupRepository) ListMembers(ctx context.Context, groupID int64) ([]string, error) {
	var ids []string
	query := r.db.Rebind(`SELECT user_id FROM group_members WHERE group_id = ? ORDER BY user_id`)
	if err := r.db.SelectContext(ctx, &ids, query, groupID); err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	return ids, nil
}
