package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"groupdrive/internal/domain"
)

// WorkHistoryRepository журнал операций, только добавление
type WorkHistoryRepository struct {
	db *sqlx.DB
}

func NewWorkHistoryRepository(db *sqlx.DB) *WorkHistoryRepository {
	return &WorkHistoryRepository{db: db}
}

func (r *WorkHistoryRepository) Append(ctx context.Context, entry *domain.WorkHistory) error {
	return appendHistory(ctx, r.db, entry)
}

func (r *WorkHistoryRepository) AppendTx(ctx context.Context, tx *sqlx.Tx, entry *domain.WorkHistory) error {
	return appendHistory(ctx, tx, entry)
}

func appendHistory(ctx context.Context, q sqlx.ExtContext, entry *domain.WorkHistory) error {
	query := q.Rebind(`
        INSERT INTO work_history (user_id, operation_type, path, occurred_at)
        VALUES (?, ?, ?, ?)
        RETURNING id`)
	if err := q.QueryRowxContext(ctx, query, entry.UserID, entry.OperationType, entry.Path, entry.Time).Scan(&entry.ID); err != nil {
		return fmt.Errorf("failed to append work history: %w", err)
	}
	return nil
}

// ListByUser последние записи пользователя
func (r *WorkHistoryRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.WorkHistory, error) {
	var entries []domain.WorkHistory
	query := r.db.Rebind(`
        SELECT id, user_id, operation_type, path, occurred_at
        FROM work_history WHERE user_id = ?
        ORDER BY occurred_at DESC, id DESC
        LIMIT ?`)
	if err := r.db.SelectContext(ctx, &entries, query, userID, limit); err != nil {
		return nil, fmt.Errorf("failed to list work history: %w", err)
	}
	return entries, nil
}
