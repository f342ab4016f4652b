package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"groupdrive/internal/domain"
)

// TrashRepository журнал удалённых файлов и настройки хранения корзины
type TrashRepository struct {
	db *sqlx.DB
}

func NewTrashRepository(db *sqlx.DB) *TrashRepository {
	return &TrashRepository{db: db}
}

// BeginTx начинает транзакцию, общую для журнала, метаданных и истории
func (r *TrashRepository) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, nil)
}

// MaxVersionTx наибольшая версия удалений для исходного пути, 0 если удалений не было
func (r *TrashRepository) MaxVersionTx(ctx context.Context, tx *sqlx.Tx, originalPath string) (int, error) {
	var version int
	query := tx.Rebind(`SELECT COALESCE(MAX(version), 0) FROM deleted_files WHERE original_path = ?`)
	if err := tx.GetContext(ctx, &version, query, originalPath); err != nil {
		return 0, fmt.Errorf("failed to get max deleted version: %w", err)
	}
	return version, nil
}

func (r *TrashRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, record *domain.DeletedFile) error {
	query := tx.Rebind(`
        INSERT INTO deleted_files (id, file_metadata_id, original_path, version, work_time)
        VALUES (?, ?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, query, record.ID, record.FileMetadataID, record.OriginalPath, record.Version, record.WorkTime); err != nil {
		return fmt.Errorf("failed to create deleted file record: %w", err)
	}
	return nil
}

func (r *TrashRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.DeletedFile, error) {
	return r.getByID(ctx, r.db, id)
}

func (r *TrashRepository) getByID(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) (*domain.DeletedFile, error) {
	var record domain.DeletedFile
	query := q.Rebind(`
        SELECT id, file_metadata_id, original_path, version, work_time
        FROM deleted_files WHERE id = ?`)
	if err := sqlx.GetContext(ctx, q, &record, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: deleted file record %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get deleted file record: %w", err)
	}
	return &record, nil
}

func (r *TrashRepository) DeleteTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	result, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM deleted_files WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete deleted file record: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: deleted file record %s", domain.ErrNotFound, id)
	}
	return nil
}

// ListItems элементы корзины, новые первыми. Без фильтра по субъекту возвращает всё.
func (r *TrashRepository) ListItems(ctx context.Context, userID string, groupIDs []int64, all bool) ([]domain.TrashItem, error) {
	query := `
        SELECT d.id, d.original_path, d.version, d.work_time,
               m.path AS shadow_path, m.user_id, m.group_id, m.mode
        FROM deleted_files d
        JOIN file_metadata m ON m.id = d.file_metadata_id`
	var args []interface{}
	if !all {
		query += ` WHERE m.user_id = ?`
		args = append(args, userID)
		if len(groupIDs) > 0 {
			in, inArgs, err := sqlx.In(` OR m.group_id IN (?)`, groupIDs)
			if err != nil {
				return nil, fmt.Errorf("failed to build query: %w", err)
			}
			query += in
			args = append(args, inArgs...)
		}
	}
	query += ` ORDER BY d.work_time DESC, d.original_path, d.version DESC`

	var items []domain.TrashItem
	if err := r.db.SelectContext(ctx, &items, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get trash items: %w", err)
	}
	return items, nil
}

// GetSettings настройки владельца; ErrNotFound, если они не задавались
func (r *TrashRepository) GetSettings(ctx context.Context, ownerID string) (*domain.TrashSettings, error) {
	var settings domain.TrashSettings
	query := r.db.Rebind(`SELECT owner_id, retention_seconds, updated_at FROM trash_settings WHERE owner_id = ?`)
	if err := r.db.GetContext(ctx, &settings, query, ownerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: trash settings for %s", domain.ErrNotFound, ownerID)
		}
		return nil, fmt.Errorf("failed to get trash settings: %w", err)
	}
	return &settings, nil
}

func (r *TrashRepository) UpdateSettings(ctx context.Context, settings *domain.TrashSettings) error {
	query := r.db.Rebind(`
        INSERT INTO trash_settings (owner_id, retention_seconds, updated_at)
        VALUES (?, ?, ?)
        ON CONFLICT (owner_id) DO UPDATE
        SET retention_seconds = excluded.retention_seconds, updated_at = excluded.updated_at`)
	if _, err := r.db.ExecContext(ctx, query, settings.OwnerID, settings.RetentionSeconds, settings.UpdatedAt); err != nil {
		return fmt.Errorf("failed to update trash settings: %w", err)
	}
	return nil
}

// ListSettings настройки всех владельцев, ключ - идентификатор владельца
func (r *TrashRepository) ListSettings(ctx context.Context) (map[string]domain.TrashSettings, error) {
	var rows []domain.TrashSettings
	if err := r.db.SelectContext(ctx, &rows, `SELECT owner_id, retention_seconds, updated_at FROM trash_settings`); err != nil {
		return nil, fmt.Errorf("failed to list trash settings: %w", err)
	}
	settings := make(map[string]domain.TrashSettings, len(rows))
	for _, s := range rows {
		settings[s.OwnerID] = s
	}
	return settings, nil
}
