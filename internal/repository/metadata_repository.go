package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"groupdrive/internal/domain"
)

const metadataColumns = `id, path, user_id, group_id, mode, created_at`

// MetadataRepository хранит записи-переопределения file_metadata и directory_metadata
type MetadataRepository struct {
	db *sqlx.DB
}

func NewMetadataRepository(db *sqlx.DB) *MetadataRepository {
	return &MetadataRepository{db: db}
}

// ListByPath все записи на пути; пользовательские раньше групповых
func (r *MetadataRepository) ListByPath(ctx context.Context, kind domain.MetadataKind, path string) ([]domain.Metadata, error) {
	return r.listByPath(ctx, r.db, kind, path)
}

func (r *MetadataRepository) ListByPathTx(ctx context.Context, tx *sqlx.Tx, kind domain.MetadataKind, path string) ([]domain.Metadata, error) {
	return r.listByPath(ctx, tx, kind, path)
}

func (r *MetadataRepository) listByPath(ctx context.Context, q sqlx.ExtContext, kind domain.MetadataKind, path string) ([]domain.Metadata, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE path = ? ORDER BY CASE WHEN user_id IS NULL THEN 1 ELSE 0 END, id`,
		metadataColumns, kind.Table())
	var rows []domain.Metadata
	if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), path); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind.Table(), err)
	}
	return withKind(rows, kind), nil
}

// ListForSubjects записи обеих таблиц, относящиеся к пользователю или его группам
func (r *MetadataRepository) ListForSubjects(ctx context.Context, userID string, groupIDs []int64) ([]domain.Metadata, error) {
	var all []domain.Metadata
	for _, kind := range []domain.MetadataKind{domain.KindDirectory, domain.KindFile} {
		query := fmt.Sprintf(`SELECT %s FROM %s WHERE user_id = ?`, metadataColumns, kind.Table())
		args := []interface{}{userID}
		if len(groupIDs) > 0 {
			in, inArgs, err := sqlx.In(` OR (user_id IS NULL AND group_id IN (?))`, groupIDs)
			if err != nil {
				return nil, fmt.Errorf("failed to build query: %w", err)
			}
			query += in
			args = append(args, inArgs...)
		}
		var rows []domain.Metadata
		if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", kind.Table(), err)
		}
		all = append(all, withKind(rows, kind)...)
	}
	return all, nil
}

func (r *MetadataRepository) GetByID(ctx context.Context, kind domain.MetadataKind, id int64) (*domain.Metadata, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, metadataColumns, kind.Table())
	return r.getOne(ctx, r.db, kind, query, id)
}

// Upsert заменяет запись того же субъекта на том же пути
func (r *MetadataRepository) Upsert(ctx context.Context, m *domain.Metadata) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := r.CreateTx(ctx, tx, m, true); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CreateTx вставляет запись. replace удаляет прежнюю запись того же субъекта на этом пути.
func (r *MetadataRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, m *domain.Metadata, replace bool) error {
	if !m.Kind.Valid() {
		return fmt.Errorf("%w: unknown metadata kind %q", domain.ErrInvalidArgument, m.Kind)
	}
	if !m.HasSubject() {
		return fmt.Errorf("%w: metadata row needs a user or a group", domain.ErrInvalidArgument)
	}
	if len(m.Path) > domain.MaxPathLength {
		return fmt.Errorf("%w: path longer than %d characters", domain.ErrInvalidArgument, domain.MaxPathLength)
	}
	if !m.Mode.Valid() {
		return fmt.Errorf("%w: invalid mode %d", domain.ErrInvalidArgument, m.Mode)
	}

	if replace {
		if _, err := r.deleteSubject(ctx, tx, m.Kind, m.Path, m.UserID, m.GroupID); err != nil {
			return err
		}
	}

	query := tx.Rebind(fmt.Sprintf(`
        INSERT INTO %s (path, user_id, group_id, mode, created_at)
        VALUES (?, ?, ?, ?, ?)
        RETURNING id`, m.Kind.Table()))
	if err := tx.QueryRowxContext(ctx, query, m.Path, m.UserID, m.GroupID, m.Mode, m.CreatedAt).Scan(&m.ID); err != nil {
		return fmt.Errorf("failed to create %s: %w", m.Kind.Table(), err)
	}
	return nil
}

// DeleteSubject удаляет запись субъекта на пути. Возвращает false, если записи не было.
func (r *MetadataRepository) DeleteSubject(ctx context.Context, kind domain.MetadataKind, path string, userID sql.NullString, groupID sql.NullInt64) (bool, error) {
	n, err := r.deleteSubject(ctx, r.db, kind, path, userID, groupID)
	return n > 0, err
}

func (r *MetadataRepository) deleteSubject(ctx context.Context, q sqlx.ExtContext, kind domain.MetadataKind, path string, userID sql.NullString, groupID sql.NullInt64) (int64, error) {
	var (
		query string
		args  []interface{}
	)
	if userID.Valid {
		query = fmt.Sprintf(`DELETE FROM %s WHERE path = ? AND user_id = ?`, kind.Table())
		args = []interface{}{path, userID.String}
	} else {
		query = fmt.Sprintf(`DELETE FROM %s WHERE path = ? AND user_id IS NULL AND group_id = ?`, kind.Table())
		args = []interface{}{path, groupID.Int64}
	}
	result, err := q.ExecContext(ctx, q.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s: %w", kind.Table(), err)
	}
	return result.RowsAffected()
}

// DeleteByPathTx удаляет все записи на пути
func (r *MetadataRepository) DeleteByPathTx(ctx context.Context, tx *sqlx.Tx, kind domain.MetadataKind, path string) error {
	query := tx.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE path = ?`, kind.Table()))
	if _, err := tx.ExecContext(ctx, query, path); err != nil {
		return fmt.Errorf("failed to delete %s: %w", kind.Table(), err)
	}
	return nil
}

func (r *MetadataRepository) DeleteByIDTx(ctx context.Context, tx *sqlx.Tx, kind domain.MetadataKind, id int64) error {
	query := tx.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, kind.Table()))
	if _, err := tx.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete %s: %w", kind.Table(), err)
	}
	return nil
}

// DeleteTreeTx удаляет записи на пути prefix и под ним
func (r *MetadataRepository) DeleteTreeTx(ctx context.Context, tx *sqlx.Tx, kind domain.MetadataKind, prefix string) (int64, error) {
	query := tx.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE path = ? OR path LIKE ? ESCAPE '\'`, kind.Table()))
	result, err := tx.ExecContext(ctx, query, prefix, escapeLike(prefix)+"/%")
	if err != nil {
		return 0, fmt.Errorf("failed to purge %s: %w", kind.Table(), err)
	}
	return result.RowsAffected()
}

// ListPathsWithPrefixTx пути записей, начинающиеся с prefix
func (r *MetadataRepository) ListPathsWithPrefixTx(ctx context.Context, tx *sqlx.Tx, kind domain.MetadataKind, prefix string) ([]string, error) {
	query := tx.Rebind(fmt.Sprintf(`SELECT DISTINCT path FROM %s WHERE path LIKE ? ESCAPE '\'`, kind.Table()))
	var paths []string
	if err := tx.SelectContext(ctx, &paths, query, escapeLike(prefix)+"%"); err != nil {
		return nil, fmt.Errorf("failed to list %s paths: %w", kind.Table(), err)
	}
	return paths, nil
}

func (r *MetadataRepository) getOne(ctx context.Context, q sqlx.ExtContext, kind domain.MetadataKind, query string, args ...interface{}) (*domain.Metadata, error) {
	var m domain.Metadata
	if err := sqlx.GetContext(ctx, q, &m, q.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s row", domain.ErrNotFound, kind.Table())
		}
		return nil, fmt.Errorf("failed to get %s: %w", kind.Table(), err)
	}
	m.Kind = kind
	return &m, nil
}

func withKind(rows []domain.Metadata, kind domain.MetadataKind) []domain.Metadata {
	for i := range rows {
		rows[i].Kind = kind
	}
	return rows
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
