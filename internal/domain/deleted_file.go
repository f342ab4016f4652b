package domain

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// ShadowPrefix префикс путей теневого дерева удалённых файлов в метаданных
const ShadowPrefix = "deleted_files"

// RecoveredPrefix папка, куда восстанавливаются файлы с удалённым родителем
const RecoveredPrefix = "recovered"

// DeletedFile запись журнала удалений, связана с теневой записью file_metadata
type DeletedFile struct {
	ID             uuid.UUID `json:"id" db:"id"`
	FileMetadataID int64     `json:"file_metadata_id" db:"file_metadata_id"`
	OriginalPath   string    `json:"original_path" db:"original_path"`
	Version        int       `json:"version" db:"version"`
	WorkTime       time.Time `json:"work_time" db:"work_time"`
}

// TrashItem элемент корзины для отображения
type TrashItem struct {
	ID           uuid.UUID      `json:"id" db:"id"`
	OriginalPath string         `json:"original_path" db:"original_path"`
	ShadowPath   string         `json:"shadow_path" db:"shadow_path"`
	Version      int            `json:"version" db:"version"`
	OwnerID      sql.NullString `json:"owner_id" db:"user_id"`
	GroupID      sql.NullInt64  `json:"group_id" db:"group_id"`
	Mode         AccessMode     `json:"mode" db:"mode"`
	DeletedAt    time.Time      `json:"deleted_at" db:"work_time"`
	ExpiresAt    time.Time      `json:"expires_at" db:"-"`
}

// TrashSettings настройки хранения корзины для пользователя
type TrashSettings struct {
	OwnerID          string    `json:"owner_id" db:"owner_id"`
	RetentionSeconds int64     `json:"retention_seconds" db:"retention_seconds"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

func (s TrashSettings) RetentionPeriod() time.Duration {
	return time.Duration(s.RetentionSeconds) * time.Second
}
