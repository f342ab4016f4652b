package domain

import (
	"database/sql"
	"time"
)

// MaxPathLength ограничение длины пути в записях метаданных
const MaxPathLength = 4096

// MetadataKind различает FileMetadata и DirectoryMetadata
type MetadataKind string

const (
	KindFile      MetadataKind = "file"
	KindDirectory MetadataKind = "directory"
)

// Table имя таблицы для данного вида метаданных
func (k MetadataKind) Table() string {
	if k == KindDirectory {
		return "directory_metadata"
	}
	return "file_metadata"
}

func (k MetadataKind) Valid() bool {
	return k == KindFile || k == KindDirectory
}

// Metadata запись-переопределение прав на точный путь. Задан хотя бы один из UserID/GroupID.
type Metadata struct {
	ID        int64          `json:"id" db:"id"`
	Kind      MetadataKind   `json:"kind" db:"-"`
	Path      string         `json:"path" db:"path"`
	UserID    sql.NullString `json:"user_id" db:"user_id"`
	GroupID   sql.NullInt64  `json:"group_id" db:"group_id"`
	Mode      AccessMode     `json:"mode" db:"mode"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// HasSubject проверяет инвариант "пользователь или группа"
func (m Metadata) HasSubject() bool {
	return m.UserID.Valid || m.GroupID.Valid
}
