package domain

import "time"

type User struct {
	ID        string    `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	FirstName string    `json:"first_name" db:"first_name"`
	LastName  string    `json:"last_name" db:"last_name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Administrator наличие записи делает пользователя администратором
type Administrator struct {
	ID        int64     `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// WorkHistory запись журнала операций
type WorkHistory struct {
	ID            int64         `json:"id" db:"id"`
	UserID        string        `json:"user_id" db:"user_id"`
	OperationType OperationType `json:"operation_type" db:"operation_type"`
	Path          string        `json:"path" db:"path"`
	Time          time.Time     `json:"time" db:"occurred_at"`
}

// OperationType тип операции в журнале
type OperationType string

const (
	OperationUpload       OperationType = "UPLOAD"
	OperationCreateFolder OperationType = "CREATE_FOLDER"
	OperationDelete       OperationType = "DELETE"
	OperationRestore      OperationType = "RESTORE"
	OperationPurge        OperationType = "PURGE"
)
