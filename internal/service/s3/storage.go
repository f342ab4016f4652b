package s3

import (
	"context"
	"io"
)

// Object объект бакета вместе с содержимым. Body закрывает вызывающий.
type Object struct {
	Key         string
	Size        int64
	ContentType string
	Metadata    map[string]string
	Body        io.ReadCloser
}

// PutOptions атрибуты загружаемого объекта
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// ObjectStore операции бакета, нужные архиву корзины
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, opts PutOptions) error
	Get(ctx context.Context, key string) (*Object, error)
	Delete(ctx context.Context, key string) error
}

var _ ObjectStore = (*Client)(nil)
