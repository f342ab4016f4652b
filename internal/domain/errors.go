package domain

import (
	"errors"
	"fmt"
)

// Ошибки движка. Клиентские ошибки, ошибки доступа и внутренние ошибки различаются по KindOf.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("already exists")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrForbidden       = errors.New("access denied")
	ErrInternal        = errors.New("internal error")

	ErrSandboxViolation = fmt.Errorf("%w: path escapes storage root", ErrForbidden)
	ErrProtectedPath    = fmt.Errorf("%w: protected system folder", ErrForbidden)
)

// ErrorKind категория ошибки, видимая снаружи
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindClient
	KindForbidden
)

func (k ErrorKind) String() string {
	switch k {
	case KindClient:
		return "client"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

// KindOf классифицирует цепочку ошибок. Неизвестные ошибки считаются внутренними.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrInternal):
		return KindInternal
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidArgument):
		return KindClient
	default:
		return KindInternal
	}
}

// Internal помечает ошибку как внутреннюю, сохраняя исходную причину
func Internal(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInternal, op, err)
}
