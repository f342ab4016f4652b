package domain

import "strings"

// AccessMode битовая маска прав доступа
type AccessMode int

const (
	AccessRead AccessMode = 1 << iota
	AccessCreate
	AccessWrite
	AccessDelete

	AccessNone AccessMode = 0
	AccessAll             = AccessRead | AccessCreate | AccessWrite | AccessDelete
)

// Has проверяет, что все биты want присутствуют
func (m AccessMode) Has(want AccessMode) bool {
	return m&want == want
}

// Valid возвращает true, если маска не выходит за пределы AccessAll
func (m AccessMode) Valid() bool {
	return m >= 0 && m&^AccessAll == 0
}

func (m AccessMode) String() string {
	if m == AccessNone {
		return "NONE"
	}
	if m == AccessAll {
		return "ALL"
	}
	var parts []string
	for _, f := range []struct {
		bit  AccessMode
		name string
	}{{AccessRead, "READ"}, {AccessCreate, "CREATE"}, {AccessWrite, "WRITE"}, {AccessDelete, "DELETE"}} {
		if m&f.bit != 0 {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseAccessMode разбирает строку вида "READ|WRITE", "ALL" или "NONE"
func ParseAccessMode(s string) (AccessMode, bool) {
	var m AccessMode
	for _, part := range strings.FieldsFunc(strings.ToUpper(s), func(r rune) bool { return r == '|' || r == ',' }) {
		switch strings.TrimSpace(part) {
		case "READ":
			m |= AccessRead
		case "CREATE":
			m |= AccessCreate
		case "WRITE", "UPDATE":
			m |= AccessWrite
		case "DELETE":
			m |= AccessDelete
		case "ALL":
			m |= AccessAll
		case "NONE":
		default:
			return 0, false
		}
	}
	return m, true
}

// CurrentUser аутентифицированный пользователь, от имени которого вызывается движок
type CurrentUser struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
}
