package domain

import "time"

// GroupsFolder зарезервированная папка верхнего уровня с папками групп
const GroupsFolder = "groups"

type Group struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatorID string    `json:"creator_id" db:"creator_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Path путь папки группы относительно корня хранилища
func (g Group) Path() string {
	return GroupsFolder + "/" + g.Name
}

type GroupMember struct {
	GroupID int64     `json:"group_id" db:"group_id"`
	UserID  string    `json:"user_id" db:"user_id"`
	AddedAt time.Time `json:"added_at" db:"added_at"`
}
