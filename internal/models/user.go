package models

import "time"

// User is a registered account. Exactly one user carries IsAI.
type User struct {
	ID          int        `db:"id" json:"id"`
	DisplayName string     `db:"display_name" json:"displayName"`
	Handle      string     `db:"handle" json:"handle"`
	IsOnline    bool       `db:"is_online" json:"isOnline"`
	LastSeen    *time.Time `db:"last_seen" json:"lastSeen,omitempty"`
	IsAI        bool       `db:"is_ai" json:"isAI"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
}
