package models

import "time"

type Todo struct {
	ID          string
	AccountID   string
	Title       string
	Description *string
	Done        bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TodoPatch lists the fields to change; nil fields are left untouched.
// ClearDescription sets the description to NULL.
type TodoPatch struct {
	Title            *string
	Description      *string
	ClearDescription bool
	Done             *bool
}
