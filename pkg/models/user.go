package models

import "time"

type User struct {
	ID                  int64     `json:"id" db:"id"`
	Email               string    `json:"email" db:"email"`
	PasswordHash        string    `json:"-" db:"password"`
	TripadvisorUsername *string   `json:"tripadvisor_username,omitempty" db:"tripadvisor_username"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
}
