package models

import "time"

type User struct {
	ID           int64
	UserName     string
	Salt         []byte
	PasswordHash []byte
	CreatedAt    time.Time
}
