package models

import "time"

// User is the profile side of an account. Credits are read here for display
// only; every write to them goes through the ledger.
type User struct {
	ID        int64      `json:"id" example:"1"`
	Username  string     `json:"username" example:"amira"`
	Email     string     `json:"email" example:"user@example.com"`
	FullName  string     `json:"fullName" example:"Amira Haddad"`
	Bio       string     `json:"bio"`
	Language  string     `json:"language" example:"ar"`
	Credits   int64      `json:"credits" example:"100"`
	IsActive  bool       `json:"isActive"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// UserUpdate carries a partial profile update; nil fields are left untouched.
type UserUpdate struct {
	FullName *string `json:"fullName,omitempty" validate:"omitempty,max=100"`
	Bio      *string `json:"bio,omitempty" validate:"omitempty,max=500"`
	Language *string `json:"language,omitempty" validate:"omitempty,len=2"`
}
