package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	RoleCustomer     = "customer"
	RoleProfessional = "professional"
	RoleAdmin        = "admin"
)

type User struct {
	gorm.Model
	FullName     string `gorm:"column:full_name;size:255;not null" json:"full_name"`
	Email        string `gorm:"column:email;size:255;not null;uniqueIndex" json:"email"`
	PasswordHash string `gorm:"column:password_hash;size:255;not null" json:"-"`
	Role         string `gorm:"column:role;size:50;not null" json:"role"`
	Phone        string `gorm:"column:phone;size:20" json:"phone"`
	Status       string `gorm:"column:status;size:50;not null;default:active" json:"status"`

	Refresh               string    `gorm:"column:refresh_token;size:255" json:"-"`
	RefreshTokenExpiredAt time.Time `gorm:"column:refresh_token_expired_at" json:"-"`

	Settings *ProfessionalSettings `gorm:"foreignKey:ProfessionalID" json:"settings,omitempty"`
}
