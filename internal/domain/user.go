package domain

import "time"

// LoginType values recorded on user accounts.
const (
	LoginTypeGuest = "guest"
	LoginTypeAuto  = "auto"
)

// User is an account identified by the client-supplied user id.
type User struct {
	ID           string    `gorm:"type:text;primaryKey" json:"id"`
	UserID       string    `gorm:"type:text;not null;uniqueIndex" json:"user_id"`
	Name         string    `gorm:"type:text" json:"name"`
	Email        string    `gorm:"type:text" json:"email"`
	LoginType    string    `gorm:"type:text;default:guest" json:"login_type"`
	ProfileImage string    `gorm:"type:text" json:"profile_image,omitempty"`
	IsActive     bool      `gorm:"default:true" json:"is_active"`
	Preferences  JSONMap   `gorm:"type:text" json:"preferences"`
	LastLogin    time.Time `json:"last_login"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string {
	return "users"
}
