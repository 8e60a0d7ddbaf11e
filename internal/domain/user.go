package domain

// User is a registered account. PasswordHash holds a bcrypt hash, never the
// plain password.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
}
