package xid

import "github.com/google/uuid"

// New returns a random (v4) identifier in canonical string form.
func New() string {
	return uuid.NewString()
}

// Valid reports whether id parses as a UUID.
func Valid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
