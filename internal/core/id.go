package core

import (
	"github.com/google/uuid"
)

// NewTaskID returns a random UUID string. Ids end up in file names and
// native entry names, so they are restricted to hex digits and dashes.
func NewTaskID() string {
	return uuid.NewString()
}
