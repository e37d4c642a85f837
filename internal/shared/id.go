package shared

import "github.com/google/uuid"

// NewID returns prefix followed by a version 7 UUID. Ids from one process
// sort in creation order.
func NewID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		return prefix + uuid.NewString()
	}
	return prefix + id.String()
}
