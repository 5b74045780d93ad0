package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// PrepareDeletedItemName mangles a name so the original becomes free for
// reuse. The record id keeps the mangled name unique.
func PrepareDeletedItemName(name string, id uuid.UUID) string {
	return fmt.Sprintf("%s_deleted_%s", name, id.String())
}
