package model

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateUUIDWithSuffix returns a new UUID prefixed with a short module tag,
// e.g. "mpi_d3b0..." for manual payment items. The prefix makes IDs readable
// in logs and audit trails.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}
