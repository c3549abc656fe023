package models

import (
	"github.com/google/uuid"
)

// ensureID assigns a v4 id when the caller left it empty. Postgres also has a
// gen_random_uuid() default, but SQLite does not.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
