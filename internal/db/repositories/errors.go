package repositories

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// ErrDuplicate is returned when a write collides with a unique constraint: an organization
// slug, an operator email, an app name within its organization, or a network already on
// an app's whitelist.
var ErrDuplicate = errors.New("duplicate record")

// writeError wraps a failed insert or update, mapping unique violations onto ErrDuplicate.
func writeError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", op, err)
}
