// Package ids generates record identifiers
package ids

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// New returns a base-36 millisecond timestamp followed by a short random
// suffix, e.g. "lrk3x9c0a1b2c3d4e".
func New(t time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return strconv.FormatInt(t.UnixMilli(), 36) + suffix
}
