// Package uid provides unique identifier generation for BleepDrive.
package uid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a 32-character lowercase hex identifier (a random UUID without
// dashes) suitable for temp file names and request IDs.
func New() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
