// Package id provides identifier generation for split sessions.
package id

import (
	"strings"

	"github.com/google/uuid"
)

// Length is the number of hex characters in a session ID.
const Length = 8

// Generate returns a short session ID: the first Length hex characters of a
// random (version 4) UUID, e.g. "3f2b9c1a". Uniqueness among live sessions is
// enforced by the store, which regenerates on collision.
func Generate() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:Length]
}
