// Package identity mints the output identity shared by a rendition's
// object-store key and its catalog record.
package identity

import (
	"strings"

	"github.com/google/uuid"
)

// Prefix is the logical namespace every rendition key lives under.
const Prefix = "licorice-photos/"

// Generator produces a fresh output identity for a source extension.
// Implementations must never return the same identity twice.
type Generator interface {
	New(extension string) string
}

// UUIDGenerator generates identities from random (v4) UUIDs. The random
// bits lead the key so S3 spreads writes across partitions.
type UUIDGenerator struct{}

// New returns "licorice-photos/<uuid>.<extension>". The extension is kept
// as written in the source key ("jpg", "JPEG", ...); a leading dot is
// tolerated.
func (UUIDGenerator) New(extension string) string {
	return Prefix + uuid.NewString() + "." + strings.TrimPrefix(extension, ".")
}

// New is a convenience wrapper around UUIDGenerator.
func New(extension string) string {
	return UUIDGenerator{}.New(extension)
}
