// Package obfuscate perturbs coordinates with a deterministic per-user offset.
//
// The same user and input always map to the same output, so distances
// between a user's successive reports stay consistent, while two users at the
// same spot receive uncorrelated offsets.
package obfuscate

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/samirrijal/nearchat/internal/core/domain"
)

// DefaultRangeDeg is the default maximum offset per axis (about 500 m at the equator).
const DefaultRangeDeg = 0.005

// Obfuscate returns (lon, lat) shifted by a per-user offset strictly inside
// (-rangeDeg, +rangeDeg) on each axis. The result is not wrapped at the
// antimeridian or clamped at the poles.
func Obfuscate(salt, userID string, lon, lat, rangeDeg float64) domain.Position {
	digest := sha256.Sum256([]byte(salt + userID))
	seed := binary.BigEndian.Uint64(digest[:8])

	lonFrac := fraction(uint32(seed))
	latFrac := fraction(uint32(seed >> 32))

	return domain.Position{
		Longitude: lon + (2*lonFrac-1)*rangeDeg,
		Latitude:  lat + (2*latFrac-1)*rangeDeg,
	}
}

// fraction maps u to the midpoint of its bucket in (0, 1), which keeps the
// offset away from both zero and the range bounds.
func fraction(u uint32) float64 {
	return (float64(u) + 0.5) / (1 << 32)
}

// Obfuscator binds a salt and range so callers only pass the user and point.
type Obfuscator struct {
	Salt     string
	RangeDeg float64
}

// New returns an Obfuscator. A non-positive range falls back to DefaultRangeDeg.
func New(salt string, rangeDeg float64) Obfuscator {
	if rangeDeg <= 0 {
		rangeDeg = DefaultRangeDeg
	}
	return Obfuscator{Salt: salt, RangeDeg: rangeDeg}
}

// Apply obfuscates a raw point for userID.
func (o Obfuscator) Apply(userID string, lon, lat float64) domain.Position {
	return Obfuscate(o.Salt, userID, lon, lat, o.RangeDeg)
}
