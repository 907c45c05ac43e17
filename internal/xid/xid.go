// Package xid mints opaque identifiers for server-generated records. IDs are
// sortable by creation time within a process and carry a random suffix so
// concurrent mints never collide.
package xid

import (
	"crypto/rand"
	"encoding/base32"
	"strconv"
	"time"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// New returns "<prefix>-<unix millis>-<random base32>". The random component
// is omitted only if the system entropy source fails, which still leaves the
// millisecond timestamp as a tiebreaker.
func New(prefix string) string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return prefix + "-" + ts
	}
	return prefix + "-" + ts + "-" + encoding.EncodeToString(buf)
}
