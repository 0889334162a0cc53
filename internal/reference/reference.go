// Package reference generates transaction references of the form
// PREFIX-ULID, e.g. TRF-01J9ZQ5V7M3K8Q2W4E6R8T0Y1U.
package reference

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/baharkarakas/wallet-ledger/internal/models"
)

type Generator interface {
	Generate(kind models.TransactionKind) string
}

// ULIDGenerator combines a millisecond timestamp with monotonic random
// entropy, so references sort by creation time and never repeat within a
// process.
type ULIDGenerator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

func (g *ULIDGenerator) Generate(kind models.TransactionKind) string {
	g.mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(g.now()), g.entropy)
	g.mu.Unlock()
	return kind.Prefix() + "-" + id.String()
}

// Parse splits a reference into its kind prefix and the time it was issued.
func Parse(ref string) (prefix string, issued time.Time, err error) {
	if len(ref) != 4+ulid.EncodedSize || ref[3] != '-' {
		return "", time.Time{}, ulid.ErrDataSize
	}
	id, err := ulid.ParseStrict(ref[4:])
	if err != nil {
		return "", time.Time{}, err
	}
	return ref[:3], ulid.Time(id.Time()), nil
}
