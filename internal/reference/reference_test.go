package reference

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baharkarakas/wallet-ledger/internal/models"
)

func TestGenerateFormat(t *testing.T) {
	g := NewULIDGenerator()
	for kind, prefix := range map[models.TransactionKind]string{
		models.TxnDeposit:    "DEP",
		models.TxnWithdrawal: "WDR",
		models.TxnTransfer:   "TRF",
		models.TxnExchange:   "EXC",
	} {
		ref := g.Generate(kind)
		got, issued, err := Parse(ref)
		require.NoError(t, err, ref)
		assert.Equal(t, prefix, got)
		assert.WithinDuration(t, time.Now(), issued, time.Minute)
	}
}

func TestConcurrentReferencesAreDistinct(t *testing.T) {
	g := NewULIDGenerator()
	const n = 2000
	refs := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			refs <- g.Generate(models.TxnTransfer)
		}()
	}
	wg.Wait()
	close(refs)

	seen := map[string]struct{}{}
	for r := range refs {
		_, dup := seen[r]
		require.False(t, dup, "duplicate reference %s", r)
		seen[r] = struct{}{}
	}
	assert.Len(t, seen, n)
}

func TestReferencesSortByTime(t *testing.T) {
	g := NewULIDGenerator()
	a := g.Generate(models.TxnDeposit)
	b := g.Generate(models.TxnDeposit)
	assert.Less(t, a, b)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, _, err := Parse("DEP-123")
	assert.Error(t, err)
	_, _, err = Parse("DEP_01J9ZQ5V7M3K8Q2W4E6R8T0Y1U")
	assert.Error(t, err)
}
