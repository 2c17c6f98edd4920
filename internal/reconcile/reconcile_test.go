package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/demoproc/internal/ledger"
)

const event = "SelectCoder (10/5/2022)"

func seed(t *testing.T, updates ledger.Updates) ledger.Store {
	t.Helper()
	store := ledger.NewMemoryStore(event)
	require.NoError(t, store.Update(event, updates))
	return store
}

func TestComputeBalanced(t *testing.T) {
	store := seed(t, ledger.Updates{
		ledger.AInitialCount:     ledger.Int(60),
		ledger.NAInitialCount:    ledger.Int(40),
		ledger.AInternalRecords:  ledger.Int(5),
		ledger.NAInternalRecords: ledger.Int(5),
		ledger.NullPhone:         ledger.Int(10),
		ledger.ContactNoLead:     ledger.Int(10),
		ledger.LeftDead:          ledger.Int(10),
		ledger.AConverted:        ledger.Int(10),
		ledger.NAConverted:       ledger.Int(10),
		ledger.UpdatedLeads:      ledger.Int(20),
		ledger.AsRequested:       ledger.Int(20),
		ledger.UDBUploaded:       ledger.Int(80),
		ledger.UDBExcluded:       ledger.Int(10),
	})

	r, err := Event(store, event)
	require.NoError(t, err)
	assert.Equal(t, 100, r.CRM.Initial)
	assert.Equal(t, 100, r.CRM.Total)
	assert.Equal(t, 0, r.CRM.Variance)
	assert.Equal(t, 0, r.MDB.Variance)
	assert.True(t, r.Balanced())
	assert.Len(t, r.CRM.Terms, 9)
	assert.Len(t, r.MDB.Terms, 4)
}

func TestComputeFlagsLoss(t *testing.T) {
	store := seed(t, ledger.Updates{
		ledger.AInitialCount:    ledger.Int(100),
		ledger.AInternalRecords: ledger.Int(7),
		ledger.UpdatedLeads:     ledger.Int(90),
		ledger.UDBUploaded:      ledger.Int(95),
	})

	r, err := Event(store, event)
	require.NoError(t, err)
	assert.Equal(t, 97, r.CRM.Total)
	assert.Equal(t, -3, r.CRM.Variance)
	assert.False(t, r.CRM.Balanced())
	assert.Equal(t, 2, r.MDB.Variance)
	assert.False(t, r.Balanced())
}

func TestEventUnknown(t *testing.T) {
	_, err := Event(ledger.NewMemoryStore(event), "Other (1/1/2022)")
	assert.ErrorIs(t, err, ledger.ErrUnknownEvent)
}

func TestComputeLegacyStringCounts(t *testing.T) {
	r := Compute(event, ledger.Entry{
		ledger.AInitialCount: ledger.Int(3),
		ledger.UpdatedLeads:  ledger.String("2"),
		ledger.AsRequested:   ledger.String("1"),
	})
	assert.True(t, r.CRM.Balanced())
}
