package intake

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/TobiSchelling/demoproc/internal/calendar"
	"github.com/TobiSchelling/demoproc/internal/demo"
	"github.com/TobiSchelling/demoproc/internal/ledger"
	"github.com/TobiSchelling/demoproc/internal/table"
)

const (
	rawPath = "/inbox/raw_data.xlsx"
	sheet   = "Attendee Report"
)

func newDemo(t *testing.T) (*demo.Demo, ledger.Store) {
	t.Helper()
	var rows []calendar.Row
	for _, code := range []string{"UAC1005", "UBC1005", "DAC1005", "DBC1005"} {
		rows = append(rows, calendar.Row{Date: "10/5/2022", Type: "SelectCoder", TrackingCode: code, PubCode: "SC"})
	}
	cal := calendar.New(rows)
	store := ledger.NewMemoryStore(cal.EventKeys()...)
	d, err := demo.Resolve(cal, time.Date(2022, 10, 5, 0, 0, 0, 0, time.UTC), "", demo.Options{
		Root:   "/demos",
		Roles:  demo.Roles{CRMUpload: "SFDC_Upload", MDBUpload: "UDB_Upload", MDBExclude: "UDB_Exclude"},
		Ledger: store,
	})
	require.NoError(t, err)
	return d, store
}

func TestInternalDomainClassification(t *testing.T) {
	d, store := newDemo(t)
	tables := table.NewMemoryStore()
	raw := table.FromRecords([]string{"Attended", "Email Address"}, [][]string{
		{"Yes", "a@acme.com"},
		{"Yes", "b@other.com"},
	})
	require.NoError(t, tables.Write(rawPath, table.Overwrite, table.Sheet{Label: sheet, Data: raw}))

	res, err := NewCounter(tables, []string{"@acme.com"}, zaptest.NewLogger(t)).Count(d, rawPath, sheet)
	require.NoError(t, err)
	assert.Equal(t, 1, res.AttendeeInternal)

	got, err := store.Get(d.Key(), ledger.AInternalRecords)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Int())
	got, err = store.Get(d.Key(), ledger.AInitialCount)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Int())
}

func TestCountSplitsByAttendance(t *testing.T) {
	d, store := newDemo(t)
	tables := table.NewMemoryStore()
	raw := table.FromRecords([]string{"Attended", "Email Address", "Last Name"}, [][]string{
		{"Yes", "ann@ACME.com", "Ann"},
		{"Yes", "bob@other.com", "Bob"},
		{"No", "cy@acme.com", "Cy"},
		{"No", "di@other.com", "Di"},
		{"No", "ed@other.com", "Ed"},
		{"", "fay@other.com", "Fay"},
	})
	// The raw file has already been moved into the event folder.
	require.NoError(t, tables.Write(d.RelocatedRaw(rawPath), table.Overwrite, table.Sheet{Label: sheet, Data: raw}))

	res, err := NewCounter(tables, []string{"@acme.com", " "}, zaptest.NewLogger(t)).Count(d, rawPath, sheet)
	require.NoError(t, err)
	assert.Equal(t, d.RelocatedRaw(rawPath), res.Source)
	assert.Equal(t, 2, res.AttendeeCount)
	assert.Equal(t, 3, res.NonAttendeeCount)
	assert.Equal(t, 1, res.AttendeeInternal)
	assert.Equal(t, 1, res.NonAttendeeInternal)
	assert.Equal(t, 1, res.Unmarked)

	entry, err := store.GetAll(d.Key())
	require.NoError(t, err)
	assert.Equal(t, 3, entry[ledger.NAInitialCount].Int())
	assert.Equal(t, 1, entry[ledger.NAInternalRecords].Int())
}

func TestCountMissingColumn(t *testing.T) {
	d, _ := newDemo(t)
	tables := table.NewMemoryStore()
	require.NoError(t, tables.Write(rawPath, table.Overwrite, table.Sheet{
		Label: sheet,
		Data:  table.FromRecords([]string{"Attended"}, [][]string{{"Yes"}}),
	}))

	_, err := NewCounter(tables, nil, zaptest.NewLogger(t)).Count(d, rawPath, sheet)
	var mc *table.MissingColumnError
	require.True(t, errors.As(err, &mc), "got %v", err)
	assert.Equal(t, []string{"Email Address"}, mc.Columns)
}
