package mdb

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/TobiSchelling/demoproc/internal/calendar"
	"github.com/TobiSchelling/demoproc/internal/demo"
	"github.com/TobiSchelling/demoproc/internal/extern"
	"github.com/TobiSchelling/demoproc/internal/ledger"
	"github.com/TobiSchelling/demoproc/internal/report"
	"github.com/TobiSchelling/demoproc/internal/table"
)

var candidateHeader = []string{
	"Email", "FirstName", "LastName", "State", "PhoneNumber", "PhoneExt", "Company", "CustomerTitle", "TrackingCode", "BadEmail",
}

func candidates() *table.Dataset {
	return table.FromRecords(candidateHeader, [][]string{
		{"ann@x.com", "ANN", "SMITH", "", "", "", "acme", "Director/ Coding", "DAC1", "1"},
		{"bob@x.com", "Bob", "Jones", "TN", "555", "", "beta", "Coder", "DBC1", "0"},
		{"cy@x.com", "[Unknown]", "Lee", "GA", "777", "", "gamma", "RN  /  Manager", "DBC1", "true"},
	})
}

func cleanedCRM() *table.Dataset {
	return table.FromRecords(
		[]string{"LastName", "FirstName", "Email", "State", "PhoneNumber", "Company", "CustomerTitle", "TrackingCode"},
		[][]string{
			{"Smith", "Ann", "ann@x.com", "NY", "111", "Acme Corp", "", "UAC1"},
			{"Smith", "Annie", "ann@x.com", "CA", "999", "Other", "", "UAC1"},
			{"Lee", "[Unknown]", "cy@x.com", "", "", "", "", "UBC1"},
		})
}

func newProcessor(t *testing.T, store table.Store, s report.Summarizer) *Processor {
	t.Helper()
	return NewProcessor(store, s, Options{
		BadEmail:        "BadEmail",
		Undeliverable:   "Undeliverable",
		InvalidEmail:    "InvalidEmail",
		InternalColumns: []string{"BadEmail"},
	}, zaptest.NewLogger(t))
}

func TestCorrect(t *testing.T) {
	out, err := newProcessor(t, table.NewMemoryStore(), nil).Correct(candidates(), cleanedCRM())
	require.NoError(t, err)

	assert.Equal(t, []string{"Email", "FirstName", "LastName", "State", "PhoneNumber", "Company", "CustomerTitle", "TrackingCode", "BadEmail"},
		out.Columns, "blank PhoneExt is dropped and the original order kept")
	require.Equal(t, 3, out.Len(), "the CRM side is deduplicated by email")

	ann := out.Rows[0]
	assert.Equal(t, "Ann", ann["FirstName"])
	assert.Equal(t, "NY", ann["State"])
	assert.Equal(t, "111", ann["PhoneNumber"])
	assert.Equal(t, "Acme Corp", ann["Company"])
	assert.Equal(t, "Director Coding", ann["CustomerTitle"])

	bob := out.Rows[1]
	assert.Equal(t, "REVIEW beta", bob["Company"], "no CRM company marks the record for review")
	assert.Equal(t, "TN", bob["State"])

	cy := out.Rows[2]
	assert.Equal(t, "", cy["FirstName"], "placeholder names are blanked")
	assert.Equal(t, "RN Manager", cy["CustomerTitle"])
}

func TestCorrectBlankEmailMatchesNothing(t *testing.T) {
	cands := table.FromRecords(candidateHeader, [][]string{
		{"", "Bob", "Brown", "TN", "555", "", "Bobco", "Owner", "DBC1", "0"},
		{"", "Dee", "Dunn", "GA", "666", "", "Deeco", "Buyer", "DAC1", "0"},
	})
	crm := table.FromRecords(
		[]string{"LastName", "FirstName", "Email", "State", "PhoneNumber", "Company", "CustomerTitle", "TrackingCode"},
		[][]string{{"Other", "Alice", "", "NY", "111", "AliceCorp", "CEO", "UAC1"}})

	out, err := newProcessor(t, table.NewMemoryStore(), nil).Correct(cands, crm)
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())
	for i, want := range []struct{ first, last, state, company string }{
		{"Bob", "Brown", "TN", "Bobco"},
		{"Dee", "Dunn", "GA", "Deeco"},
	} {
		r := out.Rows[i]
		assert.Equal(t, want.first, r["FirstName"])
		assert.Equal(t, want.last, r["LastName"])
		assert.Equal(t, want.state, r["State"])
		assert.Contains(t, r["Company"], want.company)
		assert.NotContains(t, r["Company"], "AliceCorp")
		assert.NotEqual(t, "CEO", r["CustomerTitle"])
	}
}

func TestCorrectTransfersPhoneExt(t *testing.T) {
	crm := cleanedCRM()
	crm.Set("PhoneExt", func(r table.Row) string { return "42" })
	out, err := newProcessor(t, table.NewMemoryStore(), nil).Correct(candidates(), crm)
	require.NoError(t, err)
	assert.True(t, out.Has("PhoneExt"))
	assert.Equal(t, "42", out.Rows[0]["PhoneExt"])
	assert.Equal(t, "", out.Rows[1]["PhoneExt"])
}

func TestCorrectMissingColumn(t *testing.T) {
	in := candidates()
	in.Drop("CustomerTitle")
	_, err := newProcessor(t, table.NewMemoryStore(), nil).Correct(in, cleanedCRM())
	var mc *table.MissingColumnError
	require.True(t, errors.As(err, &mc))
	assert.Equal(t, []string{"CustomerTitle"}, mc.Columns)
}

func TestQuality(t *testing.T) {
	exclude := table.FromRecords([]string{"Email", "TrackingCode", "Undeliverable", "InvalidEmail"}, [][]string{
		{"z@x.com", "DAC1", "yes", ""},
		{"y@x.com", "DBC1", "", "1"},
		{"w@x.com", "", "1", "1"},
	})
	got := newProcessor(t, table.NewMemoryStore(), nil).Quality(candidates(), exclude)
	want := QualityCounts{
		ABadEmail:      1,
		NABadEmail:     1,
		AUndeliverable: 1,
		NAInvalidEmail: 1,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("quality mismatch (-want +got):\n%s", diff)
	}
}

type fakeSummarizer struct{ err error }

func (f *fakeSummarizer) BuildSummary(path, sheet string, specs []report.TableSpec) error {
	return f.err
}

func newDemo(t *testing.T) (*demo.Demo, ledger.Store) {
	t.Helper()
	var rows []calendar.Row
	for _, code := range []string{"UAC1", "UBC1", "DAC1", "DBC1"} {
		rows = append(rows, calendar.Row{Date: "10/5/2022", Type: "SelectCoder", TrackingCode: code, PubCode: "SC"})
	}
	cal := calendar.New(rows)
	store := ledger.NewMemoryStore(cal.EventKeys()...)
	d, err := demo.Resolve(cal, time.Date(2022, 10, 5, 0, 0, 0, 0, time.UTC), "", demo.Options{
		Root:   t.TempDir(),
		Roles:  demo.Roles{CRMUpload: "SFDC_Upload", MDBUpload: "UDB_Upload", MDBExclude: "UDB_Exclude"},
		Ledger: store,
	})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(d.Dir(), 0o755))
	return d, store
}

func TestPreValidate(t *testing.T) {
	d, ledgerStore := newDemo(t)
	tables := table.NewMemoryStore()
	require.NoError(t, tables.Write(d.CRMPath(), table.Overwrite, table.Sheet{Label: "SFDC_Upload", Data: cleanedCRM()}))
	require.NoError(t, tables.Write(d.MDBPath(), table.Overwrite, table.Sheet{Label: "UDB_Upload", Data: candidates()}))
	require.NoError(t, tables.Write(d.ExcludePath(), table.Overwrite, table.Sheet{
		Label: "UDB_Exclude",
		Data:  table.FromRecords([]string{"Email", "TrackingCode"}, [][]string{{"q@x.com", "DBC1"}, {"r@x.com", "DAC1"}}),
	}))

	res, err := newProcessor(t, tables, &fakeSummarizer{err: errors.New("no pivot support")}).PreValidate(d)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Uploaded)
	assert.Equal(t, 2, res.Excluded)
	assert.Equal(t, extern.ReportAutomation, extern.KindOf(res.SummaryErr))

	written, err := tables.Read(d.MDBPath(), "UDB_Upload")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", written.Rows[0]["Company"])

	entry, err := ledgerStore.GetAll(d.Key())
	require.NoError(t, err)
	assert.Equal(t, "DAC1", entry[ledger.AttendeeCode].Str())
	assert.Equal(t, "DBC1", entry[ledger.NonAttendeeCode].Str())
	assert.Equal(t, d.TrackingCodes(), entry[ledger.TrackingCodes].Strings())
	assert.Equal(t, 3, entry[ledger.UDBUploaded].Int())
	assert.Equal(t, 2, entry[ledger.UDBExcluded].Int())
	assert.Equal(t, 1, entry[ledger.ABadEmail].Int())
	assert.Equal(t, 1, entry[ledger.NABadEmail].Int())
}

func TestPostValidate(t *testing.T) {
	d, ledgerStore := newDemo(t)
	tables := table.NewMemoryStore()
	reviewed := table.FromRecords([]string{"Email", "Company", "TrackingCode", "BadEmail"}, [][]string{
		{"ann@x.com", "Acme", "DAC1", ""},
		{"bob@x.com", "REVIEW beta", "DBC1", ""},
		{"cy@x.com", "Gamma", "DBC1", "1"},
	})
	require.NoError(t, tables.Write(d.MDBPath(), table.Overwrite, table.Sheet{Label: "UDB_Upload", Data: reviewed}))

	res, err := newProcessor(t, tables, nil).PostValidate(d)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Unreviewed)
	assert.Equal(t, d.File(".csv", "UDB_Upload"), res.Path)

	csv, err := table.ReadCSV(res.Path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Email", "Company", "TrackingCode"}, csv.Columns)
	assert.Equal(t, 3, csv.Len())

	entry, err := ledgerStore.GetAll(d.Key())
	require.NoError(t, err)
	assert.Equal(t, 1, entry[ledger.AttendeeCount].Int())
	assert.Equal(t, 2, entry[ledger.NonAttendeeCount].Int())
}

func TestPostValidateMissingColumn(t *testing.T) {
	d, _ := newDemo(t)
	tables := table.NewMemoryStore()
	require.NoError(t, tables.Write(d.MDBPath(), table.Overwrite, table.Sheet{
		Label: "UDB_Upload",
		Data:  table.FromRecords([]string{"Email"}, [][]string{{"a@x.com"}}),
	}))
	_, err := newProcessor(t, tables, nil).PostValidate(d)
	var mc *table.MissingColumnError
	assert.True(t, errors.As(err, &mc))
}
