package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap/zaptest"

	"github.com/TobiSchelling/demoproc/internal/ledger"
	"github.com/TobiSchelling/demoproc/internal/table"
)

var _ Summarizer = (*XLSXSummarizer)(nil)

func uploads() *table.Dataset {
	return table.FromRecords(
		[]string{"PubCode", "TrackingCode", "Email"},
		[][]string{
			{"SC", "UBC1005", "b@x.com"},
			{"SC", "UAC1005", "a@x.com"},
			{"SC", "UAC1005", "c@x.com"},
			{"SC", "UAC1005", ""},
		},
	)
}

func TestAggregateCountsNonBlankValues(t *testing.T) {
	spec := TableSpec{
		Name: "codes",
		Rows: []string{"PubCode", "TrackingCode"},
		Values: []ValueField{
			{Field: "TrackingCode", Caption: "Count of TrackingCode", Func: Count},
			{Field: "Email", Caption: "Emails", Func: Count},
		},
	}
	groups, total, err := Aggregate(uploads(), spec)
	require.NoError(t, err)

	want := []Group{
		{Keys: []string{"SC", "UAC1005"}, Values: []int{3, 2}},
		{Keys: []string{"SC", "UBC1005"}, Values: []int{1, 1}},
	}
	if diff := cmp.Diff(want, groups); diff != "" {
		t.Errorf("groups mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []int{4, 3}, total)
}

func TestAggregateCountDistinct(t *testing.T) {
	d := table.FromRecords([]string{"Owner", "Email"}, [][]string{
		{"Jo", "a@x.com"},
		{"Jo", "a@x.com"},
		{"Jo", "b@x.com"},
	})
	groups, total, err := Aggregate(d, TableSpec{
		Rows:   []string{"Owner"},
		Values: []ValueField{{Field: "Email", Caption: "Distinct", Func: CountDistinct}},
	})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, []int{2}, groups[0].Values)
	assert.Equal(t, []int{2}, total)
}

func TestAggregateMissingField(t *testing.T) {
	_, _, err := Aggregate(uploads(), TableSpec{Name: "owners", Rows: []string{"AG", "Current Owner"}})
	var mc *table.MissingColumnError
	require.True(t, errors.As(err, &mc))
	assert.Equal(t, "owners", mc.Dataset)
	assert.Equal(t, []string{"AG", "Current Owner"}, mc.Columns)
}

func TestXLSXSummarizerWritesSummarySheet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upload.xlsx")
	store := table.NewXLSXStore()
	require.NoError(t, store.Write(path, table.Overwrite, table.Sheet{Label: "UDB_Upload", Data: uploads()}))

	specs := []TableSpec{{
		Name:   "codes",
		Row:    2,
		Col:    1,
		Rows:   []string{"TrackingCode"},
		Values: []ValueField{{Field: "TrackingCode", Caption: "Count of TrackingCode"}},
	}}
	s := NewXLSXSummarizer(store)
	require.NoError(t, s.BuildSummary(path, "UDB_Upload", specs))
	// A second run rebuilds rather than failing on the existing sheet.
	require.NoError(t, s.BuildSummary(path, "UDB_Upload", specs))

	labels, err := store.Sheets(path)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"UDB_Upload", SummarySheet}, labels)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	cell := func(ref string) string {
		v, err := f.GetCellValue(SummarySheet, ref)
		require.NoError(t, err)
		return v
	}
	assert.Equal(t, "TrackingCode", cell("A2"))
	assert.Equal(t, "Count of TrackingCode", cell("B2"))
	assert.Equal(t, "UAC1005", cell("A3"))
	assert.Equal(t, "3", cell("B3"))
	assert.Equal(t, "UBC1005", cell("A4"))
	assert.Equal(t, "Grand Total", cell("A5"))
	assert.Equal(t, "4", cell("B5"))

	// The source sheet is untouched.
	data, err := store.Read(path, "UDB_Upload")
	require.NoError(t, err)
	assert.Equal(t, 4, data.Len())
}

func TestXLSXSummarizerMovesOverlappingTables(t *testing.T) {
	var records [][]string
	for i := 1; i <= 20; i++ {
		records = append(records, []string{fmt.Sprintf("Owner %02d", i), "UAC1"})
	}
	path := filepath.Join(t.TempDir(), "upload.xlsx")
	store := table.NewXLSXStore()
	require.NoError(t, store.Write(path, table.Overwrite, table.Sheet{
		Label: "SFDC_Upload",
		Data:  table.FromRecords([]string{"Owner", "TrackingCode"}, records),
	}))

	specs := []TableSpec{
		{Name: "owners", Row: 2, Col: 1, Rows: []string{"Owner"}, Values: []ValueField{{Field: "Owner", Caption: "Count of Owner"}}},
		{Name: "codes", Row: 10, Col: 1, Rows: []string{"TrackingCode"}, Values: []ValueField{{Field: "TrackingCode", Caption: "Count of TrackingCode"}}},
		{Name: "beside", Row: 2, Col: 4, Rows: []string{"TrackingCode"}},
	}
	require.NoError(t, NewXLSXSummarizer(store).BuildSummary(path, "SFDC_Upload", specs))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	cell := func(ref string) string {
		v, err := f.GetCellValue(SummarySheet, ref)
		require.NoError(t, err)
		return v
	}

	// Owners fill A3:A22 and the grand total sits on row 23.
	assert.Equal(t, "Owner 17", cell("A19"))
	assert.Equal(t, "Owner 20", cell("A22"))
	assert.Equal(t, "Grand Total", cell("A23"))
	assert.Equal(t, "20", cell("B23"))
	// The second table starts after one blank row instead of at row 10.
	assert.Equal(t, "", cell("A24"))
	assert.Equal(t, "TrackingCode", cell("A25"))
	assert.Equal(t, "UAC1", cell("A26"))
	// A table in another column band keeps its anchor.
	assert.Equal(t, "TrackingCode", cell("D2"))
}

func TestPlaceKeepsAnchorWhenClear(t *testing.T) {
	first := extent{top: 2, bottom: 5, left: 1, right: 2}
	got := place(extent{top: 8, bottom: 10, left: 1, right: 2}, []extent{first})
	assert.Equal(t, 8, got.top)

	got = place(extent{top: 4, bottom: 6, left: 2, right: 3}, []extent{first, {top: 7, bottom: 9, left: 3, right: 3}})
	assert.Equal(t, 11, got.top, "pushed past both tables it would overlap")
	assert.Equal(t, 13, got.bottom)
}

func TestXLSXSummarizerMissingSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upload.xlsx")
	store := table.NewXLSXStore()
	require.NoError(t, store.Write(path, table.Overwrite, table.Sheet{Label: "A", Data: uploads()}))

	err := NewXLSXSummarizer(store).BuildSummary(path, "B", nil)
	assert.ErrorIs(t, err, table.ErrSheetNotFound)
}

func TestFill(t *testing.T) {
	tmpl := "[demo type] demo results\n" +
		"- [a_new] new attendee leads\n" +
		"- [na_new] new non-attendee leads\n" +
		"Codes: [tracking_codes]\n" +
		"Assigned [requested_assign]\n"
	entry := ledger.DefaultEntry()
	entry[ledger.ANew] = ledger.Int(12)
	entry[ledger.TrackingCodes] = ledger.List("UAC1", "UBC1")
	entry[ledger.RequestedAssign] = ledger.String("BDR")

	got := Fill(tmpl, "SelectCoder", entry)
	want := "SelectCoder demo results\n" +
		"- 12 new attendee leads\n" +
		"Codes: UAC1, UBC1\n" +
		"Assigned BDR\n"
	assert.Equal(t, want, got)
}

func TestFillUsesDefaultsForMissingMetrics(t *testing.T) {
	got := Fill("total [total] x\n", "HIM", ledger.Entry{})
	assert.Equal(t, "total 0 x\n", got)
}

func TestComposerWritesTextAndHTML(t *testing.T) {
	dir := t.TempDir()
	tmplPath := filepath.Join(dir, "template.txt")
	require.NoError(t, os.WriteFile(tmplPath, []byte("# [demo type]\n\n- [a_new] new leads\n- [na_new] skipped\n"), 0o644))

	store := ledger.NewMemoryStore("HIM (10/5/2022)")
	require.NoError(t, store.Update("HIM (10/5/2022)", ledger.Updates{ledger.ANew: ledger.Int(3)}))

	out := filepath.Join(dir, "out", "email.txt")
	comm, err := NewComposer(store, tmplPath, out, zaptest.NewLogger(t)).Compose("HIM (10/5/2022)", "HIM")
	require.NoError(t, err)

	assert.Equal(t, "# HIM\n\n- 3 new leads\n", comm.Text)
	assert.Equal(t, filepath.Join(dir, "out", "email.html"), comm.HTMLPath)
	assert.Contains(t, comm.HTML, "<h1>HIM</h1>")
	assert.Contains(t, comm.HTML, "<li>3 new leads</li>")

	text, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, comm.Text, string(text))
	html, err := os.ReadFile(comm.HTMLPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(html), "<h1>"))
}

func TestComposerUnknownEvent(t *testing.T) {
	dir := t.TempDir()
	tmplPath := filepath.Join(dir, "template.txt")
	require.NoError(t, os.WriteFile(tmplPath, []byte("x"), 0o644))

	_, err := NewComposer(ledger.NewMemoryStore(), tmplPath, filepath.Join(dir, "o.txt"), nil).Compose("Nope (1/1/2022)", "Nope")
	assert.ErrorIs(t, err, ledger.ErrUnknownEvent)
}
