package table

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Store = (*XLSXStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

func people() *Dataset {
	return FromRecords(
		[]string{"Email", "Name", "Attended"},
		[][]string{
			{"a@acme.com", "Ann", "Yes"},
			{"b@other.com", "Bob", "No"},
			{"c@other.com", "Cy", "Yes"},
		},
	)
}

func TestPartitionKeepsEveryRow(t *testing.T) {
	d := people()
	yes, no := d.Partition(func(r Row) bool { return r.Get("Attended") == "Yes" })
	assert.Equal(t, 2, yes.Len())
	assert.Equal(t, 1, no.Len())
	assert.Equal(t, d.Len(), yes.Len()+no.Len())

	// Results are independent copies.
	yes.Rows[0]["Name"] = "changed"
	assert.Equal(t, "Ann", d.Rows[0]["Name"])
}

func TestDropIsTolerant(t *testing.T) {
	d := people()
	missing := d.Drop("Name", "Phone")
	assert.Equal(t, []string{"Phone"}, missing)
	assert.Equal(t, []string{"Email", "Attended"}, d.Columns)
	_, ok := d.Rows[0]["Name"]
	assert.False(t, ok)
}

func TestProject(t *testing.T) {
	got := people().Project("Name", "Nope", "Email")
	want := FromRecords([]string{"Name", "Email"}, [][]string{
		{"Ann", "a@acme.com"},
		{"Bob", "b@other.com"},
		{"Cy", "c@other.com"},
	})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Project mismatch (-want +got):\n%s", diff)
	}
}

func TestLeftJoinSuffixesCollisions(t *testing.T) {
	left := FromRecords([]string{"Email", "Company"}, [][]string{
		{"a@acme.com", "acme"},
		{"z@none.com", "none"},
	})
	right := FromRecords([]string{"Email", "Company", "Owner"}, [][]string{
		{"a@acme.com", "Acme Corp", "Jo"},
	})

	got, err := left.LeftJoin(right, []string{"Email"}, []string{"Email"}, "_sf")
	require.NoError(t, err)

	want := FromRecords([]string{"Email", "Company", "Company_sf", "Owner"}, [][]string{
		{"a@acme.com", "acme", "Acme Corp", "Jo"},
		{"z@none.com", "none", "", ""},
	})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LeftJoin mismatch (-want +got):\n%s", diff)
	}
}

func TestLeftJoinDifferentKeyNames(t *testing.T) {
	left := FromRecords([]string{"Last Name", "Email", "Stage"}, [][]string{
		{"Smith", "s@x.com", ""},
	})
	right := FromRecords([]string{"LastName", "Email", "AG"}, [][]string{
		{"Smith", "s@x.com", "Active"},
		{"Smith", "s@x.com", "BDR Team"},
	})

	got, err := left.LeftJoin(right, []string{"Last Name", "Email"}, []string{"LastName", "Email"}, "_r")
	require.NoError(t, err)
	assert.Equal(t, []string{"Last Name", "Email", "Stage", "LastName", "AG"}, got.Columns)
	assert.Equal(t, []string{"Active", "BDR Team"}, got.Column("AG"))

	_, err = left.LeftJoin(right, []string{"Email"}, nil, "")
	assert.Error(t, err)
}

func TestConcatUnionsColumns(t *testing.T) {
	a := FromRecords([]string{"Email", "Lead"}, [][]string{{"a@x.com", "L1"}})
	b := FromRecords([]string{"Email", "Contact"}, [][]string{{"b@x.com", "C1"}})
	got := Concat(a, nil, b)
	assert.Equal(t, []string{"Email", "Lead", "Contact"}, got.Columns)
	assert.Equal(t, 2, got.Len())
	assert.Equal(t, "", got.Rows[1].Get("Lead"))
}

func TestDedupByKeepsFirst(t *testing.T) {
	d := FromRecords([]string{"ID", "Owner"}, [][]string{
		{"1", "Jo"}, {"2", "Al"}, {"1", "Sam"},
	})
	got := d.DedupBy("ID")
	assert.Equal(t, []string{"Jo", "Al"}, got.Column("Owner"))
}

func TestDedupByKeepsBlankKeys(t *testing.T) {
	d := FromRecords([]string{"ID", "Owner"}, [][]string{
		{"", "Jo"}, {"1", "Al"}, {"", "Sam"}, {"1", "Max"},
	})
	got := d.DedupBy("ID")
	assert.Equal(t, []string{"Jo", "Al", "Sam"}, got.Column("Owner"))
}

func TestLeftJoinBlankKeysDoNotMatch(t *testing.T) {
	left := FromRecords([]string{"Last Name", "Email"}, [][]string{{"", ""}, {"Lee", ""}})
	right := FromRecords([]string{"LastName", "Email", "ID"}, [][]string{{"", "", "X1"}, {"Lee", "", "X2"}})

	got, err := left.LeftJoin(right, []string{"Last Name", "Email"}, []string{"LastName", "Email"}, "_r")
	require.NoError(t, err)
	assert.Equal(t, []string{"", "X2"}, got.Column("ID"), "only a partly filled key can match")
}

func TestAllEmpty(t *testing.T) {
	d := FromRecords([]string{"PhoneExt"}, [][]string{{""}, {"  "}})
	assert.True(t, d.AllEmpty("PhoneExt"))
	d.Rows[1]["PhoneExt"] = "12"
	assert.False(t, d.AllEmpty("PhoneExt"))
	assert.True(t, New().AllEmpty("anything"))
}

func TestSchemaValidate(t *testing.T) {
	s := Schema{Name: "raw import", Columns: []string{"Email", "Attended", "Email Address"}}
	err := s.Validate(people())

	var mc *MissingColumnError
	require.True(t, errors.As(err, &mc))
	assert.Equal(t, "raw import", mc.Dataset)
	assert.Equal(t, []string{"Email Address"}, mc.Columns)
	assert.Contains(t, err.Error(), "Email Address")

	assert.NoError(t, Schema{Name: "ok", Columns: []string{"Email"}}.Validate(people()))
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Read("f.xlsx", "A")
	require.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, s.Write("f.xlsx", Overwrite, Sheet{"A", people()}))
	require.NoError(t, s.Write("f.xlsx", Append, Sheet{"B", New("x")}, Sheet{"A", New("y")}))

	labels, err := s.Sheets("f.xlsx")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, labels)

	a, err := s.Read("f.xlsx", "A")
	require.NoError(t, err)
	assert.Equal(t, []string{"y"}, a.Columns)

	_, err = s.Read("f.xlsx", "C")
	require.ErrorIs(t, err, ErrSheetNotFound)

	b, err := s.ReadIndex("f.xlsx", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, b.Columns)

	require.NoError(t, s.Write("f.xlsx", Overwrite, Sheet{"C", New("z")}))
	labels, _ = s.Sheets("f.xlsx")
	assert.Equal(t, []string{"C"}, labels)
}

func TestXLSXStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "SC-100522-SFDC_Upload.xlsx")
	s := NewXLSXStore()

	require.NoError(t, s.Write(path, Overwrite, Sheet{"SFDC_Upload", people()}))

	labels, err := s.Sheets(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"SFDC_Upload"}, labels, "default sheet should be removed")

	got, err := s.Read(path, "SFDC_Upload")
	require.NoError(t, err)
	if diff := cmp.Diff(people(), got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	_, err = s.Read(path, "NullPhone")
	require.ErrorIs(t, err, ErrSheetNotFound)
}

func TestXLSXStoreAppendReplacesSheet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.xlsx")
	s := NewXLSXStore()

	require.NoError(t, s.Write(path, Overwrite, Sheet{"Main", people()}, Sheet{"New", people()}))
	short := FromRecords([]string{"Email"}, [][]string{{"only@x.com"}})
	require.NoError(t, s.Write(path, Append, Sheet{"New", short}, Sheet{"LeadUpdate", short}))

	labels, err := s.Sheets(path)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Main", "New", "LeadUpdate"}, labels)

	got, err := s.Read(path, "New")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())
	assert.Equal(t, []string{"Email"}, got.Columns)

	main, err := s.ReadIndex(path, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, main.Len())
}

func TestXLSXStoreMissingFile(t *testing.T) {
	_, err := NewXLSXStore().Read(filepath.Join(t.TempDir(), "nope.xlsx"), "A")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such file or directory")
}

func TestCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "New.csv")
	d := people()
	d.Rows[0]["Name"] = "Ann, Jr."
	require.NoError(t, WriteCSV(path, d))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "Email,Name,Attended\n"))
	assert.Contains(t, string(raw), `"Ann, Jr."`)

	got, err := ReadCSV(path)
	require.NoError(t, err)
	if diff := cmp.Diff(d, got); diff != "" {
		t.Errorf("csv round trip mismatch (-want +got):\n%s", diff)
	}
}
