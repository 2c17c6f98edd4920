// Package calendar loads the reference calendar of scheduled demo events.
package calendar

import (
	"strings"
	"time"

	"github.com/TobiSchelling/demoproc/internal/ledger"
	"github.com/TobiSchelling/demoproc/internal/table"
)

// Column names in the calendar export.
const (
	ColDate         = "Webinar Date"
	ColType         = "Demo Type"
	ColTrackingCode = "Tracking Code"
	ColPubCode      = "Pub Code"
)

// DateLayout is the calendar's date format: month and day without padding.
const DateLayout = "1/2/2006"

var schema = table.Schema{
	Name:    "reference calendar",
	Columns: []string{ColDate, ColType, ColTrackingCode, ColPubCode},
}

// Row is one calendar line. A demo event normally spans four rows, one per
// tracking code.
type Row struct {
	Date         string
	Type         string
	TrackingCode string
	PubCode      string
}

// Calendar is the loaded reference calendar.
type Calendar struct {
	rows []Row
}

// New builds a calendar from rows, normalising their dates.
func New(rows []Row) *Calendar {
	c := &Calendar{rows: make([]Row, 0, len(rows))}
	for _, r := range rows {
		r.Date = normalizeDate(r.Date)
		r.Type = strings.TrimSpace(r.Type)
		r.TrackingCode = strings.TrimSpace(r.TrackingCode)
		r.PubCode = strings.TrimSpace(r.PubCode)
		c.rows = append(c.rows, r)
	}
	return c
}

// Load reads the calendar CSV at path.
func Load(path string) (*Calendar, error) {
	d, err := table.ReadCSV(path)
	if err != nil {
		return nil, err
	}
	return FromDataset(d)
}

// FromDataset converts a dataset with the calendar columns.
func FromDataset(d *table.Dataset) (*Calendar, error) {
	if err := schema.Validate(d); err != nil {
		return nil, err
	}
	rows := make([]Row, 0, d.Len())
	for _, r := range d.Rows {
		rows = append(rows, Row{
			Date:         r[ColDate],
			Type:         r[ColType],
			TrackingCode: r[ColTrackingCode],
			PubCode:      r[ColPubCode],
		})
	}
	return New(rows), nil
}

// Rows returns every calendar row in file order.
func (c *Calendar) Rows() []Row {
	return append([]Row(nil), c.rows...)
}

// On returns the rows scheduled on date, in file order.
func (c *Calendar) On(date time.Time) []Row {
	want := date.Format(DateLayout)
	var out []Row
	for _, r := range c.rows {
		if r.Date == want {
			out = append(out, r)
		}
	}
	return out
}

// Scheduled reports whether any demo falls on date.
func (c *Calendar) Scheduled(date time.Time) bool {
	return len(c.On(date)) > 0
}

// TypesOn lists the distinct demo types on date in first-seen order.
func (c *Calendar) TypesOn(date time.Time) []string {
	var out []string
	seen := map[string]bool{}
	for _, r := range c.On(date) {
		if r.Type == "" || seen[r.Type] {
			continue
		}
		seen[r.Type] = true
		out = append(out, r.Type)
	}
	return out
}

// EventKeys returns the ledger key of every event in the calendar, without
// duplicates and in file order. Rows missing a date or type are skipped.
func (c *Calendar) EventKeys() []string {
	var keys []string
	seen := map[string]bool{}
	for _, r := range c.rows {
		if r.Date == "" || r.Type == "" {
			continue
		}
		d, err := time.Parse(DateLayout, r.Date)
		if err != nil {
			continue
		}
		k := ledger.Key(r.Type, d)
		if seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	return keys
}

// normalizeDate rewrites padded or ISO dates into DateLayout so exact string
// matching works regardless of how the calendar was exported.
func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	for _, layout := range []string{DateLayout, "01/02/2006", "2006-01-02", "1/2/06", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(DateLayout)
		}
	}
	return s
}
