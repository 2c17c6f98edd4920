// Package demo resolves a demo event from the reference calendar and derives
// everything the stages need to know about it: tracking codes, publication
// code, file locations and its slice of the counts ledger.
package demo

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/TobiSchelling/demoproc/internal/calendar"
	"github.com/TobiSchelling/demoproc/internal/ledger"
	"github.com/TobiSchelling/demoproc/internal/table"
)

var (
	// ErrNoSuchDemo is returned when the calendar has nothing for the date
	// and type asked for.
	ErrNoSuchDemo = errors.New("no such demo")
	// ErrIncompleteCalendar is returned when an event has fewer than the four
	// tracking-code rows.
	ErrIncompleteCalendar = errors.New("incomplete calendar entry")
)

// Roles names the dataset roles. Each is the exported table name, the file
// suffix and the sheet label. CRMExclude may be empty.
type Roles struct {
	CRMUpload  string
	MDBUpload  string
	MDBExclude string
	CRMExclude string
}

// Options carry what Resolve needs beyond the calendar.
type Options struct {
	// Root is the destination folder under which event folders live.
	Root   string
	Roles  Roles
	Ledger ledger.Store
}

// Demo is one resolved demo event.
type Demo struct {
	Date time.Time
	Type string

	CRMAttend    string
	CRMNonAttend string
	MDBAttend    string
	MDBNonAttend string
	PubCode      string

	Roles Roles

	// FlipToOpen holds emails of attendees marked dead in the CRM with a warm
	// note. They stay in the upload; the list is for manual follow-up.
	FlipToOpen []string

	Counts *ledger.Counts

	root  string
	cal   *calendar.Calendar
	store ledger.Store
}

// Resolve looks up date (and demoType, if given) in the calendar. With no
// type the first row's type is used.
func Resolve(cal *calendar.Calendar, date time.Time, demoType string, opts Options) (*Demo, error) {
	rows := cal.On(date)
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: there is no demo scheduled for %s", ErrNoSuchDemo, date.Format(calendar.DateLayout))
	}
	if demoType == "" {
		demoType = rows[0].Type
	}

	d := &Demo{
		Date:  date,
		Roles: opts.Roles,
		root:  opts.Root,
		cal:   cal,
		store: opts.Ledger,
	}
	if err := d.SetType(demoType); err != nil {
		return nil, err
	}
	return d, nil
}

// SetType switches the event to another demo scheduled on the same date and
// re-derives its codes, paths and ledger binding.
func (d *Demo) SetType(demoType string) error {
	var rows []calendar.Row
	for _, r := range d.cal.On(d.Date) {
		if r.Type == demoType {
			rows = append(rows, r)
		}
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: no %s demo scheduled for %s", ErrNoSuchDemo, demoType, d.Date.Format(calendar.DateLayout))
	}
	if len(rows) < 4 {
		return fmt.Errorf("%w: %s on %s has %d tracking code rows, need 4",
			ErrIncompleteCalendar, demoType, d.Date.Format(calendar.DateLayout), len(rows))
	}

	d.Type = demoType
	d.CRMAttend = rows[0].TrackingCode
	d.CRMNonAttend = rows[1].TrackingCode
	d.MDBAttend = rows[2].TrackingCode
	d.MDBNonAttend = rows[3].TrackingCode
	d.PubCode = rows[0].PubCode
	d.FlipToOpen = nil
	if d.store != nil {
		d.Counts = ledger.NewCounts(d.store, d.Key())
	}
	return nil
}

// Key is the event's ledger key.
func (d *Demo) Key() string {
	return ledger.Key(d.Type, d.Date)
}

// TrackingCodes returns the four codes in calendar order.
func (d *Demo) TrackingCodes() []string {
	return []string{d.CRMAttend, d.CRMNonAttend, d.MDBAttend, d.MDBNonAttend}
}

// Stamp is the event date as MMDDYY.
func (d *Demo) Stamp() string {
	return d.Date.Format("010206")
}

// Folder is the event folder name.
func (d *Demo) Folder() string {
	return fmt.Sprintf("%sDemo-%s", d.Type, d.Stamp())
}

// Dir is the event folder path.
func (d *Demo) Dir() string {
	return filepath.Join(d.root, d.Folder())
}

// File returns the path of a named file in the event folder:
// {type}-{MMDDYY}-{parts joined by "-"}{ext}.
func (d *Demo) File(ext string, parts ...string) string {
	name := strings.Join(append([]string{d.Type, d.Stamp()}, parts...), "-")
	return filepath.Join(d.Dir(), name+ext)
}

// CRMPath is the CRM upload workbook.
func (d *Demo) CRMPath() string { return d.File(".xlsx", d.Roles.CRMUpload) }

// MDBPath is the marketing-DB upload workbook.
func (d *Demo) MDBPath() string { return d.File(".xlsx", d.Roles.MDBUpload) }

// ExcludePath is the marketing-DB exclusion workbook.
func (d *Demo) ExcludePath() string { return d.File(".xlsx", d.Roles.MDBExclude) }

// CRMExcludePath is the CRM exclusion workbook, or "" when that role is not
// configured.
func (d *Demo) CRMExcludePath() string {
	if d.Roles.CRMExclude == "" {
		return ""
	}
	return d.File(".xlsx", d.Roles.CRMExclude)
}

// RelocatedRaw is where the raw import at src is kept once it has been
// moved into the event folder.
func (d *Demo) RelocatedRaw(src string) string {
	return filepath.Join(d.Dir(), filepath.Base(src))
}

// LocateRaw returns src while the store can still open it and the relocated
// copy after that.
func (d *Demo) LocateRaw(store table.Store, src string) string {
	if _, err := store.Sheets(src); errors.Is(err, fs.ErrNotExist) {
		return d.RelocatedRaw(src)
	}
	return src
}

// Audience is which side of the demo a tracking code belongs to.
type Audience int

const (
	Neither Audience = iota
	Attendee
	NonAttendee
)

// AudienceOf classifies a tracking code by its AC/BC marker.
func AudienceOf(code string) Audience {
	switch {
	case strings.Contains(code, "AC"):
		return Attendee
	case strings.Contains(code, "BC"):
		return NonAttendee
	}
	return Neither
}

// CountAudiences counts the attendee and non-attendee rows of d by the
// tracking code in col. Rows of neither audience are not counted.
func CountAudiences(d *table.Dataset, col string) (attendees, nonAttendees int) {
	for _, r := range d.Rows {
		switch AudienceOf(r.Get(col)) {
		case Attendee:
			attendees++
		case NonAttendee:
			nonAttendees++
		}
	}
	return attendees, nonAttendees
}
