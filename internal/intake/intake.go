// Package intake takes the first counts of a demo event from the raw
// attendee export: how many people attended, how many registered without
// attending, and how many of each are internal staff.
package intake

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/TobiSchelling/demoproc/internal/demo"
	"github.com/TobiSchelling/demoproc/internal/ledger"
	"github.com/TobiSchelling/demoproc/internal/table"
)

// Raw export columns.
const (
	ColAttended = "Attended"
	ColEmail    = "Email Address"
)

// RawSchema is what the raw attendee export must carry.
var RawSchema = table.Schema{Name: "raw attendee export", Columns: []string{ColAttended, ColEmail}}

// Result holds the intake counts.
type Result struct {
	Source              string
	AttendeeCount       int
	NonAttendeeCount    int
	AttendeeInternal    int
	NonAttendeeInternal int
	// Unmarked counts rows whose Attended flag is neither Yes nor No.
	Unmarked int
}

// Counter counts the raw export.
type Counter struct {
	store   table.Store
	domains []string
	log     *zap.Logger
}

// NewCounter creates a counter. domains is the internal-domain allowlist,
// e.g. "@acme.com"; matching is case-insensitive.
func NewCounter(store table.Store, domains []string, log *zap.Logger) *Counter {
	lower := make([]string, 0, len(domains))
	for _, d := range domains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			lower = append(lower, d)
		}
	}
	return &Counter{store: store, domains: lower, log: log}
}

// Count reads the raw export for d and records the intake counts.
func (c *Counter) Count(d *demo.Demo, rawPath, sheet string) (*Result, error) {
	src := d.LocateRaw(c.store, rawPath)
	raw, err := table.ReadAs(c.store, src, sheet, RawSchema)
	if err != nil {
		return nil, fmt.Errorf("reading raw data: %w", err)
	}

	attended, rest := raw.Partition(func(r table.Row) bool { return r.Get(ColAttended) == "Yes" })
	absent, unmarked := rest.Partition(func(r table.Row) bool { return r.Get(ColAttended) == "No" })

	res := &Result{
		Source:              src,
		AttendeeCount:       attended.Len(),
		NonAttendeeCount:    absent.Len(),
		AttendeeInternal:    attended.Count(c.Internal),
		NonAttendeeInternal: absent.Count(c.Internal),
		Unmarked:            unmarked.Len(),
	}
	if res.Unmarked > 0 {
		c.log.Warn("rows without a Yes/No attended flag are not counted", zap.Int("rows", res.Unmarked))
	}

	err = d.Counts.Update(ledger.Updates{
		ledger.AInitialCount:     ledger.Int(res.AttendeeCount),
		ledger.NAInitialCount:    ledger.Int(res.NonAttendeeCount),
		ledger.AInternalRecords:  ledger.Int(res.AttendeeInternal),
		ledger.NAInternalRecords: ledger.Int(res.NonAttendeeInternal),
	})
	if err != nil {
		return nil, err
	}

	c.log.Info("intake counted",
		zap.String("event", d.Key()),
		zap.Int("attendees", res.AttendeeCount),
		zap.Int("non_attendees", res.NonAttendeeCount),
		zap.Int("internal", res.AttendeeInternal+res.NonAttendeeInternal))
	return res, nil
}

// Internal reports whether the row's email belongs to an internal domain.
func (c *Counter) Internal(r table.Row) bool {
	email := strings.ToLower(r.Get(ColEmail))
	for _, d := range c.domains {
		if strings.Contains(email, d) {
			return true
		}
	}
	return false
}
