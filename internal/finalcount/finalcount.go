// Package finalcount reads the CRM's validation export for an event after
// the upload and records how the uploaded records were received: converted,
// updated, or waiting on the requested assignment.
package finalcount

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/TobiSchelling/demoproc/internal/demo"
	"github.com/TobiSchelling/demoproc/internal/extern"
	"github.com/TobiSchelling/demoproc/internal/ledger"
	"github.com/TobiSchelling/demoproc/internal/table"
)

// CRM validation export columns.
const (
	ColLastName      = "Last Name"
	ColEmail         = "Email"
	ColStage         = "Stage"
	ColConvertedDate = "Converted Date"
	ColOwner         = "Lead Owner"
	ColID            = "SFDC ID (18 digit)"
	ColTrackingCode  = "Tracking Code"
)

// CRM upload columns the join needs.
const (
	colUploadLastName = "LastName"
	colUploadEmail    = "Email"
	colAG             = "AG"
)

// ActiveAG marks a record whose assignment group already works it.
const ActiveAG = "Active"

// ValidationSchema is what the CRM validation export must carry.
var ValidationSchema = table.Schema{
	Name:    "CRM validation export",
	Columns: []string{ColLastName, ColEmail, ColStage, ColConvertedDate, ColOwner, ColID, ColTrackingCode},
}

// UploadSchema is what the CRM upload must carry for the join.
var UploadSchema = table.Schema{
	Name:    "CRM upload",
	Columns: []string{colUploadLastName, colUploadEmail, colAG},
}

// ErrNoValidationFile is returned when the event folder holds no file
// matching the validation pattern.
var ErrNoValidationFile = errors.New("no CRM validation file")

// Policy selects one validation file among several matches.
type Policy string

const (
	// Lexical picks the last match in name order.
	Lexical Policy = "lexical"
	// Modified picks the most recently modified match.
	Modified Policy = "modified"
)

// ParsePolicy accepts the configured policy name. Empty means Lexical.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(s)) {
	case "", Lexical:
		return Lexical, nil
	case Modified:
		return Modified, nil
	}
	return "", fmt.Errorf("unknown validation file policy %q", s)
}

// Options configure the final count.
type Options struct {
	// Pattern is matched against file names from their start.
	Pattern    string
	SheetIndex int
	Policy     Policy
}

// Counter runs the final reconciliation counts.
type Counter struct {
	store   table.Store
	pattern *regexp.Regexp
	opts    Options
	log     *zap.Logger
}

// NewCounter compiles the validation file pattern.
func NewCounter(store table.Store, opts Options, log *zap.Logger) (*Counter, error) {
	re, err := regexp.Compile("^(?:" + opts.Pattern + ")")
	if err != nil {
		return nil, fmt.Errorf("compiling validation pattern: %w", err)
	}
	if opts.Policy == "" {
		opts.Policy = Lexical
	}
	return &Counter{store: store, pattern: re, opts: opts, log: log}, nil
}

// Locate returns the validation file in dir chosen by the policy. Excel
// lock files (~$ prefix) are never candidates.
func (c *Counter) Locate(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", extern.Wrap("listing event folder", err)
	}

	var best os.DirEntry
	var bestMod int64
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), "~$") || !c.pattern.MatchString(e.Name()) {
			continue
		}
		switch c.opts.Policy {
		case Modified:
			info, err := e.Info()
			if err != nil {
				return "", fmt.Errorf("stat %s: %w", e.Name(), err)
			}
			mod := info.ModTime().UnixNano()
			if best == nil || mod > bestMod || (mod == bestMod && e.Name() > best.Name()) {
				best, bestMod = e, mod
			}
		default:
			if best == nil || e.Name() > best.Name() {
				best = e
			}
		}
	}
	if best == nil {
		return "", &extern.Error{
			Kind: extern.MissingFile,
			Op:   "locating CRM validation file",
			Err:  fmt.Errorf("%w matching %q in %s", ErrNoValidationFile, c.opts.Pattern, dir),
		}
	}
	return filepath.Join(dir, best.Name()), nil
}

// Result is the classification of the validated records.
type Result struct {
	Source string
	// Accepted is the number of distinct records the CRM assigned an owner.
	Accepted int

	UpdatedLeads    int
	AsRequested     int
	RequestedAssign string

	TMAttendeeCount    int
	TMNonAttendeeCount int
	AConverted         int
	NAConverted        int
}

// Total is the open attendee and non-attendee count.
func (r *Result) Total() int { return r.TMAttendeeCount + r.TMNonAttendeeCount }

// Converted is the converted count of both audiences.
func (r *Result) Converted() int { return r.AConverted + r.NAConverted }

// Classify joins the validation export to the CRM upload and counts the
// accepted records.
func Classify(validation, upload *table.Dataset) (*Result, error) {
	if err := ValidationSchema.Validate(validation); err != nil {
		return nil, err
	}
	if err := UploadSchema.Validate(upload); err != nil {
		return nil, err
	}

	joined, err := validation.LeftJoin(upload,
		[]string{ColLastName, ColEmail},
		[]string{colUploadLastName, colUploadEmail},
		"_upload")
	if err != nil {
		return nil, err
	}
	ag := colAG
	if joined.Has(colAG + "_upload") {
		ag = colAG + "_upload"
	}

	valid := joined.Filter(func(r table.Row) bool { return r.Get(ColOwner) != "" }).DedupBy(ColID)

	res := &Result{Accepted: valid.Len()}
	groups := map[string]bool{}
	for _, r := range valid.Rows {
		if g := r.Get(ag); g != "" {
			groups[g] = true
		}
		aud := demo.AudienceOf(r[ColTrackingCode])
		if r.Get(ColConvertedDate) != "" {
			switch aud {
			case demo.Attendee:
				res.AConverted++
			case demo.NonAttendee:
				res.NAConverted++
			}
			continue
		}
		if r.Get(ColStage) != "" {
			continue
		}
		if r.Get(ag) == ActiveAG {
			res.UpdatedLeads++
		} else {
			res.AsRequested++
		}
		switch aud {
		case demo.Attendee:
			res.TMAttendeeCount++
		case demo.NonAttendee:
			res.TMNonAttendeeCount++
		}
	}
	res.RequestedAssign = assignment(groups)
	return res, nil
}

// assignment labels the requested assignment from the highest group name.
// BDR groups reduce to their first word; any other group is a territory.
func assignment(groups map[string]bool) string {
	if len(groups) == 0 {
		return ""
	}
	names := make([]string, 0, len(groups))
	for g := range groups {
		names = append(names, g)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	top := names[0]
	if strings.Contains(top, "BDR") {
		return strings.Fields(top)[0]
	}
	return top + " by territory"
}

// Count locates the validation export for d, classifies it against the CRM
// upload and records the final counts.
func (c *Counter) Count(d *demo.Demo) (*Result, error) {
	log := c.log.With(zap.String("event", d.Key()))

	path, err := c.Locate(d.Dir())
	if err != nil {
		return nil, err
	}
	log.Info("using CRM validation file", zap.String("path", path), zap.String("policy", string(c.opts.Policy)))

	validation, err := c.store.ReadIndex(path, c.opts.SheetIndex)
	if err != nil {
		return nil, extern.Wrap("reading CRM validation file", err)
	}
	upload, err := c.store.Read(d.CRMPath(), d.Roles.CRMUpload)
	if err != nil {
		return nil, fmt.Errorf("reading CRM upload: %w", err)
	}

	res, err := Classify(validation, upload)
	if err != nil {
		return nil, err
	}
	res.Source = path
	if res.RequestedAssign == "" {
		log.Warn("no assignment group on any accepted record")
	}

	err = d.Counts.Update(ledger.Updates{
		ledger.AConverted:         ledger.Int(res.AConverted),
		ledger.NAConverted:        ledger.Int(res.NAConverted),
		ledger.UpdatedLeads:       ledger.Int(res.UpdatedLeads),
		ledger.AsRequested:        ledger.Int(res.AsRequested),
		ledger.RequestedAssign:    ledger.String(res.RequestedAssign),
		ledger.TMAttendeeCode:     ledger.String(d.CRMAttend),
		ledger.TMAttendeeCount:    ledger.Int(res.TMAttendeeCount),
		ledger.TMNonAttendeeCode:  ledger.String(d.CRMNonAttend),
		ledger.TMNonAttendeeCount: ledger.Int(res.TMNonAttendeeCount),
		ledger.Total:              ledger.Int(res.Total()),
		ledger.Converted:          ledger.Int(res.Converted()),
	})
	if err != nil {
		return nil, err
	}
	log.Info("final counts recorded",
		zap.Int("accepted", res.Accepted),
		zap.Int("converted", res.Converted()),
		zap.Int("updated_leads", res.UpdatedLeads),
		zap.Int("as_requested", res.AsRequested),
		zap.String("requested_assign", res.RequestedAssign))
	return res, nil
}
