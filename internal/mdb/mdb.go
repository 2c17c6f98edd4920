// Package mdb prepares the marketing-database side of a demo event. Its
// candidates are corrected from the cleaned CRM data before review, and
// exported for upload afterwards.
package mdb

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/TobiSchelling/demoproc/internal/demo"
	"github.com/TobiSchelling/demoproc/internal/extern"
	"github.com/TobiSchelling/demoproc/internal/ledger"
	"github.com/TobiSchelling/demoproc/internal/report"
	"github.com/TobiSchelling/demoproc/internal/table"
)

// Marketing-DB upload columns.
const (
	ColEmail        = "Email"
	ColFirstName    = "FirstName"
	ColLastName     = "LastName"
	ColState        = "State"
	ColPhone        = "PhoneNumber"
	ColPhoneExt     = "PhoneExt"
	ColCompany      = "Company"
	ColTitle        = "CustomerTitle"
	ColTrackingCode = "TrackingCode"
)

// crmSuffix marks CRM columns while the two datasets are joined.
const crmSuffix = "_sf"

// placeholder is the literal the CRM side uses for an unknown name.
const placeholder = "[Unknown]"

// PreSchema is what the exported marketing-DB candidates must carry.
var PreSchema = table.Schema{
	Name:    "marketing-DB upload candidates",
	Columns: []string{ColEmail, ColFirstName, ColLastName, ColState, ColPhone, ColCompany, ColTitle, ColTrackingCode},
}

// PostSchema is what the reviewed marketing-DB upload must carry.
var PostSchema = table.Schema{
	Name:    "reviewed marketing-DB upload",
	Columns: []string{ColCompany, ColTrackingCode},
}

// crmSchema is what the join needs from the cleaned CRM upload.
var crmSchema = table.Schema{Name: "cleaned CRM upload", Columns: []string{ColEmail}}

// transfers are the fields copied from the CRM side when it has a value.
// Review marks the field when the CRM has none.
var transfers = []struct {
	Field  string
	Review bool
}{
	{ColFirstName, false},
	{ColLastName, false},
	{ColState, false},
	{ColPhone, false},
	{ColCompany, true},
	{ColTitle, false},
}

// ReviewTables are the summary tables built for the manual review.
var ReviewTables = []report.TableSpec{
	{
		Name: "products", Row: 2, Col: 1,
		Rows:   []string{"OppProduct", ColTrackingCode},
		Values: []report.ValueField{{Field: ColTrackingCode, Caption: "Count of TrackingCode", Func: report.Count}},
	},
	{
		Name: "notes", Row: 8, Col: 1,
		Rows:   []string{"SalesNotes", "MarketingNotes"},
		Values: []report.ValueField{{Field: "MarketingNotes", Caption: "Count of MarketingNotes", Func: report.Count}},
	},
	{
		Name: "sources", Row: 14, Col: 1,
		Rows: []string{"LeadSource", "Site", "ParentCompanyID", "NewsletterIDs"},
	},
}

// Options configure the marketing-DB steps.
type Options struct {
	ReviewMarker string
	// Email-quality flag columns, looked up in both the upload and the
	// exclusion datasets.
	BadEmail      string
	Undeliverable string
	InvalidEmail  string
	// InternalColumns are stripped before the upload file is exported.
	InternalColumns []string
}

// Processor runs the marketing-DB steps for an event.
type Processor struct {
	store      table.Store
	summarizer report.Summarizer
	opts       Options
	log        *zap.Logger
}

// NewProcessor creates a marketing-DB processor. summarizer may be nil.
func NewProcessor(store table.Store, summarizer report.Summarizer, opts Options, log *zap.Logger) *Processor {
	if opts.ReviewMarker == "" {
		opts.ReviewMarker = "REVIEW"
	}
	return &Processor{store: store, summarizer: summarizer, opts: opts, log: log}
}

var (
	slashes    = regexp.MustCompile(`/`)
	whitespace = regexp.MustCompile(`\s+`)
)

// Correct overlays the cleaned CRM values onto the marketing-DB candidates
// and returns a dataset with exactly the candidates' original columns, minus
// PhoneExt when it is blank on both sides.
func (p *Processor) Correct(candidates, crm *table.Dataset) (*table.Dataset, error) {
	if err := PreSchema.Validate(candidates); err != nil {
		return nil, err
	}
	if err := crmSchema.Validate(crm); err != nil {
		return nil, err
	}
	cols := append([]string(nil), candidates.Columns...)

	joined, err := candidates.LeftJoin(crm.DedupBy(ColEmail), []string{ColEmail}, []string{ColEmail}, crmSuffix)
	if err != nil {
		return nil, err
	}

	marker := p.opts.ReviewMarker + " "
	for _, t := range transfers {
		p.transfer(joined, t.Field, marker, t.Review)
	}
	if joined.Has(ColPhoneExt + crmSuffix) {
		p.transfer(joined, ColPhoneExt, marker, false)
	} else if joined.Has(ColPhoneExt) && joined.AllEmpty(ColPhoneExt) {
		cols = without(cols, ColPhoneExt)
	}

	joined.Map(func(_, v string) string {
		if v == placeholder {
			return ""
		}
		return v
	})
	joined.Set(ColTitle, func(r table.Row) string {
		title := slashes.ReplaceAllString(r[ColTitle], " ")
		return whitespace.ReplaceAllString(title, " ")
	})

	return joined.Project(cols...), nil
}

func (p *Processor) transfer(d *table.Dataset, field, marker string, review bool) {
	src := field + crmSuffix
	d.Set(field, func(r table.Row) string {
		if v := r.Get(src); v != "" {
			return r[src]
		}
		if review {
			return marker + r[field]
		}
		return r[field]
	})
}

func without(cols []string, drop string) []string {
	out := cols[:0:0]
	for _, c := range cols {
		if c != drop {
			out = append(out, c)
		}
	}
	return out
}

// QualityCounts are the per-audience email-quality counts.
type QualityCounts struct {
	ABadEmail, NABadEmail           int
	AUndeliverable, NAUndeliverable int
	AInvalidEmail, NAInvalidEmail   int
}

// Quality counts the flagged rows of each audience across sets. A flag is
// set when its column holds anything other than blank, 0, false or no.
func (p *Processor) Quality(sets ...*table.Dataset) QualityCounts {
	var q QualityCounts
	for _, d := range sets {
		for _, r := range d.Rows {
			aud := demo.AudienceOf(r.Get(ColTrackingCode))
			if aud == demo.Neither {
				continue
			}
			add := func(col string, a, na *int) {
				if col == "" || !flagged(r.Get(col)) {
					return
				}
				if aud == demo.Attendee {
					*a++
				} else {
					*na++
				}
			}
			add(p.opts.BadEmail, &q.ABadEmail, &q.NABadEmail)
			add(p.opts.Undeliverable, &q.AUndeliverable, &q.NAUndeliverable)
			add(p.opts.InvalidEmail, &q.AInvalidEmail, &q.NAInvalidEmail)
		}
	}
	return q
}

func flagged(v string) bool {
	switch strings.ToLower(v) {
	case "", "0", "false", "no":
		return false
	}
	return true
}

// PreResult describes a completed marketing-DB pre-validation.
type PreResult struct {
	Uploaded   int
	Excluded   int
	Quality    QualityCounts
	SummaryErr error
}

// PreValidate corrects the exported candidates of d from the cleaned CRM
// upload, writes them back and records the marketing-DB counts.
func (p *Processor) PreValidate(d *demo.Demo) (*PreResult, error) {
	log := p.log.With(zap.String("event", d.Key()))

	crm, err := p.store.Read(d.CRMPath(), d.Roles.CRMUpload)
	if err != nil {
		return nil, fmt.Errorf("reading cleaned CRM upload: %w", err)
	}
	candidates, err := p.store.Read(d.MDBPath(), d.Roles.MDBUpload)
	if err != nil {
		return nil, fmt.Errorf("reading marketing-DB upload: %w", err)
	}
	exclude, err := p.store.Read(d.ExcludePath(), d.Roles.MDBExclude)
	if err != nil {
		return nil, fmt.Errorf("reading marketing-DB exclusions: %w", err)
	}

	upload, err := p.Correct(candidates, crm)
	if err != nil {
		return nil, err
	}
	if err := p.store.Write(d.MDBPath(), table.Overwrite, table.Sheet{Label: d.Roles.MDBUpload, Data: upload}); err != nil {
		return nil, extern.Wrap("writing marketing-DB upload", err)
	}

	q := p.Quality(upload, exclude)
	err = d.Counts.Update(ledger.Updates{
		ledger.AttendeeCode:    ledger.String(d.MDBAttend),
		ledger.NonAttendeeCode: ledger.String(d.MDBNonAttend),
		ledger.TrackingCodes:   ledger.List(d.TrackingCodes()...),
		ledger.UDBExcluded:     ledger.Int(exclude.Len()),
		ledger.UDBUploaded:     ledger.Int(upload.Len()),
		ledger.ABadEmail:       ledger.Int(q.ABadEmail),
		ledger.NABadEmail:      ledger.Int(q.NABadEmail),
		ledger.AUndeliverable:  ledger.Int(q.AUndeliverable),
		ledger.NAUndeliverable: ledger.Int(q.NAUndeliverable),
		ledger.AInvalidEmail:   ledger.Int(q.AInvalidEmail),
		ledger.NAInvalidEmail:  ledger.Int(q.NAInvalidEmail),
	})
	if err != nil {
		return nil, err
	}
	log.Info("marketing-DB candidates corrected",
		zap.Int("uploaded", upload.Len()),
		zap.Int("excluded", exclude.Len()))

	res := &PreResult{Uploaded: upload.Len(), Excluded: exclude.Len(), Quality: q}
	if p.summarizer != nil {
		if err := p.summarizer.BuildSummary(d.MDBPath(), d.Roles.MDBUpload, ReviewTables); err != nil {
			res.SummaryErr = &extern.Error{Kind: extern.ReportAutomation, Op: "building marketing-DB review tables", Err: err}
			log.Warn("review tables not built; build them manually", zap.Error(err))
		}
	}
	return res, nil
}

// PostResult describes a completed marketing-DB post-validation.
type PostResult struct {
	Path       string
	Rows       int
	Unreviewed int
}

// PostValidate exports the reviewed marketing-DB upload of d as CSV and
// records its per-audience counts.
func (p *Processor) PostValidate(d *demo.Demo) (*PostResult, error) {
	log := p.log.With(zap.String("event", d.Key()))

	upload, err := table.ReadAs(p.store, d.MDBPath(), d.Roles.MDBUpload, PostSchema)
	if err != nil {
		return nil, fmt.Errorf("reading reviewed marketing-DB upload: %w", err)
	}

	res := &PostResult{Rows: upload.Len()}
	res.Unreviewed = upload.Count(func(r table.Row) bool {
		return strings.Contains(r[ColCompany], p.opts.ReviewMarker)
	})
	if res.Unreviewed > 0 {
		log.Warn("data may not have been manually reviewed", zap.Int("rows", res.Unreviewed), zap.String("marker", p.opts.ReviewMarker))
	}

	upload.Drop(p.opts.InternalColumns...)
	res.Path = d.File(".csv", d.Roles.MDBUpload)
	if err := table.WriteCSV(res.Path, upload); err != nil {
		return nil, extern.Wrap("exporting marketing-DB upload", err)
	}

	a, na := demo.CountAudiences(upload, ColTrackingCode)
	err = d.Counts.Update(ledger.Updates{
		ledger.AttendeeCount:    ledger.Int(a),
		ledger.NonAttendeeCount: ledger.Int(na),
	})
	if err != nil {
		return nil, err
	}
	log.Info("marketing-DB upload written", zap.Int("rows", upload.Len()), zap.String("path", res.Path))
	return res, nil
}
