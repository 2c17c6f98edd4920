package crm

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"go.uber.org/zap"

	"github.com/TobiSchelling/demoproc/internal/demo"
	"github.com/TobiSchelling/demoproc/internal/extern"
	"github.com/TobiSchelling/demoproc/internal/ledger"
	"github.com/TobiSchelling/demoproc/internal/table"
)

// Buckets is the CRM candidate set split for review. Every input record is
// in exactly one of them.
type Buckets struct {
	Clean         *table.Dataset
	NullPhone     *table.Dataset
	Dead          *table.Dataset
	ContactNoLead *table.Dataset
	// FlipToOpen lists attendees that are dead in the CRM with a warm note.
	// They stay in Clean.
	FlipToOpen []string
}

// Total is the number of records across all buckets.
func (b *Buckets) Total() int {
	return b.Clean.Len() + b.NullPhone.Len() + b.Dead.Len() + b.ContactNoLead.Len()
}

// PreResult describes a completed CRM pre-validation.
type PreResult struct {
	Input      int
	Buckets    *Buckets
	SFExcluded int
	// SummaryErr is set when the review tables could not be built. The
	// buckets were written regardless.
	SummaryErr error
}

// Split cleans the CRM candidates and partitions them into buckets.
func (p *Processor) Split(data *table.Dataset) (*Buckets, error) {
	if err := PreSchema.Validate(data); err != nil {
		return nil, err
	}
	data = data.Clone()

	data.Set(ColLastName, func(r table.Row) string {
		if name := r.Get(ColLastName); name != "" {
			return NormalizeName(name)
		}
		return UnknownName
	})
	data.Set(ColFirstName, func(r table.Row) string { return NormalizeName(r.Get(ColFirstName)) })

	data.Set(ColPhone, func(r table.Row) string {
		if phone := r.Get(ColPhone); phone != "" {
			return phone
		}
		return r.Get(ColLeadPhone)
	})
	nullPhone, clean := data.Partition(func(r table.Row) bool { return r.Get(ColPhone) == "" })
	clean.Drop(ColLeadPhone)

	if clean.Has(ColPhoneExt) && clean.AllEmpty(ColPhoneExt) {
		clean.Drop(ColPhoneExt)
	}

	marker := p.opts.ReviewMarker + " "
	clean.Set(ColCompany, func(r table.Row) string {
		if master := r.Get(ColMasterName); master != "" {
			return master
		}
		return marker + r[ColCompany]
	})
	clean.Drop(ColMasterName)

	clean.Set(ColSecondaryDesc, func(r table.Row) string { return Uniquify(r[ColSecondaryDesc]) })

	dead, clean := clean.Partition(isDeadNonAttendee)
	var flip []string
	for _, r := range clean.Rows {
		if r.Get(ColDeadReason) != "" && strings.Contains(r[ColMarketingNote], "Warm") {
			flip = append(flip, r.Get(ColEmail))
		}
	}

	cnl, clean := clean.Partition(func(r table.Row) bool {
		return r.Get(ColContactID) != "" && r.Get(ColLeadID) == ""
	})

	for _, d := range []*table.Dataset{clean, nullPhone, dead, cnl} {
		d.Drop(p.opts.LegacyColumns...)
	}

	return &Buckets{Clean: clean, NullPhone: nullPhone, Dead: dead, ContactNoLead: cnl, FlipToOpen: flip}, nil
}

// isDeadNonAttendee selects records marked dead whose note is cold and not
// warm.
func isDeadNonAttendee(r table.Row) bool {
	note := r[ColMarketingNote]
	return r.Get(ColDeadReason) != "" && strings.Contains(note, "Cold") && !strings.Contains(note, "Warm")
}

// PreValidate cleans the exported CRM candidates of d, writes the buckets
// back to the CRM upload workbook and records the bucket counts.
func (p *Processor) PreValidate(d *demo.Demo) (*PreResult, error) {
	log := p.log.With(zap.String("event", d.Key()))
	path := d.CRMPath()

	data, err := p.store.Read(path, d.Roles.CRMUpload)
	if err != nil {
		return nil, fmt.Errorf("reading CRM upload: %w", err)
	}
	b, err := p.Split(data)
	if err != nil {
		return nil, err
	}
	if b.Total() != data.Len() {
		return nil, fmt.Errorf("CRM buckets hold %d records, expected %d", b.Total(), data.Len())
	}

	sheets := []table.Sheet{{Label: d.Roles.CRMUpload, Data: b.Clean}}
	for _, s := range []table.Sheet{
		{Label: SheetContactNoLead, Data: b.ContactNoLead},
		{Label: SheetNullPhone, Data: b.NullPhone},
		{Label: SheetDead, Data: b.Dead},
	} {
		if s.Data.Len() > 0 {
			sheets = append(sheets, s)
		}
	}
	if err := p.store.Write(path, table.Overwrite, sheets...); err != nil {
		return nil, extern.Wrap("writing CRM upload", err)
	}

	excluded, err := p.excludedCount(d)
	if err != nil {
		return nil, err
	}

	d.FlipToOpen = b.FlipToOpen
	err = d.Counts.Update(ledger.Updates{
		ledger.LeftDead:      ledger.Int(b.Dead.Len()),
		ledger.FlippedOpen:   ledger.Int(len(b.FlipToOpen)),
		ledger.NullPhone:     ledger.Int(b.NullPhone.Len()),
		ledger.ContactNoLead: ledger.Int(b.ContactNoLead.Len()),
		ledger.SFExcluded:    ledger.Int(excluded),
	})
	if err != nil {
		return nil, err
	}

	log.Info("CRM candidates split",
		zap.Int("clean", b.Clean.Len()),
		zap.Int("null_phone", b.NullPhone.Len()),
		zap.Int("dead", b.Dead.Len()),
		zap.Int("contact_no_lead", b.ContactNoLead.Len()),
		zap.Int("sf_excluded", excluded))
	if len(b.FlipToOpen) > 0 {
		log.Warn("attendees are dead in the CRM and need to be flipped to open", zap.Strings("emails", b.FlipToOpen))
	}

	res := &PreResult{Input: data.Len(), Buckets: b, SFExcluded: excluded}
	if p.summarizer != nil {
		if err := p.summarizer.BuildSummary(path, d.Roles.CRMUpload, ReviewTables); err != nil {
			res.SummaryErr = &extern.Error{Kind: extern.ReportAutomation, Op: "building CRM review tables", Err: err}
			log.Warn("review tables not built; build them manually", zap.Error(err))
		}
	}
	return res, nil
}

// excludedCount counts the CRM exclusion workbook. A missing workbook or an
// unconfigured role counts as zero.
func (p *Processor) excludedCount(d *demo.Demo) (int, error) {
	path := d.CRMExcludePath()
	if path == "" {
		return 0, nil
	}
	data, err := p.store.Read(path, d.Roles.CRMExclude)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, table.ErrSheetNotFound) {
		p.log.Info("no CRM exclusion file", zap.String("path", path))
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading CRM exclusions: %w", err)
	}
	return data.Len(), nil
}
