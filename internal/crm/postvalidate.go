package crm

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/TobiSchelling/demoproc/internal/demo"
	"github.com/TobiSchelling/demoproc/internal/extern"
	"github.com/TobiSchelling/demoproc/internal/ledger"
	"github.com/TobiSchelling/demoproc/internal/table"
)

// Columns removed from each upload batch before it is exported.
var (
	newDropColumns = []string{
		ColLeadID, ColContactID, ColDomain, ColAG, ColSecondaryDesc, ColDeadReason,
	}
	leadUpdateDropColumns = []string{
		ColContactID, ColDomain, ColAG, ColDeadReason, ColLeadCompany,
	}
	contactUpdateDropColumns = []string{
		ColLeadID, ColLastName, ColFirstName, ColEmail, ColDomain, ColState, ColPhone, ColCompany,
		ColLeadCompany, ColTitle, ColAG, ColSilverpopSync, ColRecordTypeID, ColLeadSource,
		ColCurrentLeadStatus, ColDeadReason, ColOwner, ColOwnerID, ColPhoneExt,
	}
)

// Batches are the three disjoint upload batches.
type Batches struct {
	New           *table.Dataset
	LeadUpdate    *table.Dataset
	ContactUpdate *table.Dataset
}

// Batch is one exported upload batch.
type Batch struct {
	Sheet string
	Path  string
	Rows  int
}

// PostResult describes a completed CRM post-validation.
type PostResult struct {
	Batches []Batch
	// Unreviewed counts rows still carrying the review marker.
	Unreviewed int
}

// Cut partitions the reviewed upload into batches. A record with an
// existing lead id is a lead update; otherwise one with an existing contact
// id is a contact update; everything else is new. Contact-no-lead records,
// if any, are added to the contact updates.
func Cut(reviewed, contactNoLead *table.Dataset) *Batches {
	lead, rest := reviewed.Partition(func(r table.Row) bool { return r.Get(ColLeadID) != "" })
	contact, fresh := rest.Partition(func(r table.Row) bool { return r.Get(ColContactID) != "" })
	if contactNoLead != nil {
		cnl := contactNoLead.Clone()
		cnl.Drop(ColLeadID)
		contact = table.Concat(contact, cnl)
	}

	fresh.Drop(newDropColumns...)
	dropBlankExt(fresh)
	lead.Drop(leadUpdateDropColumns...)
	dropBlankExt(lead)
	contact.Drop(contactUpdateDropColumns...)

	return &Batches{New: fresh, LeadUpdate: lead, ContactUpdate: contact}
}

func dropBlankExt(d *table.Dataset) {
	if d.Has(ColPhoneExt) && d.AllEmpty(ColPhoneExt) {
		d.Drop(ColPhoneExt)
	}
}

// PostValidate reads the manually reviewed CRM upload of d, cuts it into
// batches and writes each non-empty batch as a sheet and a CSV file. It
// records the per-audience batch counts.
func (p *Processor) PostValidate(d *demo.Demo) (*PostResult, error) {
	log := p.log.With(zap.String("event", d.Key()))
	path := d.CRMPath()

	reviewed, err := table.ReadAs(p.store, path, d.Roles.CRMUpload, PostSchema)
	if err != nil {
		return nil, fmt.Errorf("reading reviewed CRM upload: %w", err)
	}
	cnl, err := p.optionalSheet(path, SheetContactNoLead)
	if err != nil {
		return nil, err
	}
	nullPhone, err := p.optionalSheet(path, SheetNullPhone)
	if err != nil {
		return nil, err
	}

	res := &PostResult{Unreviewed: reviewed.Count(func(r table.Row) bool {
		return strings.Contains(r[ColCompany], p.opts.ReviewMarker)
	})}
	if res.Unreviewed > 0 {
		log.Warn("data may not have been manually reviewed", zap.Int("rows", res.Unreviewed), zap.String("marker", p.opts.ReviewMarker))
	}

	b := Cut(reviewed, cnl)
	var sheets []table.Sheet
	for _, s := range []table.Sheet{
		{Label: SheetNew, Data: b.New},
		{Label: SheetLeadUpdate, Data: b.LeadUpdate},
		{Label: SheetContactUpdate, Data: b.ContactUpdate},
	} {
		if s.Data.Len() == 0 {
			continue
		}
		sheets = append(sheets, s)
		csvPath := d.File(".csv", d.Roles.CRMUpload, s.Label)
		if err := table.WriteCSV(csvPath, s.Data); err != nil {
			return nil, extern.Wrap("exporting "+s.Label, err)
		}
		res.Batches = append(res.Batches, Batch{Sheet: s.Label, Path: csvPath, Rows: s.Data.Len()})
		log.Info("upload batch written", zap.String("batch", s.Label), zap.Int("rows", s.Data.Len()), zap.String("path", csvPath))
	}
	if len(sheets) > 0 {
		if err := p.store.Write(path, table.Append, sheets...); err != nil {
			return nil, extern.Wrap("writing CRM upload", err)
		}
	}

	aNew, naNew := demo.CountAudiences(b.New, ColTrackingCode)
	aLead, naLead := demo.CountAudiences(b.LeadUpdate, ColTrackingCode)
	aContact, naContact := demo.CountAudiences(b.ContactUpdate, ColTrackingCode)
	aCNL, naCNL := demo.CountAudiences(cnl, ColTrackingCode)
	aNull, naNull := demo.CountAudiences(nullPhone, ColTrackingCode)
	err = d.Counts.Update(ledger.Updates{
		ledger.ANew:            ledger.Int(aNew),
		ledger.NANew:           ledger.Int(naNew),
		ledger.ALeadUpdate:     ledger.Int(aLead),
		ledger.NALeadUpdate:    ledger.Int(naLead),
		ledger.AContactUpdate:  ledger.Int(aContact),
		ledger.NAContactUpdate: ledger.Int(naContact),
		ledger.AContactNoLead:  ledger.Int(aCNL),
		ledger.NAContactNoLead: ledger.Int(naCNL),
		ledger.ANullPhone:      ledger.Int(aNull),
		ledger.NANullPhone:     ledger.Int(naNull),
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// optionalSheet reads a bucket sheet that is only written when non-empty.
func (p *Processor) optionalSheet(path, label string) (*table.Dataset, error) {
	d, err := p.store.Read(path, label)
	if errors.Is(err, table.ErrSheetNotFound) {
		p.log.Debug("no bucket sheet", zap.String("sheet", label))
		return table.New(ColTrackingCode), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", label, err)
	}
	return d, nil
}
