// Package archive appends a finished event to the historical log: the raw
// attendee records, both upload datasets and one count row per audience.
package archive

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/TobiSchelling/demoproc/internal/database"
	"github.com/TobiSchelling/demoproc/internal/demo"
	"github.com/TobiSchelling/demoproc/internal/ledger"
	"github.com/TobiSchelling/demoproc/internal/table"
)

// DateLayout is how event dates are written to the archive.
const DateLayout = "01/02/2006"

// RawColumns are the raw attendee fields kept in the archive.
var RawColumns = []string{
	"Attended", "Last Name", "First Name", "Email Address", "State/Province", "Phone",
	"Organization", "Job Title", "Unsubscribed",
}

var rawSchema = table.Schema{Name: "raw attendee data", Columns: RawColumns}

// Exclusion flags counted per audience.
const (
	ColMasterSuppression = "MasterSuppression"
	ColIsActiveFalse     = "IsActiveFalse"
	colTrackingCode      = "TrackingCode"
)

// Writer persists an event archive.
type Writer interface {
	ReplaceArchive(a *database.Archive) (string, error)
}

// Result describes a completed archive run.
type Result struct {
	BatchID string
	Raw     int
	CRM     int
	MDB     int
	Counts  []database.UploadCount
}

// Archiver builds and writes event archives.
type Archiver struct {
	store table.Store
	out   Writer
	log   *zap.Logger
}

// New creates an Archiver.
func New(store table.Store, out Writer, log *zap.Logger) *Archiver {
	return &Archiver{store: store, out: out, log: log}
}

// Exclusions counts the master-suppression and inactive flags of the
// marketing-DB exclusions per audience and records them.
func Exclusions(d *demo.Demo, exclude *table.Dataset) error {
	var aMS, naMS, aIAF, naIAF int
	for _, r := range exclude.Rows {
		var ms, iaf *int
		switch demo.AudienceOf(r.Get(colTrackingCode)) {
		case demo.Attendee:
			ms, iaf = &aMS, &aIAF
		case demo.NonAttendee:
			ms, iaf = &naMS, &naIAF
		default:
			continue
		}
		if r.Get(ColMasterSuppression) != "" {
			*ms++
		}
		if r.Get(ColIsActiveFalse) != "" {
			*iaf++
		}
	}
	return d.Counts.Update(ledger.Updates{
		ledger.AMasterSupp:   ledger.Int(aMS),
		ledger.NAMasterSupp:  ledger.Int(naMS),
		ledger.AActiveFalse:  ledger.Int(aIAF),
		ledger.NAActiveFalse: ledger.Int(naIAF),
	})
}

// ApplyExcludedFallback uses the CRM exclusion count as the non-attendee
// tracking count when the non-attendees were excluded from the upload.
func ApplyExcludedFallback(d *demo.Demo) (bool, error) {
	e, err := d.Counts.All()
	if err != nil {
		return false, err
	}
	excluded := e[ledger.SFExcluded].Int()
	if e[ledger.TMNonAttendeeCount].Int() != 0 || excluded <= 0 {
		return false, nil
	}
	return true, d.Counts.Update(ledger.Updates{ledger.TMNonAttendeeCount: ledger.Int(excluded)})
}

// CountRows builds the attendee and non-attendee count rows from a ledger
// entry.
func CountRows(d *demo.Demo, e ledger.Entry) []database.UploadCount {
	date := d.Date.Format(DateLayout)
	n := func(name string) int { return e[name].Int() }
	s := func(name string) string { return e[name].String() }
	return []database.UploadCount{
		{
			Audience:         "attendee",
			Date:             date,
			Type:             d.Type,
			PubCode:          d.PubCode,
			InitialCount:     n(ledger.AInitialCount),
			InternalRecords:  n(ledger.AInternalRecords),
			SFTrackingCode:   s(ledger.TMAttendeeCode),
			SFCount:          n(ledger.TMAttendeeCount),
			UDBTrackingCode:  s(ledger.AttendeeCode),
			UDBUploadedCount: n(ledger.AttendeeCount),
			UDBMasterSupp:    n(ledger.AMasterSupp),
			UDBIsActiveFalse: n(ledger.AActiveFalse),
			UDBHardBounce:    n(ledger.AHardBounce),
			SFNewLeads:       n(ledger.ANew),
			SFUpdatedLeads:   n(ledger.ALeadUpdate),
			SFUpdatedContact: n(ledger.AContactUpdate),
			Converted:        n(ledger.AConverted),
			FlippedOpen:      n(ledger.FlippedOpen),
			ContactNoLead:    n(ledger.AContactNoLead),
			NullPhone:        n(ledger.ANullPhone),
			Merged:           n(ledger.AMerged),
			BadEmail:         n(ledger.ABadEmail),
		},
		{
			Audience:         "nonattendee",
			Date:             date,
			Type:             d.Type,
			PubCode:          d.PubCode,
			InitialCount:     n(ledger.NAInitialCount),
			InternalRecords:  n(ledger.NAInternalRecords),
			SFTrackingCode:   s(ledger.TMNonAttendeeCode),
			SFCount:          n(ledger.TMNonAttendeeCount),
			UDBTrackingCode:  s(ledger.NonAttendeeCode),
			UDBUploadedCount: n(ledger.NonAttendeeCount),
			UDBMasterSupp:    n(ledger.NAMasterSupp),
			UDBIsActiveFalse: n(ledger.NAActiveFalse),
			UDBHardBounce:    n(ledger.NAHardBounce),
			SFNewLeads:       n(ledger.NANew),
			SFUpdatedLeads:   n(ledger.NALeadUpdate),
			SFUpdatedContact: n(ledger.NAContactUpdate),
			Converted:        n(ledger.NAConverted),
			LeftDead:         n(ledger.LeftDead),
			ContactNoLead:    n(ledger.NAContactNoLead),
			NullPhone:        n(ledger.NANullPhone),
			Merged:           n(ledger.NAMerged),
			BadEmail:         n(ledger.NABadEmail),
		},
	}
}

// records stamps every row of data with the event date and type.
func records(source string, data *table.Dataset, d *demo.Demo) []database.ArchiveRecord {
	date := d.Date.Format(DateLayout)
	out := make([]database.ArchiveRecord, 0, data.Len())
	for i, r := range data.Rows {
		row := make(map[string]string, len(data.Columns)+2)
		for _, c := range data.Columns {
			row[c] = r[c]
		}
		row["Date"] = date
		row["Type"] = d.Type
		out = append(out, database.ArchiveRecord{Source: source, Position: i, Data: row})
	}
	return out
}

// Archive records the final exclusion counts of d and writes its archive.
// rawPath is the configured raw data location; the relocated copy in the
// event folder is used when the original is gone.
func (a *Archiver) Archive(d *demo.Demo, rawPath, rawSheet string) (*Result, error) {
	log := a.log.With(zap.String("event", d.Key()))

	raw, err := table.ReadAs(a.store, d.LocateRaw(a.store, rawPath), rawSheet, rawSchema)
	if err != nil {
		return nil, fmt.Errorf("reading raw data: %w", err)
	}
	crm, err := a.store.Read(d.CRMPath(), d.Roles.CRMUpload)
	if err != nil {
		return nil, fmt.Errorf("reading CRM upload: %w", err)
	}
	mdb, err := a.store.Read(d.MDBPath(), d.Roles.MDBUpload)
	if err != nil {
		return nil, fmt.Errorf("reading marketing-DB upload: %w", err)
	}
	exclude, err := a.store.Read(d.ExcludePath(), d.Roles.MDBExclude)
	if err != nil {
		return nil, fmt.Errorf("reading marketing-DB exclusions: %w", err)
	}

	if err := Exclusions(d, exclude); err != nil {
		return nil, err
	}
	applied, err := ApplyExcludedFallback(d)
	if err != nil {
		return nil, err
	}
	if applied {
		log.Info("non-attendees were excluded; using the CRM exclusion count as their tracking count")
	}

	entry, err := d.Counts.All()
	if err != nil {
		return nil, err
	}

	rec := records(database.SourceRaw, raw.Project(RawColumns...), d)
	rec = append(rec, records(database.SourceCRM, crm, d)...)
	rec = append(rec, records(database.SourceMDB, mdb, d)...)
	counts := CountRows(d, entry)

	id, err := a.out.ReplaceArchive(&database.Archive{EventKey: d.Key(), Records: rec, Counts: counts})
	if err != nil {
		return nil, fmt.Errorf("writing archive: %w", err)
	}
	log.Info("archive written",
		zap.String("batch", id),
		zap.Int("raw", raw.Len()),
		zap.Int("crm", crm.Len()),
		zap.Int("mdb", mdb.Len()))
	return &Result{BatchID: id, Raw: raw.Len(), CRM: crm.Len(), MDB: mdb.Len(), Counts: counts}, nil
}
