// Package crm prepares the CRM side of a demo event: the pre-validation
// clean-up that splits the upload candidates into review buckets, and the
// post-validation step that cuts the reviewed data into upload batches.
package crm

import (
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/TobiSchelling/demoproc/internal/report"
	"github.com/TobiSchelling/demoproc/internal/table"
)

// CRM upload columns.
const (
	ColLastName          = "LastName"
	ColFirstName         = "FirstName"
	ColEmail             = "Email"
	ColPhone             = "PhoneNumber"
	ColLeadPhone         = "Existing Lead Phone"
	ColPhoneExt          = "PhoneExt"
	ColCompany           = "Company"
	ColMasterName        = "Master Name"
	ColSecondaryDesc     = "Current Secondary Description"
	ColDeadReason        = "Dead Reason"
	ColMarketingNote     = "Current Marketing Note"
	ColSalesNote         = "Current Sales Note"
	ColContactID         = "Existing Contact ID"
	ColLeadID            = "Existing Lead ID"
	ColTrackingCode      = "TrackingCode"
	ColPubCode           = "PubCode"
	ColAG                = "AG"
	ColOwner             = "Current Owner"
	ColSilverpopSync     = "Silverpop Sync"
	ColDomain            = "Domain"
	ColLeadCompany       = "Existing Lead Company"
	ColState             = "State"
	ColTitle             = "CustomerTitle"
	ColOwnerID           = "Current Owner ID"
	ColRecordTypeID      = "Record Type ID"
	ColLeadSource        = "LeadSource"
	ColCurrentLeadStatus = "Current Lead Status"
)

// Bucket sheet labels in the CRM upload workbook.
const (
	SheetContactNoLead = "ContactNoLead"
	SheetNullPhone     = "NullPhone"
	SheetDead          = "DeadNonAttendee"
	SheetNew           = "New"
	SheetLeadUpdate    = "LeadUpdate"
	SheetContactUpdate = "ContactUpdate"
)

// UnknownName fills a blank last name.
const UnknownName = "[Unknown]"

// PreSchema is what the exported CRM candidates must carry.
var PreSchema = table.Schema{
	Name: "CRM upload candidates",
	Columns: []string{
		ColLastName, ColFirstName, ColEmail, ColPhone, ColLeadPhone, ColCompany, ColMasterName,
		ColSecondaryDesc, ColDeadReason, ColMarketingNote, ColContactID, ColLeadID, ColTrackingCode,
	},
}

// PostSchema is what the reviewed CRM upload must carry.
var PostSchema = table.Schema{
	Name:    "reviewed CRM upload",
	Columns: []string{ColEmail, ColCompany, ColContactID, ColLeadID, ColTrackingCode},
}

// ReviewTables are the summary tables built for the manual CRM review.
var ReviewTables = []report.TableSpec{
	{
		Name: "owners", Row: 2, Col: 1,
		Rows:   []string{ColAG, ColOwner},
		Values: []report.ValueField{{Field: ColOwner, Caption: "Count of Current Owner", Func: report.Count}},
	},
	{
		Name: "tracking codes", Row: 20, Col: 1,
		Rows:   []string{ColPubCode, ColTrackingCode},
		Values: []report.ValueField{{Field: ColTrackingCode, Caption: "Count of TrackingCode", Func: report.Count}},
	},
	{
		Name: "notes", Row: 30, Col: 1,
		Rows:   []string{ColSalesNote, ColMarketingNote},
		Values: []report.ValueField{{Field: ColMarketingNote, Caption: "Count of Current Marketing Note", Func: report.Count}},
	},
	{
		Name: "sync", Row: 2, Col: 4,
		Rows:   []string{ColSilverpopSync, ColEmail},
		Values: []report.ValueField{{Field: ColSilverpopSync, Caption: "Count of Silverpop Sync", Func: report.Count}},
	},
}

// Options configure the CRM steps.
type Options struct {
	// LegacyColumns are dropped from every bucket.
	LegacyColumns []string
	// ReviewMarker prefixes values that need a manual decision.
	ReviewMarker string
}

// Processor runs the CRM steps for an event.
type Processor struct {
	store      table.Store
	summarizer report.Summarizer
	opts       Options
	log        *zap.Logger
}

// NewProcessor creates a CRM processor. summarizer may be nil, in which case
// no summary tables are built.
func NewProcessor(store table.Store, summarizer report.Summarizer, opts Options, log *zap.Logger) *Processor {
	if opts.ReviewMarker == "" {
		opts.ReviewMarker = "REVIEW"
	}
	return &Processor{store: store, summarizer: summarizer, opts: opts, log: log}
}

var titleCaser = cases.Title(language.English)

// NormalizeName title-cases a name written entirely in upper or lower case.
// Mixed-case names such as "McDonald" are left alone.
func NormalizeName(name string) string {
	hasUpper, hasLower := false, false
	for _, r := range name {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		}
	}
	if hasUpper == hasLower {
		return name
	}
	return titleCaser.String(name)
}

// Uniquify removes repeated tokens from a secondary description. Segments
// separated by " / " are reduced first: repeats are dropped, and so is any
// segment contained in a different one. Then repeated words are dropped
// within each remaining segment. A lone "/" is never treated as a repeat.
func Uniquify(desc string) string {
	segments := dedupTokens(strings.Split(desc, " / "))
	var kept []string
	for _, s := range segments {
		absorbed := false
		for _, other := range segments {
			if s != other && strings.Contains(other, s) {
				absorbed = true
				break
			}
		}
		if !absorbed {
			kept = append(kept, s)
		}
	}
	for i, s := range kept {
		kept[i] = strings.Join(dedupTokens(strings.Split(s, " ")), " ")
	}
	return strings.Join(kept, " / ")
}

func dedupTokens(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if seen[t] && t != "/" {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
