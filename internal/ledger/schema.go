package ledger

// Metric names. The set is closed: Update rejects anything not listed in schema.
const (
	AInitialCount     = "a_initial_count"
	NAInitialCount    = "na_initial_count"
	AInternalRecords  = "a_internal_records"
	NAInternalRecords = "na_internal_records"

	ANullPhone         = "a_null_phone"
	NANullPhone        = "na_null_phone"
	AContactNoLead     = "a_contact_no_lead"
	NAContactNoLead    = "na_contact_no_lead"
	ANew               = "a_new"
	NANew              = "na_new"
	ALeadUpdate        = "a_lead_update"
	NALeadUpdate       = "na_lead_update"
	AContactUpdate     = "a_contact_update"
	NAContactUpdate    = "na_contact_update"
	FlippedOpen        = "flipped_open"
	LeftDead           = "left_dead"
	AConverted         = "a_converted"
	NAConverted        = "na_converted"
	UpdatedLeads       = "updated_leads"
	AsRequested        = "as_requested"
	RequestedAssign    = "requested_assign"
	TMAttendeeCode     = "tmattendee_code"
	TMAttendeeCount    = "tmattendee_count"
	TMNonAttendeeCode  = "tmnonattendee_code"
	TMNonAttendeeCount = "tmnonattendee_count"
	Total              = "total"

	AttendeeCount    = "attendee_count"
	NonAttendeeCount = "nonattendee_count"
	AttendeeCode     = "attendee_code"
	NonAttendeeCode  = "nonattendee_code"
	TrackingCodes    = "tracking_codes"

	AMasterSupp     = "a_mastersupp"
	NAMasterSupp    = "na_mastersupp"
	AActiveFalse    = "a_activefalse"
	NAActiveFalse   = "na_activefalse"
	ABadEmail       = "a_bad_email"
	NABadEmail      = "na_bad_email"
	AUndeliverable  = "a_undeliverable"
	NAUndeliverable = "na_undeliverable"
	AInvalidEmail   = "a_invalid_email"
	NAInvalidEmail  = "na_invalid_email"
	AMerged         = "a_merged"
	NAMerged        = "na_merged"
	AHardBounce     = "a_hardbounce"
	NAHardBounce    = "na_hardbounce"

	ContactNoLead = "contact_no_lead"
	NullPhone     = "null_phone"
	Converted     = "converted"
	UDBExcluded   = "udb_excluded"
	UDBUploaded   = "udb_uploaded"
	SFExcluded    = "sf_excluded"
)

// Metric is one entry of the fixed metric schema.
type Metric struct {
	Name    string
	Default Value
}

var schema = []Metric{
	{AInitialCount, Int(0)},
	{NAInitialCount, Int(0)},
	{AInternalRecords, Int(0)},
	{NAInternalRecords, Int(0)},
	{ANullPhone, Int(0)},
	{NANullPhone, Int(0)},
	{AContactNoLead, Int(0)},
	{NAContactNoLead, Int(0)},
	{ANew, Int(0)},
	{NANew, Int(0)},
	{ALeadUpdate, Int(0)},
	{NALeadUpdate, Int(0)},
	{AContactUpdate, Int(0)},
	{NAContactUpdate, Int(0)},
	{FlippedOpen, Int(0)},
	{LeftDead, Int(0)},
	{AConverted, Int(0)},
	{NAConverted, Int(0)},
	{UpdatedLeads, Int(0)},
	{AsRequested, Int(0)},
	{RequestedAssign, String("")},
	{TMAttendeeCode, String("")},
	{TMAttendeeCount, Int(0)},
	{TMNonAttendeeCode, String("")},
	{TMNonAttendeeCount, Int(0)},
	{Total, Int(0)},
	{AttendeeCount, Int(0)},
	{NonAttendeeCount, Int(0)},
	{AttendeeCode, String("")},
	{NonAttendeeCode, String("")},
	{TrackingCodes, List()},
	{AMasterSupp, Int(0)},
	{NAMasterSupp, Int(0)},
	{AActiveFalse, Int(0)},
	{NAActiveFalse, Int(0)},
	{ABadEmail, Int(0)},
	{NABadEmail, Int(0)},
	{AUndeliverable, Int(0)},
	{NAUndeliverable, Int(0)},
	{AInvalidEmail, Int(0)},
	{NAInvalidEmail, Int(0)},
	{AMerged, Int(0)},
	{NAMerged, Int(0)},
	{AHardBounce, Int(0)},
	{NAHardBounce, Int(0)},
	{ContactNoLead, Int(0)},
	{NullPhone, Int(0)},
	{Converted, Int(0)},
	{UDBExcluded, Int(0)},
	{UDBUploaded, Int(0)},
	{SFExcluded, Int(0)},
}

var schemaIndex = func() map[string]Value {
	m := make(map[string]Value, len(schema))
	for _, metric := range schema {
		m[metric.Name] = metric.Default
	}
	return m
}()

// Schema returns the metric schema in its canonical order.
func Schema() []Metric {
	out := make([]Metric, len(schema))
	copy(out, schema)
	return out
}

// Known reports whether name is part of the metric schema.
func Known(name string) bool {
	_, ok := schemaIndex[name]
	return ok
}

// DefaultEntry returns a freshly seeded entry with every metric at its default.
func DefaultEntry() Entry {
	e := make(Entry, len(schema))
	for _, metric := range schema {
		e[metric.Name] = metric.Default.clone()
	}
	return e
}
