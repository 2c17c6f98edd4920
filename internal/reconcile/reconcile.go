// Package reconcile checks that every record taken in for an event is
// accounted for on both the CRM and the marketing-DB side.
package reconcile

import (
	"github.com/TobiSchelling/demoproc/internal/ledger"
)

// Term is one contribution to a side's total.
type Term struct {
	Metric string
	Value  int
}

// Side is the reconciliation of one destination system.
type Side struct {
	Name     string
	Terms    []Term
	Total    int
	Initial  int
	Variance int
}

// Balanced reports whether the side accounts for exactly the intake.
func (s Side) Balanced() bool { return s.Variance == 0 }

// Report is the reconciliation of one event.
type Report struct {
	Event string
	CRM   Side
	MDB   Side
}

// Balanced reports whether both sides balance.
func (r *Report) Balanced() bool { return r.CRM.Balanced() && r.MDB.Balanced() }

// crmTerms are the terminal CRM buckets a record can end in.
var crmTerms = []string{
	ledger.AInternalRecords,
	ledger.NAInternalRecords,
	ledger.NullPhone,
	ledger.ContactNoLead,
	ledger.LeftDead,
	ledger.AConverted,
	ledger.NAConverted,
	ledger.UpdatedLeads,
	ledger.AsRequested,
}

var mdbTerms = []string{
	ledger.AInternalRecords,
	ledger.NAInternalRecords,
	ledger.UDBUploaded,
	ledger.UDBExcluded,
}

// Compute reconciles the ledger entry of an event. Missing metrics count as
// zero.
func Compute(event string, e ledger.Entry) *Report {
	initial := e[ledger.AInitialCount].Int() + e[ledger.NAInitialCount].Int()
	return &Report{
		Event: event,
		CRM:   side("CRM", crmTerms, e, initial),
		MDB:   side("Marketing DB", mdbTerms, e, initial),
	}
}

func side(name string, metrics []string, e ledger.Entry, initial int) Side {
	s := Side{Name: name, Initial: initial}
	for _, m := range metrics {
		v := e[m].Int()
		s.Terms = append(s.Terms, Term{Metric: m, Value: v})
		s.Total += v
	}
	s.Variance = s.Total - initial
	return s
}

// Event reconciles one event read from store.
func Event(store ledger.Store, event string) (*Report, error) {
	e, err := store.GetAll(event)
	if err != nil {
		return nil, err
	}
	return Compute(event, e), nil
}
