// Package ledger stores the running reconciliation counts for each demo event.
//
// Entries are keyed by "{type} ({M/D/YYYY})" and hold a value for every metric
// in the fixed schema. Writes are all-or-nothing per batch, and reads always go
// back to the backing store because stages may run in separate processes
// hours or days apart.
package ledger

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownMetric is returned for a metric name outside the schema.
	ErrUnknownMetric = errors.New("unknown metric")
	// ErrUnknownEvent is returned when the ledger has no entry for an event key.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrInvalidValue is returned when a value does not fit its metric.
	ErrInvalidValue = errors.New("invalid metric value")
)

// Entry maps metric names to values for one event.
type Entry map[string]Value

// Updates is a batch of metric writes applied atomically by Store.Update.
type Updates map[string]Value

// Store is the counts ledger service.
type Store interface {
	// Initialize reseeds the store with a default entry per key, discarding
	// everything previously stored.
	Initialize(keys []string) error
	// Update overwrites the given metrics of one event. Either every update
	// in the batch is applied or none is.
	Update(key string, updates Updates) error
	// Get returns a single metric of one event.
	Get(key, name string) (Value, error)
	// GetAll returns every metric of one event.
	GetAll(key string) (Entry, error)
	// Events lists the event keys in the store, sorted.
	Events() ([]string, error)
}

// Key builds the ledger key for a demo event.
func Key(demoType string, date time.Time) string {
	return fmt.Sprintf("%s (%s)", demoType, date.Format("1/2/2006"))
}

// validate checks a batch against the schema before anything is written.
func validate(updates Updates) error {
	for name, v := range updates {
		def, ok := schemaIndex[name]
		if !ok {
			return fmt.Errorf("%w: %s is not a valid metric", ErrUnknownMetric, name)
		}
		if v.Kind() != def.Kind() {
			return fmt.Errorf("%w: %s expects %s, got %s", ErrInvalidValue, name, def.Kind(), v.Kind())
		}
		if v.Kind() == KindInt && v.Int() < 0 {
			return fmt.Errorf("%w: %s must not be negative (got %d)", ErrInvalidValue, name, v.Int())
		}
	}
	return nil
}

// filled returns a copy of e with schema defaults for any missing metric.
func filled(e Entry) Entry {
	out := DefaultEntry()
	for name, v := range e {
		out[name] = v.clone()
	}
	return out
}

func lookup(e Entry, name string) Value {
	if v, ok := e[name]; ok {
		return v.clone()
	}
	return schemaIndex[name].clone()
}

// Counts binds a Store to a single event key.
type Counts struct {
	store Store
	key   string
}

// NewCounts returns a view of store scoped to key.
func NewCounts(store Store, key string) *Counts {
	return &Counts{store: store, key: key}
}

// Key returns the event key this view is bound to.
func (c *Counts) Key() string { return c.key }

// Update applies a batch of metric writes to the bound event.
func (c *Counts) Update(updates Updates) error {
	return c.store.Update(c.key, updates)
}

// Get returns one metric of the bound event.
func (c *Counts) Get(name string) (Value, error) {
	return c.store.Get(c.key, name)
}

// All returns every metric of the bound event.
func (c *Counts) All() (Entry, error) {
	return c.store.GetAll(c.key)
}
