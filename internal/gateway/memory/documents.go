// Package memory provides an in-process implementation of the gateway contracts,
// used for local development and as the backend in tests.
package memory

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"dabubble/internal/gateway"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

type document struct {
	seq  int64
	data map[string]interface{}
}

// Documents is a concurrency-safe document store holding JSON documents per collection
type Documents struct {
	mu          sync.RWMutex
	seq         int64
	collections map[string]map[string]*document
}

var (
	_ gateway.Documents    = (*Documents)(nil)
	_ gateway.ArrayMutator = (*Documents)(nil)
)

func NewDocuments() *Documents {
	return &Documents{collections: make(map[string]map[string]*document)}
}

func (d *Documents) Create(_ context.Context, collection string, data interface{}) (string, error) {
	m, err := normalize(data)
	if err != nil {
		return "", err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	id := uuid.NewString()
	d.putLocked(collection, id, m)
	return id, nil
}

func (d *Documents) Set(_ context.Context, collection, id string, data interface{}) error {
	m, err := normalize(data)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.putLocked(collection, id, m)
	return nil
}

func (d *Documents) Get(_ context.Context, collection, id string) (gateway.Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	doc, ok := d.collections[collection][id]
	if !ok {
		return gateway.Document{}, gateway.ErrNotFound
	}
	return snapshot(id, doc)
}

func (d *Documents) Update(_ context.Context, collection, id string, fields gateway.Fields) error {
	patch, err := normalize(map[string]interface{}(fields))
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	doc, ok := d.collections[collection][id]
	if !ok {
		return gateway.ErrNotFound
	}
	for k, v := range patch {
		doc.data[k] = v
	}
	return nil
}

func (d *Documents) Delete(_ context.Context, collection, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.collections[collection][id]; !ok {
		return gateway.ErrNotFound
	}
	delete(d.collections[collection], id)
	return nil
}

func (d *Documents) Query(_ context.Context, collection string, q gateway.Query) ([]gateway.Document, error) {
	filters := make([]normalizedFilter, 0, len(q.Filters))
	for _, f := range q.Filters {
		nf, err := normalizeFilter(f)
		if err != nil {
			return nil, err
		}
		filters = append(filters, nf)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	type entry struct {
		id  string
		doc *document
	}
	var matched []entry
	for id, doc := range d.collections[collection] {
		if matchAll(doc.data, filters) {
			matched = append(matched, entry{id: id, doc: doc})
		}
	}

	desc := q.OrderBy != nil && q.OrderBy.Desc
	sort.Slice(matched, func(i, j int) bool {
		if q.OrderBy != nil {
			c := compare(matched[i].doc.data[q.OrderBy.Field], matched[j].doc.data[q.OrderBy.Field], q.OrderBy.Time)
			if c != 0 {
				if desc {
					return c > 0
				}
				return c < 0
			}
		}
		if desc {
			return matched[i].doc.seq > matched[j].doc.seq
		}
		return matched[i].doc.seq < matched[j].doc.seq
	})

	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	docs := make([]gateway.Document, 0, len(matched))
	for _, e := range matched {
		doc, err := snapshot(e.id, e.doc)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// ArrayUnion appends the values missing from the array field in one step
func (d *Documents) ArrayUnion(_ context.Context, collection, id, field string, values ...string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	doc, ok := d.collections[collection][id]
	if !ok {
		return gateway.ErrNotFound
	}
	current, _ := doc.data[field].([]interface{})
	for _, v := range values {
		if !containsValue(current, v) {
			current = append(current, v)
		}
	}
	doc.data[field] = current
	doc.data["updatedAt"] = time.Now().UTC().Format(time.RFC3339Nano)
	return nil
}

// ArrayRemove drops every occurrence of the values from the array field in one step
func (d *Documents) ArrayRemove(_ context.Context, collection, id, field string, values ...string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	doc, ok := d.collections[collection][id]
	if !ok {
		return gateway.ErrNotFound
	}
	current, _ := doc.data[field].([]interface{})
	kept := make([]interface{}, 0, len(current))
	for _, e := range current {
		remove := false
		for _, v := range values {
			if e == v {
				remove = true
				break
			}
		}
		if !remove {
			kept = append(kept, e)
		}
	}
	doc.data[field] = kept
	doc.data["updatedAt"] = time.Now().UTC().Format(time.RFC3339Nano)
	return nil
}

// Len returns the number of documents in the collection
func (d *Documents) Len(collection string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.collections[collection])
}

func (d *Documents) putLocked(collection, id string, data map[string]interface{}) {
	c, ok := d.collections[collection]
	if !ok {
		c = make(map[string]*document)
		d.collections[collection] = c
	}
	d.seq++
	c[id] = &document{seq: d.seq, data: data}
}

// normalize turns v into the generic JSON shape (map, []interface{}, string, float64, bool, nil)
func normalize(v interface{}) (map[string]interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling document: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("document must be a JSON object: %w", err)
	}
	if m == nil {
		m = make(map[string]interface{})
	}
	return m, nil
}

func normalizeValue(v interface{}) (interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	err = json.Unmarshal(b, &out)
	return out, err
}

func snapshot(id string, doc *document) (gateway.Document, error) {
	b, err := json.Marshal(doc.data)
	if err != nil {
		return gateway.Document{}, err
	}
	return gateway.Document{ID: id, Data: b}, nil
}

type normalizedFilter struct {
	field  string
	op     gateway.Operator
	values []interface{}
}

func normalizeFilter(f gateway.Filter) (normalizedFilter, error) {
	nf := normalizedFilter{field: f.Field, op: f.Op}
	switch f.Op {
	case gateway.OpEqual:
		v, err := normalizeValue(f.Value)
		if err != nil {
			return nf, err
		}
		nf.values = []interface{}{v}
	case gateway.OpIn:
		v, err := normalizeValue(f.Value)
		if err != nil {
			return nf, err
		}
		list, ok := v.([]interface{})
		if !ok {
			return nf, fmt.Errorf("filter on %q: %q requires a list value", f.Field, f.Op)
		}
		nf.values = list
	default:
		return nf, fmt.Errorf("unsupported operator %q", f.Op)
	}
	return nf, nil
}

func matchAll(data map[string]interface{}, filters []normalizedFilter) bool {
	for _, f := range filters {
		v, ok := data[f.field]
		if !ok {
			return false
		}
		hit := false
		for _, want := range f.values {
			if reflect.DeepEqual(v, want) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

func containsValue(list []interface{}, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}

// compare orders two JSON values. Missing values sort first.
func compare(a, b interface{}, asTime bool) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if asTime {
		as, _ := a.(string)
		bs, _ := b.(string)
		at, aerr := time.Parse(time.RFC3339Nano, as)
		bt, berr := time.Parse(time.RFC3339Nano, bs)
		if aerr == nil && berr == nil {
			switch {
			case at.Before(bt):
				return -1
			case at.After(bt):
				return 1
			}
			return 0
		}
	}
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case string:
		if bv, ok := b.(string); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	}
	return 0
}
