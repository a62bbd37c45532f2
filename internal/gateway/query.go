package gateway

type Operator string

const (
	OpEqual Operator = "=="
	OpIn    Operator = "in"
)

type Filter struct {
	Field string
	Op    Operator
	// Value is a scalar for OpEqual and a []string for OpIn
	Value interface{}
}

type OrderBy struct {
	Field string
	Desc  bool
	// Time marks the field as a timestamp so it is compared as an instant
	Time bool
}

// Query selects documents matching all filters, ordered and limited.
// Zero Limit means no limit.
type Query struct {
	Filters []Filter
	OrderBy *OrderBy
	Limit   int
}

func Where(field string, op Operator, value interface{}) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// NewQuery returns a query with the given filters
func NewQuery(filters ...Filter) Query {
	return Query{Filters: filters}
}

// OrderByTime orders by a timestamp field
func (q Query) OrderByTime(field string, desc bool) Query {
	q.OrderBy = &OrderBy{Field: field, Desc: desc, Time: true}
	return q
}

func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}
