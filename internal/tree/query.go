package tree

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidQuery = errors.New("tree: invalid query")

// Index names understood by the server besides child paths.
const (
	IndexPriority = ".priority"
	IndexKey      = ".key"
	IndexValue    = ".value"
)

// Bound is one end of a query range: a value and an optional tie-breaking key.
type Bound struct {
	Value any
	Key   string
}

// Query filters a subscription. The zero Query is the default view (priority order,
// no range, no limit).
type Query struct {
	OrderBy     string
	StartAt     *Bound
	EndAt       *Bound
	Limit       int
	LimitToLast bool
}

// Params renders the query in its wire form.
func (q Query) Params() map[string]any {
	params := map[string]any{}
	if q.OrderBy != "" && q.OrderBy != IndexPriority {
		params["i"] = q.OrderBy
	}
	if q.StartAt != nil {
		params["sp"] = q.StartAt.Value
		if q.StartAt.Key != "" {
			params["sn"] = q.StartAt.Key
		}
	}
	if q.EndAt != nil {
		params["ep"] = q.EndAt.Value
		if q.EndAt.Key != "" {
			params["en"] = q.EndAt.Key
		}
	}
	if q.Limit > 0 {
		params["l"] = q.Limit
		if q.LimitToLast {
			params["vf"] = "r"
		} else {
			params["vf"] = "l"
		}
	}
	return params
}

// IsDefault reports whether the query selects the unfiltered view.
func (q Query) IsDefault() bool {
	return len(q.Params()) == 0
}

// Key is the canonical identity of the query. Equal queries have equal keys.
func (q Query) Key() string {
	params := q.Params()
	if len(params) == 0 {
		return ""
	}
	// encoding/json sorts map keys, so the encoding is canonical.
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%v", params)
	}
	return string(raw)
}

func (q Query) Validate() error {
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidQuery)
	}
	if q.LimitToLast && q.Limit == 0 {
		return fmt.Errorf("%w: limit to last without limit", ErrInvalidQuery)
	}
	if q.OrderBy == IndexKey {
		for _, b := range []*Bound{q.StartAt, q.EndAt} {
			if b == nil {
				continue
			}
			if _, ok := b.Value.(string); !ok {
				return fmt.Errorf("%w: key index bounds must be strings", ErrInvalidQuery)
			}
		}
	}
	return nil
}

// QueryFromParams decodes the wire form. An empty payload yields nil.
func QueryFromParams(raw json.RawMessage) (*Query, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	q := &Query{}
	if v, ok := params["i"].(string); ok {
		q.OrderBy = v
	}
	if v, ok := params["sp"]; ok {
		q.StartAt = &Bound{Value: v}
		if name, ok := params["sn"].(string); ok {
			q.StartAt.Key = name
		}
	}
	if v, ok := params["ep"]; ok {
		q.EndAt = &Bound{Value: v}
		if name, ok := params["en"].(string); ok {
			q.EndAt.Key = name
		}
	}
	if v, ok := params["l"].(float64); ok {
		q.Limit = int(v)
	}
	if v, ok := params["vf"].(string); ok && v == "r" {
		q.LimitToLast = true
	}
	return q, nil
}

// SubscriptionKey identifies one (path, query) subscription. It is comparable and
// usable as a map key.
type SubscriptionKey struct {
	Path  string
	Query string
}

// NewSubscriptionKey normalizes path and reduces q to its canonical key; a nil or
// default query means "no filter".
func NewSubscriptionKey(path string, q *Query) SubscriptionKey {
	key := SubscriptionKey{Path: ParsePath(path).String()}
	if q != nil {
		key.Query = q.Key()
	}
	return key
}

func (k SubscriptionKey) String() string {
	if k.Query == "" {
		return k.Path
	}
	return k.Path + "?" + k.Query
}
