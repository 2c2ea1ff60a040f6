// Package query defines the parameter model for paginated, filterable
// REST queries and its canonical serialization used for cache key
// derivation.
package query

import (
	"encoding/json"
)

// Op is a filter comparison operator.
type Op string

const (
	// OpEq matches records whose field equals the value.
	OpEq Op = "eq"

	// OpNe matches records whose field does not equal the value.
	OpNe Op = "ne"

	// OpGt matches records whose field is greater than the value.
	OpGt Op = "gt"

	// OpGe matches records whose field is greater than or equal to the value.
	OpGe Op = "ge"

	// OpLt matches records whose field is less than the value.
	OpLt Op = "lt"

	// OpLe matches records whose field is less than or equal to the value.
	OpLe Op = "le"

	// OpLike matches records whose field matches the value pattern.
	OpLike Op = "like"

	// OpIn matches records whose field is contained in the value list.
	OpIn Op = "in"
)

// Filter is a single field comparison.
//
// A nil Value is preserved as JSON null in the canonical form, so a
// filter on null derives a different key than no filter at all.
type Filter struct {
	Field string
	Op    Op
	Value interface{}
}

// Order is a single sort directive.
type Order struct {
	Field string
	Desc  bool
}

// Params is the closed set of query parameters recognized by the cache.
//
// Offset and Limit select a window into the result set; whether they
// participate in key derivation depends on the caching style (range
// keys exclude them, whole-response keys include them). All other
// fields are query semantics: changing any of them addresses a
// different logical result set.
type Params struct {
	// Select lists the fields to return (element order is significant).
	Select []string

	// Filters are applied in order (element order is significant).
	Filters []Filter

	// Order lists sort directives, outermost first.
	Order []Order

	// Search is a free-text search term.
	Search string

	// Offset is the 0-based index of the first requested record.
	Offset int

	// Limit is the maximum number of records requested. 0 means no
	// window was requested.
	Limit int

	// Custom holds input properties that do not fit the fields above.
	// Nested maps are canonicalized recursively; a key with a nil
	// value is distinct from an absent key.
	Custom map[string]interface{}
}

// IsEmpty reports whether the params carry no query semantics.
// Pagination fields are ignored unless withPagination is set.
func (p *Params) IsEmpty(withPagination bool) bool {
	if p == nil {
		return true
	}
	if len(p.Select) > 0 || len(p.Filters) > 0 || len(p.Order) > 0 ||
		p.Search != "" || len(p.Custom) > 0 {
		return false
	}
	if withPagination && (p.Offset != 0 || p.Limit != 0) {
		return false
	}
	return true
}

// Canonical returns the canonical serialization of the params with
// pagination fields stripped. Two params with the same semantics
// serialize identically regardless of how their maps were populated:
// every object level is rendered as a JSON object, and encoding/json
// emits object keys in sorted order. Array element order is preserved.
func (p *Params) Canonical() ([]byte, error) {
	return json.Marshal(p.canonicalMap(false))
}

// CanonicalWithPagination is Canonical with offset and limit included,
// used for whole-response keys where each window is its own response.
func (p *Params) CanonicalWithPagination() ([]byte, error) {
	return json.Marshal(p.canonicalMap(true))
}

// canonicalMap builds the map form that json.Marshal renders with
// sorted keys at every level. Zero-valued sections are omitted so that
// an unset field and a missing field canonicalize the same way.
func (p *Params) canonicalMap(withPagination bool) map[string]interface{} {
	m := make(map[string]interface{})

	if len(p.Select) > 0 {
		m["select"] = p.Select
	}

	if len(p.Filters) > 0 {
		filters := make([]map[string]interface{}, len(p.Filters))
		for i, f := range p.Filters {
			filters[i] = map[string]interface{}{
				"field": f.Field,
				"op":    string(f.Op),
				"value": f.Value,
			}
		}
		m["filters"] = filters
	}

	if len(p.Order) > 0 {
		order := make([]map[string]interface{}, len(p.Order))
		for i, o := range p.Order {
			order[i] = map[string]interface{}{
				"field": o.Field,
				"desc":  o.Desc,
			}
		}
		m["order"] = order
	}

	if p.Search != "" {
		m["search"] = p.Search
	}

	if len(p.Custom) > 0 {
		m["custom"] = p.Custom
	}

	if withPagination && (p.Offset != 0 || p.Limit != 0) {
		m["offset"] = p.Offset
		m["limit"] = p.Limit
	}

	return m
}
