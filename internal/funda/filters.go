// Package funda renders search filters into canonical query URLs for the
// remote listings site and parses them back. The builder is deterministic:
// the same FilterSet always yields byte-identical URLs, which keeps scrape
// cycles and their fixtures reproducible.
package funda

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidFilter is returned when a filter value violates a declared
// range constraint. Unknown keys never trigger it; they are dropped.
var ErrInvalidFilter = errors.New("funda: invalid filter")

// Transaction selects the rent or sale search tree.
type Transaction string

const (
	Rent Transaction = "huur"
	Sale Transaction = "koop"
)

// FilterSet is a profile's search criteria: a mapping from recognised keys
// to values. Values arrive from the persisted JSON document, so numbers may
// be float64, int, or numeric strings; lists may be []string or []any.
// Empty or absent values mean "no constraint".
type FilterSet map[string]any

// rangeDimensions maps the min_/max_ key pairs onto their query parameter.
var rangeDimensions = []struct {
	param    string
	minKey   string
	maxKey   string
}{
	{"price", "min_price", "max_price"},
	{"floor_area", "min_floor_area", "max_floor_area"},
	{"plot_area", "min_plot_area", "max_plot_area"},
	{"rooms", "min_rooms", "max_rooms"},
	{"bedrooms", "min_bedrooms", "max_bedrooms"},
	{"bathrooms", "min_bathrooms", "max_bathrooms"},
	{"service_costs", "min_service_costs", "max_service_costs"},
}

// boolKeys render as "1"/"0" only when explicitly set.
var boolKeys = []string{
	"furnished", "partly_furnished", "balcony", "roof_terrace", "garden",
	"parking", "garage", "lift", "single_floor", "disabled_access",
	"elderly_access",
}

// energyLabels is the closed set of accepted labels.
var energyLabels = map[string]bool{
	"A": true, "B": true, "C": true, "D": true, "E": true, "F": true, "G": true,
}

// gardenOrientations is the closed set of compass values.
var gardenOrientations = map[string]bool{
	"north": true, "northeast": true, "east": true, "southeast": true,
	"south": true, "southwest": true, "west": true, "northwest": true,
}

// Get returns the raw value for a key.
func (f FilterSet) Get(key string) (any, bool) {
	v, ok := f[key]
	return v, ok
}

// Int reads a numeric key. The bool reports whether the key is present
// with a usable value.
func (f FilterSet) Int(key string) (int, bool) {
	v, ok := f[key]
	if !ok || v == nil {
		return 0, false
	}
	n, err := toInt(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Str reads a string key.
func (f FilterSet) Str(key string) (string, bool) {
	v, ok := f[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// List reads a list key, accepting []string and []any.
func (f FilterSet) List(key string) []string {
	v, ok := f[key]
	if !ok || v == nil {
		return nil
	}
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if vv == "" {
			return nil
		}
		return []string{vv}
	}
	return nil
}

// Bool reads a boolean key. Accepts bool, "1"/"0", "true"/"false" and
// numeric 1/0 since the control plane is loose about types.
func (f FilterSet) Bool(key string) (bool, bool) {
	v, ok := f[key]
	if !ok || v == nil {
		return false, false
	}
	switch vv := v.(type) {
	case bool:
		return vv, true
	case string:
		switch strings.ToLower(vv) {
		case "1", "true", "yes":
			return true, true
		case "0", "false", "no":
			return false, true
		}
		return false, false
	default:
		n, err := toInt(v)
		if err != nil {
			return false, false
		}
		return n != 0, true
	}
}

// Validate checks declared range constraints: no negative numeric values
// and min ≤ max where both bounds are present.
func (f FilterSet) Validate() error {
	for _, dim := range rangeDimensions {
		lo, hasLo := f.Int(dim.minKey)
		hi, hasHi := f.Int(dim.maxKey)
		if hasLo && lo < 0 {
			return fmt.Errorf("%w: %s=%d is negative", ErrInvalidFilter, dim.minKey, lo)
		}
		if hasHi && hi < 0 {
			return fmt.Errorf("%w: %s=%d is negative", ErrInvalidFilter, dim.maxKey, hi)
		}
		if hasLo && hasHi && lo > hi {
			return fmt.Errorf("%w: %s %d exceeds %s %d", ErrInvalidFilter, dim.minKey, lo, dim.maxKey, hi)
		}
	}
	if n, ok := f.Int("listed_since_days"); ok && n < 0 {
		return fmt.Errorf("%w: listed_since_days=%d is negative", ErrInvalidFilter, n)
	}
	if n, ok := f.Int("page"); ok && n < 0 {
		return fmt.Errorf("%w: page=%d is negative", ErrInvalidFilter, n)
	}
	if n, ok := f.Int("per_page"); ok && n < 0 {
		return fmt.Errorf("%w: per_page=%d is negative", ErrInvalidFilter, n)
	}
	return nil
}

// areas merges the single `city` key with the multi `selected_area` key
// into one normalised slice: lowercase, spaces collapsed to dashes.
func (f FilterSet) areas() []string {
	var out []string
	seen := make(map[string]bool)
	add := func(raw string) {
		a := normalizeArea(raw)
		if a == "" || seen[a] {
			return
		}
		seen[a] = true
		out = append(out, a)
	}
	if city, ok := f.Str("city"); ok {
		add(city)
	}
	for _, a := range f.List("selected_area") {
		add(a)
	}
	return out
}

// objectTypes merges `object_type` with its legacy alias `property_type`.
func (f FilterSet) objectTypes() []string {
	var out []string
	seen := make(map[string]bool)
	for _, key := range []string{"object_type", "property_type"} {
		for _, v := range f.List(key) {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func (f FilterSet) labels() []string {
	var out []string
	for _, l := range f.List("energy_label") {
		l = strings.ToUpper(strings.TrimSpace(l))
		if energyLabels[l] {
			out = append(out, l)
		}
	}
	return out
}

func (f FilterSet) orientations() []string {
	var out []string
	for _, o := range f.List("garden_orientation") {
		o = strings.ToLower(strings.TrimSpace(o))
		if gardenOrientations[o] {
			out = append(out, o)
		}
	}
	return out
}

func normalizeArea(raw string) string {
	a := strings.ToLower(strings.TrimSpace(raw))
	return strings.Join(strings.Fields(a), "-")
}

func toInt(v any) (int, error) {
	switch vv := v.(type) {
	case int:
		return vv, nil
	case int64:
		return int(vv), nil
	case float64:
		return int(vv), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(vv))
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", vv)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}
