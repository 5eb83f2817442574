package funda

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Mode selects the URL dialect.
type Mode int

const (
	// Modern is the query-string form over the fixed /zoeken/ base path.
	Modern Mode = iota
	// Legacy is the path-segment form still served by the old search tree.
	Legacy
)

const (
	baseHost = "https://www.funda.nl"
	// maxPageSize is the largest page size the site honours.
	maxPageSize = 50
)

// Build renders a FilterSet into a fully qualified search URL.
// The output is deterministic: parameters appear in a fixed canonical
// order. Unknown keys are dropped; range violations return ErrInvalidFilter.
func Build(f FilterSet, tx Transaction, mode Mode) (string, error) {
	if err := f.Validate(); err != nil {
		return "", err
	}
	if tx != Rent && tx != Sale {
		tx = Rent
	}
	if mode == Legacy {
		return buildLegacy(f, tx), nil
	}
	return buildModern(f, tx), nil
}

// buildModern renders the query-string form:
//
//	https://www.funda.nl/zoeken/huur?selected_area=["leiden"]&price="1500-4000"&...
//
// Multi-value filters are JSON array literals in the query value; ranges
// are quoted "min-max" strings with optionally empty bounds.
func buildModern(f FilterSet, tx Transaction) string {
	params := url.Values{}

	if areas := f.areas(); len(areas) > 0 {
		params.Set("selected_area", jsonArray(areas))
	}
	if types := f.objectTypes(); len(types) > 0 {
		params.Set("object_type", jsonArray(types))
	}
	for _, dim := range rangeDimensions {
		if r, ok := rangeValue(f, dim.minKey, dim.maxKey); ok {
			params.Set(dim.param, `"`+r+`"`)
		}
	}
	if labels := f.labels(); len(labels) > 0 {
		params.Set("energy_label", jsonArray(labels))
	}
	if os := f.orientations(); len(os) > 0 {
		params.Set("garden_orientation", jsonArray(os))
	}
	for _, key := range boolKeys {
		if b, ok := f.Bool(key); ok {
			if b {
				params.Set(key, "1")
			} else {
				params.Set(key, "0")
			}
		}
	}
	if n, ok := f.Int("listed_since_days"); ok && n > 0 {
		params.Set("publication_date", strconv.Itoa(n))
	}
	if s, ok := f.Str("status"); ok {
		params.Set("availability", strings.ToLower(s))
	}
	if s, ok := f.Str("available_from"); ok {
		params.Set("available_from", s)
	}
	if s, ok := f.Str("keyword"); ok {
		params.Set("keyword", s)
	}
	if s, ok := f.Str("construction_type"); ok {
		params.Set("construction_type", strings.ToLower(s))
	}
	if s, ok := f.Str("build_period"); ok {
		params.Set("construction_period", s)
	}
	if s, ok := f.Str("sort_by"); ok {
		params.Set("sort", s)
	}
	if n, ok := f.Int("page"); ok && n > 1 {
		params.Set("search_result", strconv.Itoa(n))
	}
	if n, ok := f.Int("per_page"); ok && n > 0 {
		if n > maxPageSize {
			n = maxPageSize
		}
		params.Set("page_size", strconv.Itoa(n))
	}

	u := baseHost + "/zoeken/" + string(tx)
	if len(params) == 0 {
		return u
	}
	// Values.Encode sorts keys, which is what makes the output canonical.
	return u + "?" + params.Encode()
}

// buildLegacy renders the old path-segment form:
//
//	https://www.funda.nl/huur/leiden/1500-4000/energielabel-a/
//
// Only the dimensions the legacy tree understands are emitted; the rest
// fall away silently.
func buildLegacy(f FilterSet, tx Transaction) string {
	segs := []string{string(tx)}

	if areas := f.areas(); len(areas) > 0 {
		segs = append(segs, strings.Join(areas, ","))
	} else {
		segs = append(segs, "heel-nederland")
	}
	if r, ok := rangeValue(f, "min_price", "max_price"); ok {
		segs = append(segs, r)
	}
	if r, ok := rangeValue(f, "min_floor_area", "max_floor_area"); ok {
		segs = append(segs, r+"-woonopp")
	}
	if r, ok := rangeValue(f, "min_bedrooms", "max_bedrooms"); ok {
		segs = append(segs, r+"-slaapkamers")
	}
	if labels := f.labels(); len(labels) > 0 {
		lower := make([]string, len(labels))
		for i, l := range labels {
			lower[i] = strings.ToLower(l)
		}
		sort.Strings(lower)
		segs = append(segs, "energielabel-"+strings.Join(lower, ","))
	}
	if types := f.objectTypes(); len(types) > 0 {
		sorted := append([]string(nil), types...)
		sort.Strings(sorted)
		segs = append(segs, strings.Join(sorted, ","))
	}
	for _, key := range boolKeys {
		if b, ok := f.Bool(key); ok && b {
			segs = append(segs, strings.ReplaceAll(key, "_", "-"))
		}
	}
	if n, ok := f.Int("page"); ok && n > 1 {
		segs = append(segs, "p"+strconv.Itoa(n))
	}

	return baseHost + "/" + strings.Join(segs, "/") + "/"
}

// rangeValue renders a min/max pair as "min-max" with either bound
// optionally empty. False when neither bound is set.
func rangeValue(f FilterSet, minKey, maxKey string) (string, bool) {
	lo, hasLo := f.Int(minKey)
	hi, hasHi := f.Int(maxKey)
	if !hasLo && !hasHi {
		return "", false
	}
	var b strings.Builder
	if hasLo {
		b.WriteString(strconv.Itoa(lo))
	}
	b.WriteByte('-')
	if hasHi {
		b.WriteString(strconv.Itoa(hi))
	}
	return b.String(), true
}

// jsonArray renders values as the JSON array literal the site expects in
// query strings: ["a","b"]. Elements are sorted for determinism.
func jsonArray(vals []string) string {
	sorted := append([]string(nil), vals...)
	sort.Strings(sorted)
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range sorted {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(v))
	}
	b.WriteByte(']')
	return b.String()
}

// ParseQuery is the inverse of the modern Build: it recovers a FilterSet
// from a search URL. Unknown parameters are ignored, so
// ParseQuery(Build(f)) equals f modulo unknown-key dropping, alias
// merging, and page-size clamping.
func ParseQuery(rawURL string) (FilterSet, Transaction, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, Rent, fmt.Errorf("funda: parse url: %w", err)
	}

	tx := Rent
	if strings.Contains(u.Path, "/"+string(Sale)) {
		tx = Sale
	}

	f := FilterSet{}
	q := u.Query()

	if v := q.Get("selected_area"); v != "" {
		if areas := parseJSONArray(v); len(areas) > 0 {
			f["selected_area"] = areas
		}
	}
	if v := q.Get("object_type"); v != "" {
		if types := parseJSONArray(v); len(types) > 0 {
			f["object_type"] = types
		}
	}
	for _, dim := range rangeDimensions {
		if v := q.Get(dim.param); v != "" {
			lo, hi, ok := parseRange(strings.Trim(v, `"`))
			if !ok {
				continue
			}
			if lo != nil {
				f[dim.minKey] = *lo
			}
			if hi != nil {
				f[dim.maxKey] = *hi
			}
		}
	}
	if v := q.Get("energy_label"); v != "" {
		if labels := parseJSONArray(v); len(labels) > 0 {
			f["energy_label"] = labels
		}
	}
	if v := q.Get("garden_orientation"); v != "" {
		if os := parseJSONArray(v); len(os) > 0 {
			f["garden_orientation"] = os
		}
	}
	for _, key := range boolKeys {
		if v := q.Get(key); v == "1" || v == "0" {
			f[key] = v == "1"
		}
	}
	if v := q.Get("publication_date"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f["listed_since_days"] = n
		}
	}
	if v := q.Get("availability"); v != "" {
		f["status"] = v
	}
	if v := q.Get("available_from"); v != "" {
		f["available_from"] = v
	}
	if v := q.Get("keyword"); v != "" {
		f["keyword"] = v
	}
	if v := q.Get("construction_type"); v != "" {
		f["construction_type"] = v
	}
	if v := q.Get("construction_period"); v != "" {
		f["build_period"] = v
	}
	if v := q.Get("sort"); v != "" {
		f["sort_by"] = v
	}
	if v := q.Get("search_result"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f["page"] = n
		}
	}
	if v := q.Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f["per_page"] = n
		}
	}

	return f, tx, nil
}

// parseJSONArray reads the ["a","b"] literal form. Values that are not
// valid quoted strings are skipped.
func parseJSONArray(v string) []string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "[") || !strings.HasSuffix(v, "]") {
		return nil
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(v, "["), "]")
	if inner == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(inner, ",") {
		part = strings.TrimSpace(part)
		if s, err := strconv.Unquote(part); err == nil {
			out = append(out, s)
		} else if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseRange reads "min-max" where either side may be empty.
func parseRange(v string) (lo, hi *int, ok bool) {
	idx := strings.IndexByte(v, '-')
	if idx < 0 {
		return nil, nil, false
	}
	if s := v[:idx]; s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, nil, false
		}
		lo = &n
	}
	if s := v[idx+1:]; s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, nil, false
		}
		hi = &n
	}
	return lo, hi, lo != nil || hi != nil
}
