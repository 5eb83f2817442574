package funda

import (
	"errors"
	"net/url"
	"strings"
	"testing"
)

func TestBuild_Deterministic(t *testing.T) {
	// WHAT: Two builds of the same FilterSet yield byte-identical URLs.
	// WHY: The scrape cycle and its fixtures depend on reproducible queries.
	f := FilterSet{
		"city":      "Leiden",
		"min_price": 1500,
		"max_price": 4000,
		"furnished": true,
	}
	a, err := Build(f, Rent, Modern)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	b, err := Build(f, Rent, Modern)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if a != b {
		t.Errorf("non-deterministic output:\n%s\n%s", a, b)
	}
}

func TestBuild_ModernShape(t *testing.T) {
	// WHAT: The modern form uses the /zoeken/ base, quoted ranges, and JSON
	// array literals.
	// WHY: This is the exact dialect the current site layout expects.
	f := FilterSet{
		"city":         "leiden",
		"min_price":    1500,
		"max_price":    4000,
		"energy_label": []string{"A", "B"},
	}
	got, err := Build(f, Rent, Modern)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.HasPrefix(got, "https://www.funda.nl/zoeken/huur?") {
		t.Errorf("unexpected base: %s", got)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if q.Get("price") != `"1500-4000"` {
		t.Errorf("price = %q", q.Get("price"))
	}
	if q.Get("selected_area") != `["leiden"]` {
		t.Errorf("selected_area = %q", q.Get("selected_area"))
	}
	if q.Get("energy_label") != `["A","B"]` {
		t.Errorf("energy_label = %q", q.Get("energy_label"))
	}
}

func TestBuild_OpenEndedRanges(t *testing.T) {
	// WHAT: A range with only one bound renders with the other side empty.
	// WHY: "at least 50 m²" must become "50-", not an invalid pair.
	cases := []struct {
		name string
		f    FilterSet
		key  string
		want string
	}{
		{"min only", FilterSet{"min_floor_area": 50}, "floor_area", `"50-"`},
		{"max only", FilterSet{"max_price": 2000}, "price", `"-2000"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Build(tc.f, Rent, Modern)
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			u, _ := url.Parse(got)
			if v := u.Query().Get(tc.key); v != tc.want {
				t.Errorf("%s = %q, want %q", tc.key, v, tc.want)
			}
		})
	}
}

func TestBuild_BooleansOnlyWhenSet(t *testing.T) {
	// WHAT: Boolean filters render "1"/"0" only when explicitly present.
	// WHY: An absent boolean means "no constraint", not "false".
	f := FilterSet{"balcony": true, "garden": false}
	got, err := Build(f, Rent, Modern)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	u, _ := url.Parse(got)
	q := u.Query()
	if q.Get("balcony") != "1" {
		t.Errorf("balcony = %q", q.Get("balcony"))
	}
	if q.Get("garden") != "0" {
		t.Errorf("garden = %q", q.Get("garden"))
	}
	if q.Has("lift") {
		t.Error("unset boolean should not appear")
	}
}

func TestBuild_PageSizeClamped(t *testing.T) {
	// WHAT: per_page above 50 is clamped to 50.
	// WHY: The site caps page size; larger values change result pagination.
	f := FilterSet{"per_page": 250}
	got, err := Build(f, Rent, Modern)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	u, _ := url.Parse(got)
	if v := u.Query().Get("page_size"); v != "50" {
		t.Errorf("page_size = %q, want 50", v)
	}
}

func TestBuild_UnknownKeysDropped(t *testing.T) {
	// WHAT: Unrecognised keys do not reach the URL and do not error.
	// WHY: Forward compatibility with control-plane payloads.
	f := FilterSet{"city": "utrecht", "has_sauna": true, "frobnicate": 7}
	got, err := Build(f, Rent, Modern)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if strings.Contains(got, "sauna") || strings.Contains(got, "frobnicate") {
		t.Errorf("unknown key leaked into %s", got)
	}
}

func TestBuild_InvalidRanges(t *testing.T) {
	// WHAT: Negative values and inverted min/max pairs return ErrInvalidFilter.
	// WHY: These are the declared range constraints; the cycle records them
	// on the profile instead of querying the site with garbage.
	cases := []FilterSet{
		{"min_price": -100},
		{"max_floor_area": -1},
		{"min_bedrooms": 4, "max_bedrooms": 2},
	}
	for _, f := range cases {
		if _, err := Build(f, Rent, Modern); !errors.Is(err, ErrInvalidFilter) {
			t.Errorf("filters %v: expected ErrInvalidFilter, got %v", f, err)
		}
	}
}

func TestBuild_LegacyPathForm(t *testing.T) {
	// WHAT: Legacy mode encodes filters as path segments under /huur/.
	// WHY: The old search tree is still occasionally served and must stay
	// addressable.
	f := FilterSet{
		"city":         "leiden",
		"min_price":    1500,
		"max_price":    4000,
		"energy_label": []string{"A"},
		"balcony":      true,
	}
	got, err := Build(f, Rent, Legacy)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := "https://www.funda.nl/huur/leiden/1500-4000/energielabel-a/balcony/"
	if got != want {
		t.Errorf("legacy url:\n got %s\nwant %s", got, want)
	}
}

func TestBuild_SaleTransaction(t *testing.T) {
	// WHAT: The sale transaction selects the /koop tree.
	// WHY: Rent and sale listings live under different base paths.
	got, err := Build(FilterSet{"city": "delft"}, Sale, Modern)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.HasPrefix(got, "https://www.funda.nl/zoeken/koop?") {
		t.Errorf("unexpected base: %s", got)
	}
}

func TestParseQuery_RoundTrip(t *testing.T) {
	// WHAT: Build then ParseQuery recovers the original FilterSet modulo
	// alias merging and clamping.
	// WHY: The round-trip law is what makes the URL the canonical encoding
	// of a profile's search.
	orig := FilterSet{
		"selected_area":     []string{"leiden"},
		"min_price":         1500,
		"max_price":         4000,
		"min_bedrooms":      2,
		"energy_label":      []string{"A", "B"},
		"furnished":         true,
		"listed_since_days": 3,
		"sort_by":           "date_down",
		"per_page":          25,
	}
	built, err := Build(orig, Rent, Modern)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	parsed, tx, err := ParseQuery(built)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tx != Rent {
		t.Errorf("transaction = %v, want rent", tx)
	}

	rebuilt, err := Build(parsed, tx, Modern)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if rebuilt != built {
		t.Errorf("round trip diverged:\n got %s\nwant %s", rebuilt, built)
	}
}

func TestFilterSet_CityAndSelectedAreaMerge(t *testing.T) {
	// WHAT: city and selected_area merge into one deduplicated area list.
	// WHY: Profiles created through older control-plane versions set city;
	// newer ones set selected_area; both must work together.
	f := FilterSet{"city": "Den Haag", "selected_area": []string{"leiden", "den haag"}}
	got, err := Build(f, Rent, Modern)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	u, _ := url.Parse(got)
	if v := u.Query().Get("selected_area"); v != `["den-haag","leiden"]` {
		t.Errorf("selected_area = %q", v)
	}
}
