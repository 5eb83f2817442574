// Package parse extracts listing records from search-result HTML.
//
// The site ships several layouts at once (A/B tests, the legacy tree, and
// occasional bot-wall pages), so extraction runs in three layered passes:
// modern card selectors, the legacy class combination, and a link-based
// fallback. Results are unioned by detail URL, first hit wins. Parse
// never fails; unrecognised structure yields an empty slice.
package parse

import (
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/fundawatch/internal/listing"
)

// detailPathRE recognises a listing detail page path:
// /huur/leiden/appartement-43211986-breestraat-12/ and the /koop/
// equivalent. Absolute URLs are matched on their path component.
var detailPathRE = regexp.MustCompile(`^/(?:en/)?(?:huur|koop)/[a-z0-9-]+/[a-z]+-[0-9]{4,}[a-z0-9-]*/?$`)

// modernCardSelectors identify a result card in the current layout,
// in priority order.
var modernCardSelectors = []selector{
	compileSelector(`div[data-test-id=search-result-item]`),
	compileSelector(`div.search-result-content`),
	compileSelector(`article.search-result`),
}

// legacyCardSelector is the class combination of the old layout that is
// still occasionally served from cache.
var legacyCardSelector = compileSelector(`li.search-result.media`)

// Per-card field selectors, tried in order within a card.
var (
	streetSelectors = []selector{
		compileSelector(`[data-test-id=street-name-house-number]`),
		compileSelector(`h2.search-result__header-title`),
		compileSelector(`h2`),
	}
	subtitleSelectors = []selector{
		compileSelector(`[data-test-id=postal-code-city]`),
		compileSelector(`h4.search-result__header-subtitle`),
	}
	energySelectors = []selector{
		compileSelector(`span.energielabel`),
		compileSelector(`[data-test-id=energy-label]`),
	}
	listedSinceSelectors = []selector{
		compileSelector(`[data-test-id=listed-since]`),
		compileSelector(`span.search-result__date`),
	}
	imageSelector  = compileSelector(`img`)
	anchorSelector = compileSelector(`a`)
)

// Parse extracts all listing records from rendered search-result HTML.
// today anchors the listed-since date arithmetic.
func Parse(htmlSrc string, today time.Time) []listing.Raw {
	doc, err := html.Parse(strings.NewReader(htmlSrc))
	if err != nil {
		return nil
	}

	var out []listing.Raw
	seen := make(map[string]bool)

	add := func(raw listing.Raw) {
		key := normalizeHref(raw.DetailURL)
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, raw)
	}

	// Pass 1: modern cards.
	for _, sel := range modernCardSelectors {
		for _, card := range selectAll(doc, sel) {
			if raw, ok := extractCard(card, today); ok {
				add(raw)
			}
		}
	}

	// Pass 2: legacy cards.
	for _, card := range selectAll(doc, legacyCardSelector) {
		if raw, ok := extractCard(card, today); ok {
			add(raw)
		}
	}

	// Pass 3: link fallback. Any detail-page anchor is promoted to a
	// listing; fields come from up to three ancestor levels.
	for _, a := range selectAll(doc, anchorSelector) {
		href := attr(a, "href")
		if !isDetailLink(href) {
			continue
		}
		scope := ancestor(a, 3)
		raw := extractFields(scope, today)
		raw.DetailURL = href
		add(raw)
	}

	return out
}

// extractCard pulls a record out of one result card. The card is only
// accepted when it links to a detail page.
func extractCard(card *html.Node, today time.Time) (listing.Raw, bool) {
	var href string
	for _, a := range selectAll(card, anchorSelector) {
		if h := attr(a, "href"); isDetailLink(h) {
			href = h
			break
		}
	}
	if href == "" {
		return listing.Raw{}, false
	}
	raw := extractFields(card, today)
	raw.DetailURL = href
	return raw, true
}

// extractFields reads every known field from a scope node.
func extractFields(scope *html.Node, today time.Time) listing.Raw {
	var raw listing.Raw
	text := textContent(scope)

	for _, sel := range streetSelectors {
		if n := selectFirst(scope, sel); n != nil {
			raw.Street = textContent(n)
			break
		}
	}
	for _, sel := range subtitleSelectors {
		if n := selectFirst(scope, sel); n != nil {
			sub := textContent(n)
			raw.PostalCode = extractPostalCode(sub)
			raw.City = cityFromSubtitle(sub, raw.PostalCode)
			break
		}
	}
	if raw.PostalCode == "" {
		raw.PostalCode = extractPostalCode(text)
	}

	raw.Price = extractPrice(text)
	raw.FloorArea = extractArea(text)
	raw.Bedrooms = extractBedrooms(text)
	if raw.Bedrooms == 0 {
		// Older cards only expose a room count; bedrooms ≈ rooms − 1.
		if rooms := extractRooms(text); rooms > 1 {
			raw.Bedrooms = rooms - 1
		}
	}

	for _, sel := range energySelectors {
		if n := selectFirst(scope, sel); n != nil {
			raw.EnergyLabel = extractEnergyLabel(textContent(n), true)
			break
		}
	}
	if raw.EnergyLabel == "" {
		raw.EnergyLabel = extractEnergyLabel(text, false)
	}

	for _, sel := range listedSinceSelectors {
		if n := selectFirst(scope, sel); n != nil {
			raw.ListedSince = textContent(n)
			break
		}
	}
	if raw.ListedSince != "" {
		raw.DaysListed = daysSinceListed(raw.ListedSince, today)
	}

	if img := selectFirst(scope, imageSelector); img != nil {
		src := attr(img, "src")
		if src == "" {
			src = attr(img, "data-src")
		}
		raw.ImageURL = src
	}

	return raw
}

// isDetailLink reports whether an href points at a listing detail page.
func isDetailLink(href string) bool {
	path := normalizeHref(href)
	return path != "" && detailPathRE.MatchString(path)
}

// normalizeHref reduces absolute and relative hrefs to a comparable path.
func normalizeHref(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if i := strings.Index(href, "://"); i >= 0 {
		rest := href[i+3:]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			href = rest[j:]
		} else {
			return ""
		}
	}
	if i := strings.IndexAny(href, "?#"); i >= 0 {
		href = href[:i]
	}
	return href
}

// cityFromSubtitle strips the postal code from "2311 GL Leiden".
func cityFromSubtitle(sub, postal string) string {
	if postal != "" {
		sub = strings.ReplaceAll(sub, postal, "")
		sub = strings.ReplaceAll(sub, strings.ReplaceAll(postal, " ", ""), "")
	}
	return strings.TrimSpace(sub)
}

// ancestor climbs n levels of parents, stopping at the document root.
func ancestor(n *html.Node, levels int) *html.Node {
	cur := n
	for i := 0; i < levels; i++ {
		if cur.Parent == nil || cur.Parent.Type == html.DocumentNode {
			break
		}
		cur = cur.Parent
	}
	return cur
}
