package parse

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Pre-compiled field matchers. They run against squashed card text, so
// all of them tolerate surrounding words.
var (
	// priceRE matches "€ 1.500", "€1500 /mnd", "€ 1,500 per maand".
	priceRE = regexp.MustCompile(`€\s*([0-9]{1,3}(?:[.,][0-9]{3})*|[0-9]+)`)
	// areaRE matches "62 m²" and the ASCII fallback "62 m2".
	areaRE = regexp.MustCompile(`([0-9]+)\s*m[²2]`)
	// roomsRE matches "3 kamers" / "1 kamer".
	roomsRE = regexp.MustCompile(`([0-9]+)\s+kamers?\b`)
	// bedroomsRE matches "2 slaapkamers" / "1 slaapkamer".
	bedroomsRE = regexp.MustCompile(`([0-9]+)\s+slaapkamers?\b`)
	// postalRE matches Dutch postal codes: "2311 GL" or "2311GL".
	postalRE = regexp.MustCompile(`\b([1-9][0-9]{3})\s?([A-Z]{2})\b`)
	// energyRE matches an explicit "Energielabel B" phrase.
	energyRE = regexp.MustCompile(`(?i)energielabel\s+([A-G])\b`)
	// energyBareRE matches a standalone label letter, used only on
	// dedicated label elements where it cannot collide with prose.
	energyBareRE = regexp.MustCompile(`^\s*([A-G])(?:\+{0,4})?\s*$`)

	sinceDaysRE   = regexp.MustCompile(`(?i)sinds\s+([0-9]+)\s+dag(?:en)?`)
	sinceWeeksRE  = regexp.MustCompile(`(?i)sinds\s+([0-9]+)\s+we(?:e)?k(?:en)?`)
	sinceMonthsRE = regexp.MustCompile(`(?i)sinds\s+([0-9]+)\s+maand(?:en)?`)
	dayMonthRE    = regexp.MustCompile(`(?i)\b([0-9]{1,2})\s+(januari|februari|maart|april|mei|juni|juli|augustus|september|oktober|november|december)\b`)
)

var dutchMonths = map[string]time.Month{
	"januari": time.January, "februari": time.February, "maart": time.March,
	"april": time.April, "mei": time.May, "juni": time.June,
	"juli": time.July, "augustus": time.August, "september": time.September,
	"oktober": time.October, "november": time.November, "december": time.December,
}

// extractPrice parses the first euro amount in text, separators stripped.
func extractPrice(text string) int {
	m := priceRE.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	digits := strings.NewReplacer(".", "", ",", "").Replace(m[1])
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}

func extractArea(text string) int {
	return firstInt(areaRE, text)
}

func extractRooms(text string) int {
	return firstInt(roomsRE, text)
}

func extractBedrooms(text string) int {
	return firstInt(bedroomsRE, text)
}

func extractPostalCode(text string) string {
	m := postalRE.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1] + " " + m[2]
}

// extractEnergyLabel reads "Energielabel X" from free text, or a bare
// label letter when strict is false is not enough. The strict form is
// used on dedicated label elements.
func extractEnergyLabel(text string, bare bool) string {
	if bare {
		if m := energyBareRE.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	if m := energyRE.FindStringSubmatch(text); m != nil {
		return strings.ToUpper(m[1])
	}
	return ""
}

// daysSinceListed maps a Dutch listed-since phrase onto days ago.
// Unrecognised phrases yield 0.
//
//	"Vandaag" / "Sinds vandaag"  → 0
//	"Gisteren"                   → 1
//	"Sinds N dagen"              → N
//	"Sinds N weken"              → N×7
//	"Sinds N maanden"            → N×30
//	"12 juni"                    → days since that date (year rolls back
//	                               if the date would be in the future)
func daysSinceListed(text string, today time.Time) int {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "vandaag") {
		return 0
	}
	if strings.Contains(lower, "gisteren") {
		return 1
	}
	if m := sinceDaysRE.FindStringSubmatch(text); m != nil {
		return atoiOr0(m[1])
	}
	if m := sinceWeeksRE.FindStringSubmatch(text); m != nil {
		return atoiOr0(m[1]) * 7
	}
	if m := sinceMonthsRE.FindStringSubmatch(text); m != nil {
		return atoiOr0(m[1]) * 30
	}
	if m := dayMonthRE.FindStringSubmatch(text); m != nil {
		day := atoiOr0(m[1])
		month, ok := dutchMonths[strings.ToLower(m[2])]
		if !ok || day < 1 || day > 31 {
			return 0
		}
		listed := time.Date(today.Year(), month, day, 0, 0, 0, 0, today.Location())
		if listed.After(today) {
			listed = listed.AddDate(-1, 0, 0)
		}
		return int(today.Sub(listed).Hours() / 24)
	}
	return 0
}

func firstInt(re *regexp.Regexp, text string) int {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	return atoiOr0(m[1])
}

func atoiOr0(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
