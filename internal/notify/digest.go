package notify

import (
	"fmt"
	"html/template"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/fundawatch/internal/listing"
)

// sanitize strips any markup that survived extraction. Scraped text goes
// into an email, so nothing but plain text may pass.
var sanitize = bluemonday.StrictPolicy()

var digestTmpl = template.Must(template.New("digest").Funcs(template.FuncMap{
	"euro": formatEuro,
}).Parse(`<!DOCTYPE html>
<html lang="nl">
<body style="font-family: Arial, Helvetica, sans-serif; color: #1a1a1a; max-width: 640px; margin: 0 auto;">
  <h2 style="color: #f7a100;">{{.ProfileName}}</h2>
  <p>{{.Count}} nieuwe {{if eq .Count 1}}woning{{else}}woningen{{end}} gevonden:</p>
  {{range .Listings}}
  <div style="border: 1px solid #e0e0e0; border-radius: 6px; padding: 12px; margin-bottom: 12px;">
    {{if .ImageURL}}<img src="{{.ImageURL}}" alt="" style="max-width: 100%; border-radius: 4px;">{{end}}
    <h3 style="margin: 8px 0 4px;"><a href="{{.URL}}" style="color: #0071b3;">{{.Street}}</a></h3>
    <p style="margin: 4px 0; color: #555;">{{.PostalCode}} {{.City}}</p>
    <p style="margin: 4px 0;">
      <strong>{{euro .Price}}</strong>
      {{- if .FloorArea}} &middot; {{.FloorArea}} m&sup2;{{end}}
      {{- if .Bedrooms}} &middot; {{.Bedrooms}} slaapkamer{{if gt .Bedrooms 1}}s{{end}}{{end}}
      {{- if .EnergyLabel}} &middot; label {{.EnergyLabel}}{{end}}
    </p>
    {{if .ListedSince}}<p style="margin: 4px 0; color: #888; font-size: 13px;">{{.ListedSince}}</p>{{end}}
  </div>
  {{end}}
  <p style="color: #888; font-size: 12px;">Je ontvangt dit bericht omdat dit zoekprofiel actief is.</p>
</body>
</html>`))

type digestData struct {
	ProfileName string
	Count       int
	Listings    []listing.Listing
}

// formatEuro renders a price Dutch-style: "€ 1.650".
func formatEuro(n int) string {
	if n <= 0 {
		return "prijs op aanvraag"
	}
	s := fmt.Sprintf("%d", n)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return "€ " + b.String()
}

// RenderDigest produces the HTML body and a markdown-derived text body for
// one batch of new listings.
func RenderDigest(profileName string, listings []listing.Listing) (htmlBody, textBody string, err error) {
	clean := make([]listing.Listing, len(listings))
	for i, l := range listings {
		l.Street = sanitize.Sanitize(l.Street)
		l.PostalCode = sanitize.Sanitize(l.PostalCode)
		l.City = sanitize.Sanitize(l.City)
		l.EnergyLabel = sanitize.Sanitize(l.EnergyLabel)
		l.ListedSince = sanitize.Sanitize(l.ListedSince)
		clean[i] = l
	}

	var sb strings.Builder
	err = digestTmpl.Execute(&sb, digestData{
		ProfileName: sanitize.Sanitize(profileName),
		Count:       len(clean),
		Listings:    clean,
	})
	if err != nil {
		return "", "", fmt.Errorf("notify: render digest: %w", err)
	}
	htmlBody = sb.String()

	textBody, err = htmltomarkdown.ConvertString(htmlBody)
	if err != nil {
		// The text part is an alternative; fall back to a bare summary.
		textBody = fmt.Sprintf("%d nieuwe woningen voor %s", len(clean), profileName)
	}
	return htmlBody, textBody, nil
}

// Subject builds the digest subject line.
func Subject(profileName string, count int) string {
	noun := "nieuwe woningen"
	if count == 1 {
		noun = "nieuwe woning"
	}
	return fmt.Sprintf("%d %s voor '%s'", count, noun, sanitize.Sanitize(profileName))
}
