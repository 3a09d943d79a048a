package model

import (
	"errors"
	"net/url"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultCrawlDepth is used when a company does not set its own depth.
const DefaultCrawlDepth = 3

// Company validation errors.
var (
	// ErrEmptyCompanyName is returned when a company has no name.
	ErrEmptyCompanyName = errors.New("company name cannot be empty")
	// ErrInvalidWebsite is returned when the website root is not an absolute http(s) URL.
	ErrInvalidWebsite = errors.New("company website must be an absolute http or https URL")
	// ErrInvalidCrawlDepth is returned for a negative crawl depth.
	ErrInvalidCrawlDepth = errors.New("crawl depth must be non-negative")
)

// Company is a tracked investor-relations website.
type Company struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	WebsiteURL string    `json:"website_url"`
	CrawlDepth int       `json:"crawl_depth"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Validate checks that the company can be crawled.
func (c *Company) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyCompanyName
	}
	u, err := url.Parse(c.WebsiteURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidWebsite
	}
	if c.CrawlDepth < 0 {
		return ErrInvalidCrawlDepth
	}
	return nil
}

// Domain returns the lowercased host of the website root.
func (c *Company) Domain() string {
	return DomainOf(c.WebsiteURL)
}

// Depth returns the crawl depth, falling back to DefaultCrawlDepth.
func (c *Company) Depth() int {
	if c.CrawlDepth <= 0 {
		return DefaultCrawlDepth
	}
	return c.CrawlDepth
}

// CanonicalName trims and title-cases the company name.
func CanonicalName(name string) string {
	fields := strings.Fields(name)
	caser := cases.Title(language.English, cases.NoLower)
	for i, f := range fields {
		fields[i] = caser.String(f)
	}
	return strings.Join(fields, " ")
}

// Slug returns a lowercase, dash separated identifier derived from the name.
// "Acme Holdings, Inc." becomes "acme-holdings-inc".
func (c *Company) Slug() string {
	folded := cases.Fold().String(c.Name)
	var b strings.Builder
	dash := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
