// Package strategy runs discovery strategies for a company and merges their
// findings into one ordered list of candidates.
//
// A strategy is anything that can turn a Company into document URLs: a
// crawl API, a search API, a regulatory filing index, an HTML scraper or a
// regex scan. Strategies are independently fallible. A failure, timeout or
// missing credential in one of them is recorded as a diagnostic and never
// aborts the others.
package strategy

import (
	"context"

	"github.com/nao1215/finwatch/internal/model"
)

// Found is one URL reported by a strategy.
type Found struct {
	URL string
	// SourceType overrides the strategy's default source type when set.
	SourceType model.SourceType
}

// Report is what a strategy attempt observed. It is returned even when the
// attempt failed so that status and block signals reach the diagnostics.
type Report struct {
	Found      []Found
	StatusCode int
	Blocked    bool
	RetryCount int
	// PageURL is the last URL the strategy requested, if meaningful.
	PageURL string
	// BlockedDomain names the domain that sent the block signal when it is
	// not the strategy's first domain.
	BlockedDomain string
}

// Strategy discovers candidate document URLs for a company.
type Strategy interface {
	// Kind identifies the strategy and its merge priority.
	Kind() model.StrategyKind
	// SourceType is the default provenance of reported URLs.
	SourceType() model.SourceType
	// Domains lists the domains the strategy will send requests to for
	// company. The first entry is the one charged with block signals.
	Domains(company *model.Company) []string
	// Discover performs the lookup. A *model.ConfigurationError means the
	// strategy cannot run and is skipped.
	Discover(ctx context.Context, company *model.Company) (Report, error)
}

// LookupFunc is a pluggable lookup primitive.
type LookupFunc func(ctx context.Context, company *model.Company) (Report, error)

// Func adapts a lookup function into a Strategy.
type Func struct {
	Name   model.StrategyKind
	Source model.SourceType
	Hosts  func(company *model.Company) []string
	Lookup LookupFunc
}

// Kind implements Strategy.
func (f *Func) Kind() model.StrategyKind { return f.Name }

// SourceType implements Strategy.
func (f *Func) SourceType() model.SourceType { return f.Source }

// Domains implements Strategy. Without a Hosts function the company's own
// domain is used.
func (f *Func) Domains(company *model.Company) []string {
	if f.Hosts == nil {
		return []string{company.Domain()}
	}
	return f.Hosts(company)
}

// Discover implements Strategy.
func (f *Func) Discover(ctx context.Context, company *model.Company) (Report, error) {
	if f.Lookup == nil {
		return Report{}, &model.ConfigurationError{Component: string(f.Name), Reason: "no lookup function"}
	}
	return f.Lookup(ctx, company)
}

// CompanyDomain is a Hosts function returning only the company's domain.
func CompanyDomain(company *model.Company) []string {
	return []string{company.Domain()}
}

// FixedDomain returns a Hosts function for a third-party API host.
func FixedDomain(domain string) func(*model.Company) []string {
	return func(*model.Company) []string { return []string{domain} }
}
