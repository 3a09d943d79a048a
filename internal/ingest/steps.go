package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/finwatch/internal/dedup"
	"github.com/nao1215/finwatch/internal/fingerprint"
	"github.com/nao1215/finwatch/internal/model"
	"github.com/nao1215/finwatch/internal/throttle"
)

// replayStep queues the due retries of the company.
type replayStep struct {
	c *Coordinator
}

func (s *replayStep) Name() string { return "replay-retries" }

func (s *replayStep) Do(ctx context.Context, run *Run) error {
	due, err := s.c.deps.Ledger.Due(ctx, run.Company.ID, s.c.retryBatch)
	if err != nil {
		if isFatal(err) {
			return err
		}
		run.addError(err.Error())
		return nil
	}

	replayed := 0
	for _, rec := range due {
		if run.enqueue(model.DiscoveryCandidate{
			URL:          rec.DocumentURL,
			SourceDomain: rec.SourceDomain,
			Strategy:     model.StrategyRetry,
		}) {
			replayed++
		}
	}
	run.record(func(sum *model.RunSummary) { sum.RetriesReplayed += replayed })
	return nil
}

// discoverStep runs the discovery strategies.
type discoverStep struct {
	c *Coordinator
}

func (s *discoverStep) Name() string { return "discover" }

func (s *discoverStep) Do(ctx context.Context, run *Run) error {
	result, err := s.c.deps.Discoverer.Discover(ctx, run.Company, run.ID)
	if err != nil {
		return err
	}

	for _, d := range result.Diagnostics {
		if d.Skipped || d.Error == "" {
			continue
		}
		run.addError(fmt.Sprintf("strategy %s on %s: %s", d.Strategy, d.Domain, d.Error))
	}
	for _, cand := range result.Candidates {
		run.enqueue(cand)
	}
	run.record(func(sum *model.RunSummary) { sum.Discovered += len(result.Candidates) })
	return nil
}

// documentStep fetches and deduplicates every queued candidate.
type documentStep struct {
	c    *Coordinator
	name string
}

func (s *documentStep) Name() string { return s.name }

func (s *documentStep) Do(ctx context.Context, run *Run) error {
	candidates := run.take()
	if len(candidates) == 0 {
		return nil
	}

	var skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.c.fetchConcurrency)
	for _, cand := range candidates {
		g.Go(func() error {
			if gctx.Err() != nil {
				skipped.Add(1)
				return nil
			}
			if run.pastDeadline(s.c.clock.Now()) {
				return s.c.deferCandidate(gctx, run, cand, "run deadline exceeded")
			}
			return s.c.ingest(gctx, run, cand, &skipped)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if n := skipped.Load(); n > 0 {
		s.c.logger.Warn("candidates not processed", "company_id", run.Company.ID, "count", n)
	}
	return ctx.Err()
}

// ingest fetches one candidate and records the outcome. Only fatal errors
// are returned.
func (c *Coordinator) ingest(ctx context.Context, run *Run, cand model.DiscoveryCandidate, skipped *atomic.Int64) error {
	payload, err := c.deps.Fetcher.FetchDocument(ctx, cand.URL)
	if err != nil {
		if ctx.Err() != nil {
			skipped.Add(1)
			return nil
		}
		// No request was sent; the document keeps its state.
		if errors.Is(err, throttle.ErrCoolingDown) {
			c.logger.Debug("document deferred: domain cooling down", "url", cand.URL, "domain", model.DomainOf(cand.URL))
			return c.deferCandidate(ctx, run, cand, "domain cooling down")
		}
		if _, ferr := c.deps.Dedup.Fail(ctx, cand, err); ferr != nil {
			return itemFailure(run, ferr)
		}
		run.record(func(s *model.RunSummary) {
			s.Failed++
			s.AddError(err.Error())
		})
		return nil
	}

	out, err := c.deps.Dedup.Resolve(ctx, cand, dedup.Content{
		Hash:        fingerprint.Bytes(payload.Body),
		ContentType: payload.ContentType,
		ByteSize:    int64(len(payload.Body)),
	})
	if err != nil {
		return itemFailure(run, err)
	}

	run.record(func(s *model.RunSummary) {
		s.Downloaded++
		switch out.Status {
		case model.StatusNew:
			s.New++
		case model.StatusUpdated:
			s.Updated++
		case model.StatusUnchanged:
			s.Unchanged++
		}
	})

	if c.classifier != nil && out.Document != nil && out.Status != model.StatusUnchanged {
		return c.classify(ctx, run, out.Document, payload.Body)
	}
	return nil
}

func (c *Coordinator) classify(ctx context.Context, run *Run, doc *model.Document, content []byte) error {
	verdict, err := c.classifier.Classify(ctx, doc, content)
	if err != nil {
		c.logger.Warn("document classification failed", "url", doc.URL, "error", err)
		return nil
	}
	if _, err := c.deps.Dedup.ApplyClassification(ctx, doc.CompanyID, doc.URL, verdict.DocType, verdict.Confidence); err != nil {
		return itemFailure(run, err)
	}
	return nil
}

// deferCandidate parks a candidate that was not attempted in the ledger.
func (c *Coordinator) deferCandidate(ctx context.Context, run *Run, cand model.DiscoveryCandidate, note string) error {
	if _, err := c.deps.Ledger.Defer(ctx, run.Company.ID, cand.URL, note); err != nil {
		return itemFailure(run, err)
	}
	run.record(func(s *model.RunSummary) { s.Deferred++ })
	return nil
}

// itemFailure counts a failed item, or returns err when it is fatal.
func itemFailure(run *Run, err error) error {
	if isFatal(err) {
		return err
	}
	run.addError(err.Error())
	return nil
}

// pageStep observes the company's pages: every page the crawl reaches,
// then every known active page it did not reach.
type pageStep struct {
	c *Coordinator
}

func (s *pageStep) Name() string { return "monitor-pages" }

func (s *pageStep) Do(ctx context.Context, run *Run) error {
	observations, err := s.c.deps.Pages.Crawl(ctx, run.Company)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		run.addError("crawl " + run.Company.WebsiteURL + ": " + err.Error())
	}

	reached := make(map[string]bool, len(observations))
	for _, obs := range observations {
		if err := ctx.Err(); err != nil {
			return err
		}
		reached[obs.PageURL] = true
		if err := s.observe(ctx, run, obs); err != nil {
			return err
		}
	}

	known, err := s.c.deps.Store.ListPages(ctx, run.Company.ID, true)
	if err != nil {
		return itemFailure(run, err)
	}
	for _, snap := range known {
		if reached[snap.URL] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if run.pastDeadline(s.c.clock.Now()) {
			s.c.logger.Warn("page probes skipped after deadline", "company_id", run.Company.ID)
			return nil
		}
		if err := s.observe(ctx, run, s.c.deps.Pages.Observe(ctx, run.Company.ID, snap.URL)); err != nil {
			return err
		}
	}
	return nil
}

// observe records one observation and queues the PDFs it newly links.
func (s *pageStep) observe(ctx context.Context, run *Run, obs model.PageObservation) error {
	change, err := s.c.deps.Differ.Observe(ctx, obs)
	if err != nil {
		return itemFailure(run, err)
	}

	linked := 0
	if change != nil && (change.Type == model.PageAdded || change.Type == model.NewDocLinked) {
		for _, u := range change.NewPDFURLs {
			if run.enqueue(model.DiscoveryCandidate{
				URL:        u,
				Strategy:   model.StrategyHTMLScrape,
				SourceType: model.SourceWebsite,
			}) {
				linked++
			}
		}
	}
	run.record(func(sum *model.RunSummary) {
		sum.PagesObserved++
		sum.Discovered += linked
		if change != nil {
			sum.PageChanges[change.Type]++
		}
	})
	return nil
}
