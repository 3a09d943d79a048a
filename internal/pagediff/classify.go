package pagediff

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/nao1215/finwatch/internal/model"
)

const (
	// DefaultMaxConsecutiveFailures is the failure streak after which an
	// unreachable page counts as deleted.
	DefaultMaxConsecutiveFailures = 3

	sampleLines     = 3
	sampleMaxLength = 200
	linkedPreview   = 3
)

// Decision is the outcome of classifying one observation.
type Decision struct {
	// Snapshot is the next state to store. Nil means nothing is stored.
	Snapshot *model.PageSnapshot
	// Change is the event to append, if any.
	Change *model.PageChange
}

// Classify compares an observation with the prior snapshot of the page.
// It emits at most one change, checking in order: added (including a
// reactivated page), deleted, new PDFs linked, then content changed. A
// page that fails with a 404/410, or maxFailures times in a row, is
// deleted. Blocked fetches are ignored. Classify does not touch prior.
//
// A failed fetch with no prior snapshot records nothing: a page that was
// never seen cannot be deleted. Non-terminal failures only grow the
// failure streak of the snapshot until maxFailures is reached.
//
// Design decision: Classify is a pure function of its inputs. The Differ
// wraps it in a store mutation, which keeps the priority rules testable
// without a database and makes the persisted snapshot and change come
// from the same decision.
func Classify(prior *model.PageSnapshot, obs model.PageObservation, now time.Time, maxFailures int) Decision {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxConsecutiveFailures
	}
	if !obs.Reachable() {
		return classifyFailure(prior, obs, now, maxFailures)
	}

	next := &model.PageSnapshot{
		CompanyID: obs.CompanyID,
		URL:       obs.PageURL,
		FirstSeen: now,
	}
	var known []string
	if prior != nil {
		next.ID = prior.ID
		next.FirstSeen = prior.FirstSeen
		known = prior.KnownPDFs
	}
	current := uniqueStrings(obs.PDFURLs)
	added := difference(current, known)

	next.ContentHash = obs.Hash
	next.Text = obs.Text
	next.PDFCount = len(current)
	next.KnownPDFs = append(append([]string(nil), known...), added...)
	next.StatusCode = obs.StatusCode
	next.Active = true
	next.FailureStreak = 0
	next.LastSeen = now

	change := &model.PageChange{
		CompanyID:  obs.CompanyID,
		PageURL:    obs.PageURL,
		NewHash:    obs.Hash,
		DetectedAt: now,
	}
	if prior != nil {
		change.OldHash = prior.ContentHash
	}

	switch {
	case prior == nil:
		change.Type = model.PageAdded
		change.DiffSummary = "New page discovered: " + obs.PageURL
		change.NewPDFURLs = current
	case !prior.Active:
		change.Type = model.PageAdded
		change.DiffSummary = "Page reachable again: " + obs.PageURL
		change.NewPDFURLs = added
	case len(added) > 0:
		change.Type = model.NewDocLinked
		change.DiffSummary = LinkedSummary(added)
		change.NewPDFURLs = added
	case prior.ContentHash != obs.Hash:
		change.Type = model.ContentChanged
		change.DiffSummary = contentSummary(prior, obs)
	default:
		change = nil
	}
	return Decision{Snapshot: next, Change: change}
}

func classifyFailure(prior *model.PageSnapshot, obs model.PageObservation, now time.Time, maxFailures int) Decision {
	// A blocked fetch says nothing about the page itself.
	if prior == nil || isBlocked(obs) {
		return Decision{}
	}

	next := *prior
	next.KnownPDFs = append([]string(nil), prior.KnownPDFs...)
	next.FailureStreak++
	if obs.StatusCode > 0 {
		next.StatusCode = obs.StatusCode
	}

	terminal := isTerminal(obs)
	if !prior.Active || (!terminal && next.FailureStreak < maxFailures) {
		return Decision{Snapshot: &next}
	}

	next.Active = false
	reason := fmt.Sprintf("%d consecutive failures", next.FailureStreak)
	if terminal {
		reason = fmt.Sprintf("HTTP %d", terminalStatus(obs))
	}
	return Decision{
		Snapshot: &next,
		Change: &model.PageChange{
			CompanyID:   obs.CompanyID,
			PageURL:     obs.PageURL,
			Type:        model.PageDeleted,
			DiffSummary: fmt.Sprintf("Page no longer reachable: %s (%s)", obs.PageURL, reason),
			OldHash:     prior.ContentHash,
			DetectedAt:  now,
		},
	}
}

func isBlocked(obs model.PageObservation) bool {
	var fe *model.FetchError
	return errors.As(obs.Err, &fe) && fe.Blocked()
}

func isTerminal(obs model.PageObservation) bool {
	return terminalStatus(obs) != 0
}

func terminalStatus(obs model.PageObservation) int {
	if obs.StatusCode == 404 || obs.StatusCode == 410 {
		return obs.StatusCode
	}
	var fe *model.FetchError
	if errors.As(obs.Err, &fe) && fe.Terminal() {
		return fe.StatusCode
	}
	return 0
}

// LinkedSummary describes newly linked PDFs, naming the first few.
func LinkedSummary(urls []string) string {
	preview := urls
	if len(preview) > linkedPreview {
		preview = preview[:linkedPreview]
	}
	return fmt.Sprintf("%d new PDF(s) linked: %s", len(urls), strings.Join(preview, ", "))
}

func contentSummary(prior *model.PageSnapshot, obs model.PageObservation) string {
	if prior.Text == "" && obs.Text == "" {
		return "Content hash changed"
	}
	return DiffSummary(prior.Text, obs.Text)
}

// DiffSummary counts added and removed lines between two texts and quotes
// the first added lines.
func DiffSummary(oldText, newText string) string {
	a, b := splitLines(oldText), splitLines(newText)
	matcher := difflib.NewMatcher(a, b)

	var added, removed int
	var samples []string
	for _, op := range matcher.GetOpCodes() {
		switch op.Tag {
		case 'r', 'd':
			removed += op.I2 - op.I1
		}
		switch op.Tag {
		case 'r', 'i':
			added += op.J2 - op.J1
			for _, line := range b[op.J1:op.J2] {
				if len(samples) < sampleLines {
					samples = append(samples, strings.TrimSpace(line))
				}
			}
		}
	}

	sample := truncateRunes(strings.Join(samples, " | "), sampleMaxLength)
	return fmt.Sprintf("+%d lines added, -%d lines removed. Sample: %s", added, removed, sample)
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

func truncateRunes(s string, limit int) string {
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

func uniqueStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// difference returns the items of in that are not in known, in order.
func difference(in, known []string) []string {
	set := make(map[string]struct{}, len(known))
	for _, k := range known {
		set[k] = struct{}{}
	}
	var out []string
	for _, s := range in {
		if _, ok := set[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}
