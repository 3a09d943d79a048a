package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestFetchError(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("wrapped: %w", &FetchError{URL: "https://a.com/x.pdf", Reason: ReasonHTTP4xx, StatusCode: 404})

	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatal("errors.As should find FetchError")
	}
	if !fe.Terminal() {
		t.Error("404 should be terminal")
	}
	if fe.Blocked() {
		t.Error("404 is not a block")
	}
	if ReasonOf(err) != ReasonHTTP4xx {
		t.Errorf("ReasonOf() = %s, want HTTP_4XX", ReasonOf(err))
	}
	if !strings.Contains(err.Error(), "status 404") {
		t.Errorf("message %q should contain status", err.Error())
	}
}

func TestReasonOf(t *testing.T) {
	t.Parallel()

	if ReasonOf(context.DeadlineExceeded) != ReasonTimeout {
		t.Error("deadline exceeded should be TIMEOUT")
	}
	if ReasonOf(errors.New("x")) != ReasonUnknown {
		t.Error("plain error should be UNKNOWN")
	}
	if ReasonOf(nil) != ReasonUnknown {
		t.Error("nil should be UNKNOWN")
	}
}

func TestReasonForStatus(t *testing.T) {
	t.Parallel()

	cases := map[int]ReasonCode{
		403: ReasonBlocked,
		429: ReasonBlocked,
		408: ReasonTimeout,
		404: ReasonHTTP4xx,
		503: ReasonHTTP5xx,
		200: ReasonUnknown,
	}
	for code, want := range cases {
		if got := ReasonForStatus(code); got != want {
			t.Errorf("ReasonForStatus(%d) = %s, want %s", code, got, want)
		}
	}
}

func TestStrategySourceErrorUnwrap(t *testing.T) {
	t.Parallel()

	base := errors.New("quota exceeded")
	err := &StrategySourceError{Strategy: StrategyTavily, Domain: "api.tavily.com", StatusCode: 429, Blocked: true, Err: base}
	if !errors.Is(err, base) {
		t.Error("Unwrap should expose the cause")
	}
	for _, want := range []string{"TAVILY", "429", "blocked", "quota"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("message %q missing %q", err.Error(), want)
		}
	}
}
