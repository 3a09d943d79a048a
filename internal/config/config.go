package config

import (
	"path/filepath"
	"slices"
	"time"

	"github.com/adrg/xdg"

	"github.com/nao1215/finwatch/internal/model"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "finwatch"

	// DefaultStrategyTimeout bounds one discovery strategy attempt. Remote
	// crawl APIs can take close to a minute on large IR sites.
	DefaultStrategyTimeout = 90 * time.Second

	// DefaultFetchTimeout is the per-request HTTP timeout.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultSoftDeadline is how long a company run may keep fetching
	// before remaining candidates are deferred.
	DefaultSoftDeadline = 20 * time.Minute

	// DefaultCooldown is how long a domain is avoided after it blocked us.
	DefaultCooldown = 15 * time.Minute

	// DefaultMinRequestDelay is the minimum spacing of requests to one domain.
	DefaultMinRequestDelay = time.Second

	// DefaultRetryCeiling is the failure count at which a retry goes DEAD.
	DefaultRetryCeiling = 3

	// DefaultBackoffBase and DefaultBackoffCap bound the retry delay.
	DefaultBackoffBase = 10 * time.Minute
	DefaultBackoffCap  = 4 * time.Hour

	// DefaultReviewThreshold flags classifications below this confidence.
	DefaultReviewThreshold = 0.6

	// DefaultMaxDocumentSize limits downloaded documents.
	DefaultMaxDocumentSize = 50 * 1024 * 1024

	// DefaultMaxPages limits pages crawled per company and run.
	DefaultMaxPages = 150

	// DefaultMaxPageFailures is the number of consecutive failed
	// observations after which a page is reported deleted.
	DefaultMaxPageFailures = 3

	// DefaultFirecrawlLimit bounds the pages the remote crawler visits.
	DefaultFirecrawlLimit = 200

	// Concurrency defaults.
	DefaultCompanyConcurrency  = 2
	DefaultStrategyConcurrency = 4
	DefaultFetchConcurrency    = 4

	// DefaultUserAgent identifies finwatch in HTTP requests. SEC EDGAR
	// rejects requests without a contact address, so set one in the
	// configuration file.
	DefaultUserAgent = "finwatch/1.0 (+https://github.com/nao1215/finwatch)"
)

// Backoff policies.
const (
	BackoffExponential = "exponential"
	BackoffLinear      = "linear"
)

// Strategy names accepted in Config.Strategies.
var knownStrategies = []model.StrategyKind{
	model.StrategyFirecrawl,
	model.StrategyTavily,
	model.StrategyEDGAR,
	model.StrategyHTMLScrape,
	model.StrategyRegexFallback,
}

// Config holds every finwatch setting. It is populated from defaults, the
// configuration file, the environment and CLI flags, in that order.
type Config struct {
	// DBDir is the directory of the SQLite database.
	DBDir string
	// ConfigFilePath is an explicit configuration file; empty searches
	// the default locations.
	ConfigFilePath string

	// Verbose enables debug logging; LogJSON switches to JSON logs.
	Verbose bool
	LogJSON bool

	// JSONReport and MarkdownReport select the output format. Mutually
	// exclusive; neither means plain text.
	JSONReport     bool
	MarkdownReport bool
	// ReportFile writes output to a file instead of stdout.
	ReportFile string

	// MetricsAddr serves Prometheus metrics while a run is in progress.
	// Empty disables the listener.
	MetricsAddr string

	StrategyTimeout time.Duration
	FetchTimeout    time.Duration
	// SoftDeadline of zero disables deferral.
	SoftDeadline    time.Duration
	Cooldown        time.Duration
	MinRequestDelay time.Duration

	RetryCeiling  int
	BackoffPolicy string
	BackoffBase   time.Duration
	BackoffCap    time.Duration

	// ReviewThreshold is in [0, 1].
	ReviewThreshold float64
	// ClassifierURL is the classification service root; empty disables
	// classification.
	ClassifierURL string

	MaxDocumentSize int64
	MaxPages        int
	MaxPageFailures int
	FirecrawlLimit  int

	CompanyConcurrency  int
	StrategyConcurrency int
	FetchConcurrency    int

	// Strategies lists enabled discovery strategies by name.
	Strategies []string

	UserAgent string
	// ProxyAddress routes all egress through a SOCKS5 proxy (host:port).
	ProxyAddress string

	// API credentials. Usually taken from FIRECRAWL_API_KEY and
	// TAVILY_API_KEY. A strategy without a key is disabled.
	FirecrawlAPIKey string
	TavilyAPIKey    string

	// Endpoint overrides, mostly for testing against local servers.
	FirecrawlURL string
	TavilyURL    string
	EDGARURL     string
}

// NewConfig creates a Config with default values.
func NewConfig() *Config {
	strategies := make([]string, len(knownStrategies))
	for i, k := range knownStrategies {
		strategies[i] = string(k)
	}
	return &Config{
		DBDir:               XDGDataDir(),
		StrategyTimeout:     DefaultStrategyTimeout,
		FetchTimeout:        DefaultFetchTimeout,
		SoftDeadline:        DefaultSoftDeadline,
		Cooldown:            DefaultCooldown,
		MinRequestDelay:     DefaultMinRequestDelay,
		RetryCeiling:        DefaultRetryCeiling,
		BackoffPolicy:       BackoffExponential,
		BackoffBase:         DefaultBackoffBase,
		BackoffCap:          DefaultBackoffCap,
		ReviewThreshold:     DefaultReviewThreshold,
		MaxDocumentSize:     DefaultMaxDocumentSize,
		MaxPages:            DefaultMaxPages,
		MaxPageFailures:     DefaultMaxPageFailures,
		FirecrawlLimit:      DefaultFirecrawlLimit,
		CompanyConcurrency:  DefaultCompanyConcurrency,
		StrategyConcurrency: DefaultStrategyConcurrency,
		FetchConcurrency:    DefaultFetchConcurrency,
		Strategies:          strategies,
		UserAgent:           DefaultUserAgent,
	}
}

// StrategyEnabled reports whether kind is listed in Strategies.
func (c *Config) StrategyEnabled(kind model.StrategyKind) bool {
	return slices.Contains(c.Strategies, string(kind))
}

// XDGDataDir returns the XDG data directory for finwatch.
// On Linux: ~/.local/share/finwatch
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for finwatch.
// On Linux: ~/.config/finwatch
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if c.DBDir == "" {
		return ErrNoDBDir
	}
	if c.StrategyTimeout <= 0 || c.FetchTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.SoftDeadline < 0 {
		return ErrInvalidSoftDeadline
	}
	if c.Cooldown <= 0 {
		return ErrInvalidCooldown
	}
	if c.MinRequestDelay < 0 {
		return ErrInvalidRequestDelay
	}
	if c.RetryCeiling < 1 {
		return ErrInvalidRetryCeiling
	}
	if c.BackoffPolicy != BackoffExponential && c.BackoffPolicy != BackoffLinear {
		return ErrInvalidBackoffPolicy
	}
	if c.BackoffBase <= 0 || c.BackoffCap < c.BackoffBase {
		return ErrInvalidBackoff
	}
	if c.ReviewThreshold < 0 || c.ReviewThreshold > 1 {
		return ErrInvalidReviewThreshold
	}
	if c.MaxDocumentSize <= 0 || c.MaxPages <= 0 {
		return ErrInvalidLimit
	}
	if c.CompanyConcurrency <= 0 || c.StrategyConcurrency <= 0 || c.FetchConcurrency <= 0 {
		return ErrInvalidConcurrency
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	for _, s := range c.Strategies {
		if !slices.Contains(knownStrategies, model.StrategyKind(s)) {
			return &UnknownStrategyError{Name: s}
		}
	}
	return nil
}
