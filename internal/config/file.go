package config

import (
	"strings"
	"time"

	"github.com/nao1215/finwatch/internal/model"
)

// Settings are the overridable options of the configuration file. Zero
// values leave the current setting alone.
type Settings struct {
	DBDir           string        `yaml:"dbDir,omitempty"`
	StrategyTimeout time.Duration `yaml:"strategyTimeout,omitempty"`
	FetchTimeout    time.Duration `yaml:"fetchTimeout,omitempty"`
	SoftDeadline    time.Duration `yaml:"softDeadline,omitempty"`
	Cooldown        time.Duration `yaml:"cooldown,omitempty"`
	MinRequestDelay time.Duration `yaml:"minRequestDelay,omitempty"`
	RetryCeiling    int           `yaml:"retryCeiling,omitempty"`
	BackoffPolicy   string        `yaml:"backoffPolicy,omitempty"`
	BackoffBase     time.Duration `yaml:"backoffBase,omitempty"`
	BackoffCap      time.Duration `yaml:"backoffCap,omitempty"`
	ReviewThreshold float64       `yaml:"reviewThreshold,omitempty"`
	ClassifierURL   string        `yaml:"classifierURL,omitempty"`
	MaxDocumentSize int64         `yaml:"maxDocumentSize,omitempty"`
	MaxPages        int           `yaml:"maxPages,omitempty"`
	MaxPageFailures int           `yaml:"maxPageFailures,omitempty"`
	FirecrawlLimit  int           `yaml:"firecrawlLimit,omitempty"`
	UserAgent       string        `yaml:"userAgent,omitempty"`
	ProxyAddress    string        `yaml:"proxy,omitempty"`
	MetricsAddr     string        `yaml:"metricsAddr,omitempty"`

	CompanyConcurrency  int `yaml:"companyConcurrency,omitempty"`
	StrategyConcurrency int `yaml:"strategyConcurrency,omitempty"`
	FetchConcurrency    int `yaml:"fetchConcurrency,omitempty"`

	Strategies []string `yaml:"strategies,omitempty"`
}

// Credentials hold API keys. Environment variables take precedence.
type Credentials struct {
	FirecrawlAPIKey string `yaml:"firecrawlAPIKey,omitempty"`
	TavilyAPIKey    string `yaml:"tavilyAPIKey,omitempty"`
}

// Endpoints override remote API roots.
type Endpoints struct {
	Firecrawl string `yaml:"firecrawl,omitempty"`
	Tavily    string `yaml:"tavily,omitempty"`
	EDGAR     string `yaml:"edgar,omitempty"`
}

// CompanyEntry seeds a tracked company.
type CompanyEntry struct {
	Name    string `yaml:"name"`
	Website string `yaml:"website"`
	Depth   int    `yaml:"depth,omitempty"`
	// Active defaults to true when omitted.
	Active *bool `yaml:"active,omitempty"`
}

// Company converts the entry to a model.Company.
func (e CompanyEntry) Company() *model.Company {
	active := true
	if e.Active != nil {
		active = *e.Active
	}
	return &model.Company{
		Name:       strings.TrimSpace(e.Name),
		WebsiteURL: strings.TrimSpace(e.Website),
		CrawlDepth: e.Depth,
		Active:     active,
	}
}

// File represents the structure of the .finwatch.yaml configuration file.
type File struct {
	Settings    Settings       `yaml:"settings,omitempty"`
	Credentials Credentials    `yaml:"credentials,omitempty"`
	Endpoints   Endpoints      `yaml:"endpoints,omitempty"`
	Companies   []CompanyEntry `yaml:"companies,omitempty"`
}

// Apply copies every set value of the file onto cfg.
func (f *File) Apply(cfg *Config) {
	s := f.Settings
	setString(&cfg.DBDir, s.DBDir)
	setDuration(&cfg.StrategyTimeout, s.StrategyTimeout)
	setDuration(&cfg.FetchTimeout, s.FetchTimeout)
	setDuration(&cfg.SoftDeadline, s.SoftDeadline)
	setDuration(&cfg.Cooldown, s.Cooldown)
	setDuration(&cfg.MinRequestDelay, s.MinRequestDelay)
	setInt(&cfg.RetryCeiling, s.RetryCeiling)
	setString(&cfg.BackoffPolicy, s.BackoffPolicy)
	setDuration(&cfg.BackoffBase, s.BackoffBase)
	setDuration(&cfg.BackoffCap, s.BackoffCap)
	if s.ReviewThreshold != 0 {
		cfg.ReviewThreshold = s.ReviewThreshold
	}
	setString(&cfg.ClassifierURL, s.ClassifierURL)
	if s.MaxDocumentSize != 0 {
		cfg.MaxDocumentSize = s.MaxDocumentSize
	}
	setInt(&cfg.MaxPages, s.MaxPages)
	setInt(&cfg.MaxPageFailures, s.MaxPageFailures)
	setInt(&cfg.FirecrawlLimit, s.FirecrawlLimit)
	setString(&cfg.UserAgent, s.UserAgent)
	setString(&cfg.ProxyAddress, s.ProxyAddress)
	setString(&cfg.MetricsAddr, s.MetricsAddr)
	setInt(&cfg.CompanyConcurrency, s.CompanyConcurrency)
	setInt(&cfg.StrategyConcurrency, s.StrategyConcurrency)
	setInt(&cfg.FetchConcurrency, s.FetchConcurrency)
	if len(s.Strategies) > 0 {
		cfg.Strategies = NormalizeStrategies(s.Strategies)
	}

	setString(&cfg.FirecrawlAPIKey, f.Credentials.FirecrawlAPIKey)
	setString(&cfg.TavilyAPIKey, f.Credentials.TavilyAPIKey)
	setString(&cfg.FirecrawlURL, f.Endpoints.Firecrawl)
	setString(&cfg.TavilyURL, f.Endpoints.Tavily)
	setString(&cfg.EDGARURL, f.Endpoints.EDGAR)
}

// NormalizeStrategies upper-cases strategy names, turns dashes into
// underscores and drops empty entries.
func NormalizeStrategies(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(n), "-", "_"))
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}
