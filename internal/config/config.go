package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"
)

type Config struct {
	//===============
	//  Crawl scope
	//===============
	// Initial pages to give to the crawler to begin discovering and traversing other pages.
	seedURLs []url.URL
	// Whitelisted hostname. Empty means all hostnames are allowed
	allowedHosts map[string]struct{}
	// Which URL path segments are permitted to be fetched and traversed, even if the links are on the same domain
	allowedPathPrefix []string

	//===============
	// Limits
	//===============
	// Maximum number of hyperlink hops from a seed (root) URL
	maxDepth int
	// Maximum number of total documents are allowed to be fetched
	maxPages int
	// scheduler.max_requests: total admissions cap across the whole crawl,
	// independent of maxPages; 0 disables it.
	maxRequests int
	// scheduler.max_queue_size: frontier priority-queue capacity; admission
	// blocks once it is reached.
	maxQueueSize int

	//===============
	// Politeness
	//===============
	// Maximum number of crawl worker goroutines processing URLs concurrently;
	// it does not control OS threads or CPU parallelism.
	concurrency int
	// Minimum, fixed waiting time you enforce between two HTTP requests to the same host.
	baseDelay time.Duration
	// Randomized variation added on top of the base delay.
	// Intentional randomness applied to timing.
	jitter time.Duration
	// Controls the random number generator
	randomSeed int64
	// scheduler.request_delay: global inter-dispatch delay applied by the
	// frontier regardless of host.
	requestDelay time.Duration
	// scheduler.max_domain_concurrent: per-host in-flight cap.
	maxHostConcurrency int
	// maximum attempt during retry
	maxAttempt int
	// initial delay for backoff
	backoffInitialDuration time.Duration
	// multiplier during exponential backoff
	backoffMultiplier float64
	// capped maximum delay for backoff to stop exponential multiplication
	backoffMaxDuration time.Duration

	//===============
	// Fetch
	//===============
	// Maximum time of a single fetch request
	timeout time.Duration
	// User agent that will be used in the request header. In raw string
	userAgent string
	// downloader.follow_redirects
	followRedirects bool
	// cap on redirects followed before a synthetic 600 is produced
	redirectLimit int

	//===============
	// Circuit breaker
	//===============
	// spider.failure_threshold: consecutive terminal failures that open a
	// host's circuit.
	failureThreshold int
	// spider.recovery_timeout: how long a circuit stays open before a
	// half-open trial is allowed.
	recoveryTimeout time.Duration

	//===============
	// Parser
	//===============
	// parser.max_document_size: byte cap on a response body handed to the
	// parser; violations are a terminal parser error.
	maxDocumentSize int64
	// parser.default_encoding
	defaultEncoding string

	//===============
	// Output
	//===============
	// Root directory in which to store the resulting record files
	outputDir string
	// Whether the program will simulates what it would do without
	// actually performing any irreversible or side-effecting actions
	dryRun bool
}

type configDTO struct {
	SeedURLs               []url.URL           `json:"seedUrls"`
	AllowedHosts           map[string]struct{} `json:"allowedHosts,omitempty"`
	AllowedPathPrefix      []string            `json:"allowedPathPrefix,omitempty"`
	MaxDepth               int                 `json:"maxDepth,omitempty"`
	MaxPages               int                 `json:"maxPages,omitempty"`
	MaxRequests            int                 `json:"maxRequests,omitempty"`
	MaxQueueSize           int                 `json:"maxQueueSize,omitempty"`
	Concurrency            int                 `json:"concurrency,omitempty"`
	BaseDelay              time.Duration       `json:"baseDelay,omitempty"`
	Jitter                 time.Duration       `json:"jitter,omitempty"`
	RandomSeed             int64               `json:"randomSeed,omitempty"`
	RequestDelay           time.Duration       `json:"requestDelay,omitempty"`
	MaxHostConcurrency     int                 `json:"maxHostConcurrency,omitempty"`
	MaxAttempt             int                 `json:"maxAttempt,omitempty"`
	BackoffInitialDuration time.Duration       `json:"backoffInitialDuration,omitempty"`
	BackoffMultiplier      float64             `json:"backoffMultiplier,omitempty"`
	BackoffMaxDuration     time.Duration       `json:"backoffMaxDuration,omitempty"`
	Timeout                time.Duration       `json:"timeout,omitempty"`
	UserAgent              string              `json:"userAgent,omitempty"`
	FollowRedirects        *bool               `json:"followRedirects,omitempty"`
	RedirectLimit          int                 `json:"redirectLimit,omitempty"`
	FailureThreshold       int                 `json:"failureThreshold,omitempty"`
	RecoveryTimeout        time.Duration       `json:"recoveryTimeout,omitempty"`
	MaxDocumentSize        int64               `json:"maxDocumentSize,omitempty"`
	DefaultEncoding        string              `json:"defaultEncoding,omitempty"`
	OutputDir              string              `json:"outputDir,omitempty"`
	DryRun                 bool                `json:"dryRun,omitempty"`
}

func newConfigFromDTO(dto configDTO) (Config, error) {

	// Start with default config
	cfg, err := WithDefault(dto.SeedURLs).Build()
	if err != nil {
		return Config{}, err
	}

	// AllowedHosts can be empty - if so, default to seed URLs hostnames
	if len(dto.AllowedHosts) > 0 {
		cfg.allowedHosts = dto.AllowedHosts
	}

	// AllowedPathPrefix can be empty - always use DTO values
	cfg.allowedPathPrefix = dto.AllowedPathPrefix

	// For other fields, only override if non-zero value is provided
	if dto.MaxDepth != 0 {
		cfg.maxDepth = dto.MaxDepth
	}
	if dto.MaxPages != 0 {
		cfg.maxPages = dto.MaxPages
	}
	if dto.MaxRequests != 0 {
		cfg.maxRequests = dto.MaxRequests
	}
	if dto.MaxQueueSize != 0 {
		cfg.maxQueueSize = dto.MaxQueueSize
	}
	if dto.Concurrency != 0 {
		cfg.concurrency = dto.Concurrency
	}
	if dto.BaseDelay != 0 {
		cfg.baseDelay = dto.BaseDelay
	}
	if dto.Jitter != 0 {
		cfg.jitter = dto.Jitter
	}
	if dto.RandomSeed != 0 {
		cfg.randomSeed = dto.RandomSeed
	}
	if dto.RequestDelay != 0 {
		cfg.requestDelay = dto.RequestDelay
	}
	if dto.MaxHostConcurrency != 0 {
		cfg.maxHostConcurrency = dto.MaxHostConcurrency
	}
	if dto.MaxAttempt != 0 {
		cfg.maxAttempt = dto.MaxAttempt
	}
	if dto.BackoffInitialDuration != 0 {
		cfg.backoffInitialDuration = dto.BackoffInitialDuration
	}
	if dto.BackoffMultiplier != 0 {
		cfg.backoffMultiplier = dto.BackoffMultiplier
	}
	if dto.BackoffMaxDuration != 0 {
		cfg.backoffMaxDuration = dto.BackoffMaxDuration
	}

	if dto.Timeout != 0 {
		cfg.timeout = dto.Timeout
	}
	if dto.UserAgent != "" {
		cfg.userAgent = dto.UserAgent
	}
	if dto.FollowRedirects != nil {
		cfg.followRedirects = *dto.FollowRedirects
	}
	if dto.RedirectLimit != 0 {
		cfg.redirectLimit = dto.RedirectLimit
	}
	if dto.FailureThreshold != 0 {
		cfg.failureThreshold = dto.FailureThreshold
	}
	if dto.RecoveryTimeout != 0 {
		cfg.recoveryTimeout = dto.RecoveryTimeout
	}
	if dto.MaxDocumentSize != 0 {
		cfg.maxDocumentSize = dto.MaxDocumentSize
	}
	if dto.DefaultEncoding != "" {
		cfg.defaultEncoding = dto.DefaultEncoding
	}
	if dto.OutputDir != "" {
		cfg.outputDir = dto.OutputDir
	}
	// DryRun is a boolean, check if explicitly set (we use the DTO value as-is since bool zero value is false)
	cfg.dryRun = dto.DryRun

	return cfg, nil
}

func WithConfigFile(path string) (Config, error) {
	_, err := os.Stat(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrFileDoesNotExist, err.Error())
	}
	configContent, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrReadConfigFail, err.Error())
	}
	cfgDTO := configDTO{}

	err = json.Unmarshal(configContent, &cfgDTO)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrConfigParsingFail, err.Error())
	}

	cfg, err := newConfigFromDTO(cfgDTO)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WithDefault creates a new Config with the provided seed URLs and default values for all other fields.
// seedUrls is mandatory and must not be empty - Build returns an error if it is.
func WithDefault(seedUrls []url.URL) *Config {
	defaultConfig := Config{
		seedURLs:     seedUrls,
		allowedHosts: map[string]struct{}{},
		allowedPathPrefix: []string{
			"/",
		},
		maxDepth:               3,
		maxPages:               100,
		maxRequests:            0,
		maxQueueSize:           1000,
		concurrency:            10,
		baseDelay:              time.Second,
		jitter:                 time.Millisecond * 500,
		randomSeed:             time.Now().UnixNano(),
		requestDelay:           0,
		maxHostConcurrency:     4,
		maxAttempt:             10,
		backoffInitialDuration: 100 * time.Millisecond,
		backoffMultiplier:      2.0,
		backoffMaxDuration:     10 * time.Second,
		timeout:                time.Second * 10,
		userAgent:              "webants/1.0",
		followRedirects:        true,
		redirectLimit:          20,
		failureThreshold:       5,
		recoveryTimeout:        30 * time.Second,
		maxDocumentSize:        10 << 20,
		defaultEncoding:        "utf-8",
		outputDir:              "output",
		dryRun:                 false,
	}
	return &defaultConfig
}

func (c *Config) WithSeedUrls(urls []url.URL) *Config {
	c.seedURLs = urls
	return c
}

func (c *Config) WithAllowedHosts(hosts map[string]struct{}) *Config {
	c.allowedHosts = hosts
	return c
}

func (c *Config) WithAllowedPathPrefix(prefixes []string) *Config {
	c.allowedPathPrefix = prefixes
	return c
}

func (c *Config) WithMaxDepth(depth int) *Config {
	c.maxDepth = depth
	return c
}

func (c *Config) WithMaxPages(pages int) *Config {
	c.maxPages = pages
	return c
}

func (c *Config) WithMaxRequests(n int) *Config {
	c.maxRequests = n
	return c
}

func (c *Config) WithMaxQueueSize(n int) *Config {
	c.maxQueueSize = n
	return c
}

func (c *Config) WithConcurrency(concurrency int) *Config {
	c.concurrency = concurrency
	return c
}

func (c *Config) WithBaseDelay(delay time.Duration) *Config {
	c.baseDelay = delay
	return c
}

func (c *Config) WithJitter(jitter time.Duration) *Config {
	c.jitter = jitter
	return c
}

func (c *Config) WithRandomSeed(seed int64) *Config {
	c.randomSeed = seed
	return c
}

func (c *Config) WithRequestDelay(d time.Duration) *Config {
	c.requestDelay = d
	return c
}

func (c *Config) WithMaxHostConcurrency(n int) *Config {
	c.maxHostConcurrency = n
	return c
}

func (c *Config) WithMaxAttempt(attempts int) *Config {
	c.maxAttempt = attempts
	return c
}

func (c *Config) WithBackoffInitialDuration(duration time.Duration) *Config {
	c.backoffInitialDuration = duration
	return c
}

func (c *Config) WithBackoffMultiplier(multiplier float64) *Config {
	c.backoffMultiplier = multiplier
	return c
}

func (c *Config) WithBackoffMaxDuration(duration time.Duration) *Config {
	c.backoffMaxDuration = duration
	return c
}

func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.timeout = timeout
	return c
}

func (c *Config) WithUserAgent(agent string) *Config {
	c.userAgent = agent
	return c
}

func (c *Config) WithFollowRedirects(follow bool) *Config {
	c.followRedirects = follow
	return c
}

func (c *Config) WithRedirectLimit(n int) *Config {
	c.redirectLimit = n
	return c
}

func (c *Config) WithFailureThreshold(n int) *Config {
	c.failureThreshold = n
	return c
}

func (c *Config) WithRecoveryTimeout(d time.Duration) *Config {
	c.recoveryTimeout = d
	return c
}

func (c *Config) WithMaxDocumentSize(n int64) *Config {
	c.maxDocumentSize = n
	return c
}

func (c *Config) WithDefaultEncoding(enc string) *Config {
	c.defaultEncoding = enc
	return c
}

func (c *Config) WithOutputDir(outputDir string) *Config {
	c.outputDir = outputDir
	return c
}

func (c *Config) WithDryRun(dryRun bool) *Config {
	c.dryRun = dryRun
	return c
}

func (c *Config) Build() (Config, error) {
	if len(c.seedURLs) == 0 {
		return Config{}, fmt.Errorf("%w: seedUrls cannot be empty", ErrInvalidConfig)
	}

	// If allowedHosts is empty, default to seed URLs hostnames
	if len(c.allowedHosts) == 0 {
		c.allowedHosts = make(map[string]struct{})
		for _, u := range c.seedURLs {
			if u.Hostname() != "" {
				c.allowedHosts[u.Hostname()] = struct{}{}
			}
		}
	}

	return *c, nil
}

func (c Config) SeedURLs() []url.URL {
	urls := make([]url.URL, len(c.seedURLs))
	copy(urls, c.seedURLs)
	return urls
}

func (c Config) AllowedHosts() map[string]struct{} {
	hosts := make(map[string]struct{})
	for k, v := range c.allowedHosts {
		hosts[k] = v
	}
	return hosts
}

func (c Config) AllowedPathPrefix() []string {
	prefixes := make([]string, len(c.allowedPathPrefix))
	copy(prefixes, c.allowedPathPrefix)
	return prefixes
}

func (c Config) MaxDepth() int {
	return c.maxDepth
}

func (c Config) MaxPages() int {
	return c.maxPages
}

func (c Config) MaxRequests() int {
	return c.maxRequests
}

func (c Config) MaxQueueSize() int {
	return c.maxQueueSize
}

func (c Config) Concurrency() int {
	return c.concurrency
}

func (c Config) BaseDelay() time.Duration {
	return c.baseDelay
}

func (c Config) Jitter() time.Duration {
	return c.jitter
}

func (c Config) RandomSeed() int64 {
	return c.randomSeed
}

func (c Config) RequestDelay() time.Duration {
	return c.requestDelay
}

func (c Config) MaxHostConcurrency() int {
	return c.maxHostConcurrency
}

func (c Config) Timeout() time.Duration {
	return c.timeout
}

func (c Config) UserAgent() string {
	return c.userAgent
}

func (c Config) FollowRedirects() bool {
	return c.followRedirects
}

func (c Config) RedirectLimit() int {
	return c.redirectLimit
}

func (c Config) FailureThreshold() int {
	return c.failureThreshold
}

func (c Config) RecoveryTimeout() time.Duration {
	return c.recoveryTimeout
}

func (c Config) MaxDocumentSize() int64 {
	return c.maxDocumentSize
}

func (c Config) DefaultEncoding() string {
	return c.defaultEncoding
}

func (c Config) OutputDir() string {
	return c.outputDir
}

func (c Config) DryRun() bool {
	return c.dryRun
}

func (c Config) MaxAttempt() int {
	return c.maxAttempt
}

func (c Config) BackoffInitialDuration() time.Duration {
	return c.backoffInitialDuration
}

func (c Config) BackoffMultiplier() float64 {
	return c.backoffMultiplier
}

func (c Config) BackoffMaxDuration() time.Duration {
	return c.backoffMaxDuration
}
