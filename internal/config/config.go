// Package config resolves run settings from flags, SCOUT_* environment
// variables, an optional config file and defaults, in that order.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/FranksOps/scout/internal/dork"
	"github.com/FranksOps/scout/internal/fingerprint"
	"github.com/FranksOps/scout/internal/logging"
	"github.com/FranksOps/scout/internal/report"
	"github.com/FranksOps/scout/internal/serp"
	"github.com/FranksOps/scout/internal/storage/textsink"
	"github.com/FranksOps/scout/pkg/ratelimit"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces environment variables, e.g. SCOUT_DOMAIN.
const EnvPrefix = "SCOUT"

// MaxPerQuery is the deepest a query can page: Custom Search rejects
// start+num beyond 100.
const MaxPerQuery = 100

// ErrMissingSuffix is returned when no domain suffix was given.
var ErrMissingSuffix = errors.New("config: domain suffix is required")

// LogConfig selects the logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Config is the resolved settings of one invocation.
type Config struct {
	Domain   string  `mapstructure:"domain"`
	CMS      string  `mapstructure:"cms"`
	Limit    int     `mapstructure:"limit"`
	PerQuery int     `mapstructure:"per_query"`
	Delay    float64 `mapstructure:"delay"`

	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
	FailoverBackoff time.Duration `mapstructure:"failover_backoff"`

	Proxy     string `mapstructure:"proxy"`
	ProxyFile string `mapstructure:"proxy_file"`

	Credentials      []serp.Credential `mapstructure:"-"`
	CredentialsFile  string            `mapstructure:"credentials_file"`
	ProviderEndpoint string            `mapstructure:"provider_endpoint"`
	ProviderRPS      float64           `mapstructure:"provider_rps"`

	Fallback     bool   `mapstructure:"fallback"`
	FallbackHost string `mapstructure:"fallback_host"`

	Mode          string `mapstructure:"mode"`
	Output        string `mapstructure:"output"`
	Ledger        string `mapstructure:"ledger"`
	Store         string `mapstructure:"store"`
	Fingerprint   string `mapstructure:"fingerprint"`
	RespectRobots bool   `mapstructure:"respect_robots"`
	Insecure      bool   `mapstructure:"insecure"`

	Log         LogConfig `mapstructure:"log"`
	MetricsPort int       `mapstructure:"metrics_port"`
	Report      string    `mapstructure:"report"`
}

// Defaults returns the settings used when nothing overrides them.
func Defaults() Config {
	return Config{
		CMS:             "wordpress",
		Limit:           30,
		PerQuery:        10,
		Delay:           1.0,
		FetchTimeout:    8 * time.Second,
		ProviderTimeout: serp.DefaultProviderTimeout,
		FailoverBackoff: serp.DefaultFailoverBackoff,
		Fallback:        true,
		FallbackHost:    serp.DefaultFallbackHost,
		Mode:            string(textsink.ModeContent),
		Output:          "wp_sites_text.txt",
		Ledger:          "seen_domains.txt",
		Fingerprint:     string(fingerprint.ProfileChrome),
		Log:             LogConfig{Level: "info", Format: "text"},
		Report:          string(report.FormatText),
	}
}

// binding ties a config key to its flag.
type binding struct {
	key, flag string
}

var bindings = []binding{
	{"domain", "domain"},
	{"cms", "cms"},
	{"limit", "limit"},
	{"per_query", "per-query"},
	{"delay", "delay"},
	{"fetch_timeout", "fetch-timeout"},
	{"provider_timeout", "provider-timeout"},
	{"failover_backoff", "failover-backoff"},
	{"proxy", "proxy"},
	{"proxy_file", "proxy-file"},
	{"credentials", "credential"},
	{"credentials_file", "credentials-file"},
	{"provider_endpoint", "provider-endpoint"},
	{"provider_rps", "provider-rps"},
	{"fallback", "fallback"},
	{"fallback_host", "fallback-host"},
	{"mode", "mode"},
	{"output", "output"},
	{"ledger", "ledger"},
	{"store", "store"},
	{"fingerprint", "fingerprint"},
	{"respect_robots", "respect-robots"},
	{"insecure", "insecure"},
	{"log.level", "log-level"},
	{"log.format", "log-format"},
	{"log.file", "log-file"},
	{"metrics_port", "metrics-port"},
	{"report", "report"},
}

// RegisterFlags adds the run flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.StringP("domain", "d", "", "domain suffix to search, e.g. or.id")
	fs.String("cms", d.CMS, "dork profile: "+strings.Join(dork.Profiles(), ", "))
	fs.IntP("limit", "n", d.Limit, "maximum new sites per run (0 = unlimited)")
	fs.Int("per-query", d.PerQuery, "maximum results per query")
	fs.Float64("delay", d.Delay, "seconds to pause between requests")
	fs.Duration("fetch-timeout", d.FetchTimeout, "timeout for fetching one site")
	fs.Duration("provider-timeout", d.ProviderTimeout, "timeout for one search API request")
	fs.Duration("failover-backoff", d.FailoverBackoff, "pause before switching to the next credential")
	fs.String("proxy", "", "proxy URI for outbound requests")
	fs.String("proxy-file", "", "file with one proxy URI per line")
	fs.StringSlice("credential", nil, "search API credential as key:cx (repeatable, first is primary)")
	fs.String("credentials-file", "", "file with key:cx lines or a YAML credential list")
	fs.String("provider-endpoint", serp.DefaultEndpoint, "Custom Search API endpoint")
	fs.Float64("provider-rps", 0, "search API requests per second (0 = unlimited)")
	fs.Bool("fallback", d.Fallback, "scrape the public results page when the API finds nothing")
	fs.String("fallback-host", d.FallbackHost, "base URL of the scraped results page")
	fs.String("mode", d.Mode, "output mode: content or links")
	fs.StringP("output", "o", d.Output, "output text file")
	fs.String("ledger", d.Ledger, "seen-domain ledger: file path, sqlite:PATH or postgres:// DSN")
	fs.String("store", "", "optional record store: .csv, .json, sqlite:PATH or postgres:// DSN")
	fs.String("fingerprint", d.Fingerprint, "TLS fingerprint: chrome, firefox, safari, random or go")
	fs.Bool("respect-robots", false, "skip sites whose robots.txt disallows the fetch")
	fs.Bool("insecure", false, "skip TLS certificate verification when fetching sites")
	fs.String("log-level", d.Log.Level, "log level: debug, info, warn or error")
	fs.String("log-format", d.Log.Format, "log format: text or json")
	fs.String("log-file", "", "also write logs to this rotated file")
	fs.Int("metrics-port", 0, "serve Prometheus metrics on this port (0 = off)")
	fs.String("report", d.Report, "run summary format: text, json or none")
}

// Load resolves a Config. configFile may be empty, in which case scout.yaml
// is looked up in the working directory and silently skipped when absent.
// fs may be nil.
func Load(fs *pflag.FlagSet, configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if fs != nil {
		for _, b := range bindings {
			if f := fs.Lookup(b.flag); f != nil {
				if err := v.BindPFlag(b.key, f); err != nil {
					return nil, fmt.Errorf("config: bind %s: %w", b.flag, err)
				}
			}
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("scout")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config: read config: %w", err)
			}
		}
	}

	cfg := Defaults()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	creds, err := credentials(v)
	if err != nil {
		return nil, err
	}
	if cfg.CredentialsFile != "" {
		fromFile, err := LoadCredentialsFile(cfg.CredentialsFile)
		if err != nil {
			return nil, err
		}
		creds = appendUnique(creds, fromFile...)
	}
	cfg.Credentials = creds

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("domain", d.Domain)
	v.SetDefault("cms", d.CMS)
	v.SetDefault("limit", d.Limit)
	v.SetDefault("per_query", d.PerQuery)
	v.SetDefault("delay", d.Delay)
	v.SetDefault("fetch_timeout", d.FetchTimeout)
	v.SetDefault("provider_timeout", d.ProviderTimeout)
	v.SetDefault("failover_backoff", d.FailoverBackoff)
	v.SetDefault("proxy", "")
	v.SetDefault("proxy_file", "")
	v.SetDefault("credentials_file", "")
	v.SetDefault("provider_endpoint", serp.DefaultEndpoint)
	v.SetDefault("provider_rps", 0.0)
	v.SetDefault("fallback", d.Fallback)
	v.SetDefault("fallback_host", d.FallbackHost)
	v.SetDefault("mode", d.Mode)
	v.SetDefault("output", d.Output)
	v.SetDefault("ledger", d.Ledger)
	v.SetDefault("store", "")
	v.SetDefault("fingerprint", d.Fingerprint)
	v.SetDefault("respect_robots", false)
	v.SetDefault("insecure", false)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", "")
	v.SetDefault("metrics_port", 0)
	v.SetDefault("report", d.Report)
}

// credentials reads the "credentials" key, which is a key:cx list when it
// comes from a flag or SCOUT_CREDENTIALS and a list of maps in a config file.
func credentials(v *viper.Viper) ([]serp.Credential, error) {
	switch raw := v.Get("credentials").(type) {
	case nil:
		return nil, nil
	case string:
		return ParseCredentials(raw)
	case []string:
		return ParseCredentials(strings.Join(raw, ","))
	default:
		var creds []serp.Credential
		if err := v.UnmarshalKey("credentials", &creds); err != nil {
			return nil, fmt.Errorf("config: decode credentials: %w", err)
		}
		for i, c := range creds {
			if c.Key == "" || c.CX == "" {
				return nil, fmt.Errorf("config: credential %d: key and cx are required", i)
			}
		}
		return appendUnique(nil, creds...), nil
	}
}

// ParseCredentials reads comma or newline separated key:cx pairs. The cx
// may itself contain colons. Blank entries and # comments are skipped.
func ParseCredentials(s string) ([]serp.Credential, error) {
	var creds []serp.Credential
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' })
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" || strings.HasPrefix(f, "#") {
			continue
		}
		key, cx, ok := strings.Cut(f, ":")
		key, cx = strings.TrimSpace(key), strings.TrimSpace(cx)
		if !ok || key == "" || cx == "" {
			return nil, fmt.Errorf("config: credential %q: want key:cx", mask(f))
		}
		creds = appendUnique(creds, serp.Credential{Key: key, CX: cx})
	}
	return creds, nil
}

// LoadCredentialsFile reads credentials from path. Files ending in .yaml or
// .yml hold either a list of {key, cx} or a map with a credentials list;
// anything else is read as key:cx lines.
func LoadCredentialsFile(path string) ([]serp.Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: credentials file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return ParseCredentials(string(data))
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: credentials file %s: %w", path, err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}

	var creds []serp.Credential
	root := doc.Content[0]
	if root.Kind == yaml.MappingNode {
		var wrapped struct {
			Credentials []serp.Credential `yaml:"credentials"`
		}
		if err := root.Decode(&wrapped); err != nil {
			return nil, fmt.Errorf("config: credentials file %s: %w", path, err)
		}
		creds = wrapped.Credentials
	} else if err := root.Decode(&creds); err != nil {
		return nil, fmt.Errorf("config: credentials file %s: %w", path, err)
	}

	for i, c := range creds {
		if c.Key == "" || c.CX == "" {
			return nil, fmt.Errorf("config: credentials file %s: entry %d: key and cx are required", path, i)
		}
	}
	return appendUnique(nil, creds...), nil
}

func appendUnique(dst []serp.Credential, creds ...serp.Credential) []serp.Credential {
	for _, c := range creds {
		dup := false
		for _, d := range dst {
			if d == c {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, c)
		}
	}
	return dst
}

func mask(s string) string {
	if key, cx, ok := strings.Cut(s, ":"); ok {
		return serp.Credential{Key: key, CX: cx}.String()
	}
	return "****"
}

// Validate normalizes the domain suffix and checks every setting, reporting
// all problems at once.
func (c *Config) Validate() error {
	var errs []error

	suffix, err := dork.NormalizeSuffix(c.Domain)
	if err != nil {
		errs = append(errs, ErrMissingSuffix)
	} else {
		c.Domain = suffix
	}

	if _, err := dork.Lookup(c.CMS); err != nil {
		errs = append(errs, err)
	}
	if c.Limit < 0 {
		errs = append(errs, errors.New("config: limit must not be negative"))
	}
	if c.PerQuery <= 0 || c.PerQuery > MaxPerQuery {
		errs = append(errs, fmt.Errorf("config: per_query must be between 1 and %d", MaxPerQuery))
	}
	if c.Delay < 0 || math.IsNaN(c.Delay) || math.IsInf(c.Delay, 0) {
		errs = append(errs, errors.New("config: delay must be a finite non-negative number"))
	}
	if c.FetchTimeout <= 0 || c.ProviderTimeout <= 0 {
		errs = append(errs, errors.New("config: timeouts must be positive"))
	}
	if c.FailoverBackoff < 0 {
		errs = append(errs, errors.New("config: failover_backoff must not be negative"))
	}
	if c.ProviderRPS < 0 || math.IsNaN(c.ProviderRPS) || math.IsInf(c.ProviderRPS, 0) {
		errs = append(errs, errors.New("config: provider_rps must be a finite non-negative number"))
	}
	if len(c.Credentials) == 0 && !c.Fallback {
		errs = append(errs, errors.New("config: no credentials and fallback disabled"))
	}
	if _, err := textsink.ParseMode(c.Mode); err != nil {
		errs = append(errs, err)
	}
	if c.Output == "" {
		errs = append(errs, errors.New("config: output is required"))
	}
	if c.Ledger == "" {
		errs = append(errs, errors.New("config: ledger is required"))
	}
	if _, err := fingerprint.ParseProfile(c.Fingerprint); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if !logging.ValidFormat(c.Log.Format) {
		errs = append(errs, fmt.Errorf("config: unknown log format %q", c.Log.Format))
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("config: metrics_port %d out of range", c.MetricsPort))
	}
	if _, err := report.ParseFormat(c.Report); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// DelayDuration returns Delay as a Duration.
func (c *Config) DelayDuration() time.Duration {
	return ratelimit.Seconds(c.Delay)
}
