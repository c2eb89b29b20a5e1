package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"propingest/models"
)

type Config struct {
	DatabaseURL  string
	SQLitePath   string
	Proxy        ProxyConfig
	S3           S3Config
	HTTPAddr     string
	Scheduler    SchedulerConfig
	Jurisdiction Jurisdiction
	Sources      map[models.SourceID]*SourceConfig
}

type ProxyConfig struct {
	URL string
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type SchedulerConfig struct {
	Cron     string
	Interval time.Duration
}

// SourceConfig is loaded from config/sources/<id>.yaml, one file per source.
type SourceConfig struct {
	ID              models.SourceID
	Name            string
	Handler         string // browser or http
	Concurrency     int
	StartsPerMinute int
	HourlyCap       int
	MinRequestDelay time.Duration
	JobTimeout      time.Duration
	MaxAttempts     int
	RetryCooldown   time.Duration
	Endpoints       map[string]string
	DefaultCriteria *models.SearchCriteria
}

// UnmarshalYAML keeps duration fields human-readable ("2s", "5m") and only
// overwrites fields the YAML actually sets, so defaults survive sparse files.
func (c *SourceConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		ID              models.SourceID        `yaml:"id"`
		Name            string                 `yaml:"name"`
		Handler         string                 `yaml:"handler"`
		Concurrency     int                    `yaml:"concurrency"`
		StartsPerMinute int                    `yaml:"starts_per_minute"`
		HourlyCap       int                    `yaml:"hourly_cap"`
		MinRequestDelay string                 `yaml:"min_request_delay"`
		JobTimeout      string                 `yaml:"job_timeout"`
		MaxAttempts     int                    `yaml:"max_attempts"`
		RetryCooldown   string                 `yaml:"retry_cooldown"`
		Endpoints       map[string]string      `yaml:"endpoints"`
		DefaultCriteria *models.SearchCriteria `yaml:"default_criteria"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.ID != "" {
		c.ID = raw.ID
	}
	if raw.Name != "" {
		c.Name = raw.Name
	}
	if raw.Handler != "" {
		c.Handler = raw.Handler
	}
	if raw.Concurrency > 0 {
		c.Concurrency = raw.Concurrency
	}
	if raw.StartsPerMinute > 0 {
		c.StartsPerMinute = raw.StartsPerMinute
	}
	if raw.HourlyCap > 0 {
		c.HourlyCap = raw.HourlyCap
	}
	if raw.MaxAttempts > 0 {
		c.MaxAttempts = raw.MaxAttempts
	}
	if len(raw.Endpoints) > 0 {
		c.Endpoints = raw.Endpoints
	}
	if raw.DefaultCriteria != nil {
		c.DefaultCriteria = raw.DefaultCriteria
	}

	for _, f := range []struct {
		in  string
		out *time.Duration
	}{
		{raw.MinRequestDelay, &c.MinRequestDelay},
		{raw.JobTimeout, &c.JobTimeout},
		{raw.RetryCooldown, &c.RetryCooldown},
	} {
		if f.in == "" {
			continue
		}
		d, err := time.ParseDuration(f.in)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", f.in, err)
		}
		*f.out = d
	}

	return nil
}

// Jurisdiction is the allow-list a scraped record must fall within. A record
// is in-jurisdiction when its state matches and its city or zip is listed.
type Jurisdiction struct {
	State  string   `yaml:"state"`
	Cities []string `yaml:"cities"`
	Zips   []string `yaml:"zips"`
}

// Contains reports whether the given city/zip pair is inside the allow-list.
func (j *Jurisdiction) Contains(city, zip string) bool {
	for _, z := range j.Zips {
		if z == zip {
			return true
		}
	}
	city = strings.ToLower(strings.TrimSpace(city))
	for _, c := range j.Cities {
		if strings.ToLower(c) == city {
			return true
		}
	}
	return false
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  getEnv("SQLITE_PATH", "pipeline.db"),
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-west-2"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("SCRAPE_CRON"),
		},
		Jurisdiction: DefaultJurisdiction(),
		Sources:      make(map[models.SourceID]*SourceConfig),
	}

	if interval := os.Getenv("SCRAPE_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.Scheduler.Interval = d
		}
	}

	if err := cfg.loadSourceConfigs(); err != nil {
		return nil, err
	}

	// A deployment with no YAML still runs with both built-in sources.
	if len(cfg.Sources) == 0 {
		for _, id := range models.KnownSources {
			cfg.Sources[id] = DefaultSourceConfig(id)
		}
	}

	return cfg, nil
}

func (c *Config) loadSourceConfigs() error {
	configDir := getEnv("SOURCES_DIR", "config/sources")
	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(configDir, entry.Name()))
		if err != nil {
			return err
		}

		src := DefaultSourceConfig("")
		if err := yaml.Unmarshal(data, src); err != nil {
			return err
		}
		if src.ID == "" {
			continue
		}
		c.Sources[src.ID] = src
	}

	// Optional jurisdiction override beside the sources dir
	if data, err := os.ReadFile(filepath.Join(configDir, "..", "jurisdiction.yaml")); err == nil {
		var j Jurisdiction
		if err := yaml.Unmarshal(data, &j); err == nil && j.State != "" {
			c.Jurisdiction = j
		}
	}

	return nil
}

// DefaultSourceConfig holds the pacing defaults a source runs with when its
// YAML leaves a field unset.
func DefaultSourceConfig(id models.SourceID) *SourceConfig {
	return &SourceConfig{
		ID:              id,
		Handler:         "http",
		Concurrency:     2,
		StartsPerMinute: 10,
		HourlyCap:       100,
		MinRequestDelay: 2 * time.Second,
		JobTimeout:      5 * time.Minute,
		MaxAttempts:     3,
		RetryCooldown:   30 * time.Second,
		Endpoints:       map[string]string{},
	}
}

// DefaultJurisdiction is the Phoenix metro allow-list.
func DefaultJurisdiction() Jurisdiction {
	return Jurisdiction{
		State: "AZ",
		Cities: []string{
			"Phoenix", "Scottsdale", "Tempe", "Mesa", "Chandler", "Gilbert",
			"Glendale", "Peoria", "Surprise", "Avondale", "Goodyear",
			"Fountain Hills", "Cave Creek", "Queen Creek", "Paradise Valley",
		},
		Zips: []string{
			"85003", "85004", "85006", "85008", "85012", "85014", "85016",
			"85018", "85020", "85022", "85028", "85032", "85044", "85048",
			"85050", "85054", "85083", "85085", "85086", "85087", "85251",
			"85254", "85255", "85258", "85260", "85262", "85268", "85281",
			"85282", "85283", "85284", "85286", "85295", "85296", "85297",
			"85298", "85301", "85302", "85308", "85310", "85331", "85338",
			"85340", "85345", "85374", "85375", "85379", "85383", "85388",
		},
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
