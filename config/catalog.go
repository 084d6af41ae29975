package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"bloomberg-lite/transform"
)

// Metric describes one configured time series. Provider specific fields are
// only read by the connector matching Source.
type Metric struct {
	ID         string  `yaml:"id"`
	Name       string  `yaml:"name"`
	Source     string  `yaml:"source"`
	Frequency  string  `yaml:"frequency"`
	Unit       string  `yaml:"unit"`
	Decimals   int     `yaml:"decimals"`
	Multiplier float64 `yaml:"multiplier"`
	Transform  string  `yaml:"transform"`

	// Provider identifiers.
	SeriesID  string `yaml:"series_id"`  // fred
	Dataflow  string `yaml:"dataflow"`   // ecb
	SeriesKey string `yaml:"series_key"` // ecb
	Indicator string `yaml:"indicator"`  // worldbank
	Country   string `yaml:"country"`    // worldbank

	// LookbackYears bounds the requested history.
	LookbackYears int `yaml:"lookback_years"`
}

// UnmarshalYAML fills defaults for fields missing from the document.
func (m *Metric) UnmarshalYAML(value *yaml.Node) error {
	type plain Metric
	p := plain{Frequency: "monthly", Decimals: 2, Multiplier: 1, LookbackYears: 5}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*m = Metric(p)
	return nil
}

// TransformKind returns the parsed transform.
func (m Metric) TransformKind() transform.Kind {
	k, _ := transform.ParseKind(m.Transform)
	return k
}

// Group is a named dashboard section listing metric ids.
type Group struct {
	Name    string   `yaml:"name"`
	Metrics []string `yaml:"metrics"`
}

// Feed describes one configured story feed.
type Feed struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Source string `yaml:"source"`
	Limit  int    `yaml:"limit"`

	Endpoint  string `yaml:"endpoint"`   // hn_firebase: topstories, beststories, newstories
	Query     string `yaml:"query"`      // hn_algolia
	Tags      string `yaml:"tags"`       // hn_algolia
	TimeRange string `yaml:"time_range"` // hn_algolia: day, week, month, year
	MinScore  int    `yaml:"min_score"`  // hn_algolia
	SortBy    string `yaml:"sort_by"`    // popularity or date
}

// UnmarshalYAML fills defaults for fields missing from the document.
func (f *Feed) UnmarshalYAML(value *yaml.Node) error {
	type plain Feed
	p := plain{Limit: 20, SortBy: SortPopularity}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*f = Feed(p)
	return nil
}

// Feed sort modes.
const (
	SortPopularity = "popularity"
	SortDate       = "date"
)

// Display selects how feeds are laid out on the dashboard.
type Display struct {
	PrimaryFeed  string   `yaml:"primary_feed"`
	SidebarFeeds []string `yaml:"sidebar_feeds"`
}

// Catalog is the union of metrics.yaml and feeds.yaml.
type Catalog struct {
	Metrics []Metric `yaml:"metrics"`
	Groups  []Group  `yaml:"groups"`
	Feeds   []Feed   `yaml:"feeds"`
	Display Display  `yaml:"display"`
}

var validFrequencies = map[string]bool{
	"daily":     true,
	"weekly":    true,
	"monthly":   true,
	"quarterly": true,
	"annual":    true,
}

// LoadCatalog reads the metric and feed definitions.
func LoadCatalog(metricsPath, feedsPath string) (Catalog, error) {
	var metrics struct {
		Metrics []Metric `yaml:"metrics"`
		Groups  []Group  `yaml:"groups"`
	}
	if err := readYAML(metricsPath, &metrics); err != nil {
		return Catalog{}, err
	}

	var feeds struct {
		Feeds   []Feed  `yaml:"feeds"`
		Display Display `yaml:"display"`
	}
	if err := readYAML(feedsPath, &feeds); err != nil {
		return Catalog{}, err
	}

	cat := Catalog{
		Metrics: metrics.Metrics,
		Groups:  metrics.Groups,
		Feeds:   feeds.Feeds,
		Display: feeds.Display,
	}
	if err := cat.Validate(); err != nil {
		return Catalog{}, err
	}
	return cat, nil
}

func readYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading catalog file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing catalog file %s: %w", path, err)
	}
	return nil
}

// Validate checks ids, names and enumerations. Unknown source tags are
// accepted here; the orchestrator reports them per metric or feed.
func (c *Catalog) Validate() error {
	seen := make(map[string]bool, len(c.Metrics))
	for i := range c.Metrics {
		m := &c.Metrics[i]
		if m.ID == "" {
			return fmt.Errorf("metric #%d: id is required", i+1)
		}
		if seen[m.ID] {
			return fmt.Errorf("metric %s: duplicate id", m.ID)
		}
		seen[m.ID] = true
		if m.Name == "" {
			m.Name = m.ID
		}
		if m.Source == "" {
			return fmt.Errorf("metric %s: source is required", m.ID)
		}
		if !validFrequencies[m.Frequency] {
			return fmt.Errorf("metric %s: invalid frequency %q", m.ID, m.Frequency)
		}
		if _, err := transform.ParseKind(m.Transform); err != nil {
			return fmt.Errorf("metric %s: %w", m.ID, err)
		}
		if m.Decimals < 0 {
			return fmt.Errorf("metric %s: decimals must not be negative", m.ID)
		}
		if !(m.Multiplier > 0) || math.IsInf(m.Multiplier, 0) {
			return fmt.Errorf("metric %s: multiplier must be a positive number, got %v", m.ID, m.Multiplier)
		}
	}

	seen = make(map[string]bool, len(c.Feeds))
	for i := range c.Feeds {
		f := &c.Feeds[i]
		if f.ID == "" {
			return fmt.Errorf("feed #%d: id is required", i+1)
		}
		if seen[f.ID] {
			return fmt.Errorf("feed %s: duplicate id", f.ID)
		}
		seen[f.ID] = true
		if f.Name == "" {
			f.Name = f.ID
		}
		if f.Source == "" {
			return fmt.Errorf("feed %s: source is required", f.ID)
		}
		if f.Limit <= 0 {
			return fmt.Errorf("feed %s: limit must be positive", f.ID)
		}
		if f.SortBy != SortPopularity && f.SortBy != SortDate {
			return fmt.Errorf("feed %s: invalid sort_by %q", f.ID, f.SortBy)
		}
	}

	if c.Display.PrimaryFeed == "" && len(c.Feeds) > 0 {
		c.Display.PrimaryFeed = c.Feeds[0].ID
	}
	if c.Display.PrimaryFeed != "" {
		if _, ok := c.Feed(c.Display.PrimaryFeed); !ok {
			return fmt.Errorf("display: unknown primary_feed %q", c.Display.PrimaryFeed)
		}
	}
	for _, id := range c.Display.SidebarFeeds {
		if _, ok := c.Feed(id); !ok {
			return fmt.Errorf("display: unknown sidebar feed %q", id)
		}
	}
	return nil
}

// Feed returns the feed with the given id.
func (c *Catalog) Feed(id string) (Feed, bool) {
	for _, f := range c.Feeds {
		if f.ID == id {
			return f, true
		}
	}
	return Feed{}, false
}
