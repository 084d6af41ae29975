// Package render writes the static dashboard page from stored metrics and
// stories.
package render

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"bloomberg-lite/config"
	"bloomberg-lite/model"
	"bloomberg-lite/storage"
)

//go:embed templates/*.html.tmpl
var templates embed.FS

var pageTmpl = template.Must(template.ParseFS(templates, "templates/dashboard.html.tmpl"))

// IndexFile is the name of the generated page inside the output directory.
const IndexFile = "index.html"

// Reader is the read side of the store used by the dashboard.
type Reader interface {
	MetricMetas(ctx context.Context) ([]model.MetricMeta, error)
	LatestObservations(ctx context.Context, metricID string, n int) ([]model.Observation, error)
	StoriesByFeed(ctx context.Context, feedID, sortBy string, limit int) ([]model.Story, error)
}

// Config holds generator settings.
type Config struct {
	OutputDir       string
	SparklinePoints int
	Title           string
}

// Page is the template data for the dashboard.
type Page struct {
	Title       string
	GeneratedAt string
	Groups      []GroupView
	Primary     *FeedView
	Sidebar     []FeedView
	Other       []FeedView
}

// GroupView is a titled block of metrics.
type GroupView struct {
	Name    string
	Icon    string
	Metrics []MetricView
}

// MetricView is one metric row, pre-formatted.
type MetricView struct {
	ID          string
	Name        string
	Value       string
	Change      string
	ChangePct   string
	Arrow       string
	Class       string
	Sparkline   string
	Updated     string
	Placeholder bool
}

// FeedView is one feed column.
type FeedView struct {
	ID      string
	Name    string
	Icon    string
	Stories []StoryView
}

// StoryView is one story line, pre-formatted.
type StoryView struct {
	Title      string
	URL        string
	HNURL      string
	Domain     string
	Score      int
	Comments   int
	Author     string
	Heat       string
	Ago        string
	AgoLong    string
	TimeSymbol string
	Excerpt    string
}

// Generator renders the dashboard.
type Generator struct {
	catalog config.Catalog
	reader  Reader
	config  Config
	now     func() time.Time
}

// NewGenerator creates a Generator.
func NewGenerator(catalog config.Catalog, reader Reader, cfg Config) *Generator {
	if cfg.SparklinePoints < 2 {
		cfg.SparklinePoints = 12
	}
	if cfg.Title == "" {
		cfg.Title = "Bloomberg-Lite"
	}
	return &Generator{catalog: catalog, reader: reader, config: cfg, now: time.Now}
}

// Generate builds the page and writes it to OutputDir/index.html. The file
// is replaced atomically so a server never sees a partial page.
func (g *Generator) Generate(ctx context.Context) error {
	page, err := g.Build(ctx)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := pageTmpl.Execute(&buf, page); err != nil {
		return fmt.Errorf("render: execute template: %w", err)
	}

	if err := os.MkdirAll(g.config.OutputDir, 0o755); err != nil {
		return fmt.Errorf("render: create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(g.config.OutputDir, ".index-*.html")
	if err != nil {
		return fmt.Errorf("render: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("render: write page: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("render: write page: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("render: chmod page: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(g.config.OutputDir, IndexFile)); err != nil {
		return fmt.Errorf("render: replace page: %w", err)
	}
	return nil
}

// Build assembles the template data. Metrics without stored data render
// as placeholders.
func (g *Generator) Build(ctx context.Context) (Page, error) {
	now := g.now().UTC()
	page := Page{
		Title:       g.config.Title,
		GeneratedAt: now.Format("2006-01-02 15:04 UTC"),
	}

	metas, err := g.reader.MetricMetas(ctx)
	if err != nil {
		return Page{}, fmt.Errorf("render: load metric metas: %w", err)
	}
	byID := make(map[string]model.MetricMeta, len(metas))
	for _, m := range metas {
		byID[m.ID] = m
	}

	for _, grp := range g.groups() {
		gv := GroupView{Name: grp.Name, Icon: SectionIcon(grp.Name)}
		for _, id := range grp.Metrics {
			mv, err := g.metricView(ctx, id, byID)
			if err != nil {
				return Page{}, err
			}
			gv.Metrics = append(gv.Metrics, mv)
		}
		page.Groups = append(page.Groups, gv)
	}

	for _, f := range g.catalog.Feeds {
		fv, err := g.feedView(ctx, f, now)
		if err != nil {
			return Page{}, err
		}
		switch {
		case f.ID == g.catalog.Display.PrimaryFeed && page.Primary == nil:
			page.Primary = &fv
		case slices.Contains(g.catalog.Display.SidebarFeeds, f.ID):
			page.Sidebar = append(page.Sidebar, fv)
		default:
			page.Other = append(page.Other, fv)
		}
	}
	return page, nil
}

// groups returns the configured groups, or a single group holding every
// metric when none are configured.
func (g *Generator) groups() []config.Group {
	if len(g.catalog.Groups) > 0 {
		return g.catalog.Groups
	}
	all := config.Group{Name: "Metrics"}
	for _, m := range g.catalog.Metrics {
		all.Metrics = append(all.Metrics, m.ID)
	}
	if len(all.Metrics) == 0 {
		return nil
	}
	return []config.Group{all}
}

func (g *Generator) metricView(ctx context.Context, id string, metas map[string]model.MetricMeta) (MetricView, error) {
	name := id
	for _, m := range g.catalog.Metrics {
		if m.ID == id && m.Name != "" {
			name = m.Name
			break
		}
	}

	meta, ok := metas[id]
	if !ok || meta.LastValue == nil {
		return MetricView{ID: id, Name: name, Value: Placeholder, Placeholder: true}, nil
	}

	obs, err := g.reader.LatestObservations(ctx, id, g.config.SparklinePoints)
	if err != nil {
		return MetricView{}, fmt.Errorf("render: load observations %s: %w", id, err)
	}
	values := make([]float64, len(obs))
	for i, o := range obs {
		// Newest first from the store; the sparkline reads left to right.
		values[len(obs)-1-i] = o.Value
	}

	if meta.Name != "" {
		name = meta.Name
	}
	return MetricView{
		ID:        id,
		Name:      name,
		Value:     FormatValue(meta.LastValue, meta.Unit, meta.Decimals),
		Change:    FormatChange(meta.Change, meta.Unit),
		ChangePct: FormatPercent(meta.ChangePercent),
		Arrow:     Direction(meta.Change),
		Class:     ChangeClass(meta.Change),
		Sparkline: Sparkline(values),
		Updated:   meta.LastUpdated.Format(model.DateLayout),
	}, nil
}

func (g *Generator) feedView(ctx context.Context, f config.Feed, now time.Time) (FeedView, error) {
	sortBy := storage.SortScore
	if f.SortBy == config.SortDate {
		sortBy = storage.SortDate
	}
	stories, err := g.reader.StoriesByFeed(ctx, f.ID, sortBy, f.Limit)
	if err != nil {
		return FeedView{}, fmt.Errorf("render: load stories %s: %w", f.ID, err)
	}

	name := f.Name
	if name == "" {
		name = f.ID
	}
	fv := FeedView{ID: f.ID, Name: name, Icon: SectionIcon(name)}
	for _, s := range stories {
		ago := TimeAgo(s.PostedAt, now)
		fv.Stories = append(fv.Stories, StoryView{
			Title:      s.Title,
			URL:        storyURL(s),
			HNURL:      hnURL(s.ID),
			Domain:     Domain(s.URL),
			Score:      s.Score,
			Comments:   s.Comments,
			Author:     s.Author,
			Heat:       HeatSymbol(s.Score),
			Ago:        ago,
			AgoLong:    TimeAgoLong(s.PostedAt, now),
			TimeSymbol: TimeSymbol(ago),
			Excerpt:    s.Excerpt,
		})
	}
	return fv, nil
}

func hnURL(id int64) string {
	return "https://news.ycombinator.com/item?id=" + strconv.FormatInt(id, 10)
}

// storyURL links self posts to their discussion page.
func storyURL(s model.Story) string {
	if s.URL != "" {
		return s.URL
	}
	return hnURL(s.ID)
}
