// Command match-report renders an HTML report of map-matching quality for
// a track: per-point snap confidence as a line chart and the raw vs
// snapped positions as a scatter overlay. Debugging tool for tuning the
// matcher against a reference database.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/geotruth/engine/internal/match"
	"github.com/geotruth/engine/internal/spatial/sqlitestore"
	"github.com/geotruth/engine/internal/track"
)

func main() {
	var dbPath string
	var trackPath string
	var outPath string
	var sigma float64

	flag.StringVar(&dbPath, "db", "reference.db", "path to reference sqlite db")
	flag.StringVar(&trackPath, "track", "", "path to track JSON file (array of points)")
	flag.StringVar(&outPath, "out", "match-report.html", "output HTML file")
	flag.Float64Var(&sigma, "sigma", 0, "GPS noise sigma in meters (0 = default)")
	flag.Parse()

	if trackPath == "" {
		log.Fatalf("track file must be provided")
	}
	data, err := os.ReadFile(trackPath)
	if err != nil {
		log.Fatalf("read track: %v", err)
	}
	var points []track.Point
	if err := json.Unmarshal(data, &points); err != nil {
		log.Fatalf("parse track: %v", err)
	}
	if len(points) == 0 {
		log.Fatalf("track is empty")
	}

	store, err := sqlitestore.Open(dbPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	cfg := match.DefaultConfig()
	if sigma > 0 {
		cfg.SigmaM = sigma
	}
	matcher, err := match.New(cfg, store)
	if err != nil {
		log.Fatalf("build matcher: %v", err)
	}

	norm := track.NewNormalizer(track.NormalizerConfig{})
	segments, err := norm.Normalize(points)
	if err != nil {
		log.Fatalf("normalize track: %v", err)
	}

	var matched []match.Matched
	for _, seg := range segments {
		ms, err := matcher.MatchSegment(context.Background(), seg)
		if err != nil {
			log.Fatalf("match segment: %v", err)
		}
		matched = append(matched, ms...)
	}

	page := components.NewPage()
	page.AddCharts(confidenceChart(matched), positionChart(matched))

	f, err := os.Create(outPath)
	if err != nil {
		log.Fatalf("create output: %v", err)
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		log.Fatalf("render report: %v", err)
	}
	fmt.Printf("wrote %s (%d points, %d unmatched)\n", outPath, len(matched), countUnmatched(matched))
}

func countUnmatched(matched []match.Matched) int {
	n := 0
	for _, m := range matched {
		if m.Unmatched {
			n++
		}
	}
	return n
}

// confidenceChart plots snap confidence per point index, annotated with
// the road the point snapped to.
func confidenceChart(matched []match.Matched) *charts.Line {
	xs := make([]string, len(matched))
	ys := make([]opts.LineData, len(matched))
	for i, m := range matched {
		label := m.RoadName
		if m.Unmatched {
			label = "(unmatched)"
		}
		xs[i] = fmt.Sprintf("%d %s", i, label)
		ys[i] = opts.LineData{Value: m.Confidence}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Match Report", Theme: "dark", Width: "1200px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "Snap confidence", Subtitle: fmt.Sprintf("%d points", len(matched))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1, Name: "confidence"}),
	)
	line.SetXAxis(xs)
	line.AddSeries("confidence", ys)
	return line
}

// positionChart overlays raw GPS positions and their snapped locations.
func positionChart(matched []match.Matched) *charts.Scatter {
	raw := make([]opts.ScatterData, 0, len(matched))
	snapped := make([]opts.ScatterData, 0, len(matched))
	for _, m := range matched {
		raw = append(raw, opts.ScatterData{Value: []interface{}{m.Source.Lon, m.Source.Lat}})
		if !m.Unmatched {
			snapped = append(snapped, opts.ScatterData{Value: []interface{}{m.Snapped.Lon, m.Snapped.Lat}})
		}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Raw vs snapped positions"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "lon", Scale: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "lat", Scale: opts.Bool(true)}),
	)
	scatter.AddSeries("raw", raw, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
	scatter.AddSeries("snapped", snapped, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
	return scatter
}
