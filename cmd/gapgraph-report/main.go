// Command gapgraph-report renders an HTML report summarizing one
// findtags output database: per-antenna-hour pulse rate as a time
// series and a run-length histogram, using go-echarts. Grounded on
// internal/lidar/monitor/echarts_handlers.go's charts/components/opts
// wiring, rendered to a file instead of served live since this tool
// runs after a batch completes rather than alongside one.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	_ "modernc.org/sqlite"

	"github.com/vhftag/tagfinder/internal/security"
)

var (
	dbPath = flag.String("db", "findtags.db", "path to a findtags output sqlite database")
	out    = flag.String("out", "gapgraph-report.html", "path to write the HTML report")
)

func main() {
	flag.Parse()
	logger := log.New(os.Stderr, "gapgraph-report: ", log.LstdFlags)

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		logger.Fatalf("open %s: %v", *dbPath, err)
	}
	defer db.Close()

	pulseSeries, err := pulseRateSeries(db)
	if err != nil {
		logger.Fatalf("pulse rate series: %v", err)
	}
	runHist, err := runLengthHistogram(db)
	if err != nil {
		logger.Fatalf("run-length histogram: %v", err)
	}

	page := components.NewPage()
	page.AddCharts(pulseRateChart(pulseSeries), runLengthChart(runHist))

	if err := security.ValidateExportPath(*out); err != nil {
		logger.Fatalf("validate -out path: %v", err)
	}

	f, err := os.Create(*out)
	if err != nil {
		logger.Fatalf("create %s: %v", *out, err)
	}
	defer f.Close()

	if err := page.Render(f); err != nil {
		logger.Fatalf("render report: %v", err)
	}
	logger.Printf("wrote %s", *out)
}

type hourCount struct {
	hour  int64
	count int64
}

func pulseRateSeries(db *sql.DB) ([]hourCount, error) {
	rows, err := db.Query(`SELECT hour, SUM(count) FROM pulseCounts GROUP BY hour ORDER BY hour`)
	if err != nil {
		return nil, fmt.Errorf("query pulseCounts: %w", err)
	}
	defer rows.Close()

	var out []hourCount
	for rows.Next() {
		var hc hourCount
		if err := rows.Scan(&hc.hour, &hc.count); err != nil {
			return nil, fmt.Errorf("scan pulseCounts row: %w", err)
		}
		out = append(out, hc)
	}
	return out, rows.Err()
}

func runLengthHistogram(db *sql.DB) (map[int]int, error) {
	rows, err := db.Query(`SELECT length FROM runs`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	hist := make(map[int]int)
	for rows.Next() {
		var length int
		if err := rows.Scan(&length); err != nil {
			return nil, fmt.Errorf("scan runs row: %w", err)
		}
		hist[length]++
	}
	return hist, rows.Err()
}

func pulseRateChart(series []hourCount) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Pulses per antenna-hour"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "hour"}),
	)

	hours := make([]string, len(series))
	counts := make([]opts.LineData, len(series))
	for i, hc := range series {
		hours[i] = fmt.Sprintf("%d", hc.hour)
		counts[i] = opts.LineData{Value: hc.count}
	}

	line.SetXAxis(hours).AddSeries("pulses", counts)
	return line
}

func runLengthChart(hist map[int]int) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Run length histogram"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "bursts in run"}),
	)

	lengths := make([]int, 0, len(hist))
	for l := range hist {
		lengths = append(lengths, l)
	}
	sort.Ints(lengths)

	labels := make([]string, len(lengths))
	counts := make([]opts.BarData, len(lengths))
	for i, l := range lengths {
		labels[i] = fmt.Sprintf("%d", l)
		counts[i] = opts.BarData{Value: hist[l]}
	}

	bar.SetXAxis(labels).AddSeries("runs", counts)
	return bar
}
