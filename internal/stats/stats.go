// Package stats implements the Stats Exporter: a fixed-header CSV written
// to disk every tick (flushed every 10 rows) plus an optional colorized
// one-shot stdout summary.
package stats

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

const csvHeader = "timestamp_ms,gaming_tasks,latency_avg_us,latency_max_us,jitter_us,late_pct,preemptions,cluster0_tasks,cluster1_tasks"

// Row is one tick's worth of exported statistics.
type Row struct {
	TimestampMs   uint64
	GamingTasks   uint64
	LatencyAvgUs  float64
	LatencyMaxUs  float64
	JitterUs      float64
	LatePct       float64
	Preemptions   uint64
	Cluster0Tasks uint64
	Cluster1Tasks uint64
}

// Exporter owns the buffered CSV writer, flushing every flushInterval rows
// to bound the amount of unwritten data lost to a crash.
type Exporter struct {
	log            logrus.FieldLogger
	file           *os.File
	w              *bufio.Writer
	rowsSinceFlush int
	flushInterval  int

	styleLabel lipgloss.Style
	styleValue lipgloss.Style
	colorize   bool
}

// New opens (creating parent directories as needed) the CSV file at path,
// writing the fixed header only if the file is new.
func New(log logrus.FieldLogger, path string) (*Exporter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create stats directory: %w", err)
	}
	isNew := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		isNew = true
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open stats csv %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	if isNew {
		if _, err := w.WriteString(csvHeader + "\n"); err != nil {
			return nil, fmt.Errorf("write stats csv header: %w", err)
		}
		if err := w.Flush(); err != nil {
			return nil, fmt.Errorf("flush stats csv header: %w", err)
		}
	}
	colorize := isatty.IsTerminal(os.Stdout.Fd())
	return &Exporter{
		log:           log.WithField("component", "stats"),
		file:          f,
		w:             w,
		flushInterval: 10,
		styleLabel:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		styleValue:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		colorize:      colorize,
	}, nil
}

// Close flushes any buffered rows and closes the file.
func (e *Exporter) Close() error {
	if err := e.w.Flush(); err != nil {
		return err
	}
	return e.file.Close()
}

// Write appends row to the CSV, flushing every flushInterval rows.
func (e *Exporter) Write(row Row) error {
	line := fmt.Sprintf("%d,%d,%.2f,%.2f,%.2f,%.2f,%d,%d,%d\n",
		row.TimestampMs, row.GamingTasks, row.LatencyAvgUs, row.LatencyMaxUs,
		row.JitterUs, row.LatePct, row.Preemptions, row.Cluster0Tasks, row.Cluster1Tasks)
	if _, err := e.w.WriteString(line); err != nil {
		return fmt.Errorf("write stats row: %w", err)
	}
	e.rowsSinceFlush++
	if e.rowsSinceFlush >= e.flushInterval {
		if err := e.w.Flush(); err != nil {
			return fmt.Errorf("flush stats csv: %w", err)
		}
		e.rowsSinceFlush = 0
	}
	return nil
}

// PrintSummary renders a one-shot, optionally colorized human summary of
// row to stdout. The daemon's slow tick does not call it.
func (e *Exporter) PrintSummary(row Row) {
	label := func(s string) string {
		if e.colorize {
			return e.styleLabel.Render(s)
		}
		return s
	}
	value := func(s string) string {
		if e.colorize {
			return e.styleValue.Render(s)
		}
		return s
	}
	fmt.Printf("%s %s  %s %s  %s %s\n",
		label("gaming:"), value(fmt.Sprintf("%d", row.GamingTasks)),
		label("latency avg:"), value(fmt.Sprintf("%.1fus", row.LatencyAvgUs)),
		label("late%:"), value(fmt.Sprintf("%.1f", row.LatePct)),
	)
}
