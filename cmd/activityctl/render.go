package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"club-manager/backend/internal/session/domain"
	"club-manager/backend/internal/session/stats"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

type statsOutput struct {
	Days    int           `json:"days" yaml:"days"`
	Summary stats.Summary `json:"summary" yaml:"summary"`
}

func validFormat(format string) bool {
	switch format {
	case "table", "json", "yaml":
		return true
	}
	return false
}

func renderSummary(w io.Writer, format string, days int, s stats.Summary) error {
	out := statsOutput{Days: days, Summary: s}
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return err
		}
		return enc.Close()
	case "table":
		return renderTable(w, days, s)
	default:
		return fmt.Errorf("unknown format %q (table, json, yaml)", format)
	}
}

func renderTable(w io.Writer, days int, s stats.Summary) error {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Activity sessions, last %d days", days)))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "sessions\t%d\n", s.TotalSessions)
	fmt.Fprintf(tw, "unique users\t%d\n", s.UniqueUsers)
	fmt.Fprintf(tw, "still open\t%d\n", s.OpenSessions)
	fmt.Fprintf(tw, "avg duration\t%.1f min\n", s.AverageDurationMinutes)
	fmt.Fprintf(tw, "page views\t%d\n", s.TotalPageViews)
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(s.ByDevice) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, headerStyle.Render("By device"))
		devices := make([]string, 0, len(s.ByDevice))
		for d := range s.ByDevice {
			devices = append(devices, string(d))
		}
		sort.Strings(devices)
		for _, d := range devices {
			fmt.Fprintf(tw, "%s\t%d\n", d, s.ByDevice[domain.DeviceType(d)])
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(s.ByDay) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, headerStyle.Render("By day"))
		for _, d := range s.ByDay {
			fmt.Fprintf(tw, "%s\t%d\t%s\n", d.Day, d.Sessions, dimStyle.Render(strings.Repeat("#", min(d.Sessions, 40))))
		}
		return tw.Flush()
	}
	return nil
}

func resultMark(ok bool) string {
	if ok {
		return countStyle.Render("ok")
	}
	return errorStyle.Render("partial")
}
