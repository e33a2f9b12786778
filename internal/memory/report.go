package memory

import (
	"fmt"
	"sort"
	"strings"
)

const (
	reportHighlightMin = 0.7
	reportMaxHighlight = 3
	reportMaxThemes    = 5
	// A channel accumulating this many records in a day scores full
	// activity.
	reportFullActivity = 10
)

// ChannelReport aggregates one channel's long-term activity for the
// morning report.
type ChannelReport struct {
	Channel    string
	Records    int
	Themes     []string
	Highlights []string
	Progress   float64
}

// DailyReport is the template-rendered digest posted each morning before
// the workday starts. No model call is involved; it is assembled from
// already-consolidated records.
type DailyReport struct {
	Date     string
	Channels []ChannelReport
	Summary  string
}

// BuildDailyReport assembles a report over the given channels from
// long-term records carrying any of the given date keys. Callers
// typically pass yesterday's key (immediate captures) and today's (this
// morning's consolidation output).
func (e *Engine) BuildDailyReport(channels []string, dates ...string) (DailyReport, error) {
	if len(dates) == 0 {
		return DailyReport{}, fmt.Errorf("build daily report: no date keys")
	}
	byChannel := make(map[string][]LongTermRecord)
	for _, date := range dates {
		records, err := e.LongTermByDate(date)
		if err != nil {
			return DailyReport{}, fmt.Errorf("build daily report: %w", err)
		}
		for _, rec := range records {
			byChannel[rec.Channel] = append(byChannel[rec.Channel], rec)
		}
	}

	report := DailyReport{Date: dates[len(dates)-1]}
	for _, channel := range channels {
		report.Channels = append(report.Channels, buildChannelReport(channel, byChannel[channel]))
	}
	report.Summary = summarize(report.Channels)
	return report, nil
}

func buildChannelReport(channel string, records []LongTermRecord) ChannelReport {
	cr := ChannelReport{Channel: channel, Records: len(records)}
	if len(records) == 0 {
		return cr
	}

	themes := make(map[string]bool)
	totalImportance := 0.0
	for _, rec := range records {
		totalImportance += rec.Importance
		for _, tag := range rec.Tags {
			if tag != "" {
				themes[tag] = true
			}
		}
	}
	for theme := range themes {
		cr.Themes = append(cr.Themes, theme)
	}
	sort.Strings(cr.Themes)
	if len(cr.Themes) > reportMaxThemes {
		cr.Themes = cr.Themes[:reportMaxThemes]
	}

	sorted := make([]LongTermRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Importance > sorted[j].Importance
	})
	for _, rec := range sorted {
		if rec.Importance < reportHighlightMin || len(cr.Highlights) == reportMaxHighlight {
			break
		}
		cr.Highlights = append(cr.Highlights, truncate(rec.Summary, 100))
	}

	avgImportance := totalImportance / float64(len(records))
	activity := float64(len(records)) / reportFullActivity
	if activity > 1 {
		activity = 1
	}
	cr.Progress = avgImportance*0.7 + activity*0.3
	return cr
}

func summarize(channels []ChannelReport) string {
	active := 0
	themes := 0
	progress := 0.0
	for _, cr := range channels {
		if cr.Records == 0 {
			continue
		}
		active++
		themes += len(cr.Themes)
		progress += cr.Progress
	}
	if active == 0 {
		return "A quiet day: nothing new reached long-term memory."
	}
	avg := progress / float64(active)

	summary := fmt.Sprintf("%d of %d rooms were active with %d themes in play.", active, len(channels), themes)
	switch {
	case avg >= 0.7:
		summary += " Strong progress across the board."
	case avg >= 0.4:
		summary += " Steady progress overall."
	default:
		summary += " Activity was on the light side."
	}
	return summary
}

// RenderText formats the report as a plain chat message.
func (r DailyReport) RenderText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Daily report for %s\n", r.Date)
	for _, cr := range r.Channels {
		if cr.Records == 0 {
			fmt.Fprintf(&b, "%s: quiet\n", cr.Channel)
			continue
		}
		fmt.Fprintf(&b, "%s: %d memories, progress %.2f", cr.Channel, cr.Records, cr.Progress)
		if len(cr.Themes) > 0 {
			fmt.Fprintf(&b, " (themes: %s)", strings.Join(cr.Themes, ", "))
		}
		b.WriteString("\n")
		for _, h := range cr.Highlights {
			fmt.Fprintf(&b, "  - %s\n", h)
		}
	}
	b.WriteString(r.Summary)
	return b.String()
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
