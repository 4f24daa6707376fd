package services

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"mercari-watcher/models"
	"mercari-watcher/utils"
)

type SummaryService struct {
	logger *utils.Logger
}

func NewSummaryService(logger *utils.Logger) *SummaryService {
	return &SummaryService{logger: logger}
}

// Generate builds the report for counts. Lines follow the configured
// keyword order; keywords no longer configured come after, sorted.
func (s *SummaryService) Generate(date time.Time, counts map[string]int, keywords []models.Keyword) *models.DailyReport {
	report := &models.DailyReport{Date: date}

	if len(counts) == 0 {
		return report
	}

	known := make(map[string]bool, len(keywords))
	for _, kw := range keywords {
		known[kw.Original] = true
		if n := counts[kw.Original]; n > 0 {
			report.Keywords = append(report.Keywords, models.KeywordCount{Original: kw.Original, Label: kw.Label(), Count: n})
			report.Total += n
		}
	}

	var unknown []string
	for kw, n := range counts {
		if !known[kw] && n > 0 {
			unknown = append(unknown, kw)
		}
	}
	sort.Strings(unknown)
	if len(unknown) > 0 {
		s.logger.Debug("[summary] Counts for keywords no longer configured: %s", strings.Join(unknown, ", "))
	}
	for _, kw := range unknown {
		report.Keywords = append(report.Keywords, models.KeywordCount{Original: kw, Label: kw, Count: counts[kw]})
		report.Total += counts[kw]
	}

	return report
}

// Format renders the report as a Telegram message.
func (s *SummaryService) Format(r *models.DailyReport) string {
	lines := []string{fmt.Sprintf("📊 Mercari Summary — %s\n", r.Date.Format("2006-01-02"))}

	if len(r.Keywords) == 0 {
		lines = append(lines, "No activity recorded today.")
	} else {
		for _, kc := range r.Keywords {
			lines = append(lines, fmt.Sprintf("• %s: %d new %s", kc.Label, kc.Count, pluralItems(kc.Count)))
		}
	}
	return strings.Join(lines, "\n")
}

func pluralItems(n int) string {
	if n == 1 {
		return "item"
	}
	return "items"
}
