package scrape

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/openregistro/registro/pkg/register"
)

// Attendance extracts the absence-hours and delay counters from the
// attendance page. The page gives these no semantic anchor: the absence
// total sits in a separator cell with a fixed colspan and the delay
// count in the ninth column of a fixed-height row. Anything that fails
// to parse is reported as 0; the summary is best-effort by contract.
func (s *Scraper) Attendance(html string) (register.AttendanceSummary, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return register.AttendanceSummary{}, fmt.Errorf("parsing attendance page: %w", err)
	}

	summary := register.AttendanceSummary{}

	// "Totale ore: 12 (3 eventi)" -> "12".
	raw := doc.Find(selAbsenceCell).First().Find("." + classDoubleValue).First().Text()
	if idx := strings.Index(raw, ":"); idx >= 0 {
		raw = raw[idx+1:]
	}

	if idx := strings.Index(raw, "("); idx >= 0 {
		raw = raw[:idx]
	}

	if v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
		summary.AbsenceHours = v
	}

	delayCell := doc.Find(selDelayRow).First().Children().Eq(8)
	rawDelays := strings.TrimSpace(delayCell.Find("." + classDoubleValue).First().Text())

	if v, err := strconv.ParseFloat(rawDelays, 64); err == nil {
		summary.DelayCount = v
	}

	return summary, nil
}
