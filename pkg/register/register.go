// Package register holds the normalized data model for the school portal:
// grading periods, grades, attendance, agenda entries, lessons and notices,
// plus the averaging rules applied to grades.
package register

import "math"

// Grade color categories. Blue grades are provisional/informational and
// never contribute to averages.
const (
	ColorBlue  = "blue"
	ColorGreen = "green"
)

// Period is a grading term (e.g. a trimester). Position is the 1-based
// document order of the period in the upstream page; it carries no date
// semantics and is used only as a grouping key.
type Period struct {
	Code        string `json:"period_code"`
	Position    int    `json:"period_pos"`
	Description string `json:"period_desc"`
}

// Grade is a single mark as scraped from the upstream register page.
type Grade struct {
	SubjectID     int     `json:"subject_id"`
	SubjectDesc   string  `json:"subject_desc"`
	EventID       int     `json:"evt_id"`
	EventDate     string  `json:"evt_date"`
	DecimalValue  float64 `json:"decimal_value"`
	DisplayValue  string  `json:"display_value"`
	Color         string  `json:"color"`
	PeriodDesc    string  `json:"period_desc"`
	ComponentDesc string  `json:"component_desc"`
}

// AttendanceSummary is the best-effort absence/delay extract from the
// upstream attendance page. Zero values mean "could not be parsed".
type AttendanceSummary struct {
	AbsenceHours float64 `json:"absence_hours"`
	DelayCount   float64 `json:"delay_count"`
}

// AgendaItem is a single agenda annotation for a day.
type AgendaItem struct {
	EventID     int    `json:"evt_id"`
	EventCode   string `json:"evt_code"`
	Begin       string `json:"evt_datetime_begin"`
	End         string `json:"evt_datetime_end"`
	FullDay     bool   `json:"is_full_day"`
	Notes       string `json:"notes"`
	AuthorName  string `json:"author_name"`
	ClassDesc   string `json:"class_desc"`
	SubjectID   int    `json:"subject_id"`
	SubjectDesc string `json:"subject_desc"`
}

// Lesson is one taught hour of a day. Teacher holds a comma-joined list
// when the upstream reported the same hour once per co-teacher.
type Lesson struct {
	EventID     int    `json:"evt_id"`
	Date        string `json:"evt_date"`
	HourPos     int    `json:"evt_hpos"`
	Duration    int    `json:"evt_duration"`
	ClassDesc   string `json:"class_desc"`
	Teacher     string `json:"author_name"`
	SubjectID   int    `json:"subject_id"`
	SubjectDesc string `json:"subject_desc"`
	LessonType  string `json:"lesson_type"`
	Topic       string `json:"lesson_arg"`
}

// Notice is a noticeboard publication.
type Notice struct {
	PubID       int    `json:"pub_id"`
	PublishedAt string `json:"pub_dt"`
	Read        bool   `json:"read_status"`
	EventCode   string `json:"evt_code"`
	Title       string `json:"cnt_title"`
	Category    string `json:"cnt_category"`
	ValidFrom   string `json:"cnt_valid_from"`
	ValidTo     string `json:"cnt_valid_to"`
	HasAttach   bool   `json:"cnt_has_attach"`
}

// Average returns the arithmetic mean of the decimal values of all
// non-blue grades. An empty filtered set yields NaN, which callers must
// surface as "no data" rather than zero.
func Average(grades []Grade) float64 {
	var (
		sum float64
		n   int
	)

	for _, g := range grades {
		if g.Color == ColorBlue {
			continue
		}

		sum += g.DecimalValue
		n++
	}

	if n == 0 {
		return math.NaN()
	}

	return sum / float64(n)
}

// PeriodAverage applies the Average rule to the subset of grades whose
// period description exactly matches periodDesc.
func PeriodAverage(grades []Grade, periodDesc string) float64 {
	scoped := make([]Grade, 0, len(grades))

	for _, g := range grades {
		if g.PeriodDesc == periodDesc {
			scoped = append(scoped, g)
		}
	}

	return Average(scoped)
}
