package scrape

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/openregistro/registro/pkg/register"
)

// Periods extracts the grading periods from the register page. Position
// is assigned by document order, 1-based; the code comes from the
// fragment of each period anchor and keys the period's grade table.
func (s *Scraper) Periods(html string) ([]register.Period, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing register page: %w", err)
	}

	return parsePeriods(doc), nil
}

func parsePeriods(doc *goquery.Document) []register.Period {
	periods := []register.Period{}

	doc.Find(selPeriodList).First().Children().Each(func(i int, li *goquery.Selection) {
		href := li.Find("a").First().AttrOr("href", "")

		var code string
		if idx := strings.Index(href, "#"); idx >= 0 {
			code = href[idx+1:]
		}

		periods = append(periods, register.Period{
			Code:        code,
			Position:    i + 1,
			Description: strings.TrimSpace(li.Text()),
		})
	})

	return periods
}

// Grades extracts all grades from the register page, period by period.
// A period whose table is missing contributes no grades; that is a
// normal state early in the school year, not an error.
func (s *Scraper) Grades(html string) ([]register.Grade, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing register page: %w", err)
	}

	grades := []register.Grade{}

	for _, period := range parsePeriods(doc) {
		grades = append(grades, s.periodGrades(doc, period)...)
	}

	return grades, nil
}

func (s *Scraper) periodGrades(doc *goquery.Document, period register.Period) []register.Grade {
	table := doc.Find(fmt.Sprintf("table[%s='%s']", attrPeriodTable, period.Code)).First()
	rows := table.Find("tbody").First().Children()

	// Subject-id carrier rows and component rows are parallel lists:
	// the Nth component row belongs to the Nth id carrier.
	var subjectIDs []string

	rows.Each(func(_ int, row *goquery.Selection) {
		if row.HasClass(classSubjectRow) && row.Children().Length() > 1 {
			subjectIDs = append(subjectIDs, row.AttrOr(attrSubjectID, ""))
		}
	})

	grades := []register.Grade{}
	subjectIndex := 0

	rows.Each(func(_ int, row *goquery.Selection) {
		if !row.HasClass(classGradeRow) || row.Children().Length() <= 1 {
			return
		}

		var subjectID int
		if subjectIndex < len(subjectIDs) {
			subjectID, _ = strconv.Atoi(subjectIDs[subjectIndex])
		}

		subjectDesc := strings.ToUpper(strings.TrimSpace(row.Children().First().Text()))

		row.ChildrenFiltered("td."+classGradeCell).Each(func(_ int, cell *goquery.Selection) {
			grades = append(grades, s.gradeFromCell(cell, subjectID, subjectDesc, period))
		})

		subjectIndex++
	})

	return grades
}

func (s *Scraper) gradeFromCell(
	cell *goquery.Selection,
	subjectID int,
	subjectDesc string,
	period register.Period,
) register.Grade {
	kids := cell.Children()

	display := strings.TrimSpace(kids.Eq(1).Text())
	if display == "" {
		display = "-"
	}

	decimal, known := SymbolToDecimal(display)
	if !known {
		s.log.WithField("symbol", display).
			WithField("subject", subjectDesc).
			Warn("Unrecognized grade symbol, recording as 0")
	}

	color := register.ColorGreen
	if kids.Eq(1).HasClass(classBlueGrade) {
		color = register.ColorBlue
	}

	eventID, _ := strconv.Atoi(cell.AttrOr(attrEventID, ""))

	return register.Grade{
		SubjectID:     subjectID,
		SubjectDesc:   subjectDesc,
		EventID:       eventID,
		EventDate:     strings.TrimSpace(kids.Eq(0).Text()),
		DecimalValue:  decimal,
		DisplayValue:  display,
		Color:         color,
		PeriodDesc:    period.Description,
		ComponentDesc: kids.Eq(1).AttrOr("title", ""),
	}
}

// GradeNote extracts the teacher's note from a grade detail page.
func (s *Scraper) GradeNote(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parsing grade detail page: %w", err)
	}

	return strings.TrimSpace(doc.Find(selGradeNoteCell).First().Text()), nil
}
