// Package scrape normalizes upstream payloads into register types. The
// register and attendance pages are server-rendered HTML and are parsed
// with goquery; agenda, lessons and noticeboard come back as JSON.
//
// Every markup-structure assumption (selectors, attribute names, row
// classes) lives in the constants below so an upstream layout change is
// a one-file edit.
package scrape

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
)

// Selectors and marker classes observed on the upstream pages.
const (
	selPeriodList    = "ul"
	attrPeriodTable  = "sessione"
	classSubjectRow  = "riga_competenza_default"
	attrSubjectID    = "materia_id"
	classGradeRow    = "riga_materia_componente"
	classGradeCell   = "cella_voto"
	attrEventID      = "evento_id"
	classBlueGrade   = "f_reg_voto_dettaglio"
	selAbsenceCell   = "td.griglia_sep_gray[colspan='17']"
	selDelayRow      = "tr.rigtab[height='57']"
	classDoubleValue = "double"
	selGradeNoteCell = "td[colspan='5']"
)

// Scraper parses upstream HTML and JSON payloads into register records.
type Scraper struct {
	log logrus.FieldLogger
}

// New creates a Scraper.
func New(log logrus.FieldLogger) *Scraper {
	return &Scraper{
		log: log.WithField("component", "scrape"),
	}
}

// LooksLikeLoginPage reports whether an HTML document is the upstream
// login form rather than a data page. Receiving it where data was
// expected is the usual symptom of a silently expired upstream session.
func LooksLikeLoginPage(html string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}

	return doc.Find("input[type='password']").Length() > 0
}
