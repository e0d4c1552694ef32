package scrape

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/openregistro/registro/pkg/register"
)

// Upstream JSON wire shapes. Field names follow the REST API exactly;
// they are kept private so the rest of the codebase only ever sees
// register types.

type agendaEnvelope struct {
	Agenda []agendaWire `json:"agenda"`
}

type agendaWire struct {
	EventID     int    `json:"evtId"`
	EventCode   string `json:"evtCode"`
	Begin       string `json:"evtDatetimeBegin"`
	End         string `json:"evtDatetimeEnd"`
	FullDay     bool   `json:"isFullDay"`
	Notes       string `json:"notes"`
	AuthorName  string `json:"authorName"`
	ClassDesc   string `json:"classDesc"`
	SubjectID   int    `json:"subjectId"`
	SubjectDesc string `json:"subjectDesc"`
}

type lessonsEnvelope struct {
	Lessons []lessonWire `json:"lessons"`
}

type lessonWire struct {
	EventID     int    `json:"evtId"`
	Date        string `json:"evtDate"`
	HourPos     int    `json:"evtHPos"`
	Duration    int    `json:"evtDuration"`
	ClassDesc   string `json:"classDesc"`
	AuthorName  string `json:"authorName"`
	SubjectID   int    `json:"subjectId"`
	SubjectDesc string `json:"subjectDesc"`
	LessonType  string `json:"lessonType"`
	LessonArg   string `json:"lessonArg"`
}

type noticeboardEnvelope struct {
	Items []noticeWire `json:"items"`
}

type noticeWire struct {
	PubID     int    `json:"pubId"`
	PubDT     string `json:"pubDT"`
	Read      bool   `json:"readStatus"`
	EventCode string `json:"evtCode"`
	Title     string `json:"cntTitle"`
	Category  string `json:"cntCategory"`
	ValidFrom string `json:"cntValidFrom"`
	ValidTo   string `json:"cntValidTo"`
	HasAttach bool   `json:"cntHasAttach"`
}

// Agenda decodes a day's agenda payload.
func (s *Scraper) Agenda(raw []byte) ([]register.AgendaItem, error) {
	var env agendaEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding agenda payload: %w", err)
	}

	items := make([]register.AgendaItem, 0, len(env.Agenda))

	for _, w := range env.Agenda {
		items = append(items, register.AgendaItem{
			EventID:     w.EventID,
			EventCode:   w.EventCode,
			Begin:       w.Begin,
			End:         w.End,
			FullDay:     w.FullDay,
			Notes:       w.Notes,
			AuthorName:  w.AuthorName,
			ClassDesc:   w.ClassDesc,
			SubjectID:   w.SubjectID,
			SubjectDesc: w.SubjectDesc,
		})
	}

	return items, nil
}

// Lessons decodes a day's lessons payload. The upstream reports one row
// per teacher for co-taught hours, so rows sharing the same hour slot
// and topic collapse into one lesson whose teacher field is the
// comma-joined list in first-seen order. The result is sorted by hour
// slot ascending.
func (s *Scraper) Lessons(raw []byte) ([]register.Lesson, error) {
	var env lessonsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding lessons payload: %w", err)
	}

	type slotKey struct {
		hourPos int
		topic   string
	}

	var (
		order []slotKey
		seen  = make(map[slotKey]*register.Lesson, len(env.Lessons))
	)

	for _, w := range env.Lessons {
		key := slotKey{hourPos: w.HourPos, topic: w.LessonArg}

		if existing, ok := seen[key]; ok {
			if w.AuthorName != "" {
				existing.Teacher += ", " + w.AuthorName
			}

			continue
		}

		lesson := &register.Lesson{
			EventID:     w.EventID,
			Date:        w.Date,
			HourPos:     w.HourPos,
			Duration:    w.Duration,
			ClassDesc:   w.ClassDesc,
			Teacher:     w.AuthorName,
			SubjectID:   w.SubjectID,
			SubjectDesc: w.SubjectDesc,
			LessonType:  w.LessonType,
			Topic:       w.LessonArg,
		}

		seen[key] = lesson
		order = append(order, key)
	}

	lessons := make([]register.Lesson, 0, len(order))
	for _, key := range order {
		lessons = append(lessons, *seen[key])
	}

	sort.SliceStable(lessons, func(i, j int) bool {
		return lessons[i].HourPos < lessons[j].HourPos
	})

	return lessons, nil
}

// Noticeboard decodes the noticeboard payload.
func (s *Scraper) Noticeboard(raw []byte) ([]register.Notice, error) {
	var env noticeboardEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding noticeboard payload: %w", err)
	}

	notices := make([]register.Notice, 0, len(env.Items))

	for _, w := range env.Items {
		notices = append(notices, register.Notice{
			PubID:       w.PubID,
			PublishedAt: w.PubDT,
			Read:        w.Read,
			EventCode:   w.EventCode,
			Title:       w.Title,
			Category:    w.Category,
			ValidFrom:   w.ValidFrom,
			ValidTo:     w.ValidTo,
			HasAttach:   w.HasAttach,
		})
	}

	return notices, nil
}
