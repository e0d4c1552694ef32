package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openregistro/registro/pkg/config"
	"github.com/openregistro/registro/pkg/register"
	"github.com/openregistro/registro/pkg/scrape"
	"github.com/openregistro/registro/pkg/transport"
)

// Legacy web paths, relative to the web base URL. Each belongs to the
// PHP subsystem and authenticates with the cookie pair, never bearer.
const (
	pathRegisterPage   = "/cvv/app/default/genitori_voti.php"
	pathAttendancePage = "/tic/app/default/consultasingolo.php"
	pathGradeDetail    = "/cvv/app/default/genitori_voti.php?ope=voto_detail&evento_id=%d"
)

const dayFormat = "20060102"

// Fetcher issues authenticated per-resource requests against the
// upstream and normalizes the payloads into register types.
type Fetcher struct {
	log     logrus.FieldLogger
	http    *transport.Client
	cfg     *config.UpstreamConfig
	scraper *scrape.Scraper
}

// NewFetcher creates a Fetcher.
func NewFetcher(
	log logrus.FieldLogger,
	httpClient *transport.Client,
	cfg *config.UpstreamConfig,
	scraper *scrape.Scraper,
) *Fetcher {
	return &Fetcher{
		log:     log.WithField("component", "fetcher"),
		http:    httpClient,
		cfg:     cfg,
		scraper: scraper,
	}
}

// MarksAndPeriods fetches the register page once and runs both the
// period and the grade parser over it.
func (f *Fetcher) MarksAndPeriods(ctx context.Context, auth Auth) ([]register.Grade, []register.Period, error) {
	page, err := f.getPage(ctx, f.cfg.WebBaseURL+pathRegisterPage, auth)
	if err != nil {
		return nil, nil, err
	}

	grades, err := f.scraper.Grades(page)
	if err != nil {
		return nil, nil, fmt.Errorf("normalizing grades: %w", err)
	}

	periods, err := f.scraper.Periods(page)
	if err != nil {
		return nil, nil, fmt.Errorf("normalizing periods: %w", err)
	}

	return grades, periods, nil
}

// Grades fetches and parses the register page.
func (f *Fetcher) Grades(ctx context.Context, auth Auth) ([]register.Grade, error) {
	grades, _, err := f.MarksAndPeriods(ctx, auth)

	return grades, err
}

// Periods fetches and parses the grading periods.
func (f *Fetcher) Periods(ctx context.Context, auth Auth) ([]register.Period, error) {
	_, periods, err := f.MarksAndPeriods(ctx, auth)

	return periods, err
}

// Attendance fetches and parses the attendance summary.
func (f *Fetcher) Attendance(ctx context.Context, auth Auth) (register.AttendanceSummary, error) {
	page, err := f.getPage(ctx, f.cfg.WebBaseURL+pathAttendancePage, auth)
	if err != nil {
		return register.AttendanceSummary{}, err
	}

	return f.scraper.Attendance(page)
}

// GradeNote fetches the teacher note attached to a single grade event.
func (f *Fetcher) GradeNote(ctx context.Context, auth Auth, eventID int) (string, error) {
	url := f.cfg.WebBaseURL + fmt.Sprintf(pathGradeDetail, eventID)

	page, err := f.getPage(ctx, url, auth)
	if err != nil {
		return "", err
	}

	return f.scraper.GradeNote(page)
}

// Agenda fetches the agenda entries for one day.
func (f *Fetcher) Agenda(ctx context.Context, auth Auth, day time.Time) ([]register.AgendaItem, error) {
	d := day.Format(dayFormat)
	url := fmt.Sprintf("%s/students/%s/agenda/all/%s/%s",
		f.cfg.RESTBaseURL, StudentID(auth.Ident), d, d)

	raw, err := f.getJSON(ctx, url, auth)
	if err != nil {
		return nil, err
	}

	items, err := f.scraper.Agenda(raw)
	if err != nil {
		f.log.WithError(err).Warn("Agenda payload did not match the expected shape")

		return nil, ErrSessionExpired
	}

	return items, nil
}

// Lessons fetches the lessons for one day.
func (f *Fetcher) Lessons(ctx context.Context, auth Auth, day time.Time) ([]register.Lesson, error) {
	url := fmt.Sprintf("%s/students/%s/lessons/%s",
		f.cfg.RESTBaseURL, StudentID(auth.Ident), day.Format(dayFormat))

	raw, err := f.getJSON(ctx, url, auth)
	if err != nil {
		return nil, err
	}

	lessons, err := f.scraper.Lessons(raw)
	if err != nil {
		f.log.WithError(err).Warn("Lessons payload did not match the expected shape")

		return nil, ErrSessionExpired
	}

	return lessons, nil
}

// Noticeboard fetches the school notices.
func (f *Fetcher) Noticeboard(ctx context.Context, auth Auth) ([]register.Notice, error) {
	url := fmt.Sprintf("%s/students/%s/noticeboard", f.cfg.RESTBaseURL, StudentID(auth.Ident))

	raw, err := f.getJSON(ctx, url, auth)
	if err != nil {
		return nil, err
	}

	notices, err := f.scraper.Noticeboard(raw)
	if err != nil {
		f.log.WithError(err).Warn("Noticeboard payload did not match the expected shape")

		return nil, ErrSessionExpired
	}

	return notices, nil
}

// SchoolName fetches the user's school from the profile resource. The
// response shape varies between deployments, so both known layouts are
// tried before giving up.
func (f *Fetcher) SchoolName(ctx context.Context, auth Auth) (string, error) {
	raw, err := f.getJSON(ctx, f.cfg.RESTBaseURL+"/users/me", auth)
	if err != nil {
		return "", err
	}

	var payload struct {
		School struct {
			Name string `json:"name"`
		} `json:"school"`
		SchoolName string `json:"schoolName"`
	}

	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", ErrSessionExpired
	}

	if payload.School.Name != "" {
		return payload.School.Name, nil
	}

	return payload.SchoolName, nil
}

// getPage fetches a legacy HTML page with the cookie-pair auth shape.
// Receiving the login form instead of the page is the expired-session
// signal.
func (f *Fetcher) getPage(ctx context.Context, url string, auth Auth) (string, error) {
	req := transport.Request{
		Method: http.MethodGet,
		URL:    url,
		Header: http.Header{
			"User-Agent": {f.cfg.UserAgent},
			"Cookie": {fmt.Sprintf("PHPSESSID=%s; webidentity=%s;",
				auth.Token, auth.Ident)},
		},
	}

	resp, err := f.http.Do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", url, err)
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", url, err)
	}

	page := string(body)

	if resp.StatusCode == http.StatusUnauthorized ||
		resp.StatusCode == http.StatusForbidden ||
		scrape.LooksLikeLoginPage(page) {
		return "", ErrSessionExpired
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching %s: HTTP %d", url, resp.StatusCode)
	}

	return page, nil
}

// getJSON fetches a REST resource with the bearer auth shape.
func (f *Fetcher) getJSON(ctx context.Context, url string, auth Auth) ([]byte, error) {
	req := transport.Request{
		Method: http.MethodGet,
		URL:    url,
		Header: http.Header{
			"User-Agent":    {f.cfg.UserAgent},
			"Z-Dev-Apikey":  {f.cfg.APIKey},
			"Content-Type":  {"application/json"},
			"Authorization": {"Bearer " + auth.Token},
		},
	}

	resp, err := f.http.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}

	if resp.StatusCode == http.StatusUnauthorized ||
		resp.StatusCode == http.StatusForbidden {
		return nil, ErrSessionExpired
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: HTTP %d", url, resp.StatusCode)
	}

	return body, nil
}
