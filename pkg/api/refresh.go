package api

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openregistro/registro/pkg/register"
	"github.com/openregistro/registro/pkg/store"
)

const refreshTimeout = 60 * time.Second

// maybeRefresh re-derives the cached aggregates (school name, overall
// average, attendance counters) from the upstream, at most once per
// configured interval per user. It runs detached from the triggering
// request, so failures are logged and swallowed; the stale cache stays
// in place until the next attempt.
func (s *server) maybeRefresh(p principal) {
	if !s.refreshInFlight.claim(p.identity.InternalID) {
		return
	}
	defer s.refreshInFlight.release(p.identity.InternalID)

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	log := s.log.WithField("internal_id", p.identity.InternalID)

	user, err := s.store.GetByInternalID(ctx, p.identity.InternalID)
	if err != nil {
		log.WithError(err).Warn("Refresh skipped, identity lookup failed")

		return
	}

	if user.LastRefresh != nil &&
		time.Since(*user.LastRefresh) < s.cfg.RefreshMinInterval() {
		return
	}

	var (
		school     string
		average    float64
		attendance register.AttendanceSummary
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		school, err = s.fetcher.SchoolName(gctx, p.auth)

		return err
	})

	g.Go(func() error {
		grades, _, err := s.fetcher.MarksAndPeriods(gctx, p.auth)
		if err != nil {
			return err
		}

		average = register.Average(grades)

		return nil
	})

	g.Go(func() error {
		var err error
		attendance, err = s.fetcher.Attendance(gctx, p.auth)

		return err
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Warn("Aggregate refresh failed")

		return
	}

	upd := store.AggregateUpdate{
		School:       &school,
		AbsenceHours: &attendance.AbsenceHours,
		DelayCount:   &attendance.DelayCount,
	}

	if !math.IsNaN(average) {
		upd.Average = &average
	}

	if err := s.store.UpdateAggregates(ctx, p.identity.InternalID, upd); err != nil {
		log.WithError(err).Warn("Aggregate write failed")

		return
	}

	log.Debug("Aggregates refreshed")
}

// inFlightSet tracks internal IDs with a refresh already running so a
// burst of requests from one user triggers at most one upstream sweep.
type inFlightSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newInFlightSet() *inFlightSet {
	return &inFlightSet{
		ids: make(map[string]struct{}),
	}
}

func (f *inFlightSet) claim(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, busy := f.ids[id]; busy {
		return false
	}

	f.ids[id] = struct{}{}

	return true
}

func (f *inFlightSet) release(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.ids, id)
}
