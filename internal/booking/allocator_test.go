package booking

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"ms-tourbooking/internal/logger"
	"ms-tourbooking/internal/metrics"
	"ms-tourbooking/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testNow = time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	tourDay = time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
)

type backend struct {
	name string
	wrap func(*memLedger) Ledger
}

var backends = []backend{
	{"two-step", func(m *memLedger) Ledger { return m }},
	{"atomic", func(m *memLedger) Ledger { return &atomicMemLedger{memLedger: m} }},
}

func newTestAllocator(l Ledger) *Allocator {
	a := NewAllocator(l, metrics.NewBookingMetrics(prometheus.NewRegistry()), logger.New(io.Discard), AllocatorConfig{})
	a.now = func() time.Time { return testNow }
	return a
}

func request(people int) Request {
	return Request{UserID: "user-1", TourID: "t1", TourDateID: "d1", NumberOfPeople: people}
}

func TestRequestBooking_ScenarioA_FillsDate(t *testing.T) {
	for _, be := range backends {
		t.Run(be.name, func(t *testing.T) {
			m := newMemLedger()
			m.addTour("t1", 250, 100)
			m.addDate("d1", "t1", tourDay, 5, 3)

			out := newTestAllocator(be.wrap(m)).RequestBooking(context.Background(), request(2))

			require.Equal(t, KindCommitted, out.Kind, out.Detail)
			require.NotNil(t, out.Booking)
			assert.Equal(t, 5, m.current("d1"))
			assert.Equal(t, 0, out.RemainingOnDate)
			assert.Equal(t, 95, out.RemainingOnTour)
			assert.Equal(t, "500", out.Booking.Amount.String())
			assert.Equal(t, models.BookingPending, out.Booking.Status)
			assert.Equal(t, "2025-06-10", out.Booking.TourDate)
			assert.Equal(t, "Tour t1", out.Booking.TourName)
			assert.Regexp(t, `^BOOK-\d+-\d{1,3}$`, out.Booking.BookingNumber)

			stored := m.booking(out.Booking.ID)
			assert.True(t, stored.CapacityApplied)
			assert.False(t, stored.NeedsReconciliation)
		})
	}
}

func TestRequestBooking_ScenarioB_DateFull(t *testing.T) {
	for _, be := range backends {
		t.Run(be.name, func(t *testing.T) {
			m := newMemLedger()
			m.addTour("t1", 250, 100)
			m.addDate("d1", "t1", tourDay, 5, 5)

			out := newTestAllocator(be.wrap(m)).RequestBooking(context.Background(), request(1))

			assert.Equal(t, KindRejected, out.Kind)
			assert.Equal(t, ReasonDateFull, out.Reason)
			assert.Equal(t, 0, out.RemainingOnDate)
			assert.Equal(t, 0, m.bookingCount())
			assert.Equal(t, 5, m.current("d1"))
		})
	}
}

func TestRequestBooking_ScenarioC_TourFull(t *testing.T) {
	for _, be := range backends {
		t.Run(be.name, func(t *testing.T) {
			m := newMemLedger()
			m.addTour("t1", 250, 10)
			m.addDate("d1", "t1", tourDay, 5, 0)
			m.addDate("d2", "t1", tourDay.AddDate(0, 0, 1), 10, 10)

			out := newTestAllocator(be.wrap(m)).RequestBooking(context.Background(), request(1))

			assert.Equal(t, KindRejected, out.Kind)
			assert.Equal(t, ReasonTourFull, out.Reason)
			assert.Equal(t, 0, out.RemainingOnTour)
			assert.Equal(t, 0, m.bookingCount())
		})
	}
}

func TestRequestBooking_ScenarioD_ConcurrentRequests(t *testing.T) {
	for _, be := range backends {
		t.Run(be.name, func(t *testing.T) {
			m := newMemLedger()
			m.addTour("t1", 100, 100)
			m.addDate("d1", "t1", tourDay, 5, 0)
			a := newTestAllocator(be.wrap(m))

			var wg sync.WaitGroup
			outcomes := make([]Outcome, 2)
			start := make(chan struct{})
			for i := range outcomes {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					req := request(3)
					req.UserID = []string{"alice", "bob"}[i]
					outcomes[i] = a.RequestBooking(context.Background(), req)
				}(i)
			}
			close(start)
			wg.Wait()

			committed, dateFull := 0, 0
			for _, out := range outcomes {
				switch {
				case out.Committed():
					committed++
				case out.Kind == KindRejected && out.Reason == ReasonDateFull:
					dateFull++
				}
			}
			assert.Equal(t, 1, committed)
			assert.Equal(t, 1, dateFull)
			assert.Equal(t, 3, m.current("d1"))
		})
	}
}

func TestRequestBooking_ScenarioE_LedgerInconsistency(t *testing.T) {
	m := newMemLedger()
	m.addTour("t1", 100, 100)
	m.addDate("d1", "t1", tourDay, 5, 0)
	m.conflicts = 100

	out := newTestAllocator(m).RequestBooking(context.Background(), request(2))

	assert.Equal(t, KindFailed, out.Kind)
	assert.Equal(t, ReasonLedgerInconsistency, out.Reason)
	require.NotNil(t, out.Booking)
	assert.Equal(t, DefaultMaxAttempts, m.incrementCalls)

	stored := m.booking(out.Booking.ID)
	assert.Equal(t, models.BookingPending, stored.Status)
	assert.True(t, stored.NeedsReconciliation)
	assert.False(t, stored.CapacityApplied)
	assert.NotEmpty(t, stored.ReconcileReason)
	assert.Equal(t, 0, m.current("d1"))
}

func TestRequestBooking_IncrementErrorFlagsBooking(t *testing.T) {
	m := newMemLedger()
	m.addTour("t1", 100, 100)
	m.addDate("d1", "t1", tourDay, 5, 0)
	m.incrementErr = errors.New("connection reset")

	out := newTestAllocator(m).RequestBooking(context.Background(), request(1))

	assert.Equal(t, ReasonLedgerInconsistency, out.Reason)
	assert.True(t, m.booking(out.Booking.ID).NeedsReconciliation)
}

func TestRequestBooking_FlagFailureStillReportsInconsistency(t *testing.T) {
	m := newMemLedger()
	m.addTour("t1", 100, 100)
	m.addDate("d1", "t1", tourDay, 5, 0)
	m.incrementErr = errors.New("connection reset")
	m.flagErr = errors.New("connection reset")

	out := newTestAllocator(m).RequestBooking(context.Background(), request(1))

	assert.Equal(t, ReasonLedgerInconsistency, out.Reason)
	assert.True(t, out.Booking.NeedsReconciliation)
}

func TestRequestBooking_TwoStepRowFlaggedUntilCounted(t *testing.T) {
	m := newMemLedger()
	m.addTour("t1", 100, 100)
	m.addDate("d1", "t1", tourDay, 5, 0)
	var atInsert models.TourBooking
	m.afterInsert = func() {
		m.mu.Lock()
		for _, b := range m.bookings {
			atInsert = *b
		}
		m.mu.Unlock()
	}

	out := newTestAllocator(m).RequestBooking(context.Background(), request(2))

	require.True(t, out.Committed(), out.Detail)
	assert.True(t, atInsert.NeedsReconciliation)
	assert.False(t, atInsert.CapacityApplied)
	assert.Equal(t, ReconcileAwaitingIncrement, atInsert.ReconcileReason)

	stored := m.booking(out.Booking.ID)
	assert.True(t, stored.CapacityApplied)
	assert.False(t, stored.NeedsReconciliation)
	assert.False(t, out.Booking.NeedsReconciliation)
}

func TestRequestBooking_RowStaysFlaggedWhenBookkeepingFails(t *testing.T) {
	m := newMemLedger()
	m.addTour("t1", 100, 100)
	m.addDate("d1", "t1", tourDay, 5, 0)
	// the process loses the ledger right after the insert
	m.afterInsert = func() {
		m.mu.Lock()
		m.incrementErr = errors.New("connection reset")
		m.flagErr = errors.New("connection reset")
		m.mu.Unlock()
	}

	out := newTestAllocator(m).RequestBooking(context.Background(), request(2))
	require.Equal(t, ReasonLedgerInconsistency, out.Reason)

	stored := m.booking(out.Booking.ID)
	assert.True(t, stored.NeedsReconciliation)
	assert.Equal(t, ReconcileAwaitingIncrement, stored.ReconcileReason)

	flagged, err := m.ListFlaggedBookings(context.Background())
	require.NoError(t, err)
	assert.Len(t, flagged, 1)
}

func TestRequestBooking_MarkFailureIsInconsistency(t *testing.T) {
	m := newMemLedger()
	m.addTour("t1", 100, 100)
	m.addDate("d1", "t1", tourDay, 5, 0)
	m.markErr = errors.New("connection reset")

	out := newTestAllocator(m).RequestBooking(context.Background(), request(2))

	assert.Equal(t, KindFailed, out.Kind)
	assert.Equal(t, ReasonLedgerInconsistency, out.Reason)
	assert.Equal(t, 2, m.current("d1"))

	stored := m.booking(out.Booking.ID)
	assert.Equal(t, models.BookingPending, stored.Status)
	assert.False(t, stored.CapacityApplied)
	assert.True(t, stored.NeedsReconciliation)
	assert.True(t, strings.HasPrefix(stored.ReconcileReason, ReconcileCountedUnmarked), stored.ReconcileReason)
}

func TestRequestBooking_RegeneratesTakenBookingNumber(t *testing.T) {
	for _, be := range backends {
		t.Run(be.name, func(t *testing.T) {
			m := newMemLedger()
			m.addTour("t1", 100, 100)
			m.addDate("d1", "t1", tourDay, 5, 0)
			m.duplicateNumbers = 2

			out := newTestAllocator(be.wrap(m)).RequestBooking(context.Background(), request(1))

			require.True(t, out.Committed(), out.Detail)
			require.Len(t, m.numbersTried, 3)
			assert.Equal(t, m.numbersTried[2], out.Booking.BookingNumber)
			assert.Equal(t, 1, m.bookingCount())
			assert.Equal(t, 1, m.current("d1"))
		})
	}
}

func TestRequestBooking_GivesUpOnTakenBookingNumbers(t *testing.T) {
	for _, be := range backends {
		t.Run(be.name, func(t *testing.T) {
			m := newMemLedger()
			m.addTour("t1", 100, 100)
			m.addDate("d1", "t1", tourDay, 5, 0)
			m.duplicateNumbers = 100

			out := newTestAllocator(be.wrap(m)).RequestBooking(context.Background(), request(1))

			assert.Equal(t, KindFailed, out.Kind)
			assert.Equal(t, ReasonFailed, out.Reason)
			assert.Len(t, m.numbersTried, DefaultMaxAttempts)
			assert.Equal(t, 0, m.bookingCount())
			assert.Equal(t, 0, m.current("d1"))
		})
	}
}

func TestRequestBooking_ReleasesSeatsOnClosedDate(t *testing.T) {
	m := newMemLedger()
	m.addTour("t1", 100, 4)
	m.addDate("d1", "t1", tourDay, 5, 0)
	m.addDate("d2", "t1", tourDay.AddDate(0, 0, 1), 5, 0)
	// a parallel booking lands on d2 and an admin closes d1 meanwhile
	m.afterInsert = func() {
		m.mu.Lock()
		m.dates["d2"].CurrentBookings = 3
		m.dates["d1"].IsAvailable = false
		m.mu.Unlock()
	}

	// the check passes before the hook closes the date
	out := newTestAllocator(m).RequestBooking(context.Background(), request(3))

	assert.Equal(t, ReasonTourFull, out.Reason)
	assert.Equal(t, 0, m.current("d1"))
	assert.Equal(t, models.BookingRejected, m.booking(out.Booking.ID).Status)
}

func TestRequestBooking_AtomicContention(t *testing.T) {
	m := newMemLedger()
	m.addTour("t1", 100, 100)
	m.addDate("d1", "t1", tourDay, 5, 0)
	m.conflicts = 100

	out := newTestAllocator(&atomicMemLedger{memLedger: m}).RequestBooking(context.Background(), request(2))

	assert.Equal(t, KindFailed, out.Kind)
	assert.Equal(t, ReasonContention, out.Reason)
	assert.Equal(t, DefaultMaxAttempts, out.Attempts)
	assert.Equal(t, 0, m.bookingCount())
}

func TestRequestBooking_ConflictThenSuccess(t *testing.T) {
	for _, be := range backends {
		t.Run(be.name, func(t *testing.T) {
			m := newMemLedger()
			m.addTour("t1", 100, 100)
			m.addDate("d1", "t1", tourDay, 5, 0)
			m.conflicts = 1

			out := newTestAllocator(be.wrap(m)).RequestBooking(context.Background(), request(2))

			require.True(t, out.Committed(), out.Detail)
			assert.Equal(t, 2, out.Attempts)
			assert.Equal(t, 2, m.current("d1"))
		})
	}
}

func TestRequestBooking_TwoStepVoidsWhenCapacityGoneAfterInsert(t *testing.T) {
	m := newMemLedger()
	m.addTour("t1", 100, 100)
	m.addDate("d1", "t1", tourDay, 5, 0)
	// another client takes four seats between our insert and our increment
	m.afterInsert = func() {
		m.mu.Lock()
		m.dates["d1"].CurrentBookings = 4
		m.mu.Unlock()
	}

	out := newTestAllocator(m).RequestBooking(context.Background(), request(3))

	assert.Equal(t, KindRejected, out.Kind)
	assert.Equal(t, ReasonDateFull, out.Reason)
	require.NotNil(t, out.Booking)
	stored := m.booking(out.Booking.ID)
	assert.Equal(t, models.BookingRejected, stored.Status)
	assert.False(t, stored.CapacityApplied)
	assert.Equal(t, 4, m.current("d1"))
}

func TestRequestBooking_TwoStepReleasesSeatsOverTourCeiling(t *testing.T) {
	m := newMemLedger()
	m.addTour("t1", 100, 4)
	m.addDate("d1", "t1", tourDay, 5, 0)
	m.addDate("d2", "t1", tourDay.AddDate(0, 0, 1), 5, 0)
	// a parallel booking on the other date of the same tour lands first
	m.afterInsert = func() {
		m.mu.Lock()
		m.dates["d2"].CurrentBookings = 3
		m.mu.Unlock()
	}

	out := newTestAllocator(m).RequestBooking(context.Background(), request(3))

	assert.Equal(t, KindRejected, out.Kind)
	assert.Equal(t, ReasonTourFull, out.Reason)
	assert.Equal(t, 0, m.current("d1"))
	assert.Equal(t, models.BookingRejected, m.booking(out.Booking.ID).Status)
}

func TestRequestBooking_Validation(t *testing.T) {
	m := newMemLedger()
	m.addTour("t1", 100, 100)
	inactive := m.addTour("t2", 100, 100)
	inactive.IsActive = false
	m.addDate("d1", "t1", tourDay, 5, 0)
	m.addDate("past", "t1", testNow.AddDate(0, 0, -1), 5, 0)
	closed := m.addDate("closed", "t1", tourDay, 5, 0)
	closed.IsAvailable = false
	m.addDate("today", "t1", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), 5, 0)

	a := newTestAllocator(m)

	cases := []struct {
		name   string
		req    Request
		detail string
	}{
		{"zero people", request(0), DetailBadPartySize},
		{"negative people", request(-2), DetailBadPartySize},
		{"missing date", Request{UserID: "u", TourID: "t1", NumberOfPeople: 1}, DetailMissingIDs},
		{"missing user", Request{TourID: "t1", TourDateID: "d1", NumberOfPeople: 1}, DetailMissingIDs},
		{"unknown tour", Request{UserID: "u", TourID: "nope", TourDateID: "d1", NumberOfPeople: 1}, DetailTourUnavailable},
		{"inactive tour", Request{UserID: "u", TourID: "t2", TourDateID: "d1", NumberOfPeople: 1}, DetailTourUnavailable},
		{"date of other tour", Request{UserID: "u", TourID: "t1", TourDateID: "nope", NumberOfPeople: 1}, DetailDateUnavailable},
		{"date switched off", Request{UserID: "u", TourID: "t1", TourDateID: "closed", NumberOfPeople: 1}, DetailDateUnavailable},
		{"date in the past", Request{UserID: "u", TourID: "t1", TourDateID: "past", NumberOfPeople: 1}, DetailDateInPast},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := a.RequestBooking(context.Background(), tc.req)
			assert.Equal(t, KindRejected, out.Kind)
			assert.Equal(t, ReasonInvalidRequest, out.Reason)
			assert.Equal(t, tc.detail, out.Detail)
		})
	}
	assert.Equal(t, 0, m.bookingCount())

	out := a.RequestBooking(context.Background(), Request{UserID: "u", TourID: "t1", TourDateID: "today", NumberOfPeople: 1})
	assert.True(t, out.Committed(), "a date later today is still bookable")
}

func TestRequestBooking_AmountUsesPriceReadAtCommit(t *testing.T) {
	m := newMemLedger()
	m.addTour("t1", 100, 100)
	m.addDate("d1", "t1", tourDay, 5, 0)
	m.conflicts = 1

	reads := 0
	m.beforeRead = func(ctx context.Context) error {
		reads++
		if reads == 2 {
			m.setPrice("t1", 180)
		}
		return nil
	}

	out := newTestAllocator(&atomicMemLedger{memLedger: m}).RequestBooking(context.Background(), request(2))

	require.True(t, out.Committed())
	assert.Equal(t, "360", out.Booking.Amount.String())
}

func TestCheck_IsIdempotentOnUnchangedLedger(t *testing.T) {
	m := newMemLedger()
	m.addTour("t1", 100, 100)
	m.addDate("d1", "t1", tourDay, 5, 3)
	a := newTestAllocator(m)

	for _, people := range []int{1, 2, 3, 4} {
		_, first := a.check(context.Background(), request(people))
		_, second := a.check(context.Background(), request(people))
		assert.Equal(t, first == nil, second == nil, "people=%d", people)
		if first != nil && second != nil {
			assert.Equal(t, *first, *second)
		}
	}
	assert.Equal(t, 3, m.current("d1"))
}

func TestRequestBooking_Timeout(t *testing.T) {
	for _, be := range backends {
		t.Run(be.name, func(t *testing.T) {
			m := newMemLedger()
			m.addTour("t1", 100, 100)
			m.addDate("d1", "t1", tourDay, 5, 0)
			m.beforeRead = func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			}

			a := newTestAllocator(be.wrap(m))
			a.cfg.RequestTimeout = 20 * time.Millisecond

			out := a.RequestBooking(context.Background(), request(1))

			assert.Equal(t, KindFailed, out.Kind)
			assert.Equal(t, ReasonTimeout, out.Reason)
			assert.Equal(t, 0, m.bookingCount())
		})
	}
}

func TestRequestBooking_CancelledBeforeWrite(t *testing.T) {
	for _, be := range backends {
		t.Run(be.name, func(t *testing.T) {
			m := newMemLedger()
			m.addTour("t1", 100, 100)
			m.addDate("d1", "t1", tourDay, 5, 0)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			out := newTestAllocator(be.wrap(m)).RequestBooking(ctx, request(1))

			assert.Equal(t, KindFailed, out.Kind)
			assert.Equal(t, ReasonFailed, out.Reason)
			assert.Equal(t, 0, m.bookingCount())
			assert.Equal(t, 0, m.current("d1"))
		})
	}
}

func TestRequestBooking_CancelAfterInsertStillFinishes(t *testing.T) {
	m := newMemLedger()
	m.addTour("t1", 100, 100)
	m.addDate("d1", "t1", tourDay, 5, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.afterInsert = cancel

	out := newTestAllocator(m).RequestBooking(ctx, request(2))

	require.True(t, out.Committed(), out.Detail)
	assert.Equal(t, 2, m.current("d1"))
	assert.True(t, m.booking(out.Booking.ID).CapacityApplied)
}

func TestRequestBooking_CapacityNeverExceeded(t *testing.T) {
	for _, be := range backends {
		t.Run(be.name, func(t *testing.T) {
			for round := 0; round < 20; round++ {
				m := newMemLedger()
				m.addTour("t1", 100, 12)
				m.addDate("d1", "t1", tourDay, 7, 0)
				m.addDate("d2", "t1", tourDay.AddDate(0, 0, 1), 7, 0)
				a := newTestAllocator(be.wrap(m))

				var wg sync.WaitGroup
				for i := 0; i < 10; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						req := request(1 + i%3)
						req.TourDateID = []string{"d1", "d2"}[i%2]
						a.RequestBooking(context.Background(), req)
					}(i)
				}
				wg.Wait()

				d1, d2 := m.current("d1"), m.current("d2")
				assert.LessOrEqual(t, d1, 7)
				assert.LessOrEqual(t, d2, 7)
				if be.name == "atomic" {
					assert.LessOrEqual(t, d1+d2, 12)
				}

				counted := map[string]int{}
				m.mu.Lock()
				for _, b := range m.bookings {
					if b.CapacityApplied {
						counted[b.TourDateID] += b.NumberOfPeople
					}
				}
				m.mu.Unlock()
				assert.Equal(t, d1, counted["d1"])
				assert.Equal(t, d2, counted["d2"])
			}
		})
	}
}

func TestRequestBooking_RecordsMetrics(t *testing.T) {
	m := newMemLedger()
	m.addTour("t1", 100, 100)
	m.addDate("d1", "t1", tourDay, 2, 0)

	reg := prometheus.NewRegistry()
	a := NewAllocator(m, metrics.NewBookingMetrics(reg), logger.New(io.Discard), AllocatorConfig{})
	a.now = func() time.Time { return testNow }

	a.RequestBooking(context.Background(), request(2))
	a.RequestBooking(context.Background(), request(1))

	count, err := testutil.GatherAndCount(reg, "tourbooking_booking_outcomes_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
