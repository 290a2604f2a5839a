package booking

import (
	"context"
	"sync"
	"time"

	"ms-tourbooking/internal/models"

	"github.com/shopspring/decimal"
)

// memLedger is an in-memory two-step ledger with the same conditional write
// semantics as the real stores.
type memLedger struct {
	mu       sync.Mutex
	tours    map[string]*models.Tour
	dates    map[string]*models.TourDate
	bookings map[string]*models.TourBooking

	// forced failures and hooks
	conflicts      int
	incrementErr   error
	insertErr      error
	flagErr        error
	markErr        error
	afterInsert    func()
	beforeRead     func(ctx context.Context) error
	incrementCalls int

	// the next duplicateNumbers inserts collide on the booking number
	duplicateNumbers int
	numbersTried     []string
}

func newMemLedger() *memLedger {
	return &memLedger{
		tours:    map[string]*models.Tour{},
		dates:    map[string]*models.TourDate{},
		bookings: map[string]*models.TourBooking{},
	}
}

func (m *memLedger) addTour(id string, price int64, maxParticipants int) *models.Tour {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &models.Tour{ID: id, Name: "Tour " + id, Price: decimal.NewFromInt(price), MaxParticipants: maxParticipants, IsActive: true}
	m.tours[id] = t
	return t
}

func (m *memLedger) addDate(id, tourID string, day time.Time, max, current int) *models.TourDate {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := &models.TourDate{ID: id, TourID: tourID, AvailableDate: day, MaxBookings: max, CurrentBookings: current, IsAvailable: true}
	m.dates[id] = d
	return d
}

func (m *memLedger) setPrice(tourID string, price int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tours[tourID].Price = decimal.NewFromInt(price)
}

func (m *memLedger) current(dateID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dates[dateID].CurrentBookings
}

func (m *memLedger) booking(id string) models.TourBooking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.bookings[id]
}

func (m *memLedger) bookingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bookings)
}

func (m *memLedger) GetTour(ctx context.Context, tourID string) (*models.Tour, error) {
	if m.beforeRead != nil {
		if err := m.beforeRead(ctx); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tours[tourID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memLedger) GetTourDate(ctx context.Context, tourID, tourDateID string) (*models.TourDate, error) {
	return m.getDate(tourID, tourDateID, true)
}

func (m *memLedger) GetTourDateRow(ctx context.Context, tourID, tourDateID string) (*models.TourDate, error) {
	return m.getDate(tourID, tourDateID, false)
}

func (m *memLedger) getDate(tourID, tourDateID string, availableOnly bool) (*models.TourDate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dates[tourDateID]
	if !ok || d.TourID != tourID || (availableOnly && !d.IsAvailable) {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memLedger) setAvailable(dateID string, available bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dates[dateID].IsAvailable = available
}

// takeNumberLocked records the booking number and reports whether it collides.
func (m *memLedger) takeNumberLocked(number string) bool {
	m.numbersTried = append(m.numbersTried, number)
	if m.duplicateNumbers > 0 {
		m.duplicateNumbers--
		return true
	}
	return false
}

func (m *memLedger) SumBookingsForTour(ctx context.Context, tourID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := 0
	for _, d := range m.dates {
		if d.TourID == tourID {
			sum += d.CurrentBookings
		}
	}
	return sum, nil
}

func (m *memLedger) InsertBooking(ctx context.Context, b *models.TourBooking) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.insertErr != nil {
		m.mu.Unlock()
		return m.insertErr
	}
	if m.takeNumberLocked(b.BookingNumber) {
		m.mu.Unlock()
		return ErrDuplicateBookingNumber
	}
	cp := *b
	m.bookings[b.ID] = &cp
	hook := m.afterInsert
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func (m *memLedger) IncrementDateBookings(ctx context.Context, tourDateID string, delta, expectedCurrent int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incrementCalls++
	if m.incrementErr != nil {
		return m.incrementErr
	}
	if m.conflicts > 0 {
		m.conflicts--
		return ErrConflict
	}
	return m.applyLocked(tourDateID, delta, expectedCurrent)
}

func (m *memLedger) applyLocked(tourDateID string, delta, expectedCurrent int) error {
	d, ok := m.dates[tourDateID]
	if !ok {
		return ErrConflict
	}
	next := d.CurrentBookings + delta
	if d.CurrentBookings != expectedCurrent || next < 0 || next > d.MaxBookings {
		return ErrConflict
	}
	d.CurrentBookings = next
	return nil
}

func (m *memLedger) MarkCapacityApplied(ctx context.Context, bookingID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	b, ok := m.bookings[bookingID]
	if !ok {
		return ErrNotFound
	}
	b.CapacityApplied = true
	b.NeedsReconciliation = false
	b.ReconcileReason = ""
	return nil
}

func (m *memLedger) FlagBooking(ctx context.Context, bookingID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flagErr != nil {
		return m.flagErr
	}
	b, ok := m.bookings[bookingID]
	if !ok {
		return ErrNotFound
	}
	b.NeedsReconciliation = true
	b.ReconcileReason = reason
	return nil
}

func (m *memLedger) VoidBooking(ctx context.Context, bookingID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok {
		return ErrNotFound
	}
	b.Status = models.BookingRejected
	b.CapacityApplied = false
	b.NeedsReconciliation = false
	b.ReconcileReason = reason
	return nil
}

func (m *memLedger) ListFlaggedBookings(ctx context.Context) ([]models.TourBooking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TourBooking
	for _, b := range m.bookings {
		if b.NeedsReconciliation && b.Status == models.BookingPending {
			out = append(out, *b)
		}
	}
	return out, nil
}

// atomicMemLedger adds the single transaction commit on top of memLedger.
type atomicMemLedger struct {
	*memLedger
	commitErr error
}

func (m *atomicMemLedger) CommitBooking(ctx context.Context, b *models.TourBooking, expectedCurrent int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}
	if m.conflicts > 0 {
		m.conflicts--
		return ErrConflict
	}

	sum := 0
	for _, d := range m.dates {
		if d.TourID == b.TourID {
			sum += d.CurrentBookings
		}
	}
	if sum+b.NumberOfPeople > m.tours[b.TourID].MaxParticipants {
		return ErrConflict
	}
	if m.takeNumberLocked(b.BookingNumber) {
		return ErrDuplicateBookingNumber
	}
	if err := m.applyLocked(b.TourDateID, b.NumberOfPeople, expectedCurrent); err != nil {
		return err
	}
	cp := *b
	cp.CapacityApplied = true
	m.bookings[b.ID] = &cp
	return nil
}
