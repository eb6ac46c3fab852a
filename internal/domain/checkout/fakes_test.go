package checkout

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/address"
	"github.com/xenking/kart-checkout/internal/domain/basket"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/tax"
)

// --- Session store ---

type memStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	created  []string
	writes   int
	reads    int
}

func newMemStore() *memStore {
	return &memStore{sessions: map[string]*Session{}}
}

func (m *memStore) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sessions {
		if existing.BasketID == s.BasketID && existing.Status == StatusActive {
			return ErrActiveSessionExists
		}
	}
	cp := *s
	m.sessions[s.ID] = &cp
	m.created = append(m.created, s.ID)
	m.writes++
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) FindActiveForBasket(_ context.Context, basketID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range slices.Backward(m.created) {
		s := m.sessions[id]
		if s.BasketID == basketID && s.Status == StatusActive {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrSessionNotFound
}

func (m *memStore) Update(_ context.Context, id string, p Patch) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	updated := p.Apply(*s)
	m.sessions[id] = &updated
	m.writes++
	cp := updated
	return &cp, nil
}

func (m *memStore) ExpireBefore(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.sessions {
		if s.Status == StatusActive && s.ExpiresAt.Before(now) {
			s.Status = StatusExpired
			n++
		}
	}
	m.writes++
	return n, nil
}

func (m *memStore) status(id string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id].Status
}

// --- Baskets ---

type memBaskets struct {
	lines map[string][]basket.Line
	err   error
}

func (b *memBaskets) Lines(_ context.Context, basketID string) ([]basket.Line, error) {
	if b.err != nil {
		return nil, b.err
	}
	return slices.Clone(b.lines[basketID]), nil
}

// --- Methods ---

type memMethods map[string]catalog.Method

func (m memMethods) EnabledMethod(_ context.Context, kind catalog.Kind, id string) (*catalog.Method, error) {
	method, ok := m[id]
	if !ok || method.Kind != kind {
		return nil, catalog.ErrNotFound
	}
	if !method.IsEnabled {
		return nil, catalog.ErrMethodDisabled
	}
	return &method, nil
}

// --- Tax ---

type stubTax struct {
	amount decimal.Decimal
	err    error
	calls  int
}

func (s *stubTax) CalculateBasketTax(context.Context, string, tax.Jurisdiction, string) (*tax.BasketTax, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &tax.BasketTax{TaxAmount: s.amount}, nil
}

type memRates []tax.Rate

func (r memRates) ListActiveByCountry(_ context.Context, country string) ([]tax.Rate, error) {
	var out []tax.Rate
	for _, rate := range r {
		if rate.Country == country && rate.Status == tax.RateActive {
			out = append(out, rate)
		}
	}
	return out, nil
}

type memExemptions map[string][]tax.Exemption

func (e memExemptions) ListByCustomer(_ context.Context, customerID string) ([]tax.Exemption, error) {
	return e[customerID], nil
}

type noCategories struct{}

func (noCategories) TaxCategory(context.Context, string) (*string, error) { return nil, nil }

// --- Order transaction ---

// memDB buffers every write of a transaction and applies them only when the
// callback succeeds.
type memDB struct {
	sessions *memStore
	baskets  *memBaskets
	orders   map[string]*order.Order
	items    map[string]int64
	failAt   string
}

func newMemDB(sessions *memStore, baskets *memBaskets) *memDB {
	return &memDB{
		sessions: sessions,
		baskets:  baskets,
		orders:   map[string]*order.Order{},
		items:    map[string]int64{},
	}
}

var errInjected = errors.New("injected failure")

type memTx struct {
	db          *memDB
	order       *order.Order
	itemsFor    string
	items       int64
	completed   string
	completedAt time.Time
	cleared     string
}

func (db *memDB) InTx(ctx context.Context, fn func(ctx context.Context, tx OrderTx) error) error {
	tx := &memTx{db: db}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if tx.order != nil {
		db.orders[tx.order.ID] = tx.order
	}
	if tx.itemsFor != "" {
		db.items[tx.itemsFor] = tx.items
	}
	if tx.completed != "" {
		db.sessions.mu.Lock()
		s := db.sessions.sessions[tx.completed]
		s.Status = StatusCompleted
		at := tx.completedAt
		s.CompletedAt = &at
		db.sessions.mu.Unlock()
	}
	if tx.cleared != "" {
		delete(db.baskets.lines, tx.cleared)
	}
	return nil
}

func (tx *memTx) InsertOrder(_ context.Context, o *order.Order) error {
	if tx.db.failAt == "order" {
		return errInjected
	}
	tx.order = o
	return nil
}

func (tx *memTx) InsertOrderItems(_ context.Context, orderID, basketID string) (int64, error) {
	if tx.db.failAt == "items" {
		return 0, errInjected
	}
	tx.itemsFor = orderID
	tx.items = int64(len(tx.db.baskets.lines[basketID]))
	return tx.items, nil
}

func (tx *memTx) CompleteSession(_ context.Context, sessionID string, at time.Time) error {
	if tx.db.failAt == "session" {
		return errInjected
	}
	if tx.db.sessions.status(sessionID) != StatusActive {
		return ErrSessionNotActive
	}
	tx.completed = sessionID
	tx.completedAt = at
	return nil
}

func (tx *memTx) ClearBasket(_ context.Context, basketID string) error {
	if tx.db.failAt == "basket" {
		return errInjected
	}
	tx.cleared = basketID
	return nil
}

type recordingPublisher struct {
	orders []string
	err    error
}

func (p *recordingPublisher) OrderCreated(_ context.Context, o *order.Order) error {
	p.orders = append(p.orders, o.ID)
	return p.err
}

// --- Fixture ---

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func usAddress() address.Address {
	return address.Address{
		FirstName:    "Ada",
		LastName:     "Lovelace",
		AddressLine1: "1 Market St",
		City:         "San Francisco",
		Region:       "CA",
		PostalCode:   "94105",
		Country:      "US",
	}
}

type fixture struct {
	clock     *clock
	store     *memStore
	baskets   *memBaskets
	methods   memMethods
	db        *memDB
	events    *recordingPublisher
	manager   *Manager
	committer *Coordinator
}

func newFixture(calc tax.Calculator) *fixture {
	f := &fixture{
		clock: &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		store: newMemStore(),
		baskets: &memBaskets{lines: map[string][]basket.Line{
			"b1": {
				{ProductID: "shirt", Quantity: 2, Price: d("29.99")},
				{ProductID: "mug", Quantity: 1, Price: d("15.50")},
			},
		}},
		methods: memMethods{
			"std":  {ID: "std", Kind: catalog.KindShipping, Name: "Standard", Price: d("5.99"), IsEnabled: true},
			"off":  {ID: "off", Kind: catalog.KindShipping, Name: "Retired", Price: d("1.00")},
			"card": {ID: "card", Kind: catalog.KindPayment, Name: "Card", IsEnabled: true},
		},
		events: &recordingPublisher{},
	}
	f.db = newMemDB(f.store, f.baskets)
	f.manager = NewManager(f.store, f.baskets, f.methods, calc, WithClock(f.clock.Now))
	f.committer = NewCoordinator(f.manager, f.db, f.events)
	return f
}

// newEngineFixture wires a real tax engine over the fixture basket.
func newEngineFixture(rates memRates, exemptions memExemptions) *fixture {
	f := newFixture(nil)
	f.manager.taxes = tax.NewEngine(rates, exemptions, noCategories{}, f.baskets)
	return f
}
