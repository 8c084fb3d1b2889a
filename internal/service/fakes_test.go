package service

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"

	"github.com/Skotchmaster/storefront/internal/billing"
	"github.com/Skotchmaster/storefront/internal/cart"
	"github.com/Skotchmaster/storefront/internal/db"
	"github.com/Skotchmaster/storefront/internal/logging"
	"github.com/Skotchmaster/storefront/internal/models"
	"github.com/Skotchmaster/storefront/internal/payments"
	"github.com/Skotchmaster/storefront/internal/repo"
)

var errStorage = errors.New("storage down")

func newTestRepo(t *testing.T) *repo.GormRepo {
	t.Helper()
	gdb, err := db.Open(context.Background(), "sqlite::memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	r := repo.New(gdb)
	require.NoError(t, r.Migrate(context.Background()))
	return r
}

// logCtx returns a context whose logger writes into the returned buffer.
func logCtx() (context.Context, *bytes.Buffer) {
	var buf bytes.Buffer
	return logging.IntoContext(context.Background(), logging.NewWithWriter("debug", &buf)), &buf
}

func noSleep(context.Context, time.Duration) error { return nil }

type publishedEvent struct {
	Topic string
	Key   string
	Event any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *fakePublisher) PublishEvent(_ context.Context, topic, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Topic: topic, Key: key, Event: event})
	return nil
}

func (p *fakePublisher) onTopic(topic string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

type fakeIndexer struct {
	mu       sync.Mutex
	indexed  []string
	statuses []string
}

func (f *fakeIndexer) IndexOrder(_ context.Context, o *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, o.OrderID)
	f.statuses = append(f.statuses, o.PaymentStatus)
	return nil
}

// flakyStore fails order writes a fixed number of times.
type flakyStore struct {
	*repo.GormRepo
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyStore) fail() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return true
	}
	return false
}

func (f *flakyStore) UpsertOrder(ctx context.Context, o *models.Order) (*models.Order, bool, error) {
	if f.fail() {
		return nil, false, errStorage
	}
	return f.GormRepo.UpsertOrder(ctx, o)
}

func (f *flakyStore) InsertOrder(ctx context.Context, o *models.Order) error {
	if f.fail() {
		return errStorage
	}
	return f.GormRepo.InsertOrder(ctx, o)
}

type fakeGateway struct {
	method payments.Method
	policy payments.OrderIDPolicy

	mu           sync.Mutex
	createCalls  int
	confirmCalls int
	lastRequest  payments.SessionRequest
	lastHandle   payments.SessionHandle
	createErr    error
	confirmRes   payments.Result
	confirmErr   error
}

func (g *fakeGateway) Method() payments.Method               { return g.method }
func (g *fakeGateway) OrderIDPolicy() payments.OrderIDPolicy { return g.policy }

func (g *fakeGateway) CreateSession(_ context.Context, req payments.SessionRequest) (payments.SessionHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	g.lastRequest = req
	if g.createErr != nil {
		return payments.SessionHandle{}, g.createErr
	}
	h := payments.SessionHandle{Method: g.method, OrderID: req.OrderID}
	switch g.method {
	case payments.MethodCard:
		h.ProviderRef = "pi_" + req.SessionID
		h.ClientSecret = h.ProviderRef + "_secret"
	case payments.MethodPayPal:
		h.ProviderRef = "PP-" + req.SessionID
		h.ApproveURL = "https://paypal.example/approve"
	}
	return h, nil
}

func (g *fakeGateway) Confirm(_ context.Context, h payments.SessionHandle, c payments.Confirmation) (payments.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.confirmCalls++
	g.lastHandle = h
	if g.confirmErr != nil {
		return g.confirmRes, g.confirmErr
	}
	r := g.confirmRes
	if r.ProviderRef == "" {
		r.ProviderRef = h.ProviderRef
	}
	return r, nil
}

func (g *fakeGateway) counts() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.createCalls, g.confirmCalls
}

type fakeIntents struct {
	mu    sync.Mutex
	calls int
	err   error
	byID  map[string]*stripe.PaymentIntent
}

func (f *fakeIntents) Intent(_ context.Context, id string) (*stripe.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		err := f.err
		f.err = nil
		return nil, err
	}
	pi, ok := f.byID[id]
	if !ok {
		return nil, payments.ErrInvalidRequest
	}
	return pi, nil
}

func validBilling() billing.Info {
	return billing.Info{
		Name:    "Jane Doe",
		Email:   "jane@example.com",
		Address: "1 Main St",
		City:    "Austin",
		State:   "TX",
		ZipCode: "73301",
		Country: "US",
	}
}

func testItems() []cart.Item {
	return []cart.Item{
		{ProductID: "1", Title: "Mug", UnitPrice: decimal.RequireFromString("10.00"), Quantity: 2},
		{ProductID: "2", Title: "Pen", UnitPrice: decimal.RequireFromString("5.00"), Quantity: 1},
	}
}

type testEnv struct {
	repo      *repo.GormRepo
	store     *flakyStore
	events    *fakePublisher
	index     *fakeIndexer
	card      *fakeGateway
	paypal    *fakeGateway
	intents   *fakeIntents
	checkout  *CheckoutService
	userID    uuid.UUID
	persisted func() int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	r := newTestRepo(t)
	env := &testEnv{
		repo:    r,
		store:   &flakyStore{GormRepo: r},
		events:  &fakePublisher{},
		index:   &fakeIndexer{},
		card:    &fakeGateway{method: payments.MethodCard, policy: payments.PolicyPregenerated},
		paypal:  &fakeGateway{method: payments.MethodPayPal, policy: payments.PolicyProviderRef},
		intents: &fakeIntents{byID: map[string]*stripe.PaymentIntent{}},
		userID:  uuid.New(),
	}
	reg, err := payments.NewRegistry(env.card, env.paypal)
	require.NoError(t, err)

	rec := NewReconciler(env.store, 3)
	rec.Events = env.events
	rec.Index = env.index
	rec.Topics = Topics{Orders: "order_events", Alerts: "checkout_alerts"}
	rec.Sleep = noSleep

	env.checkout = &CheckoutService{
		Repo:          r,
		Gateways:      reg,
		Reconciler:    rec,
		Currency:      "USD",
		TaxRate:       decimal.RequireFromString("0.08"),
		StripeIntents: env.intents,
	}
	env.persisted = func() int64 {
		var n int64
		require.NoError(t, r.DB.Model(&models.Order{}).Count(&n).Error)
		return n
	}
	return env
}
