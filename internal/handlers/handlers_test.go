package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/storefront/internal/db"
	"github.com/Skotchmaster/storefront/internal/payments"
	"github.com/Skotchmaster/storefront/internal/repo"
	"github.com/Skotchmaster/storefront/internal/service"
)

const checkoutBody = `{
	"method": "paypal",
	"items": [
		{"product_id": "1", "title": "Mug", "price": "10.00", "quantity": 2},
		{"product_id": "2", "title": "Pen", "price": "5.00", "quantity": 1}
	],
	"billing": {
		"name": "Jane Doe", "email": "jane@example.com", "address": "1 Main St",
		"city": "Austin", "state": "TX", "zip": "73301", "country": "US"
	}
}`

type fakePayPal struct {
	mu         sync.Mutex
	confirms   int
	confirmErr error
}

func (g *fakePayPal) Method() payments.Method               { return payments.MethodPayPal }
func (g *fakePayPal) OrderIDPolicy() payments.OrderIDPolicy { return payments.PolicyProviderRef }

func (g *fakePayPal) CreateSession(_ context.Context, req payments.SessionRequest) (payments.SessionHandle, error) {
	return payments.SessionHandle{
		Method:      payments.MethodPayPal,
		ProviderRef: "PP-" + req.SessionID,
		ApproveURL:  "https://paypal.example/approve",
	}, nil
}

func (g *fakePayPal) Confirm(_ context.Context, h payments.SessionHandle, _ payments.Confirmation) (payments.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.confirms++
	if g.confirmErr != nil {
		return payments.Result{}, g.confirmErr
	}
	return payments.Result{
		Method:         payments.MethodPayPal,
		Status:         payments.StatusSucceeded,
		ProviderStatus: "COMPLETED",
		ProviderRef:    h.ProviderRef,
		TransactionID:  "CAP-1",
		Amount:         decimal.RequireFromString("27.00"),
		Currency:       "USD",
	}, nil
}

type handlerEnv struct {
	repo     *repo.GormRepo
	gateway  *fakePayPal
	checkout *CheckoutHandler
	orders   *OrderHandler
	admin    *AdminHandler
	userID   uuid.UUID
}

func newHandlerEnv(t *testing.T) *handlerEnv {
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

	gw := &fakePayPal{}
	reg, err := payments.NewRegistry(gw)
	require.NoError(t, err)

	rec := service.NewReconciler(r, 3)
	rec.Sleep = func(context.Context, time.Duration) error { return nil }
	checkout := &service.CheckoutService{
		Repo:       r,
		Gateways:   reg,
		Reconciler: rec,
		Currency:   "USD",
		TaxRate:    decimal.RequireFromString("0.08"),
	}
	orders := &service.OrderService{Repo: r}
	return &handlerEnv{
		repo:     r,
		gateway:  gw,
		checkout: &CheckoutHandler{Svc: checkout},
		orders:   &OrderHandler{Svc: orders},
		admin:    &AdminHandler{Orders: orders, Checkout: checkout},
		userID:   uuid.New(),
	}
}

// newCtx builds an echo context for the env's user. An empty user skips
// authentication.
func newCtx(method, target, body string, user uuid.UUID) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if user != uuid.Nil {
		c.Set("user_id", user.String())
	}
	return c, rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func httpStatus(t *testing.T, rec *httptest.ResponseRecorder, err error) int {
	t.Helper()
	if err == nil {
		return rec.Code
	}
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "unexpected error %v", err)
	return he.Code
}

func (env *handlerEnv) createSession(t *testing.T) string {
	t.Helper()
	c, rec := newCtx(http.MethodPost, "/api/v1/checkout/sessions", checkoutBody, env.userID)
	require.NoError(t, env.checkout.CreateSession(c))
	require.Equal(t, http.StatusCreated, rec.Code)
	return decodeBody(t, rec)["session_id"].(string)
}

func (env *handlerEnv) confirm(t *testing.T, sessionID, body string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	c, rec := newCtx(http.MethodPost, "/api/v1/checkout/sessions/"+sessionID+"/confirm", body, env.userID)
	c.SetParamNames("id")
	c.SetParamValues(sessionID)
	return rec, env.checkout.Confirm(c)
}
