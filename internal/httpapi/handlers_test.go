package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"posrider/backend/internal/cache"
	"posrider/backend/internal/domain"
	"posrider/backend/internal/service"
	"posrider/backend/internal/store/memory"
)

const testSecret = "test-secret-key-that-is-long-enough!"

type testEnv struct {
	handler http.Handler
}

// newTestEnv builds the full router over a seeded memory store so handler
// tests exercise the complete request path.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := zaptest.NewLogger(t)
	repo := memory.NewSeeded(log)
	svc := service.New(repo, nil, service.DefaultOptions(), log)
	auth := NewAuthManager(testSecret, time.Hour, repo)
	api := New(svc, auth, Options{
		Idempotency:    cache.NewMemoryIdempotencyStore(),
		IdempotencyTTL: time.Hour,
		Logger:         log,
	})
	return &testEnv{handler: api.Handler()}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T, email, password string) (string, domain.UserProfile) {
	t.Helper()

	rec := e.do(t, http.MethodPost, "/api/auth/login", "", domain.LoginRequest{Email: email, Password: password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp domain.LoginResponse
	decodeBody(t, rec, &resp)
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken, resp.User
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(dest), rec.Body.String())
}

func (e *testEnv) firstProduct(t *testing.T, token string) domain.Product {
	t.Helper()
	rec := e.do(t, http.MethodGet, "/api/products", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var products []domain.Product
	decodeBody(t, rec, &products)
	require.NotEmpty(t, products)
	return products[0]
}

func (e *testEnv) warehouseStock(t *testing.T, token, productID string) int {
	t.Helper()
	rec := e.do(t, http.MethodGet, "/api/products/"+productID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var product domain.Product
	decodeBody(t, rec, &product)
	return product.StockInWarehouse
}

func (e *testEnv) riderStock(t *testing.T, token, productID string) int {
	t.Helper()
	rec := e.do(t, http.MethodGet, "/api/rider-stock", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stock []domain.RiderStock
	decodeBody(t, rec, &stock)
	for _, row := range stock {
		if row.ProductID == productID {
			return row.Quantity
		}
	}
	return 0
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/health", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	decodeBody(t, rec, &body)
	assert.Equal(t, true, body["ok"])
}

func TestLoginReturnsBearerTokenAndProfile(t *testing.T) {
	env := newTestEnv(t)

	token, user := env.login(t, "ADMIN@pos.com", "admin123")

	assert.NotEmpty(t, token)
	assert.Equal(t, "admin@pos.com", user.Email)
	assert.Equal(t, domain.RoleAdmin, user.Role)

	rec := env.do(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me domain.UserProfile
	decodeBody(t, rec, &me)
	assert.Equal(t, user.ID, me.ID)
}

func TestLoginInvalidCredentials(t *testing.T) {
	env := newTestEnv(t)

	for _, req := range []domain.LoginRequest{
		{Email: "admin@pos.com", Password: "wrong-pass"},
		{Email: "nobody@pos.com", Password: "admin123"},
	} {
		rec := env.do(t, http.MethodPost, "/api/auth/login", "", req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, req.Email)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/products", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/products", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRiderIsForbiddenOnAdminRoutes(t *testing.T) {
	env := newTestEnv(t)
	riderToken, _ := env.login(t, "rider@pos.com", "rider123")

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/productions"},
		{http.MethodPost, "/api/distributions"},
		{http.MethodPost, "/api/stock-opname"},
		{http.MethodGet, "/api/users"},
		{http.MethodGet, "/api/reports/summary"},
		{http.MethodGet, "/api/users/reports"},
		{http.MethodPut, "/api/returns/some-id/approve"},
	} {
		rec := env.do(t, tc.method, tc.path, riderToken, map[string]any{})
		assert.Equal(t, http.StatusForbidden, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestDistributeSellAndReadBack(t *testing.T) {
	env := newTestEnv(t)
	adminToken, _ := env.login(t, "admin@pos.com", "admin123")
	riderToken, rider := env.login(t, "rider@pos.com", "rider123")
	product := env.firstProduct(t, adminToken)
	before := env.warehouseStock(t, adminToken, product.ID)

	rec := env.do(t, http.MethodPost, "/api/distributions", adminToken, domain.DistributionRequest{
		RiderID: rider.ID,
		Items:   []domain.DistributionItem{{ProductID: product.ID, Quantity: 10}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, before-10, env.warehouseStock(t, adminToken, product.ID))
	assert.Equal(t, 10, env.riderStock(t, riderToken, product.ID))

	rec = env.do(t, http.MethodPost, "/api/transactions", riderToken, domain.SaleRequest{
		Items:         []domain.SaleItem{{ProductID: product.ID, Quantity: 3}},
		PaymentMethod: "qris",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sale domain.SaleResponse
	decodeBody(t, rec, &sale)
	assert.True(t, product.Price.Mul(decimal.NewFromInt(3)).Equal(sale.Total))

	assert.Equal(t, 7, env.riderStock(t, riderToken, product.ID))

	rec = env.do(t, http.MethodGet, "/api/transactions/"+sale.TransactionID, riderToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var txn domain.Transaction
	decodeBody(t, rec, &txn)
	require.Len(t, txn.Items, 1)
	assert.Equal(t, 3, txn.Items[0].Quantity)

	rec = env.do(t, http.MethodGet, "/api/transactions?start_date=2000-01-01", riderToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []domain.Transaction
	decodeBody(t, rec, &list)
	assert.Len(t, list, 1)

	rec = env.do(t, http.MethodGet, "/api/rider-stock/"+rider.ID, adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSaleOverStockIsRejected(t *testing.T) {
	env := newTestEnv(t)
	adminToken, _ := env.login(t, "admin@pos.com", "admin123")
	riderToken, _ := env.login(t, "rider@pos.com", "rider123")
	product := env.firstProduct(t, adminToken)

	rec := env.do(t, http.MethodPost, "/api/transactions", riderToken, domain.SaleRequest{
		Items: []domain.SaleItem{{ProductID: product.ID, Quantity: 1}},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, env.riderStock(t, riderToken, product.ID))
}

func TestReturnApprovalRestocksWarehouse(t *testing.T) {
	env := newTestEnv(t)
	adminToken, _ := env.login(t, "admin@pos.com", "admin123")
	riderToken, rider := env.login(t, "rider@pos.com", "rider123")
	product := env.firstProduct(t, adminToken)
	start := env.warehouseStock(t, adminToken, product.ID)

	rec := env.do(t, http.MethodPost, "/api/distributions", adminToken, domain.DistributionRequest{
		RiderID: rider.ID,
		Items:   []domain.DistributionItem{{ProductID: product.ID, Quantity: 5}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/returns", riderToken, domain.StockRequestCreate{
		ProductID: product.ID, Quantity: 2, Notes: "unsold",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created domain.StockRequestCreateResponse
	decodeBody(t, rec, &created)
	require.Len(t, created.Requests, 1)

	rec = env.do(t, http.MethodPut, "/api/returns/"+created.Requests[0].ID+"/approve", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, start-3, env.warehouseStock(t, adminToken, product.ID))
	assert.Equal(t, 3, env.riderStock(t, riderToken, product.ID))

	rec = env.do(t, http.MethodPut, "/api/returns/"+created.Requests[0].ID+"/approve", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/returns/history", riderToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []domain.StockRequestHistory
	decodeBody(t, rec, &history)
	require.Len(t, history, 1)
	assert.Equal(t, domain.RequestStatusApproved, history[0].Status)
}

func TestRejectRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	riderToken, _ := env.login(t, "rider@pos.com", "rider123")

	rec := env.do(t, http.MethodPost, "/api/rejects", riderToken, domain.StockRequestCreate{
		ProductID: "any", Quantity: 1,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterRoleRules(t *testing.T) {
	env := newTestEnv(t)
	adminToken, _ := env.login(t, "admin@pos.com", "admin123")
	superToken, _ := env.login(t, "superadmin@pos.com", "admin123")

	rec := env.do(t, http.MethodPost, "/api/auth/register", adminToken, domain.RegisterRequest{
		Email: "second.admin@pos.com", Password: "secret123", FullName: "Second Admin", Role: domain.RoleAdmin,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/auth/register", adminToken, domain.RegisterRequest{
		Email: "rider2@pos.com", Password: "secret123", FullName: "Rider Dua",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/auth/register", adminToken, domain.RegisterRequest{
		Email: "RIDER2@pos.com", Password: "secret123", FullName: "Rider Dua Lagi",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/auth/register", superToken, domain.RegisterRequest{
		Email: "second.admin@pos.com", Password: "secret123", FullName: "Second Admin", Role: domain.RoleAdmin,
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	env.login(t, "rider2@pos.com", "secret123")
}

func TestUserListingVisibility(t *testing.T) {
	env := newTestEnv(t)
	adminToken, _ := env.login(t, "admin@pos.com", "admin123")
	superToken, _ := env.login(t, "superadmin@pos.com", "admin123")

	var asAdmin, asSuper []domain.UserProfile
	rec := env.do(t, http.MethodGet, "/api/users", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &asAdmin)
	rec = env.do(t, http.MethodGet, "/api/users", superToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &asSuper)

	require.Len(t, asAdmin, 1)
	assert.Equal(t, domain.RoleRider, asAdmin[0].Role)
	assert.Len(t, asSuper, 3)
}

func TestUpdateProfileChangesPassword(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.login(t, "rider@pos.com", "rider123")
	newPassword := "rider456"
	name := "Rider Baru"

	rec := env.do(t, http.MethodPut, "/api/auth/profile", token, domain.ProfileUpdateRequest{
		FullName: &name, Password: &newPassword,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/auth/login", "", domain.LoginRequest{Email: "rider@pos.com", Password: "rider123"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	_, user := env.login(t, "rider@pos.com", newPassword)
	assert.Equal(t, name, user.FullName)
}

func TestIdempotentReplayAppliesOnce(t *testing.T) {
	env := newTestEnv(t)
	adminToken, _ := env.login(t, "admin@pos.com", "admin123")
	product := env.firstProduct(t, adminToken)
	before := env.warehouseStock(t, adminToken, product.ID)
	body := domain.ProductionRequest{ProductID: product.ID, Quantity: 4}

	first := env.do(t, http.MethodPost, "/api/productions", adminToken, body, idempotencyHeader, "prod-1")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	assert.Empty(t, first.Header().Get(replayHeader))

	second := env.do(t, http.MethodPost, "/api/productions", adminToken, body, idempotencyHeader, "prod-1")
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(replayHeader))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	assert.Equal(t, before+4, env.warehouseStock(t, adminToken, product.ID))

	third := env.do(t, http.MethodPost, "/api/productions", adminToken, body, idempotencyHeader, "prod-2")
	require.Equal(t, http.StatusCreated, third.Code)
	assert.Equal(t, before+8, env.warehouseStock(t, adminToken, product.ID))
}

func TestUnknownProductIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	adminToken, _ := env.login(t, "admin@pos.com", "admin123")

	rec := env.do(t, http.MethodGet, "/api/products/does-not-exist", adminToken, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]string
	decodeBody(t, rec, &body)
	assert.NotEmpty(t, body["error"])
}

func TestReportsAndMetricsAreServed(t *testing.T) {
	env := newTestEnv(t)
	adminToken, _ := env.login(t, "admin@pos.com", "admin123")

	rec := env.do(t, http.MethodGet, "/api/reports/summary?start_date=2024-01-01&end_date=2099-12-31", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var summary domain.SalesSummary
	decodeBody(t, rec, &summary)
	assert.Zero(t, summary.TotalTransactions)

	rec = env.do(t, http.MethodGet, "/api/reports/leaderboard", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/reports/summary?start_date=yesterday", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestUserLeaderboardAndReports(t *testing.T) {
	env := newTestEnv(t)
	adminToken, _ := env.login(t, "admin@pos.com", "admin123")
	riderToken, rider := env.login(t, "rider@pos.com", "rider123")
	product := env.firstProduct(t, adminToken)

	rec := env.do(t, http.MethodPost, "/api/distributions", adminToken, domain.DistributionRequest{
		RiderID: rider.ID,
		Items:   []domain.DistributionItem{{ProductID: product.ID, Quantity: 5}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = env.do(t, http.MethodPost, "/api/transactions", riderToken, domain.SaleRequest{
		Items: []domain.SaleItem{{ProductID: product.ID, Quantity: 2}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/users/leaderboard", riderToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var board []map[string]any
	decodeBody(t, rec, &board)
	require.Len(t, board, 1)
	assert.Equal(t, rider.ID, board[0]["rider_id"])
	assert.Equal(t, "Rider Satu", board[0]["full_name"])
	assert.EqualValues(t, 1, board[0]["total_transactions"])
	assert.Contains(t, board[0], "total_sales")

	rec = env.do(t, http.MethodGet, "/api/users/reports?start_date=2000-01-01", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var reports []domain.RiderSalesReport
	decodeBody(t, rec, &reports)
	require.Len(t, reports, 1)
	assert.Equal(t, rider.ID, reports[0].RiderID)
	assert.Equal(t, 1, reports[0].TotalTransactions)
	assert.True(t, product.Price.Mul(decimal.NewFromInt(2)).Equal(reports[0].TotalSales))

	rec = env.do(t, http.MethodGet, "/api/users/reports?end_date=2000-01-01", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &reports)
	assert.Empty(t, reports)

	rec = env.do(t, http.MethodGet, "/api/users/leaderboard", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOversizedQuantityIsBadRequest(t *testing.T) {
	env := newTestEnv(t)
	adminToken, _ := env.login(t, "admin@pos.com", "admin123")
	product := env.firstProduct(t, adminToken)
	before := env.warehouseStock(t, adminToken, product.ID)

	rec := env.do(t, http.MethodPost, "/api/productions", adminToken, map[string]any{
		"product_id": product.ID,
		"quantity":   int64(service.MaxQuantity) + 1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, before, env.warehouseStock(t, adminToken, product.ID))
}

func TestDeletingStockedProductConflicts(t *testing.T) {
	env := newTestEnv(t)
	adminToken, _ := env.login(t, "admin@pos.com", "admin123")
	_, rider := env.login(t, "rider@pos.com", "rider123")
	product := env.firstProduct(t, adminToken)

	rec := env.do(t, http.MethodPost, "/api/distributions", adminToken, domain.DistributionRequest{
		RiderID: rider.ID,
		Items:   []domain.DistributionItem{{ProductID: product.ID, Quantity: 1}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodDelete, "/api/products/"+product.ID, adminToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}
