package report

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posrider/backend/internal/domain"
	"posrider/backend/internal/store"
)

type fakeSource struct {
	txs        []domain.Transaction
	rejects    []domain.StockRequestHistory
	rejectsErr error
	riders     []domain.UserAccount
	calls      int
}

func (f *fakeSource) ListTransactions(_ context.Context, filter domain.ListFilter) ([]domain.Transaction, error) {
	f.calls++
	out := make([]domain.Transaction, 0, len(f.txs))
	for _, tx := range f.txs {
		if filter.RiderID == "" || tx.RiderID == filter.RiderID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (f *fakeSource) ListStockRequestHistory(_ context.Context, kind domain.RequestKind, filter domain.ListFilter) ([]domain.StockRequestHistory, error) {
	if f.rejectsErr != nil {
		return nil, f.rejectsErr
	}
	out := make([]domain.StockRequestHistory, 0, len(f.rejects))
	for _, h := range f.rejects {
		if h.Status == filter.Status {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeSource) ListUsers(_ context.Context, _ []string) ([]domain.UserAccount, error) {
	return f.riders, nil
}

// memCache is a map-backed ReportCache used to observe caching.
type memCache map[string]any

func (m memCache) Get(_ context.Context, key string, dst any) (bool, error) {
	v, ok := m[key]
	if !ok {
		return false, nil
	}
	switch d := dst.(type) {
	case *domain.SalesSummary:
		*d = v.(domain.SalesSummary)
	case *domain.Leaderboard:
		*d = v.(domain.Leaderboard)
	case *[]domain.RiderSalesReport:
		*d = v.([]domain.RiderSalesReport)
	}
	return true, nil
}

func (m memCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m[key] = value
	return nil
}

func sale(rider string, amount int64) domain.Transaction {
	return domain.Transaction{RiderID: rider, TotalAmount: decimal.NewFromInt(amount)}
}

func TestSummaryCountsLossFromApprovedRejectsOnly(t *testing.T) {
	src := &fakeSource{
		txs: []domain.Transaction{sale("r1", 15000), sale("r2", 5000)},
		rejects: []domain.StockRequestHistory{
			{Quantity: 2, UnitValue: decimal.NewFromInt(1500), Status: domain.RequestStatusApproved},
			{Quantity: 9, UnitValue: decimal.NewFromInt(1500), Status: domain.RequestStatusRejected},
		},
	}
	engine := NewEngine(src, nil, time.Minute)

	summary, err := engine.Summary(context.Background(), domain.ReportFilter{})
	require.NoError(t, err)
	assert.True(t, summary.TotalSales.Equal(decimal.NewFromInt(20000)))
	assert.Equal(t, 2, summary.TotalTransactions)
	assert.True(t, summary.TotalLoss.Equal(decimal.NewFromInt(3000)))
	assert.True(t, summary.NetProfit.Equal(decimal.NewFromInt(17000)))
}

func TestSummaryToleratesMissingRejectHistory(t *testing.T) {
	src := &fakeSource{txs: []domain.Transaction{sale("r1", 1000)}, rejectsErr: store.ErrRelationMissing}
	engine := NewEngine(src, nil, time.Minute)

	summary, err := engine.Summary(context.Background(), domain.ReportFilter{})
	require.NoError(t, err)
	assert.True(t, summary.TotalLoss.IsZero())
	assert.True(t, summary.NetProfit.Equal(decimal.NewFromInt(1000)))
}

func TestLeaderboardRanksBySalesAndIncludesIdleRiders(t *testing.T) {
	src := &fakeSource{
		riders: []domain.UserAccount{{ID: "r1", FullName: "Ani"}, {ID: "r2", FullName: "Budi"}, {ID: "r3", FullName: "Citra"}},
		txs:    []domain.Transaction{sale("r2", 4000), sale("r1", 1000), sale("r2", 1000)},
	}
	engine := NewEngine(src, nil, time.Minute)

	board, err := engine.Leaderboard(context.Background(), domain.ReportFilter{})
	require.NoError(t, err)
	require.Len(t, board.Entries, 3)

	assert.Equal(t, "r2", board.Entries[0].RiderID)
	assert.Equal(t, 1, board.Entries[0].Rank)
	assert.Equal(t, 2, board.Entries[0].TotalTransactions)
	assert.True(t, board.Entries[0].TotalSales.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, "r1", board.Entries[1].RiderID)
	assert.Equal(t, "r3", board.Entries[2].RiderID)
	assert.True(t, board.Entries[2].TotalSales.IsZero())
}

func TestReportsAreServedFromCache(t *testing.T) {
	src := &fakeSource{txs: []domain.Transaction{sale("r1", 1000)}}
	engine := NewEngine(src, memCache{}, time.Minute)
	ctx := context.Background()

	_, err := engine.Summary(ctx, domain.ReportFilter{})
	require.NoError(t, err)
	_, err = engine.Summary(ctx, domain.ReportFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)

	_, err = engine.Summary(ctx, domain.ReportFilter{RiderID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls, "different filter, different key")
}

func TestBuildCacheKeyDependsOnWindow(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	a := buildCacheKey("summary", domain.ReportFilter{From: &from})
	b := buildCacheKey("summary", domain.ReportFilter{From: &from, To: &to})
	c := buildCacheKey("leaderboard", domain.ReportFilter{From: &from})

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, a, buildCacheKey("summary", domain.ReportFilter{From: &from}))
}

func TestRiderReportsGroupSalesByRider(t *testing.T) {
	named := func(rider, name string, amount int64) domain.Transaction {
		tx := sale(rider, amount)
		tx.RiderName = name
		return tx
	}
	src := &fakeSource{
		txs: []domain.Transaction{
			named("r2", "Dua", 4000),
			named("r1", "Satu", 1000),
			named("r2", "Dua", 6000),
		},
		riders: []domain.UserAccount{{ID: "r3", FullName: "Tiga", Role: domain.RoleRider}},
	}
	engine := NewEngine(src, memCache{}, time.Minute)

	reports, err := engine.RiderReports(context.Background(), domain.ReportFilter{})
	require.NoError(t, err)
	require.Len(t, reports, 2, "riders without sales are not listed")
	assert.Equal(t, "r1", reports[0].RiderID)
	assert.Equal(t, "r2", reports[1].RiderID)
	assert.Equal(t, "Dua", reports[1].FullName)
	assert.Equal(t, 2, reports[1].TotalTransactions)
	assert.True(t, reports[1].TotalSales.Equal(decimal.NewFromInt(10000)))

	_, err = engine.RiderReports(context.Background(), domain.ReportFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)
}
