package report

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"posrider/backend/internal/cache"
	"posrider/backend/internal/domain"
	"posrider/backend/internal/store"
)

// Source is the read side reports are computed from. Only transactions and
// reject history feed the numbers; users supply leaderboard names.
type Source interface {
	ListTransactions(ctx context.Context, filter domain.ListFilter) ([]domain.Transaction, error)
	ListStockRequestHistory(ctx context.Context, kind domain.RequestKind, filter domain.ListFilter) ([]domain.StockRequestHistory, error)
	ListUsers(ctx context.Context, roles []string) ([]domain.UserAccount, error)
}

type Engine struct {
	source   Source
	cache    cache.ReportCache
	cacheTTL time.Duration
	now      func() time.Time
}

func NewEngine(source Source, cacheStore cache.ReportCache, cacheTTL time.Duration) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopReportCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}

	return &Engine{
		source:   source,
		cache:    cacheStore,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// Summary totals sales and transaction counts and values approved rejects as
// loss at the unit value captured when they were approved.
func (e *Engine) Summary(ctx context.Context, filter domain.ReportFilter) (domain.SalesSummary, error) {
	cacheKey := buildCacheKey("summary", filter)
	var cached domain.SalesSummary
	if ok, err := e.cache.Get(ctx, cacheKey, &cached); err == nil && ok {
		return cached, nil
	}

	listFilter := domain.ListFilter{RiderID: filter.RiderID, From: filter.From, To: filter.To}
	txs, err := e.source.ListTransactions(ctx, listFilter)
	if err != nil {
		return domain.SalesSummary{}, err
	}

	summary := domain.SalesSummary{
		TotalSales:        decimal.Zero,
		TotalTransactions: len(txs),
		TotalLoss:         decimal.Zero,
	}
	for _, tx := range txs {
		summary.TotalSales = summary.TotalSales.Add(tx.TotalAmount)
	}

	listFilter.Status = domain.RequestStatusApproved
	rejects, err := e.source.ListStockRequestHistory(ctx, domain.KindReject, listFilter)
	if err != nil && !errors.Is(err, store.ErrRelationMissing) {
		return domain.SalesSummary{}, err
	}
	for _, h := range rejects {
		summary.TotalLoss = summary.TotalLoss.Add(h.UnitValue.Mul(decimal.NewFromInt(int64(h.Quantity))))
	}
	summary.NetProfit = summary.TotalSales.Sub(summary.TotalLoss)

	_ = e.cache.Set(ctx, cacheKey, summary, e.cacheTTL)
	return summary, nil
}

// Leaderboard ranks every rider by sales in the window, highest first. Riders
// without sales are listed with zero totals.
func (e *Engine) Leaderboard(ctx context.Context, filter domain.ReportFilter) (domain.Leaderboard, error) {
	cacheKey := buildCacheKey("leaderboard", filter)
	var cached domain.Leaderboard
	if ok, err := e.cache.Get(ctx, cacheKey, &cached); err == nil && ok {
		return cached, nil
	}

	riders, err := e.source.ListUsers(ctx, []string{domain.RoleRider})
	if err != nil {
		return domain.Leaderboard{}, err
	}
	txs, err := e.source.ListTransactions(ctx, domain.ListFilter{RiderID: filter.RiderID, From: filter.From, To: filter.To})
	if err != nil {
		return domain.Leaderboard{}, err
	}

	byRider := make(map[string]*domain.LeaderboardEntry, len(riders))
	for _, r := range riders {
		if filter.RiderID != "" && r.ID != filter.RiderID {
			continue
		}
		byRider[r.ID] = &domain.LeaderboardEntry{RiderID: r.ID, FullName: r.FullName, TotalSales: decimal.Zero}
	}
	for _, tx := range txs {
		entry, ok := byRider[tx.RiderID]
		if !ok {
			// Sales by an account that is no longer a rider still count.
			entry = &domain.LeaderboardEntry{RiderID: tx.RiderID, FullName: tx.RiderName, TotalSales: decimal.Zero}
			byRider[tx.RiderID] = entry
		}
		entry.TotalSales = entry.TotalSales.Add(tx.TotalAmount)
		entry.TotalTransactions++
	}

	entries := make([]domain.LeaderboardEntry, 0, len(byRider))
	for _, entry := range byRider {
		entries = append(entries, *entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if cmp := entries[i].TotalSales.Cmp(entries[j].TotalSales); cmp != 0 {
			return cmp > 0
		}
		if entries[i].TotalTransactions != entries[j].TotalTransactions {
			return entries[i].TotalTransactions > entries[j].TotalTransactions
		}
		return entries[i].FullName < entries[j].FullName
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}

	board := domain.Leaderboard{Entries: entries, GeneratedAt: e.now().UTC()}
	_ = e.cache.Set(ctx, cacheKey, board, e.cacheTTL)
	return board, nil
}

// RiderReports sums sales per rider that transacted in the window, ordered by
// rider id.
func (e *Engine) RiderReports(ctx context.Context, filter domain.ReportFilter) ([]domain.RiderSalesReport, error) {
	cacheKey := buildCacheKey("rider-reports", filter)
	var cached []domain.RiderSalesReport
	if ok, err := e.cache.Get(ctx, cacheKey, &cached); err == nil && ok {
		return cached, nil
	}

	txs, err := e.source.ListTransactions(ctx, domain.ListFilter{RiderID: filter.RiderID, From: filter.From, To: filter.To})
	if err != nil {
		return nil, err
	}
	byRider := make(map[string]*domain.RiderSalesReport)
	for _, tx := range txs {
		row, ok := byRider[tx.RiderID]
		if !ok {
			row = &domain.RiderSalesReport{RiderID: tx.RiderID, FullName: tx.RiderName, TotalSales: decimal.Zero}
			byRider[tx.RiderID] = row
		}
		row.TotalSales = row.TotalSales.Add(tx.TotalAmount)
		row.TotalTransactions++
	}

	reports := make([]domain.RiderSalesReport, 0, len(byRider))
	for _, row := range byRider {
		reports = append(reports, *row)
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].RiderID < reports[j].RiderID })

	_ = e.cache.Set(ctx, cacheKey, reports, e.cacheTTL)
	return reports, nil
}

func buildCacheKey(report string, filter domain.ReportFilter) string {
	parts := []string{report, "r:" + filter.RiderID}
	if filter.From != nil {
		parts = append(parts, fmt.Sprintf("f:%d", filter.From.Unix()))
	}
	if filter.To != nil {
		parts = append(parts, fmt.Sprintf("t:%d", filter.To.Unix()))
	}

	hash := sha1.Sum([]byte(strings.Join(parts, "|")))
	return report + ":" + hex.EncodeToString(hash[:])
}
