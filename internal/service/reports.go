package service

import (
	"context"

	"posrider/backend/internal/domain"
)

func (s *Service) SalesSummary(ctx context.Context, filter domain.ReportFilter) (domain.SalesSummary, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.SalesSummary{}, err
	}
	return s.reports.Summary(ctx, filter)
}

// RiderLeaderboard is the ranking any signed-in user may see, without the
// report envelope.
func (s *Service) RiderLeaderboard(ctx context.Context, filter domain.ReportFilter) ([]domain.LeaderboardEntry, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	board, err := s.reports.Leaderboard(ctx, filter)
	if err != nil {
		return nil, err
	}
	return board.Entries, nil
}

func (s *Service) RiderReports(ctx context.Context, filter domain.ReportFilter) ([]domain.RiderSalesReport, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.reports.RiderReports(ctx, filter)
}

func (s *Service) Leaderboard(ctx context.Context, filter domain.ReportFilter) (domain.Leaderboard, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Leaderboard{}, err
	}
	return s.reports.Leaderboard(ctx, filter)
}
