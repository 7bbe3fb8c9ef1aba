package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"posrider/backend/internal/domain"
	"posrider/backend/internal/metrics"
	"posrider/backend/internal/store"
	"posrider/backend/internal/xid"
)

const (
	itemApplied = "applied"
	itemFailed  = "failed"
)

// Distribute moves units from the warehouse to a rider. Under
// all_or_nothing every line commits together or none does; under
// best_effort each line commits on its own and failures are reported per
// line.
func (s *Service) Distribute(ctx context.Context, req domain.DistributionRequest) (domain.DistributionResponse, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.DistributionResponse{}, err
	}

	rider, err := s.loadRider(ctx, req.RiderID)
	if err != nil {
		return domain.DistributionResponse{}, err
	}
	if len(req.Items) == 0 {
		return domain.DistributionResponse{}, fmt.Errorf("%w: at least one item is required", store.ErrValidation)
	}
	items := make([]domain.DistributionItem, len(req.Items))
	for i, item := range req.Items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		if item.ProductID == "" {
			return domain.DistributionResponse{}, fmt.Errorf("%w: item %d: product_id is required", store.ErrValidation, i+1)
		}
		if err := checkQuantity(fmt.Sprintf("item %d: quantity", i+1), item.Quantity, false); err != nil {
			return domain.DistributionResponse{}, err
		}
		items[i] = item
	}
	notes := strings.TrimSpace(req.Notes)

	resp := domain.DistributionResponse{Policy: s.opts.DistributionPolicy}
	switch s.opts.DistributionPolicy {
	case DistributionBestEffort:
		resp.Items = make([]domain.DistributionItemResult, len(items))
		var firstErr error
		for i, item := range items {
			var result domain.DistributionItemResult
			err := s.repo.WithinLedgerTx(ctx, func(tx store.LedgerTx) error {
				var err error
				result, err = s.distributeLine(ctx, tx, actor.ID, rider.ID, notes, item)
				return err
			})
			metrics.ObserveLedger("distribution_line", err)
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("item %d (%s): %w", i+1, item.ProductID, err)
				}
				result = domain.DistributionItemResult{
					ProductID: item.ProductID,
					Quantity:  item.Quantity,
					Status:    itemFailed,
					Error:     lineError(err),
				}
				if lineError(err) == internalLineError {
					s.log.Error("distribution line failed", zap.String("product_id", item.ProductID), zap.Error(err))
				}
			}
			resp.Items[i] = result
		}
		for _, r := range resp.Items {
			if r.Status == itemApplied {
				resp.Applied++
			} else {
				resp.Failed++
			}
		}
		if resp.Applied == 0 {
			return domain.DistributionResponse{}, firstErr
		}

	default:
		results := make([]domain.DistributionItemResult, len(items))
		err := s.repo.WithinLedgerTx(ctx, func(tx store.LedgerTx) error {
			for i, item := range items {
				result, err := s.distributeLine(ctx, tx, actor.ID, rider.ID, notes, item)
				if err != nil {
					return fmt.Errorf("item %d (%s): %w", i+1, item.ProductID, err)
				}
				results[i] = result
			}
			return nil
		})
		metrics.ObserveLedger("distribution", err)
		if err != nil {
			return domain.DistributionResponse{}, err
		}
		resp.Items = results
		resp.Applied = len(results)
	}

	units := 0
	for _, r := range resp.Items {
		if r.Status == itemApplied {
			units += r.Quantity
		}
	}
	metrics.AddUnits("distributed", units)

	if resp.Failed > 0 {
		resp.Message = fmt.Sprintf("Distributed %d of %d items", resp.Applied, len(items))
	} else {
		resp.Message = "Products distributed successfully"
	}
	s.log.Info("distribution recorded",
		zap.String("rider_id", rider.ID),
		zap.String("policy", resp.Policy),
		zap.Int("applied", resp.Applied),
		zap.Int("failed", resp.Failed),
		zap.Int("units", units))
	return resp, nil
}

func (s *Service) distributeLine(ctx context.Context, tx store.LedgerTx, adminID, riderID, notes string, item domain.DistributionItem) (domain.DistributionItemResult, error) {
	product, err := tx.GetProduct(ctx, item.ProductID)
	if err != nil {
		return domain.DistributionItemResult{}, err
	}
	if item.Quantity > product.StockInWarehouse {
		return domain.DistributionItemResult{}, fmt.Errorf("%w: %s has %d in warehouse, requested %d",
			store.ErrInsufficientStock, product.Name, product.StockInWarehouse, item.Quantity)
	}
	held, err := tx.RiderStockQty(ctx, riderID, product.ID)
	if err != nil {
		return domain.DistributionItemResult{}, err
	}
	if _, err := addQuantity("rider stock of "+product.Name, held, item.Quantity); err != nil {
		return domain.DistributionItemResult{}, err
	}

	warehouse, err := tx.AdjustWarehouseStock(ctx, product.ID, -item.Quantity)
	if err != nil {
		return domain.DistributionItemResult{}, err
	}
	riderStock, err := tx.AdjustRiderStock(ctx, riderID, product.ID, item.Quantity)
	if err != nil {
		return domain.DistributionItemResult{}, err
	}

	distribution := domain.Distribution{
		ID:            xid.New(),
		RiderID:       riderID,
		ProductID:     product.ID,
		Quantity:      item.Quantity,
		AdminID:       adminID,
		Notes:         notes,
		DistributedAt: s.now(),
	}
	if err := tx.InsertDistribution(ctx, distribution); err != nil {
		return domain.DistributionItemResult{}, err
	}

	return domain.DistributionItemResult{
		ProductID:      product.ID,
		Quantity:       item.Quantity,
		Status:         itemApplied,
		DistributionID: distribution.ID,
		WarehouseStock: warehouse,
		RiderStock:     riderStock,
	}, nil
}

func (s *Service) ListDistributions(ctx context.Context, filter domain.ListFilter) ([]domain.Distribution, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListDistributions(ctx, filter)
}

const internalLineError = "internal error"

// lineError exposes domain failures to the client and hides everything else.
func lineError(err error) string {
	for _, known := range []error{store.ErrNotFound, store.ErrInsufficientStock, store.ErrValidation, store.ErrConflict} {
		if errors.Is(err, known) {
			return err.Error()
		}
	}
	return internalLineError
}
