package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"posrider/backend/internal/domain"
	"posrider/backend/internal/metrics"
	"posrider/backend/internal/store"
	"posrider/backend/internal/xid"
)

// RecordProduction adds freshly made units to the warehouse.
func (s *Service) RecordProduction(ctx context.Context, req domain.ProductionRequest) (domain.ProductionResponse, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.ProductionResponse{}, err
	}

	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return domain.ProductionResponse{}, fmt.Errorf("%w: product_id is required", store.ErrValidation)
	}
	if err := checkQuantity("quantity", req.Quantity, false); err != nil {
		return domain.ProductionResponse{}, err
	}

	var resp domain.ProductionResponse
	err = s.repo.WithinLedgerTx(ctx, func(tx store.LedgerTx) error {
		product, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		if _, err := addQuantity("warehouse stock of "+product.Name, product.StockInWarehouse, req.Quantity); err != nil {
			return err
		}
		newStock, err := tx.AdjustWarehouseStock(ctx, product.ID, req.Quantity)
		if err != nil {
			return err
		}
		production := domain.Production{
			ID:          xid.New(),
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    req.Quantity,
			AdminID:     actor.ID,
			Notes:       strings.TrimSpace(req.Notes),
			CreatedAt:   s.now(),
		}
		if err := tx.InsertProduction(ctx, production); err != nil {
			return err
		}
		resp = domain.ProductionResponse{
			Message:    "Production recorded successfully",
			NewStock:   newStock,
			Production: production,
		}
		return nil
	})
	metrics.ObserveLedger("production", err)
	if err != nil {
		return domain.ProductionResponse{}, err
	}

	metrics.AddUnits("produced", req.Quantity)
	s.log.Info("production recorded",
		zap.String("product_id", productID),
		zap.Int("quantity", req.Quantity),
		zap.Int("warehouse_stock", resp.NewStock),
		zap.String("admin_id", actor.ID))
	return resp, nil
}

func (s *Service) ListProductions(ctx context.Context, filter domain.ListFilter) ([]domain.Production, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListProductions(ctx, filter)
}
