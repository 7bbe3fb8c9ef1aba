package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"posrider/backend/internal/domain"
	"posrider/backend/internal/metrics"
	"posrider/backend/internal/store"
	"posrider/backend/internal/xid"
)

// RecordOpname reconciles a physical count of a rider's stock. Units missing
// from the count are treated as sold at the current catalog price and the
// rider's stock is set to what was counted.
func (s *Service) RecordOpname(ctx context.Context, req domain.OpnameRequest) (domain.OpnameResponse, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.OpnameResponse{}, err
	}
	rider, err := s.loadRider(ctx, req.RiderID)
	if err != nil {
		return domain.OpnameResponse{}, err
	}
	if len(req.Items) == 0 {
		return domain.OpnameResponse{}, fmt.Errorf("%w: at least one item is required", store.ErrValidation)
	}
	paymentMethod, err := normalizePaymentMethod(req.PaymentMethod)
	if err != nil {
		return domain.OpnameResponse{}, err
	}

	items := make([]domain.OpnameItem, len(req.Items))
	seen := make(map[string]bool, len(req.Items))
	for i, item := range req.Items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		if item.ProductID == "" {
			return domain.OpnameResponse{}, fmt.Errorf("%w: item %d: product_id is required", store.ErrValidation, i+1)
		}
		if err := checkQuantity(fmt.Sprintf("item %d: remaining_quantity", i+1), item.RemainingQuantity, true); err != nil {
			return domain.OpnameResponse{}, err
		}
		if seen[item.ProductID] {
			return domain.OpnameResponse{}, fmt.Errorf("%w: item %d: product %s counted twice", store.ErrValidation, i+1, item.ProductID)
		}
		seen[item.ProductID] = true
		items[i] = item
	}

	policy := s.opts.OpnameSurplusPolicy
	var opname domain.StockOpname
	var totalSold int
	err = s.repo.WithinLedgerTx(ctx, func(tx store.LedgerTx) error {
		opname = domain.StockOpname{
			ID:            xid.New(),
			RiderID:       rider.ID,
			RiderName:     rider.FullName,
			AdminID:       actor.ID,
			Notes:         strings.TrimSpace(req.Notes),
			PaymentMethod: paymentMethod,
			TotalSales:    decimal.Zero,
			SalesDetails:  make([]domain.OpnameSaleDetail, 0, len(items)),
			CreatedAt:     s.now(),
		}
		totalSold = 0

		for _, item := range items {
			product, err := tx.GetProduct(ctx, item.ProductID)
			if err != nil {
				return err
			}
			previous, err := tx.RiderStockQty(ctx, rider.ID, item.ProductID)
			if err != nil {
				return err
			}

			target := item.RemainingQuantity
			if item.RemainingQuantity > previous {
				switch policy {
				case SurplusReject:
					return fmt.Errorf("%w: %s counted %d but rider holds %d",
						store.ErrValidation, product.Name, item.RemainingQuantity, previous)
				case SurplusClamp:
					target = previous
				}
			}

			sold := max(0, previous-item.RemainingQuantity)
			amount := product.Price.Mul(decimal.NewFromInt(int64(sold)))
			if err := checkAmount("sale amount of "+product.Name, amount); err != nil {
				return err
			}
			if err := tx.SetRiderStock(ctx, rider.ID, item.ProductID, target); err != nil {
				return err
			}

			opname.SalesDetails = append(opname.SalesDetails, domain.OpnameSaleDetail{
				ProductID:         product.ID,
				ProductName:       product.Name,
				PreviousQuantity:  previous,
				RemainingQuantity: item.RemainingQuantity,
				Sold:              sold,
				Price:             product.Price,
				SaleAmount:        amount,
			})
			opname.TotalSales = opname.TotalSales.Add(amount)
			totalSold += sold
		}
		if err := checkAmount("total_sales", opname.TotalSales); err != nil {
			return err
		}

		return tx.InsertOpname(ctx, opname)
	})
	metrics.ObserveLedger("opname", err)
	if err != nil {
		return domain.OpnameResponse{}, err
	}

	metrics.AddUnits("opname_sold", totalSold)
	s.log.Info("stock opname recorded",
		zap.String("opname_id", opname.ID),
		zap.String("rider_id", rider.ID),
		zap.String("policy", policy),
		zap.String("total_sales", opname.TotalSales.String()))

	return domain.OpnameResponse{
		Message:      "Stock opname recorded successfully",
		OpnameID:     opname.ID,
		TotalSales:   opname.TotalSales,
		SalesDetails: opname.SalesDetails,
	}, nil
}

func (s *Service) ListOpnames(ctx context.Context, filter domain.ListFilter) ([]domain.StockOpname, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	opnames, err := s.repo.ListOpnames(ctx, filter)
	if errors.Is(err, store.ErrRelationMissing) {
		s.log.Warn("opname table missing, returning empty list", zap.Error(err))
		return []domain.StockOpname{}, nil
	}
	return opnames, err
}
