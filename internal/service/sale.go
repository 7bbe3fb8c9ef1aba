package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"posrider/backend/internal/domain"
	"posrider/backend/internal/metrics"
	"posrider/backend/internal/store"
	"posrider/backend/internal/xid"
)

// RecordSale books a rider's sale against their own stock. Every line is
// checked before anything is written, with repeated products summed.
func (s *Service) RecordSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	if actor.Role != domain.RoleRider {
		return domain.SaleResponse{}, fmt.Errorf("%w: only riders record sales", store.ErrForbidden)
	}

	if len(req.Items) == 0 {
		return domain.SaleResponse{}, fmt.Errorf("%w: at least one item is required", store.ErrValidation)
	}
	paymentMethod, err := normalizePaymentMethod(req.PaymentMethod)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	lines := make([]domain.SaleItem, len(req.Items))
	totals := make(map[string]int, len(req.Items))
	order := make([]string, 0, len(req.Items))
	for i, item := range req.Items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		if item.ProductID == "" {
			return domain.SaleResponse{}, fmt.Errorf("%w: item %d: product_id is required", store.ErrValidation, i+1)
		}
		if err := checkQuantity(fmt.Sprintf("item %d: quantity", i+1), item.Quantity, false); err != nil {
			return domain.SaleResponse{}, err
		}
		if item.Price.IsNegative() {
			return domain.SaleResponse{}, fmt.Errorf("%w: item %d: price must be zero or more", store.ErrValidation, i+1)
		}
		if err := checkAmount(fmt.Sprintf("item %d: price", i+1), item.Price); err != nil {
			return domain.SaleResponse{}, err
		}
		if _, seen := totals[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		total, err := addQuantity("quantity of product "+item.ProductID, totals[item.ProductID], item.Quantity)
		if err != nil {
			return domain.SaleResponse{}, err
		}
		totals[item.ProductID] = total
		lines[i] = item
	}

	var txn domain.Transaction
	err = s.repo.WithinLedgerTx(ctx, func(tx store.LedgerTx) error {
		products := make(map[string]*domain.Product, len(order))
		for _, productID := range order {
			product, err := tx.GetProduct(ctx, productID)
			if err != nil {
				return err
			}
			have, err := tx.RiderStockQty(ctx, actor.ID, productID)
			if err != nil {
				return err
			}
			if want := totals[productID]; want > have {
				return fmt.Errorf("%w: %s: have %d, selling %d", store.ErrInsufficientStock, product.Name, have, want)
			}
			products[productID] = product
		}

		txn = domain.Transaction{
			ID:            xid.New(),
			RiderID:       actor.ID,
			PaymentMethod: paymentMethod,
			Notes:         strings.TrimSpace(req.Notes),
			CreatedAt:     s.now(),
			TotalAmount:   decimal.Zero,
			Items:         make([]domain.TransactionItem, 0, len(lines)),
		}
		for _, line := range lines {
			product := products[line.ProductID]
			price := s.unitPrice(line, product)
			subtotal := price.Mul(decimal.NewFromInt(int64(line.Quantity)))
			if err := checkAmount("subtotal of "+product.Name, subtotal); err != nil {
				return err
			}
			txn.Items = append(txn.Items, domain.TransactionItem{
				ID:            xid.New(),
				TransactionID: txn.ID,
				ProductID:     product.ID,
				ProductName:   product.Name,
				Quantity:      line.Quantity,
				Price:         price,
				Subtotal:      subtotal,
			})
			txn.TotalAmount = txn.TotalAmount.Add(subtotal)
		}
		if err := checkAmount("total_amount", txn.TotalAmount); err != nil {
			return err
		}

		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return err
		}
		for _, productID := range order {
			if _, err := tx.AdjustRiderStock(ctx, actor.ID, productID, -totals[productID]); err != nil {
				return err
			}
		}
		return nil
	})
	metrics.ObserveLedger("sale", err)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	sold := 0
	for _, qty := range totals {
		sold += qty
	}
	metrics.AddUnits("sold", sold)
	s.log.Info("sale recorded",
		zap.String("transaction_id", txn.ID),
		zap.String("rider_id", actor.ID),
		zap.String("total", txn.TotalAmount.String()),
		zap.Int("units", sold))

	return domain.SaleResponse{
		Message:       "Transaction created successfully",
		TransactionID: txn.ID,
		Total:         txn.TotalAmount,
		Transaction:   txn,
	}, nil
}

// unitPrice picks the charged price. A zero submitted price falls back to
// the catalog even when client prices are trusted.
func (s *Service) unitPrice(line domain.SaleItem, product *domain.Product) decimal.Decimal {
	if s.opts.TrustClientPrice && line.Price.IsPositive() {
		return line.Price
	}
	return product.Price
}

func (s *Service) ListTransactions(ctx context.Context, filter domain.ListFilter) ([]domain.Transaction, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	filter.RiderID, err = scopeToRider(actor, filter.RiderID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, filter)
}

func (s *Service) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Transaction{}, err
	}
	txn, err := s.repo.GetTransaction(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Transaction{}, err
	}
	if !actor.IsAdmin() && txn.RiderID != actor.ID {
		return domain.Transaction{}, fmt.Errorf("%w: transaction belongs to another rider", store.ErrForbidden)
	}
	return *txn, nil
}

func (s *Service) ListRiderStock(ctx context.Context, riderID string) ([]domain.RiderStock, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	riderID, err = scopeToRider(actor, riderID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListRiderStock(ctx, riderID)
}
