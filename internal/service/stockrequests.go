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

// CreateStockRequests opens pending returns or rejects. Riders file for
// themselves; admins file on behalf of a rider named by rider_id. Each line
// becomes its own pending request.
func (s *Service) CreateStockRequests(ctx context.Context, kind domain.RequestKind, req domain.StockRequestCreate) (domain.StockRequestCreateResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.StockRequestCreateResponse{}, err
	}

	riderID := actor.ID
	if actor.IsAdmin() {
		rider, err := s.loadRider(ctx, req.RiderID)
		if err != nil {
			return domain.StockRequestCreateResponse{}, err
		}
		riderID = rider.ID
	} else if rid := strings.TrimSpace(req.RiderID); rid != "" && rid != actor.ID {
		return domain.StockRequestCreateResponse{}, fmt.Errorf("%w: riders can only file for themselves", store.ErrForbidden)
	}

	lines := append([]domain.StockRequestItem(nil), req.Items...)
	if len(lines) == 0 {
		lines = []domain.StockRequestItem{{ProductID: req.ProductID, Quantity: req.Quantity, Notes: req.Notes}}
	}
	totals := make(map[string]int, len(lines))
	for i := range lines {
		line := &lines[i]
		line.ProductID = strings.TrimSpace(line.ProductID)
		line.Notes = strings.TrimSpace(line.Notes)
		if line.Notes == "" {
			line.Notes = strings.TrimSpace(req.Notes)
		}
		if line.ProductID == "" {
			return domain.StockRequestCreateResponse{}, fmt.Errorf("%w: item %d: product_id is required", store.ErrValidation, i+1)
		}
		if err := checkQuantity(fmt.Sprintf("item %d: quantity", i+1), line.Quantity, false); err != nil {
			return domain.StockRequestCreateResponse{}, err
		}
		if kind == domain.KindReject && line.Notes == "" {
			return domain.StockRequestCreateResponse{}, fmt.Errorf("%w: item %d: a reason is required for rejected goods", store.ErrValidation, i+1)
		}
		total, err := addQuantity("quantity of product "+line.ProductID, totals[line.ProductID], line.Quantity)
		if err != nil {
			return domain.StockRequestCreateResponse{}, err
		}
		totals[line.ProductID] = total
	}

	var created []domain.StockRequest
	err = s.repo.WithinLedgerTx(ctx, func(tx store.LedgerTx) error {
		created = make([]domain.StockRequest, 0, len(lines))
		for productID, want := range totals {
			product, err := tx.GetProduct(ctx, productID)
			if err != nil {
				return err
			}
			have, err := tx.RiderStockQty(ctx, riderID, productID)
			if err != nil {
				return err
			}
			if want > have {
				return fmt.Errorf("%w: %s: rider holds %d, requested %d", store.ErrInsufficientStock, product.Name, have, want)
			}
		}
		for _, line := range lines {
			request := domain.StockRequest{
				ID:        xid.New(),
				Kind:      kind,
				RiderID:   riderID,
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				Notes:     line.Notes,
				Status:    domain.RequestStatusPending,
				CreatedBy: actor.ID,
				CreatedAt: s.now(),
			}
			if err := tx.InsertStockRequest(ctx, kind, request); err != nil {
				return err
			}
			created = append(created, request)
		}
		return nil
	})
	metrics.ObserveLedger(string(kind)+"_create", err)
	if err != nil {
		return domain.StockRequestCreateResponse{}, err
	}

	s.log.Info("stock request created",
		zap.String("kind", string(kind)),
		zap.String("rider_id", riderID),
		zap.Int("lines", len(created)))
	return domain.StockRequestCreateResponse{
		Message:  fmt.Sprintf("%s request submitted", titleKind(kind)),
		Requests: created,
	}, nil
}

// ResolveStockRequest moves a pending request to history. Approval re-checks
// the rider's current stock; on shortfall the request stays pending.
func (s *Service) ResolveStockRequest(ctx context.Context, kind domain.RequestKind, id string, approve bool) (domain.StockRequestResolveResponse, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.StockRequestResolveResponse{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.StockRequestResolveResponse{}, fmt.Errorf("%w: id is required", store.ErrValidation)
	}

	status := domain.RequestStatusRejected
	if approve {
		status = domain.RequestStatusApproved
	}

	var history domain.StockRequestHistory
	err = s.repo.WithinLedgerTx(ctx, func(tx store.LedgerTx) error {
		request, err := tx.GetStockRequest(ctx, kind, id)
		if err != nil {
			return err
		}
		// Rejecting does not need the catalog entry.
		product, err := tx.GetProduct(ctx, request.ProductID)
		switch {
		case err == nil:
		case !approve && errors.Is(err, store.ErrNotFound):
			product = &domain.Product{ID: request.ProductID}
		default:
			return err
		}

		if approve {
			have, err := tx.RiderStockQty(ctx, request.RiderID, request.ProductID)
			if err != nil {
				return err
			}
			if have < request.Quantity {
				return fmt.Errorf("%w: %s: rider now holds %d, request is for %d",
					store.ErrInsufficientStock, product.Name, have, request.Quantity)
			}
			if kind.Restocks() {
				if _, err := addQuantity("warehouse stock of "+product.Name, product.StockInWarehouse, request.Quantity); err != nil {
					return err
				}
			}
			if _, err := tx.AdjustRiderStock(ctx, request.RiderID, request.ProductID, -request.Quantity); err != nil {
				return err
			}
			if kind.Restocks() {
				if _, err := tx.AdjustWarehouseStock(ctx, request.ProductID, request.Quantity); err != nil {
					return err
				}
			}
		}

		history = domain.StockRequestHistory{
			ID:          xid.New(),
			RequestID:   request.ID,
			Kind:        kind,
			RiderID:     request.RiderID,
			ProductID:   request.ProductID,
			ProductName: product.Name,
			Quantity:    request.Quantity,
			UnitValue:   product.UnitCost(),
			Notes:       request.Notes,
			Status:      status,
			ResolvedBy:  actor.ID,
			RequestedAt: request.CreatedAt,
			ResolvedAt:  s.now(),
		}
		if err := tx.InsertStockRequestHistory(ctx, kind, history); err != nil {
			return err
		}
		return tx.DeleteStockRequest(ctx, kind, request.ID)
	})
	metrics.ObserveLedger(string(kind)+"_"+status, err)
	if err != nil {
		return domain.StockRequestResolveResponse{}, err
	}

	if approve {
		flow := "rejected"
		if kind.Restocks() {
			flow = "returned"
		}
		metrics.AddUnits(flow, history.Quantity)
	}
	s.log.Info("stock request resolved",
		zap.String("kind", string(kind)),
		zap.String("request_id", id),
		zap.String("status", status),
		zap.String("admin_id", actor.ID))

	return domain.StockRequestResolveResponse{
		Message: fmt.Sprintf("%s %s", titleKind(kind), status),
		History: history,
	}, nil
}

func (s *Service) ListStockRequests(ctx context.Context, kind domain.RequestKind, filter domain.ListFilter) ([]domain.StockRequest, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if filter.RiderID, err = scopeToRider(actor, filter.RiderID); err != nil {
		return nil, err
	}
	requests, err := s.repo.ListStockRequests(ctx, kind, filter)
	if errors.Is(err, store.ErrRelationMissing) {
		s.log.Warn("pending table missing, returning empty list", zap.String("kind", string(kind)), zap.Error(err))
		return []domain.StockRequest{}, nil
	}
	return requests, err
}

func (s *Service) ListStockRequestHistory(ctx context.Context, kind domain.RequestKind, filter domain.ListFilter) ([]domain.StockRequestHistory, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if filter.RiderID, err = scopeToRider(actor, filter.RiderID); err != nil {
		return nil, err
	}
	history, err := s.repo.ListStockRequestHistory(ctx, kind, filter)
	if errors.Is(err, store.ErrRelationMissing) {
		s.log.Warn("history table missing, returning empty list", zap.String("kind", string(kind)), zap.Error(err))
		return []domain.StockRequestHistory{}, nil
	}
	return history, err
}

func titleKind(kind domain.RequestKind) string {
	if kind == domain.KindReject {
		return "Reject"
	}
	return "Return"
}
