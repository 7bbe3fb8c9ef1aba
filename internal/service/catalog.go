package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"posrider/backend/internal/domain"
	"posrider/backend/internal/store"
	"posrider/backend/internal/xid"
)

const defaultMinStock = 10

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListCategories(ctx)
}

func (s *Service) CreateCategory(ctx context.Context, req domain.CategoryCreateRequest) (domain.Category, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Category{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Category{}, fmt.Errorf("%w: category name is required", store.ErrValidation)
	}

	created, err := s.repo.CreateCategory(ctx, domain.Category{ID: xid.New(), Name: name, CreatedAt: s.now()})
	if err != nil {
		return domain.Category{}, err
	}
	return *created, nil
}

func (s *Service) DeleteCategory(ctx context.Context, id string) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	return s.repo.DeleteCategory(ctx, strings.TrimSpace(id))
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.Product{}, err
	}
	product, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

// CreateProduct registers a catalog entry. Warehouse stock starts at zero and
// only grows through production.
func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Product{}, fmt.Errorf("%w: product name is required", store.ErrValidation)
	}
	if req.Price == nil || req.Price.IsNegative() {
		return domain.Product{}, fmt.Errorf("%w: price must be zero or more", store.ErrValidation)
	}
	if req.HPP.IsNegative() {
		return domain.Product{}, fmt.Errorf("%w: hpp must be zero or more", store.ErrValidation)
	}
	if err := checkAmount("price", *req.Price); err != nil {
		return domain.Product{}, err
	}
	if err := checkAmount("hpp", req.HPP); err != nil {
		return domain.Product{}, err
	}
	minStock := defaultMinStock
	if req.MinStock != nil {
		if err := checkQuantity("min_stock", *req.MinStock, true); err != nil {
			return domain.Product{}, err
		}
		minStock = *req.MinStock
	}
	categoryID := strings.TrimSpace(req.CategoryID)
	if err := s.checkCategory(ctx, categoryID); err != nil {
		return domain.Product{}, err
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:         xid.New(),
		Name:       name,
		SKU:        strings.ToUpper(strings.TrimSpace(req.SKU)),
		Price:      *req.Price,
		HPP:        req.HPP,
		CategoryID: categoryID,
		ImageURL:   strings.TrimSpace(req.ImageURL),
		MinStock:   minStock,
		CreatedAt:  s.now(),
	})
	if err != nil {
		return domain.Product{}, err
	}
	s.log.Info("product created", zap.String("product_id", created.ID), zap.String("name", created.Name))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, fmt.Errorf("%w: product name is required", store.ErrValidation)
		}
		updated.Name = name
	}
	if req.SKU != nil {
		updated.SKU = strings.ToUpper(strings.TrimSpace(*req.SKU))
	}
	if req.Price != nil {
		if req.Price.IsNegative() {
			return domain.Product{}, fmt.Errorf("%w: price must be zero or more", store.ErrValidation)
		}
		if err := checkAmount("price", *req.Price); err != nil {
			return domain.Product{}, err
		}
		updated.Price = *req.Price
	}
	if req.HPP != nil {
		if req.HPP.IsNegative() {
			return domain.Product{}, fmt.Errorf("%w: hpp must be zero or more", store.ErrValidation)
		}
		if err := checkAmount("hpp", *req.HPP); err != nil {
			return domain.Product{}, err
		}
		updated.HPP = *req.HPP
	}
	if req.CategoryID != nil {
		categoryID := strings.TrimSpace(*req.CategoryID)
		if err := s.checkCategory(ctx, categoryID); err != nil {
			return domain.Product{}, err
		}
		updated.CategoryID = categoryID
	}
	if req.ImageURL != nil {
		updated.ImageURL = strings.TrimSpace(*req.ImageURL)
	}
	if req.MinStock != nil {
		if err := checkQuantity("min_stock", *req.MinStock, true); err != nil {
			return domain.Product{}, err
		}
		updated.MinStock = *req.MinStock
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	return s.repo.DeleteProduct(ctx, strings.TrimSpace(id))
}

func (s *Service) checkCategory(ctx context.Context, categoryID string) error {
	if categoryID == "" {
		return nil
	}
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return err
	}
	for _, c := range categories {
		if c.ID == categoryID {
			return nil
		}
	}
	return fmt.Errorf("%w: unknown category %s", store.ErrValidation, categoryID)
}
