package store

import (
	"context"
	"errors"

	"posrider/backend/internal/domain"
)

var (
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrForbidden         = errors.New("forbidden")
	ErrValidation        = errors.New("invalid request")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("conflict")
	// ErrRelationMissing marks reads against a table that has not been created yet.
	ErrRelationMissing = errors.New("relation does not exist")
)

type Repository interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByID(ctx context.Context, id string) (*domain.UserAccount, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context, roles []string) ([]domain.UserAccount, error)
	UpdateUser(ctx context.Context, user domain.UserAccount) error

	ListCategories(ctx context.Context) ([]domain.Category, error)
	CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)
	DeleteCategory(ctx context.Context, id string) error

	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error

	ListRiderStock(ctx context.Context, riderID string) ([]domain.RiderStock, error)
	ListProductions(ctx context.Context, filter domain.ListFilter) ([]domain.Production, error)
	ListDistributions(ctx context.Context, filter domain.ListFilter) ([]domain.Distribution, error)
	ListTransactions(ctx context.Context, filter domain.ListFilter) ([]domain.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	ListStockRequests(ctx context.Context, kind domain.RequestKind, filter domain.ListFilter) ([]domain.StockRequest, error)
	ListStockRequestHistory(ctx context.Context, kind domain.RequestKind, filter domain.ListFilter) ([]domain.StockRequestHistory, error)
	ListOpnames(ctx context.Context, filter domain.ListFilter) ([]domain.StockOpname, error)

	// WithinLedgerTx runs fn as one all-or-nothing unit. Any error returned by
	// fn discards every write made through tx.
	WithinLedgerTx(ctx context.Context, fn func(tx LedgerTx) error) error
}

// LedgerTx is the set of quantity-bearing reads and writes that must stay
// consistent with each other. Reads lock what they return until the
// surrounding transaction ends.
type LedgerTx interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	// RiderStockQty returns 0 when the rider holds no row for the product.
	RiderStockQty(ctx context.Context, riderID string, productID string) (int, error)
	// AdjustWarehouseStock applies delta and returns the new value. It does
	// not guard against negative results; callers validate first.
	AdjustWarehouseStock(ctx context.Context, productID string, delta int) (int, error)
	// AdjustRiderStock applies delta and returns the new value. A result of
	// zero or less removes the row.
	AdjustRiderStock(ctx context.Context, riderID string, productID string, delta int) (int, error)
	// SetRiderStock overwrites the quantity; zero removes the row.
	SetRiderStock(ctx context.Context, riderID string, productID string, qty int) error

	InsertProduction(ctx context.Context, production domain.Production) error
	InsertDistribution(ctx context.Context, distribution domain.Distribution) error
	InsertTransaction(ctx context.Context, tx domain.Transaction) error
	InsertStockRequest(ctx context.Context, kind domain.RequestKind, request domain.StockRequest) error
	GetStockRequest(ctx context.Context, kind domain.RequestKind, id string) (*domain.StockRequest, error)
	DeleteStockRequest(ctx context.Context, kind domain.RequestKind, id string) error
	InsertStockRequestHistory(ctx context.Context, kind domain.RequestKind, history domain.StockRequestHistory) error
	InsertOpname(ctx context.Context, opname domain.StockOpname) error
}
