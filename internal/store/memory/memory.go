package memory

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"posrider/backend/internal/domain"
	"posrider/backend/internal/store"
	"posrider/backend/internal/xid"
)

type stockKey struct {
	riderID   string
	productID string
}

type stockRow struct {
	qty       int
	updatedAt time.Time
}

type Store struct {
	mu            sync.RWMutex
	users         map[string]domain.UserAccount
	categories    map[string]domain.Category
	products      map[string]domain.Product
	riderStock    map[stockKey]stockRow
	productions   []domain.Production
	distributions []domain.Distribution
	transactions  []domain.Transaction
	requests      map[domain.RequestKind]map[string]domain.StockRequest
	history       map[domain.RequestKind][]domain.StockRequestHistory
	opnames       []domain.StockOpname
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:      make(map[string]domain.UserAccount),
		categories: make(map[string]domain.Category),
		products:   make(map[string]domain.Product),
		riderStock: make(map[stockKey]stockRow),
		requests: map[domain.RequestKind]map[string]domain.StockRequest{
			domain.KindReturn: {},
			domain.KindReject: {},
		},
		history: map[domain.RequestKind][]domain.StockRequestHistory{},
	}
}

// NewSeeded returns a store with demo accounts, categories and products for
// dev mode. Passwords come from SEED_SUPERADMIN_PASSWORD, SEED_ADMIN_PASSWORD
// and SEED_RIDER_PASSWORD; dev defaults are used with a warning when unset.
func NewSeeded(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("memory-store")
	s := New()
	now := time.Now().UTC()

	if os.Getenv("SEED_SUPERADMIN_PASSWORD") == "" || os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_RIDER_PASSWORD") == "" {
		logger.Warn("using default dev credentials, set SEED_*_PASSWORD to override")
	}
	for _, u := range []struct {
		email    string
		name     string
		password string
		role     string
	}{
		{"superadmin@pos.com", "Super Admin", envOr("SEED_SUPERADMIN_PASSWORD", "admin123"), domain.RoleSuperAdmin},
		{"admin@pos.com", "Admin Gudang", envOr("SEED_ADMIN_PASSWORD", "admin123"), domain.RoleAdmin},
		{"rider@pos.com", "Rider Satu", envOr("SEED_RIDER_PASSWORD", "rider123"), domain.RoleRider},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal("hash seed password", zap.String("email", u.email), zap.Error(err))
		}
		id := xid.New()
		s.users[id] = domain.UserAccount{
			ID:           id,
			Email:        u.email,
			FullName:     u.name,
			Role:         u.role,
			PasswordHash: string(hash),
			CreatedAt:    now,
		}
	}

	drinks := domain.Category{ID: xid.New(), Name: "Minuman", CreatedAt: now}
	snacks := domain.Category{ID: xid.New(), Name: "Makanan Ringan", CreatedAt: now}
	s.categories[drinks.ID] = drinks
	s.categories[snacks.ID] = snacks

	for _, p := range []struct {
		name     string
		sku      string
		price    int64
		hpp      int64
		category string
	}{
		{"Es Kopi Susu", "KOPI-01", 15000, 8000, drinks.ID},
		{"Es Teh Manis", "TEH-01", 5000, 2000, drinks.ID},
		{"Air Mineral 600ml", "AIR-01", 4000, 2500, drinks.ID},
		{"Keripik Singkong", "KRP-01", 10000, 6000, snacks.ID},
		{"Roti Coklat", "ROTI-01", 8000, 4500, snacks.ID},
	} {
		id := xid.New()
		s.products[id] = domain.Product{
			ID:               id,
			Name:             p.name,
			SKU:              p.sku,
			Price:            decimal.NewFromInt(p.price),
			HPP:              decimal.NewFromInt(p.hpp),
			CategoryID:       p.category,
			StockInWarehouse: 100,
			MinStock:         10,
			CreatedAt:        now,
		}
	}
	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID == "" || user.Email == "" || user.PasswordHash == "" {
		return store.ErrValidation
	}
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return fmt.Errorf("%w: email already registered", store.ErrConflict)
		}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.ID] = user
	return nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if strings.EqualFold(user.Email, email) {
			found := user
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListUsers(_ context.Context, roles []string) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		if len(roles) > 0 && !slices.Contains(roles, user.Role) {
			continue
		}
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.FullName, b.FullName)
	})
	return users, nil
}

func (s *Store) UpdateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; !ok {
		return store.ErrNotFound
	}
	s.users[user.ID] = user
	return nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var categories []domain.Category
	for _, category := range s.categories {
		categories = append(categories, category)
	}
	slices.SortFunc(categories, func(a, b domain.Category) int {
		return strings.Compare(a.Name, b.Name)
	})
	return categories, nil
}

func (s *Store) CreateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if category.ID == "" || category.Name == "" {
		return nil, store.ErrValidation
	}
	s.categories[category.ID] = category
	created := category
	return &created, nil
}

func (s *Store) DeleteCategory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.categories[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.categories, id)
	for pid, p := range s.products {
		if p.CategoryID == id {
			p.CategoryID = ""
			s.products[pid] = p
		}
	}
	return nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, s.withCategoryName(p))
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := s.withCategoryName(p)
	return &found, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" || product.Name == "" {
		return nil, store.ErrValidation
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrConflict
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	s.products[product.ID] = product
	created := s.withCategoryName(product)
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	// Warehouse stock only moves through the ledger.
	product.StockInWarehouse = existing.StockInWarehouse
	product.CreatedAt = existing.CreatedAt
	s.products[product.ID] = product
	updated := s.withCategoryName(product)
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return store.ErrNotFound
	}
	if s.productReferenced(id) {
		return fmt.Errorf("%w: product %s is still referenced by stock or ledger records", store.ErrConflict, id)
	}
	delete(s.products, id)
	for key := range s.riderStock {
		if key.productID == id {
			delete(s.riderStock, key)
		}
	}
	return nil
}

// productReferenced mirrors the foreign keys the SQL schema puts on
// products. Callers hold s.mu.
func (s *Store) productReferenced(id string) bool {
	for key, row := range s.riderStock {
		if key.productID == id && row.qty > 0 {
			return true
		}
	}
	if slices.ContainsFunc(s.productions, func(p domain.Production) bool { return p.ProductID == id }) ||
		slices.ContainsFunc(s.distributions, func(d domain.Distribution) bool { return d.ProductID == id }) {
		return true
	}
	for _, tx := range s.transactions {
		if slices.ContainsFunc(tx.Items, func(item domain.TransactionItem) bool { return item.ProductID == id }) {
			return true
		}
	}
	for kind, pending := range s.requests {
		for _, r := range pending {
			if r.ProductID == id {
				return true
			}
		}
		if slices.ContainsFunc(s.history[kind], func(h domain.StockRequestHistory) bool { return h.ProductID == id }) {
			return true
		}
	}
	return false
}

func (s *Store) ListRiderStock(_ context.Context, riderID string) ([]domain.RiderStock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]domain.RiderStock, 0, len(s.riderStock))
	for key, row := range s.riderStock {
		if riderID != "" && key.riderID != riderID {
			continue
		}
		p := s.products[key.productID]
		rows = append(rows, domain.RiderStock{
			RiderID:      key.riderID,
			RiderName:    s.users[key.riderID].FullName,
			ProductID:    key.productID,
			ProductName:  p.Name,
			ProductPrice: p.Price,
			Quantity:     row.qty,
			UpdatedAt:    row.updatedAt,
		})
	}
	slices.SortFunc(rows, func(a, b domain.RiderStock) int {
		if a.RiderName == b.RiderName {
			return strings.Compare(a.ProductName, b.ProductName)
		}
		return strings.Compare(a.RiderName, b.RiderName)
	})
	return rows, nil
}

func (s *Store) ListProductions(_ context.Context, filter domain.ListFilter) ([]domain.Production, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Production, 0, len(s.productions))
	for _, p := range s.productions {
		if !inRange(p.CreatedAt, filter) {
			continue
		}
		p.ProductName = s.products[p.ProductID].Name
		p.AdminName = s.users[p.AdminID].FullName
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.Production) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return limit(out, filter.Limit), nil
}

func (s *Store) ListDistributions(_ context.Context, filter domain.ListFilter) ([]domain.Distribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Distribution, 0, len(s.distributions))
	for _, d := range s.distributions {
		if filter.RiderID != "" && d.RiderID != filter.RiderID {
			continue
		}
		if !inRange(d.DistributedAt, filter) {
			continue
		}
		d.ProductName = s.products[d.ProductID].Name
		d.RiderName = s.users[d.RiderID].FullName
		d.AdminName = s.users[d.AdminID].FullName
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b domain.Distribution) int { return b.DistributedAt.Compare(a.DistributedAt) })
	return limit(out, filter.Limit), nil
}

func (s *Store) ListTransactions(_ context.Context, filter domain.ListFilter) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Transaction, 0, len(s.transactions))
	for _, tx := range s.transactions {
		if filter.RiderID != "" && tx.RiderID != filter.RiderID {
			continue
		}
		if !inRange(tx.CreatedAt, filter) {
			continue
		}
		tx.RiderName = s.users[tx.RiderID].FullName
		tx.Items = nil
		out = append(out, tx)
	}
	slices.SortFunc(out, func(a, b domain.Transaction) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return limit(out, filter.Limit), nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tx := range s.transactions {
		if tx.ID != id {
			continue
		}
		found := tx
		found.RiderName = s.users[tx.RiderID].FullName
		found.Items = make([]domain.TransactionItem, len(tx.Items))
		for i, item := range tx.Items {
			item.ProductName = s.products[item.ProductID].Name
			found.Items[i] = item
		}
		return &found, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListStockRequests(_ context.Context, kind domain.RequestKind, filter domain.ListFilter) ([]domain.StockRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.StockRequest, 0, len(s.requests[kind]))
	for _, req := range s.requests[kind] {
		if filter.RiderID != "" && req.RiderID != filter.RiderID {
			continue
		}
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if !inRange(req.CreatedAt, filter) {
			continue
		}
		p := s.products[req.ProductID]
		req.Kind = kind
		req.ProductName = p.Name
		req.Price = p.Price
		req.RiderName = s.users[req.RiderID].FullName
		out = append(out, req)
	}
	slices.SortFunc(out, func(a, b domain.StockRequest) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return limit(out, filter.Limit), nil
}

func (s *Store) ListStockRequestHistory(_ context.Context, kind domain.RequestKind, filter domain.ListFilter) ([]domain.StockRequestHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.StockRequestHistory, 0, len(s.history[kind]))
	for _, h := range s.history[kind] {
		if filter.RiderID != "" && h.RiderID != filter.RiderID {
			continue
		}
		if filter.Status != "" && h.Status != filter.Status {
			continue
		}
		if !inRange(h.ResolvedAt, filter) {
			continue
		}
		h.Kind = kind
		h.ProductName = s.products[h.ProductID].Name
		h.RiderName = s.users[h.RiderID].FullName
		out = append(out, h)
	}
	slices.SortFunc(out, func(a, b domain.StockRequestHistory) int { return b.ResolvedAt.Compare(a.ResolvedAt) })
	return limit(out, filter.Limit), nil
}

func (s *Store) ListOpnames(_ context.Context, filter domain.ListFilter) ([]domain.StockOpname, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.StockOpname, 0, len(s.opnames))
	for _, o := range s.opnames {
		if filter.RiderID != "" && o.RiderID != filter.RiderID {
			continue
		}
		if !inRange(o.CreatedAt, filter) {
			continue
		}
		o.RiderName = s.users[o.RiderID].FullName
		o.SalesDetails = slices.Clone(o.SalesDetails)
		out = append(out, o)
	}
	slices.SortFunc(out, func(a, b domain.StockOpname) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return limit(out, filter.Limit), nil
}

// WithinLedgerTx holds the write lock for the whole callback and restores the
// ledger state captured on entry when fn fails.
func (s *Store) WithinLedgerTx(ctx context.Context, fn func(tx store.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(&ledgerTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	products      map[string]domain.Product
	riderStock    map[stockKey]stockRow
	requests      map[domain.RequestKind]map[string]domain.StockRequest
	history       map[domain.RequestKind]int
	productions   int
	distributions int
	transactions  int
	opnames       int
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		products:      maps.Clone(s.products),
		riderStock:    maps.Clone(s.riderStock),
		requests:      make(map[domain.RequestKind]map[string]domain.StockRequest, len(s.requests)),
		history:       make(map[domain.RequestKind]int, len(s.history)),
		productions:   len(s.productions),
		distributions: len(s.distributions),
		transactions:  len(s.transactions),
		opnames:       len(s.opnames),
	}
	for kind, pending := range s.requests {
		snap.requests[kind] = maps.Clone(pending)
	}
	for kind, rows := range s.history {
		snap.history[kind] = len(rows)
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.products = snap.products
	s.riderStock = snap.riderStock
	s.requests = snap.requests
	for kind, rows := range s.history {
		s.history[kind] = rows[:snap.history[kind]]
	}
	s.productions = s.productions[:snap.productions]
	s.distributions = s.distributions[:snap.distributions]
	s.transactions = s.transactions[:snap.transactions]
	s.opnames = s.opnames[:snap.opnames]
}

// ledgerTx operates on the store directly; the caller already holds s.mu.
type ledgerTx struct {
	s *Store
}

func (t *ledgerTx) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	p, ok := t.s.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, id)
	}
	return &p, nil
}

func (t *ledgerTx) RiderStockQty(_ context.Context, riderID string, productID string) (int, error) {
	return t.s.riderStock[stockKey{riderID, productID}].qty, nil
}

func (t *ledgerTx) AdjustWarehouseStock(_ context.Context, productID string, delta int) (int, error) {
	p, ok := t.s.products[productID]
	if !ok {
		return 0, fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
	}
	p.StockInWarehouse += delta
	t.s.products[productID] = p
	return p.StockInWarehouse, nil
}

func (t *ledgerTx) AdjustRiderStock(ctx context.Context, riderID string, productID string, delta int) (int, error) {
	current, _ := t.RiderStockQty(ctx, riderID, productID)
	next := current + delta
	return next, t.SetRiderStock(ctx, riderID, productID, next)
}

func (t *ledgerTx) SetRiderStock(_ context.Context, riderID string, productID string, qty int) error {
	key := stockKey{riderID, productID}
	if qty <= 0 {
		delete(t.s.riderStock, key)
		return nil
	}
	t.s.riderStock[key] = stockRow{qty: qty, updatedAt: time.Now().UTC()}
	return nil
}

func (t *ledgerTx) InsertProduction(_ context.Context, production domain.Production) error {
	t.s.productions = append(t.s.productions, production)
	return nil
}

func (t *ledgerTx) InsertDistribution(_ context.Context, distribution domain.Distribution) error {
	t.s.distributions = append(t.s.distributions, distribution)
	return nil
}

func (t *ledgerTx) InsertTransaction(_ context.Context, tx domain.Transaction) error {
	tx.Items = slices.Clone(tx.Items)
	t.s.transactions = append(t.s.transactions, tx)
	return nil
}

func (t *ledgerTx) InsertStockRequest(_ context.Context, kind domain.RequestKind, request domain.StockRequest) error {
	pending, ok := t.s.requests[kind]
	if !ok {
		return fmt.Errorf("%w: unknown request kind %q", store.ErrValidation, kind)
	}
	pending[request.ID] = request
	return nil
}

func (t *ledgerTx) GetStockRequest(_ context.Context, kind domain.RequestKind, id string) (*domain.StockRequest, error) {
	req, ok := t.s.requests[kind][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", store.ErrNotFound, kind, id)
	}
	req.Kind = kind
	return &req, nil
}

func (t *ledgerTx) DeleteStockRequest(_ context.Context, kind domain.RequestKind, id string) error {
	if _, ok := t.s.requests[kind][id]; !ok {
		return fmt.Errorf("%w: %s %s", store.ErrNotFound, kind, id)
	}
	delete(t.s.requests[kind], id)
	return nil
}

func (t *ledgerTx) InsertStockRequestHistory(_ context.Context, kind domain.RequestKind, history domain.StockRequestHistory) error {
	t.s.history[kind] = append(t.s.history[kind], history)
	return nil
}

func (t *ledgerTx) InsertOpname(_ context.Context, opname domain.StockOpname) error {
	opname.SalesDetails = slices.Clone(opname.SalesDetails)
	t.s.opnames = append(t.s.opnames, opname)
	return nil
}

func (s *Store) withCategoryName(p domain.Product) domain.Product {
	if p.CategoryID != "" {
		p.CategoryName = s.categories[p.CategoryID].Name
	}
	return p
}

func inRange(at time.Time, filter domain.ListFilter) bool {
	if filter.From != nil && at.Before(*filter.From) {
		return false
	}
	if filter.To != nil && at.After(*filter.To) {
		return false
	}
	return true
}

func limit[T any](rows []T, n int) []T {
	if n > 0 && len(rows) > n {
		return rows[:n]
	}
	return rows
}
