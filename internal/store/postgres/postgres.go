package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"posrider/backend/internal/domain"
	"posrider/backend/internal/store"
)

const maxLedgerAttempts = 3

type Store struct {
	db *sqlx.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `id, email, full_name, phone, role, password_hash, created_at`

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.ID == "" || user.Email == "" || user.PasswordHash == "" {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO users (id, email, full_name, phone, role, password_hash, created_at)
		VALUES (:id, :email, :full_name, :phone, :role, :password_hash, :created_at)
	`, user)
	return mapError(err)
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if err != nil {
		return nil, mapError(err)
	}
	return &user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	if err != nil {
		return nil, mapError(err)
	}
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context, roles []string) ([]domain.UserAccount, error) {
	var w where
	if len(roles) > 0 {
		w.add("role = ANY($%d)", roles)
	}
	users := make([]domain.UserAccount, 0, 32)
	err := s.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users`+w.String()+` ORDER BY full_name`, w.args...)
	if err != nil {
		return nil, mapError(err)
	}
	return users, nil
}

func (s *Store) UpdateUser(ctx context.Context, user domain.UserAccount) error {
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE users
		SET full_name = :full_name, phone = :phone, password_hash = :password_hash
		WHERE id = :id
	`, user)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(res)
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	categories := make([]domain.Category, 0, 16)
	if err := s.db.SelectContext(ctx, &categories, `SELECT id, name, created_at FROM categories ORDER BY name`); err != nil {
		return nil, mapError(err)
	}
	return categories, nil
}

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	if category.ID == "" || category.Name == "" {
		return nil, store.ErrValidation
	}
	if category.CreatedAt.IsZero() {
		category.CreatedAt = time.Now().UTC()
	}
	if _, err := s.db.NamedExecContext(ctx, `
		INSERT INTO categories (id, name, created_at) VALUES (:id, :name, :created_at)
	`, category); err != nil {
		return nil, mapError(err)
	}
	return &category, nil
}

func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(res)
}

const productSelect = `
	SELECT p.id, p.name, p.sku, p.price, p.hpp, COALESCE(p.category_id, '') AS category_id,
		COALESCE(c.name, '') AS category_name, p.image_url, p.stock_in_warehouse, p.min_stock, p.created_at
	FROM products p
	LEFT JOIN categories c ON c.id = p.category_id`

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products := make([]domain.Product, 0, 128)
	if err := s.db.SelectContext(ctx, &products, productSelect+` ORDER BY p.name`); err != nil {
		return nil, mapError(err)
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	if err := s.db.GetContext(ctx, &p, productSelect+` WHERE p.id = $1`, id); err != nil {
		return nil, mapError(err)
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" {
		return nil, store.ErrValidation
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, sku, price, hpp, category_id, image_url, stock_in_warehouse, min_stock, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, product.ID, product.Name, product.SKU, product.Price, product.HPP, nullIfEmpty(product.CategoryID),
		product.ImageURL, product.StockInWarehouse, product.MinStock, product.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return s.GetProduct(ctx, product.ID)
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, sku = $3, price = $4, hpp = $5, category_id = $6, image_url = $7, min_stock = $8
		WHERE id = $1
	`, product.ID, product.Name, product.SKU, product.Price, product.HPP, nullIfEmpty(product.CategoryID),
		product.ImageURL, product.MinStock)
	if err != nil {
		return nil, mapError(err)
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return s.GetProduct(ctx, product.ID)
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	var held bool
	if err := s.db.GetContext(ctx, &held,
		`SELECT EXISTS (SELECT 1 FROM rider_stock WHERE product_id = $1 AND quantity > 0)`, id); err != nil {
		return mapError(err)
	}
	if held {
		return fmt.Errorf("%w: product %s is still held by riders", store.ErrConflict, id)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(res)
}

func (s *Store) ListRiderStock(ctx context.Context, riderID string) ([]domain.RiderStock, error) {
	var w where
	if riderID != "" {
		w.add("rs.rider_id = $%d", riderID)
	}
	rows := make([]domain.RiderStock, 0, 32)
	err := s.db.SelectContext(ctx, &rows, `
		SELECT rs.rider_id, u.full_name AS rider_name, rs.product_id, p.name AS product_name,
			p.price AS product_price, rs.quantity, rs.updated_at
		FROM rider_stock rs
		JOIN users u ON u.id = rs.rider_id
		JOIN products p ON p.id = rs.product_id`+w.String()+`
		ORDER BY u.full_name, p.name
	`, w.args...)
	if err != nil {
		return nil, mapError(err)
	}
	return rows, nil
}

func (s *Store) ListProductions(ctx context.Context, filter domain.ListFilter) ([]domain.Production, error) {
	w := dateWhere("pr.created_at", filter)
	out := make([]domain.Production, 0, 32)
	err := s.db.SelectContext(ctx, &out, `
		SELECT pr.id, pr.product_id, p.name AS product_name, pr.quantity, pr.admin_id,
			u.full_name AS admin_name, pr.notes, pr.created_at
		FROM productions pr
		JOIN products p ON p.id = pr.product_id
		JOIN users u ON u.id = pr.admin_id`+w.String()+`
		ORDER BY pr.created_at DESC`+limitClause(filter.Limit), w.args...)
	if err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (s *Store) ListDistributions(ctx context.Context, filter domain.ListFilter) ([]domain.Distribution, error) {
	w := dateWhere("d.distributed_at", filter)
	if filter.RiderID != "" {
		w.add("d.rider_id = $%d", filter.RiderID)
	}
	out := make([]domain.Distribution, 0, 32)
	err := s.db.SelectContext(ctx, &out, `
		SELECT d.id, d.rider_id, r.full_name AS rider_name, d.product_id, p.name AS product_name,
			d.quantity, d.admin_id, a.full_name AS admin_name, d.notes, d.distributed_at
		FROM distributions d
		JOIN users r ON r.id = d.rider_id
		JOIN users a ON a.id = d.admin_id
		JOIN products p ON p.id = d.product_id`+w.String()+`
		ORDER BY d.distributed_at DESC`+limitClause(filter.Limit), w.args...)
	if err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

const transactionSelect = `
	SELECT t.id, t.rider_id, u.full_name AS rider_name, t.total_amount, t.payment_method, t.notes, t.created_at
	FROM transactions t
	JOIN users u ON u.id = t.rider_id`

func (s *Store) ListTransactions(ctx context.Context, filter domain.ListFilter) ([]domain.Transaction, error) {
	w := dateWhere("t.created_at", filter)
	if filter.RiderID != "" {
		w.add("t.rider_id = $%d", filter.RiderID)
	}
	out := make([]domain.Transaction, 0, 64)
	err := s.db.SelectContext(ctx, &out, transactionSelect+w.String()+` ORDER BY t.created_at DESC`+limitClause(filter.Limit), w.args...)
	if err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	var tx domain.Transaction
	if err := s.db.GetContext(ctx, &tx, transactionSelect+` WHERE t.id = $1`, id); err != nil {
		return nil, mapError(err)
	}
	tx.Items = make([]domain.TransactionItem, 0, 8)
	err := s.db.SelectContext(ctx, &tx.Items, `
		SELECT ti.id, ti.transaction_id, ti.product_id, p.name AS product_name, ti.quantity, ti.price, ti.subtotal
		FROM transaction_items ti
		JOIN products p ON p.id = ti.product_id
		WHERE ti.transaction_id = $1
		ORDER BY p.name
	`, id)
	if err != nil {
		return nil, mapError(err)
	}
	return &tx, nil
}

func (s *Store) ListStockRequests(ctx context.Context, kind domain.RequestKind, filter domain.ListFilter) ([]domain.StockRequest, error) {
	pending, _, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}
	w := dateWhere("r.created_at", filter)
	if filter.RiderID != "" {
		w.add("r.rider_id = $%d", filter.RiderID)
	}
	if filter.Status != "" {
		w.add("r.status = $%d", filter.Status)
	}
	out := make([]domain.StockRequest, 0, 16)
	err = s.db.SelectContext(ctx, &out, `
		SELECT r.id, r.rider_id, u.full_name AS rider_name, r.product_id, p.name AS product_name,
			p.price AS product_price, r.quantity, r.notes, r.status, r.created_by, r.created_at
		FROM `+pending+` r
		JOIN users u ON u.id = r.rider_id
		JOIN products p ON p.id = r.product_id`+w.String()+`
		ORDER BY r.created_at DESC`+limitClause(filter.Limit), w.args...)
	if err != nil {
		return nil, mapError(err)
	}
	for i := range out {
		out[i].Kind = kind
	}
	return out, nil
}

func (s *Store) ListStockRequestHistory(ctx context.Context, kind domain.RequestKind, filter domain.ListFilter) ([]domain.StockRequestHistory, error) {
	_, history, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}
	w := dateWhere("h.resolved_at", filter)
	if filter.RiderID != "" {
		w.add("h.rider_id = $%d", filter.RiderID)
	}
	if filter.Status != "" {
		w.add("h.status = $%d", filter.Status)
	}
	out := make([]domain.StockRequestHistory, 0, 32)
	err = s.db.SelectContext(ctx, &out, `
		SELECT h.id, h.request_id, h.rider_id, u.full_name AS rider_name, h.product_id, p.name AS product_name,
			h.quantity, h.unit_value, h.notes, h.status, h.resolved_by, h.requested_at, h.resolved_at
		FROM `+history+` h
		JOIN users u ON u.id = h.rider_id
		JOIN products p ON p.id = h.product_id`+w.String()+`
		ORDER BY h.resolved_at DESC`+limitClause(filter.Limit), w.args...)
	if err != nil {
		return nil, mapError(err)
	}
	for i := range out {
		out[i].Kind = kind
	}
	return out, nil
}

type opnameRow struct {
	ID            string    `db:"id"`
	RiderID       string    `db:"rider_id"`
	RiderName     string    `db:"rider_name"`
	AdminID       string    `db:"admin_id"`
	Notes         string    `db:"notes"`
	PaymentMethod string    `db:"payment_method"`
	TotalSales    string    `db:"total_sales"`
	SalesDetails  []byte    `db:"sales_details"`
	CreatedAt     time.Time `db:"created_at"`
}

func (s *Store) ListOpnames(ctx context.Context, filter domain.ListFilter) ([]domain.StockOpname, error) {
	w := dateWhere("o.created_at", filter)
	if filter.RiderID != "" {
		w.add("o.rider_id = $%d", filter.RiderID)
	}
	var rows []opnameRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT o.id, o.rider_id, u.full_name AS rider_name, o.admin_id, o.notes, o.payment_method,
			o.total_sales::text AS total_sales, o.sales_details, o.created_at
		FROM stock_opnames o
		JOIN users u ON u.id = o.rider_id`+w.String()+`
		ORDER BY o.created_at DESC`+limitClause(filter.Limit), w.args...)
	if err != nil {
		return nil, mapError(err)
	}

	out := make([]domain.StockOpname, 0, len(rows))
	for _, row := range rows {
		opname := domain.StockOpname{
			ID:            row.ID,
			RiderID:       row.RiderID,
			RiderName:     row.RiderName,
			AdminID:       row.AdminID,
			Notes:         row.Notes,
			PaymentMethod: row.PaymentMethod,
			CreatedAt:     row.CreatedAt,
		}
		if err := opname.TotalSales.UnmarshalText([]byte(row.TotalSales)); err != nil {
			return nil, fmt.Errorf("opname %s total: %w", row.ID, err)
		}
		if err := json.Unmarshal(row.SalesDetails, &opname.SalesDetails); err != nil {
			return nil, fmt.Errorf("opname %s details: %w", row.ID, err)
		}
		out = append(out, opname)
	}
	return out, nil
}

// WithinLedgerTx runs fn in a SERIALIZABLE transaction and retries it from
// the start when PostgreSQL reports a serialization failure.
func (s *Store) WithinLedgerTx(ctx context.Context, fn func(tx store.LedgerTx) error) error {
	var err error
	for attempt := 1; attempt <= maxLedgerAttempts; attempt++ {
		err = s.runLedgerTx(ctx, fn)
		if err == nil || !isSerializationFailure(err) {
			return err
		}
	}
	return fmt.Errorf("%w: ledger busy, retry later: %v", store.ErrConflict, err)
}

func (s *Store) runLedgerTx(ctx context.Context, fn func(tx store.LedgerTx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&ledgerTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type ledgerTx struct {
	tx *sqlx.Tx
}

func (t *ledgerTx) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := t.tx.GetContext(ctx, &p, `
		SELECT id, name, sku, price, hpp, COALESCE(category_id, '') AS category_id, image_url,
			stock_in_warehouse, min_stock, created_at
		FROM products
		WHERE id = $1
		FOR UPDATE
	`, id)
	if err != nil {
		return nil, fmt.Errorf("product %s: %w", id, mapError(err))
	}
	return &p, nil
}

func (t *ledgerTx) RiderStockQty(ctx context.Context, riderID string, productID string) (int, error) {
	var qty int
	err := t.tx.GetContext(ctx, &qty, `
		SELECT quantity FROM rider_stock
		WHERE rider_id = $1 AND product_id = $2
		FOR UPDATE
	`, riderID, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, mapError(err)
	}
	return qty, nil
}

func (t *ledgerTx) AdjustWarehouseStock(ctx context.Context, productID string, delta int) (int, error) {
	var stock int
	err := t.tx.GetContext(ctx, &stock, `
		UPDATE products
		SET stock_in_warehouse = stock_in_warehouse + $2
		WHERE id = $1
		RETURNING stock_in_warehouse
	`, productID, delta)
	if err != nil {
		return 0, fmt.Errorf("product %s: %w", productID, mapError(err))
	}
	return stock, nil
}

func (t *ledgerTx) AdjustRiderStock(ctx context.Context, riderID string, productID string, delta int) (int, error) {
	current, err := t.RiderStockQty(ctx, riderID, productID)
	if err != nil {
		return 0, err
	}
	next := current + delta
	return next, t.SetRiderStock(ctx, riderID, productID, next)
}

func (t *ledgerTx) SetRiderStock(ctx context.Context, riderID string, productID string, qty int) error {
	if qty <= 0 {
		_, err := t.tx.ExecContext(ctx, `DELETE FROM rider_stock WHERE rider_id = $1 AND product_id = $2`, riderID, productID)
		return mapError(err)
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO rider_stock (rider_id, product_id, quantity, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (rider_id, product_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = EXCLUDED.updated_at
	`, riderID, productID, qty)
	return mapError(err)
}

func (t *ledgerTx) InsertProduction(ctx context.Context, production domain.Production) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO productions (id, product_id, quantity, admin_id, notes, created_at)
		VALUES (:id, :product_id, :quantity, :admin_id, :notes, :created_at)
	`, production)
	return mapError(err)
}

func (t *ledgerTx) InsertDistribution(ctx context.Context, distribution domain.Distribution) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO distributions (id, rider_id, product_id, quantity, admin_id, notes, distributed_at)
		VALUES (:id, :rider_id, :product_id, :quantity, :admin_id, :notes, :distributed_at)
	`, distribution)
	return mapError(err)
}

func (t *ledgerTx) InsertTransaction(ctx context.Context, tx domain.Transaction) error {
	if _, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO transactions (id, rider_id, total_amount, payment_method, notes, created_at)
		VALUES (:id, :rider_id, :total_amount, :payment_method, :notes, :created_at)
	`, tx); err != nil {
		return mapError(err)
	}
	for _, item := range tx.Items {
		if _, err := t.tx.NamedExecContext(ctx, `
			INSERT INTO transaction_items (id, transaction_id, product_id, quantity, price, subtotal)
			VALUES (:id, :transaction_id, :product_id, :quantity, :price, :subtotal)
		`, item); err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (t *ledgerTx) InsertStockRequest(ctx context.Context, kind domain.RequestKind, request domain.StockRequest) error {
	pending, _, err := tablesFor(kind)
	if err != nil {
		return err
	}
	_, err = t.tx.NamedExecContext(ctx, `
		INSERT INTO `+pending+` (id, rider_id, product_id, quantity, notes, status, created_by, created_at)
		VALUES (:id, :rider_id, :product_id, :quantity, :notes, :status, :created_by, :created_at)
	`, request)
	return mapError(err)
}

func (t *ledgerTx) GetStockRequest(ctx context.Context, kind domain.RequestKind, id string) (*domain.StockRequest, error) {
	pending, _, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}
	var req domain.StockRequest
	err = t.tx.GetContext(ctx, &req, `
		SELECT id, rider_id, product_id, quantity, notes, status, created_by, created_at
		FROM `+pending+`
		WHERE id = $1
		FOR UPDATE
	`, id)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", kind, id, mapError(err))
	}
	req.Kind = kind
	return &req, nil
}

func (t *ledgerTx) DeleteStockRequest(ctx context.Context, kind domain.RequestKind, id string) error {
	pending, _, err := tablesFor(kind)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `DELETE FROM `+pending+` WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(res)
}

func (t *ledgerTx) InsertStockRequestHistory(ctx context.Context, kind domain.RequestKind, history domain.StockRequestHistory) error {
	_, table, err := tablesFor(kind)
	if err != nil {
		return err
	}
	_, err = t.tx.NamedExecContext(ctx, `
		INSERT INTO `+table+` (id, request_id, rider_id, product_id, quantity, unit_value, notes, status,
			resolved_by, requested_at, resolved_at)
		VALUES (:id, :request_id, :rider_id, :product_id, :quantity, :unit_value, :notes, :status,
			:resolved_by, :requested_at, :resolved_at)
	`, history)
	return mapError(err)
}

func (t *ledgerTx) InsertOpname(ctx context.Context, opname domain.StockOpname) error {
	details, err := json.Marshal(opname.SalesDetails)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO stock_opnames (id, rider_id, admin_id, notes, payment_method, total_sales, sales_details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, opname.ID, opname.RiderID, opname.AdminID, opname.Notes, opname.PaymentMethod, opname.TotalSales,
		string(details), opname.CreatedAt)
	return mapError(err)
}

func tablesFor(kind domain.RequestKind) (pending string, history string, err error) {
	switch kind {
	case domain.KindReturn:
		return "returns", "return_history", nil
	case domain.KindReject:
		return "rejects", "reject_history", nil
	default:
		return "", "", fmt.Errorf("%w: unknown request kind %q", store.ErrValidation, kind)
	}
}

// where accumulates AND-ed predicates with positional arguments. Clauses use
// %d where the placeholder number goes.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, len(w.args)))
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return "\n\t\tWHERE " + strings.Join(w.clauses, " AND ")
}

func dateWhere(column string, filter domain.ListFilter) where {
	var w where
	if filter.From != nil {
		w.add(column+" >= $%d", *filter.From)
	}
	if filter.To != nil {
		w.add(column+" <= $%d", *filter.To)
	}
	return w
}

func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}

// mapError translates driver errors into store sentinels. Serialization
// failures pass through untouched so WithinLedgerTx can retry them.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.ConstraintName)
	case "23503":
		return fmt.Errorf("%w: referenced record missing or still in use", store.ErrConflict)
	case "23514":
		if strings.Contains(pgErr.ConstraintName, "stock") {
			return fmt.Errorf("%w: %s", store.ErrInsufficientStock, pgErr.ConstraintName)
		}
		return fmt.Errorf("%w: %s", store.ErrValidation, pgErr.ConstraintName)
	case "22003":
		return fmt.Errorf("%w: value out of range", store.ErrValidation)
	case "42P01":
		return fmt.Errorf("%w: %s", store.ErrRelationMissing, pgErr.Message)
	}
	return err
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
