package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts travel as JSON numbers; the POS clients do arithmetic on them.
	decimal.MarshalJSONWithoutQuotes = true
}

const (
	RoleRider      = "rider"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

func IsAdminRole(role string) bool {
	return role == RoleAdmin || role == RoleSuperAdmin
}

func IsKnownRole(role string) bool {
	return role == RoleRider || IsAdminRole(role)
}

// Actor is the authenticated principal of a request.
type Actor struct {
	ID   string
	Role string
}

func (a Actor) IsAdmin() bool {
	return IsAdminRole(a.Role)
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresAt   string      `json:"expires_at"`
	User        UserProfile `json:"user"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Role     string `json:"role"`
}

type ProfileUpdateRequest struct {
	FullName *string `json:"full_name,omitempty"`
	Phone    *string `json:"phone,omitempty"`
	Password *string `json:"password,omitempty"`
}

// UserAccount is the persistence model including the credential hash.
type UserAccount struct {
	ID           string    `db:"id"`
	Email        string    `db:"email"`
	FullName     string    `db:"full_name"`
	Phone        string    `db:"phone"`
	Role         string    `db:"role"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
}

func (u UserAccount) Profile() UserProfile {
	return UserProfile{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		Phone:     u.Phone,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}

type UserProfile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Phone     string    `json:"phone,omitempty"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type Category struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type CategoryCreateRequest struct {
	Name string `json:"name"`
}

type Product struct {
	ID               string          `json:"id" db:"id"`
	Name             string          `json:"name" db:"name"`
	SKU              string          `json:"sku" db:"sku"`
	Price            decimal.Decimal `json:"price" db:"price"`
	HPP              decimal.Decimal `json:"hpp" db:"hpp"`
	CategoryID       string          `json:"category_id,omitempty" db:"category_id"`
	CategoryName     string          `json:"category_name,omitempty" db:"category_name"`
	ImageURL         string          `json:"image_url,omitempty" db:"image_url"`
	StockInWarehouse int             `json:"stock_in_warehouse" db:"stock_in_warehouse"`
	MinStock         int             `json:"min_stock" db:"min_stock"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

// UnitCost values a unit for loss accounting: hpp when known, else price.
func (p Product) UnitCost() decimal.Decimal {
	if p.HPP.IsPositive() {
		return p.HPP
	}
	return p.Price
}

type ProductCreateRequest struct {
	Name       string           `json:"name"`
	SKU        string           `json:"sku"`
	Price      *decimal.Decimal `json:"price"`
	HPP        decimal.Decimal  `json:"hpp"`
	CategoryID string           `json:"category_id"`
	ImageURL   string           `json:"image_url"`
	MinStock   *int             `json:"min_stock"`
}

type ProductUpdateRequest struct {
	Name       *string          `json:"name,omitempty"`
	SKU        *string          `json:"sku,omitempty"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	HPP        *decimal.Decimal `json:"hpp,omitempty"`
	CategoryID *string          `json:"category_id,omitempty"`
	ImageURL   *string          `json:"image_url,omitempty"`
	MinStock   *int             `json:"min_stock,omitempty"`
}

type RiderStock struct {
	RiderID      string          `json:"rider_id" db:"rider_id"`
	RiderName    string          `json:"rider_name,omitempty" db:"rider_name"`
	ProductID    string          `json:"product_id" db:"product_id"`
	ProductName  string          `json:"product_name" db:"product_name"`
	ProductPrice decimal.Decimal `json:"product_price" db:"product_price"`
	Quantity     int             `json:"quantity" db:"quantity"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

type ProductionRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Notes     string `json:"notes"`
}

type Production struct {
	ID          string    `json:"id" db:"id"`
	ProductID   string    `json:"product_id" db:"product_id"`
	ProductName string    `json:"product_name,omitempty" db:"product_name"`
	Quantity    int       `json:"quantity" db:"quantity"`
	AdminID     string    `json:"admin_id" db:"admin_id"`
	AdminName   string    `json:"admin_name,omitempty" db:"admin_name"`
	Notes       string    `json:"notes" db:"notes"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

type ProductionResponse struct {
	Message    string     `json:"message"`
	NewStock   int        `json:"new_stock"`
	Production Production `json:"production"`
}

type DistributionItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type DistributionRequest struct {
	RiderID string             `json:"rider_id"`
	Items   []DistributionItem `json:"items"`
	Notes   string             `json:"notes"`
}

type Distribution struct {
	ID            string    `json:"id" db:"id"`
	RiderID       string    `json:"rider_id" db:"rider_id"`
	RiderName     string    `json:"rider_name,omitempty" db:"rider_name"`
	ProductID     string    `json:"product_id" db:"product_id"`
	ProductName   string    `json:"product_name,omitempty" db:"product_name"`
	Quantity      int       `json:"quantity" db:"quantity"`
	AdminID       string    `json:"admin_id" db:"admin_id"`
	AdminName     string    `json:"admin_name,omitempty" db:"admin_name"`
	Notes         string    `json:"notes" db:"notes"`
	DistributedAt time.Time `json:"distributed_at" db:"distributed_at"`
}

type DistributionItemResult struct {
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
	DistributionID string `json:"distribution_id,omitempty"`
	WarehouseStock int    `json:"warehouse_stock,omitempty"`
	RiderStock     int    `json:"rider_stock,omitempty"`
}

type DistributionResponse struct {
	Message string                   `json:"message"`
	Policy  string                   `json:"policy"`
	Applied int                      `json:"applied"`
	Failed  int                      `json:"failed"`
	Items   []DistributionItemResult `json:"items"`
}

type SaleItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

type SaleRequest struct {
	Items         []SaleItem `json:"items"`
	PaymentMethod string     `json:"payment_method"`
	Notes         string     `json:"notes"`
}

type TransactionItem struct {
	ID            string          `json:"id" db:"id"`
	TransactionID string          `json:"transaction_id" db:"transaction_id"`
	ProductID     string          `json:"product_id" db:"product_id"`
	ProductName   string          `json:"product_name,omitempty" db:"product_name"`
	Quantity      int             `json:"quantity" db:"quantity"`
	Price         decimal.Decimal `json:"price" db:"price"`
	Subtotal      decimal.Decimal `json:"subtotal" db:"subtotal"`
}

type Transaction struct {
	ID            string            `json:"id" db:"id"`
	RiderID       string            `json:"rider_id" db:"rider_id"`
	RiderName     string            `json:"rider_name,omitempty" db:"rider_name"`
	TotalAmount   decimal.Decimal   `json:"total_amount" db:"total_amount"`
	PaymentMethod string            `json:"payment_method" db:"payment_method"`
	Notes         string            `json:"notes" db:"notes"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
	Items         []TransactionItem `json:"items,omitempty" db:"-"`
}

type SaleResponse struct {
	Message       string          `json:"message"`
	TransactionID string          `json:"transaction_id"`
	Total         decimal.Decimal `json:"total"`
	Transaction   Transaction     `json:"transaction"`
}

const (
	RequestStatusPending  = "pending"
	RequestStatusApproved = "approved"
	RequestStatusRejected = "rejected"
)

// RequestKind distinguishes the two pending-request queues.
type RequestKind string

const (
	KindReturn RequestKind = "return"
	KindReject RequestKind = "reject"
)

// Restocks reports whether approving this kind moves units back to the warehouse.
func (k RequestKind) Restocks() bool {
	return k == KindReturn
}

type StockRequestItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Notes     string `json:"notes"`
}

// StockRequestCreate covers both the rider self-service shape
// {product_id, quantity, notes} and the admin bulk shape {rider_id, items}.
type StockRequestCreate struct {
	RiderID   string             `json:"rider_id"`
	ProductID string             `json:"product_id"`
	Quantity  int                `json:"quantity"`
	Notes     string             `json:"notes"`
	Items     []StockRequestItem `json:"items"`
}

// StockRequest is a pending return or reject.
type StockRequest struct {
	ID          string          `json:"id" db:"id"`
	Kind        RequestKind     `json:"kind" db:"-"`
	RiderID     string          `json:"rider_id" db:"rider_id"`
	RiderName   string          `json:"rider_name,omitempty" db:"rider_name"`
	ProductID   string          `json:"product_id" db:"product_id"`
	ProductName string          `json:"product_name,omitempty" db:"product_name"`
	Price       decimal.Decimal `json:"product_price" db:"product_price"`
	Quantity    int             `json:"quantity" db:"quantity"`
	Notes       string          `json:"notes" db:"notes"`
	Status      string          `json:"status" db:"status"`
	CreatedBy   string          `json:"created_by" db:"created_by"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// StockRequestHistory is the terminal record of a return or reject.
type StockRequestHistory struct {
	ID          string          `json:"id" db:"id"`
	RequestID   string          `json:"request_id" db:"request_id"`
	Kind        RequestKind     `json:"kind" db:"-"`
	RiderID     string          `json:"rider_id" db:"rider_id"`
	RiderName   string          `json:"rider_name,omitempty" db:"rider_name"`
	ProductID   string          `json:"product_id" db:"product_id"`
	ProductName string          `json:"product_name,omitempty" db:"product_name"`
	Quantity    int             `json:"quantity" db:"quantity"`
	UnitValue   decimal.Decimal `json:"unit_value" db:"unit_value"`
	Notes       string          `json:"notes" db:"notes"`
	Status      string          `json:"status" db:"status"`
	ResolvedBy  string          `json:"resolved_by" db:"resolved_by"`
	RequestedAt time.Time       `json:"requested_at" db:"requested_at"`
	ResolvedAt  time.Time       `json:"resolved_at" db:"resolved_at"`
}

type StockRequestCreateResponse struct {
	Message  string         `json:"message"`
	Requests []StockRequest `json:"requests"`
}

type StockRequestResolveResponse struct {
	Message string              `json:"message"`
	History StockRequestHistory `json:"history"`
}

type OpnameItem struct {
	ProductID         string `json:"product_id"`
	RemainingQuantity int    `json:"remaining_quantity"`
}

type OpnameRequest struct {
	RiderID       string       `json:"rider_id"`
	Items         []OpnameItem `json:"items"`
	Notes         string       `json:"notes"`
	PaymentMethod string       `json:"payment_method"`
}

type OpnameSaleDetail struct {
	ProductID         string          `json:"product_id"`
	ProductName       string          `json:"product_name"`
	PreviousQuantity  int             `json:"previous_quantity"`
	RemainingQuantity int             `json:"remaining_quantity"`
	Sold              int             `json:"sold"`
	Price             decimal.Decimal `json:"price"`
	SaleAmount        decimal.Decimal `json:"sale_amount"`
}

type StockOpname struct {
	ID            string             `json:"id"`
	RiderID       string             `json:"rider_id"`
	RiderName     string             `json:"rider_name,omitempty"`
	AdminID       string             `json:"admin_id"`
	Notes         string             `json:"notes"`
	PaymentMethod string             `json:"payment_method"`
	TotalSales    decimal.Decimal    `json:"total_sales"`
	SalesDetails  []OpnameSaleDetail `json:"sales_details"`
	CreatedAt     time.Time          `json:"created_at"`
}

type OpnameResponse struct {
	Message      string             `json:"message"`
	OpnameID     string             `json:"opname_id"`
	TotalSales   decimal.Decimal    `json:"total_sales"`
	SalesDetails []OpnameSaleDetail `json:"sales_details"`
}

// ListFilter narrows history queries. Zero values mean "no constraint".
type ListFilter struct {
	RiderID string
	Status  string
	From    *time.Time
	To      *time.Time
	Limit   int
}

type ReportFilter struct {
	RiderID string     `json:"rider_id,omitempty"`
	From    *time.Time `json:"from,omitempty"`
	To      *time.Time `json:"to,omitempty"`
}

type SalesSummary struct {
	TotalSales        decimal.Decimal `json:"total_sales"`
	TotalTransactions int             `json:"total_transactions"`
	TotalLoss         decimal.Decimal `json:"total_loss"`
	NetProfit         decimal.Decimal `json:"net_profit"`
}

type LeaderboardEntry struct {
	Rank              int             `json:"rank"`
	RiderID           string          `json:"rider_id"`
	FullName          string          `json:"full_name"`
	TotalSales        decimal.Decimal `json:"total_sales"`
	TotalTransactions int             `json:"total_transactions"`
}

type Leaderboard struct {
	Entries     []LeaderboardEntry `json:"entries"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// RiderSalesReport aggregates one rider's transactions in a window.
type RiderSalesReport struct {
	RiderID           string          `json:"rider_id"`
	FullName          string          `json:"full_name"`
	TotalSales        decimal.Decimal `json:"total_sales"`
	TotalTransactions int             `json:"total_transactions"`
}

const (
	PaymentCash     = "tunai"
	PaymentTransfer = "transfer"
	PaymentQRIS     = "qris"
)
