package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"posrider/backend/internal/domain"
	"posrider/backend/internal/report"
	"posrider/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Distribution policies.
const (
	DistributionAllOrNothing = "all_or_nothing"
	DistributionBestEffort   = "best_effort"
)

// Opname surplus policies, applied when the counted quantity exceeds what
// the ledger says the rider holds.
const (
	SurplusAccept = "accept"
	SurplusClamp  = "clamp"
	SurplusReject = "reject"
)

// MaxQuantity is the largest unit count a stock column or ledger row holds.
const MaxQuantity = math.MaxInt32

// maxAmount is the exclusive upper bound of a NUMERIC(14,2) money column.
var maxAmount = decimal.New(1, 12)

// checkQuantity validates a submitted unit count. allowZero admits counted
// quantities such as an opname's remaining stock.
func checkQuantity(field string, qty int, allowZero bool) error {
	switch {
	case allowZero && qty < 0:
		return fmt.Errorf("%w: %s must be zero or more", store.ErrValidation, field)
	case !allowZero && qty < 1:
		return fmt.Errorf("%w: %s must be positive", store.ErrValidation, field)
	case qty > MaxQuantity:
		return fmt.Errorf("%w: %s must not exceed %d", store.ErrValidation, field, MaxQuantity)
	}
	return nil
}

// addQuantity sums two bounded counts without wrapping.
func addQuantity(field string, a, b int) (int, error) {
	sum := int64(a) + int64(b)
	if sum > MaxQuantity {
		return 0, fmt.Errorf("%w: %s must not exceed %d", store.ErrValidation, field, MaxQuantity)
	}
	return int(sum), nil
}

func checkAmount(field string, amount decimal.Decimal) error {
	if amount.GreaterThanOrEqual(maxAmount) {
		return fmt.Errorf("%w: %s must be below %s", store.ErrValidation, field, maxAmount.String())
	}
	return nil
}

func ValidDistributionPolicy(policy string) bool {
	return policy == DistributionAllOrNothing || policy == DistributionBestEffort
}

func ValidSurplusPolicy(policy string) bool {
	return policy == SurplusAccept || policy == SurplusClamp || policy == SurplusReject
}

type Options struct {
	// TrustClientPrice makes the price submitted with a sale authoritative.
	// When false the catalog price is charged.
	TrustClientPrice    bool
	DistributionPolicy  string
	OpnameSurplusPolicy string
}

func DefaultOptions() Options {
	return Options{
		TrustClientPrice:    true,
		DistributionPolicy:  DistributionAllOrNothing,
		OpnameSurplusPolicy: SurplusAccept,
	}
}

type Service struct {
	repo    store.Repository
	reports *report.Engine
	opts    Options
	log     *zap.Logger
	now     func() time.Time
}

func New(repo store.Repository, reports *report.Engine, opts Options, log *zap.Logger) *Service {
	if reports == nil {
		reports = report.NewEngine(repo, nil, 0)
	}
	if !ValidDistributionPolicy(opts.DistributionPolicy) {
		opts.DistributionPolicy = DistributionAllOrNothing
	}
	if !ValidSurplusPolicy(opts.OpnameSurplusPolicy) {
		opts.OpnameSurplusPolicy = SurplusAccept
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Service{
		repo:    repo,
		reports: reports,
		opts:    opts,
		log:     log.Named("service"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.ID == "" {
		return domain.Actor{}, store.ErrUnauthenticated
	}
	return actor, nil
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if !actor.IsAdmin() {
		return domain.Actor{}, fmt.Errorf("%w: admin role required", store.ErrForbidden)
	}
	return actor, nil
}

// loadRider confirms id names an account with the rider role.
func (s *Service) loadRider(ctx context.Context, id string) (*domain.UserAccount, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: rider_id is required", store.ErrValidation)
	}
	user, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("rider %s: %w", id, err)
	}
	if user.Role != domain.RoleRider {
		return nil, fmt.Errorf("%w: user %s is not a rider", store.ErrValidation, id)
	}
	return user, nil
}

// scopeToRider forces rider-role callers onto their own records. Admins may
// narrow to any rider or see everything.
func scopeToRider(actor domain.Actor, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if actor.IsAdmin() {
		return requested, nil
	}
	if requested != "" && requested != actor.ID {
		return "", fmt.Errorf("%w: riders can only view their own records", store.ErrForbidden)
	}
	return actor.ID, nil
}

func normalizePaymentMethod(method string) (string, error) {
	method = strings.ToLower(strings.TrimSpace(method))
	switch method {
	case "":
		return domain.PaymentCash, nil
	case domain.PaymentCash, domain.PaymentTransfer, domain.PaymentQRIS:
		return method, nil
	case "cash":
		return domain.PaymentCash, nil
	default:
		return "", fmt.Errorf("%w: unsupported payment method %q", store.ErrValidation, method)
	}
}
