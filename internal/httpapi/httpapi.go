package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"posrider/backend/internal/cache"
	"posrider/backend/internal/domain"
	"posrider/backend/internal/metrics"
	"posrider/backend/internal/service"
	"posrider/backend/internal/store"
)

const (
	defaultListLimit = 500
	maxListLimit     = 5000
	maxBodyBytes     = 1 << 20
)

type Options struct {
	AllowedOrigins []string
	// Idempotency stores replayable responses for requests carrying an
	// Idempotency-Key header. Nil disables replay.
	Idempotency    cache.IdempotencyStore
	IdempotencyTTL time.Duration
	// InFlightTTL bounds how long an unfinished request holds its key. It
	// should cover the server's write timeout.
	InFlightTTL time.Duration
	Logger      *zap.Logger
}

type API struct {
	service        *service.Service
	auth           *AuthManager
	allowedOrigins []string
	idempotency    cache.IdempotencyStore
	idempotencyTTL time.Duration
	inFlightTTL    time.Duration
	loginLimiter   *attemptLimiter
	log            *zap.Logger
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	ttl := opts.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	inFlight := opts.InFlightTTL
	if inFlight <= 0 {
		inFlight = 30 * time.Second
	}
	return &API{
		service:        svc,
		auth:           auth,
		allowedOrigins: origins,
		idempotency:    opts.Idempotency,
		idempotencyTTL: ttl,
		inFlightTTL:    inFlight,
		loginLimiter:   newAttemptLimiter(5, time.Minute),
		log:            log.Named("http"),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

// clientKey expects RemoteAddr to have been rewritten by middleware.RealIP
// when running behind a proxy.
func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.observe)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key", "X-Request-Id"},
		ExposedHeaders: []string{"Idempotent-Replay", "X-Request-Id"},
		MaxAge:         300,
	}))
	r.Use(securityHeaders)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", a.handleHealth)
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth())
			r.Use(a.idempotent)

			r.Get("/auth/me", a.handleMe)
			r.Put("/auth/profile", a.handleUpdateProfile)

			r.Get("/categories", a.handleListCategories)
			r.Get("/products", a.handleListProducts)
			r.Get("/products/{id}", a.handleGetProduct)

			r.Get("/users/leaderboard", a.handleUserLeaderboard)

			r.Get("/rider-stock", a.handleListRiderStock)

			r.Post("/transactions", a.handleCreateSale)
			r.Get("/transactions", a.handleListTransactions)
			r.Get("/transactions/{id}", a.handleGetTransaction)

			for _, kind := range []domain.RequestKind{domain.KindReturn, domain.KindReject} {
				base := "/" + string(kind) + "s"
				r.Post(base, a.handleCreateStockRequest(kind))
				r.Get(base, a.handleListStockRequests(kind))
				r.Get(base+"/history", a.handleListStockRequestHistory(kind))
			}

			r.Group(func(r chi.Router) {
				r.Use(a.requireAuth(domain.RoleAdmin, domain.RoleSuperAdmin))

				r.Post("/auth/register", a.handleRegister)
				r.Get("/users", a.handleListUsers)
				r.Get("/users/reports", a.handleUserReports)

				r.Post("/categories", a.handleCreateCategory)
				r.Delete("/categories/{id}", a.handleDeleteCategory)
				r.Post("/products", a.handleCreateProduct)
				r.Put("/products/{id}", a.handleUpdateProduct)
				r.Delete("/products/{id}", a.handleDeleteProduct)

				r.Post("/productions", a.handleCreateProduction)
				r.Get("/productions", a.handleListProductions)
				r.Post("/distributions", a.handleCreateDistribution)
				r.Get("/distributions", a.handleListDistributions)
				r.Get("/rider-stock/{riderID}", a.handleGetRiderStock)

				for _, kind := range []domain.RequestKind{domain.KindReturn, domain.KindReject} {
					base := "/" + string(kind) + "s"
					r.Put(base+"/{id}/approve", a.handleResolveStockRequest(kind, true))
					r.Put(base+"/{id}/reject", a.handleResolveStockRequest(kind, false))
				}

				r.Post("/stock-opname", a.handleCreateOpname)
				r.Get("/stock-opname", a.handleListOpnames)

				r.Get("/reports/summary", a.handleSalesSummary)
				r.Get("/reports/leaderboard", a.handleLeaderboard)
			})
		})
	})

	return r
}

// requireAuth validates the bearer token and attaches the actor. With roles
// given, any other role is refused with 403.
func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if actor, ok := service.ActorFromContext(r.Context()); ok {
				if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
					writeError(w, http.StatusForbidden, errors.New("forbidden role"))
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}

			token := strings.TrimSpace(authorization[len("Bearer "):])
			actor, err := a.auth.ParseToken(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err)
				return
			}
			if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}

			next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// observe records request metrics under the matched route pattern and logs
// one line per request.
func (a *API) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		elapsed := time.Since(startedAt)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

		a.log.Info("request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrValidation), errors.Is(err, store.ErrInsufficientStock):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, store.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict), errors.Is(err, cache.ErrInFlight):
		return http.StatusConflict
	case errors.Is(err, cache.ErrKeyReused):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with the status it maps to. Internal errors are logged with
// the request id and replaced by a generic message.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
	}
	writeError(w, status, err)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: request body too large", store.ErrValidation)
		}
		return fmt.Errorf("%w: invalid JSON body: %v", store.ErrValidation, err)
	}
	return nil
}

// parseListFilter reads rider_id, status, start_date, end_date and limit.
func parseListFilter(r *http.Request) (domain.ListFilter, error) {
	q := r.URL.Query()
	filter := domain.ListFilter{
		RiderID: strings.TrimSpace(q.Get("rider_id")),
		Status:  strings.ToLower(strings.TrimSpace(q.Get("status"))),
		Limit:   parsePositiveLimit(q.Get("limit"), defaultListLimit, maxListLimit),
	}
	var err error
	if filter.From, err = parseDate(q.Get("start_date"), false); err != nil {
		return domain.ListFilter{}, err
	}
	if filter.To, err = parseDate(q.Get("end_date"), true); err != nil {
		return domain.ListFilter{}, err
	}
	return filter, nil
}

func parseReportFilter(r *http.Request) (domain.ReportFilter, error) {
	filter, err := parseListFilter(r)
	if err != nil {
		return domain.ReportFilter{}, err
	}
	return domain.ReportFilter{RiderID: filter.RiderID, From: filter.From, To: filter.To}, nil
}

// parseDate accepts YYYY-MM-DD or RFC3339. A bare date used as an upper
// bound covers the whole day.
func parseDate(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		ts = ts.UTC()
		return &ts, nil
	}
	day, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date %q, expected YYYY-MM-DD or RFC3339", store.ErrValidation, raw)
	}
	if endOfDay {
		day = day.Add(24*time.Hour - time.Nanosecond)
	}
	return &day, nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
