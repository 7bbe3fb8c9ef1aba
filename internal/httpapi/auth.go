package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"posrider/backend/internal/domain"
	"posrider/backend/internal/store"
	"posrider/backend/internal/xid"
)

const minPasswordLength = 6

type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	users    UserStore
}

// UserStore is the slice of the repository that authentication needs.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByID(ctx context.Context, id string) (*domain.UserAccount, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error)
	UpdateUser(ctx context.Context, user domain.UserAccount) error
}

type riderClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, users UserStore) *AuthManager {
	if tokenTTL <= 0 {
		tokenTTL = 7 * 24 * time.Hour
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		users:    users,
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return domain.LoginResponse{}, fmt.Errorf("%w: email and password are required", store.ErrValidation)
	}

	user, err := a.users.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return domain.LoginResponse{}, fmt.Errorf("%w: invalid credentials", store.ErrUnauthenticated)
	}
	if err != nil {
		return domain.LoginResponse{}, err
	}
	if !verifyPassword(user.PasswordHash, req.Password) {
		return domain.LoginResponse{}, fmt.Errorf("%w: invalid credentials", store.ErrUnauthenticated)
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(user.ID, user.Role, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt.Format(time.RFC3339),
		User:        user.Profile(),
	}, nil
}

// Register creates an account on behalf of an admin. Admins may only create
// riders; only a super admin may create another super admin.
func (a *AuthManager) Register(ctx context.Context, actor domain.Actor, req domain.RegisterRequest) (domain.UserProfile, error) {
	if !actor.IsAdmin() {
		return domain.UserProfile{}, fmt.Errorf("%w: admin role required", store.ErrForbidden)
	}

	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role == "" {
		role = domain.RoleRider
	}
	if !domain.IsKnownRole(role) {
		return domain.UserProfile{}, fmt.Errorf("%w: unknown role %q", store.ErrValidation, req.Role)
	}
	if actor.Role == domain.RoleAdmin && role != domain.RoleRider {
		return domain.UserProfile{}, fmt.Errorf("%w: admins can only register riders", store.ErrForbidden)
	}

	email := normalizeEmail(req.Email)
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return domain.UserProfile{}, fmt.Errorf("%w: a valid email is required", store.ErrValidation)
	}
	fullName := strings.TrimSpace(req.FullName)
	if fullName == "" {
		return domain.UserProfile{}, fmt.Errorf("%w: full_name is required", store.ErrValidation)
	}
	if len(req.Password) < minPasswordLength {
		return domain.UserProfile{}, fmt.Errorf("%w: password must be at least %d characters", store.ErrValidation, minPasswordLength)
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("hash password: %w", err)
	}
	user := domain.UserAccount{
		ID:           xid.New(),
		Email:        email,
		FullName:     fullName,
		Phone:        strings.TrimSpace(req.Phone),
		Role:         role,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.users.CreateUser(ctx, user); err != nil {
		return domain.UserProfile{}, err
	}
	return user.Profile(), nil
}

func (a *AuthManager) UpdateProfile(ctx context.Context, actor domain.Actor, req domain.ProfileUpdateRequest) (domain.UserProfile, error) {
	user, err := a.users.GetUserByID(ctx, actor.ID)
	if err != nil {
		return domain.UserProfile{}, err
	}

	if req.FullName != nil {
		name := strings.TrimSpace(*req.FullName)
		if name == "" {
			return domain.UserProfile{}, fmt.Errorf("%w: full_name cannot be empty", store.ErrValidation)
		}
		user.FullName = name
	}
	if req.Phone != nil {
		user.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Password != nil {
		if len(*req.Password) < minPasswordLength {
			return domain.UserProfile{}, fmt.Errorf("%w: password must be at least %d characters", store.ErrValidation, minPasswordLength)
		}
		hash, err := hashPassword(*req.Password)
		if err != nil {
			return domain.UserProfile{}, fmt.Errorf("hash password: %w", err)
		}
		user.PasswordHash = hash
	}

	if err := a.users.UpdateUser(ctx, *user); err != nil {
		return domain.UserProfile{}, err
	}
	return user.Profile(), nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &riderClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, fmt.Errorf("%w: invalid or expired token", store.ErrUnauthenticated)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, fmt.Errorf("%w: invalid token subject", store.ErrUnauthenticated)
	}
	if !domain.IsKnownRole(claims.Role) {
		return domain.Actor{}, fmt.Errorf("%w: invalid token role", store.ErrUnauthenticated)
	}
	return domain.Actor{ID: sub, Role: claims.Role}, nil
}

func (a *AuthManager) sign(userID, role string, expiresAt time.Time) (string, error) {
	claims := riderClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "posrider",
		},
		Role: role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
