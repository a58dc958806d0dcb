package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/vaenkat/health-ecosystem-hub/internal/config"
	"github.com/vaenkat/health-ecosystem-hub/internal/store"
	"github.com/vaenkat/health-ecosystem-hub/pkg/protocol"
)

const tokenIssuer = "healthhub"

// Claims is the JWT payload of a builtin session token.
type Claims struct {
	UserID string `json:"uid"`
	Email  string `json:"eml"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// RegisterParams are the fields accepted when creating an account.
type RegisterParams struct {
	Email    string
	Password string
	FullName string
	Phone    string
	Role     string // defaults to patient; admin cannot self-register
}

// Service is the builtin auth provider.
type Service struct {
	store        store.Store
	jwtSecret    []byte
	jwtExpiry    time.Duration
	initialAdmin *config.InitialAdmin
}

// NewService creates a builtin auth service backed by s.
func NewService(s store.Store, cfg config.AuthConfig) *Service {
	return &Service{
		store:        s,
		jwtSecret:    []byte(cfg.JWTSecret),
		jwtExpiry:    cfg.JWTExpiry.Duration,
		initialAdmin: cfg.InitialAdmin,
	}
}

// Mode implements Provider.
func (s *Service) Mode() string { return "builtin" }

// Bootstrap creates the configured initial admin account if no user with
// that email exists yet.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.initialAdmin == nil {
		return nil
	}
	existing, err := s.store.GetUserByEmail(ctx, s.initialAdmin.Email)
	if err != nil {
		return fmt.Errorf("look up admin user: %w", err)
	}
	if existing != nil {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(s.initialAdmin.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	name := s.initialAdmin.FullName
	if name == "" {
		name = "Administrator"
	}
	user := &store.User{
		ID:           uuid.New().String(),
		Email:        s.initialAdmin.Email,
		PasswordHash: string(hash),
		FullName:     name,
		Role:         string(protocol.RoleAdmin),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}
	return nil
}

// Register creates a new account and returns a session token for it.
// The admin role is reserved for Bootstrap.
func (s *Service) Register(ctx context.Context, p RegisterParams) (string, *store.User, error) {
	role := p.Role
	if role == "" {
		role = string(protocol.RolePatient)
	}
	if !protocol.Role(role).Valid() || role == string(protocol.RoleAdmin) {
		return "", nil, ErrInvalidRole
	}

	existing, err := s.store.GetUserByEmail(ctx, p.Email)
	if err != nil {
		return "", nil, fmt.Errorf("look up user: %w", err)
	}
	if existing != nil {
		return "", nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("hash password: %w", err)
	}

	user := &store.User{
		ID:           uuid.New().String(),
		Email:        p.Email,
		PasswordHash: string(hash),
		FullName:     p.FullName,
		Phone:        p.Phone,
		Role:         role,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return "", nil, fmt.Errorf("create user: %w", err)
	}

	token, err := s.Token(user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// Login checks the password for the account and returns a session token.
func (s *Service) Login(ctx context.Context, email, password string) (string, *store.User, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return "", nil, fmt.Errorf("look up user: %w", err)
	}
	if user == nil {
		return "", nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.Token(user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// Verify implements Provider.
func (s *Service) Verify(ctx context.Context, tokenStr string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrUnauthorized
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}
	return &Identity{UserID: claims.UserID, Email: claims.Email, Role: claims.Role}, nil
}

// Token signs a session token for the user.
func (s *Service) Token(user *store.User) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.jwtExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
