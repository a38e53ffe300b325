package services

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	tenantrepo "github.com/heimdex/heimdex-backend/internal/data/repos/tenants"
	"github.com/heimdex/heimdex-backend/internal/pkg/ctxutil"
	perrors "github.com/heimdex/heimdex-backend/internal/pkg/errors"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
	"github.com/heimdex/heimdex-backend/internal/utils"
)

// TokenGrant is the result of a successful API-key exchange.
type TokenGrant struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int       `json:"expires_in"`
	ExpiresAt   time.Time `json:"expires_at"`
	TenantName  string    `json:"tenant_name"`
}

// AuthService exchanges tenant API keys for short-lived JWTs and resolves
// presented tokens back into a request context. Every protected route gets
// its tenant from here and nowhere else.
type AuthService interface {
	IssueToken(ctx context.Context, tenantID uuid.UUID, apiKey string) (*TokenGrant, error)
	SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
	GetAccessTTL() time.Duration
}

type tenantClaims struct {
	TenantName string `json:"tenant_name,omitempty"`
	jwt.RegisteredClaims
}

type authService struct {
	log       *logger.Logger
	tenants   tenantrepo.TenantRepo
	secret    []byte
	accessTTL time.Duration
}

const tokenIssuer = "heimdex"

func NewAuthService(log *logger.Logger, tenants tenantrepo.TenantRepo, jwtSecretKey string, accessTTL time.Duration) AuthService {
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	return &authService{
		log:       log.With("service", "AuthService"),
		tenants:   tenants,
		secret:    []byte(jwtSecretKey),
		accessTTL: accessTTL,
	}
}

// IssueToken verifies the API key against the tenant's bcrypt hash and mints
// an HS256 token whose subject is the tenant id. Lookup and verification
// failures report the same error so callers cannot probe for tenant ids.
func (as *authService) IssueToken(ctx context.Context, tenantID uuid.UUID, apiKey string) (*TokenGrant, error) {
	if tenantID == uuid.Nil || strings.TrimSpace(apiKey) == "" {
		return nil, perrors.Unauthorizedf("invalid tenant or api key")
	}
	tenant, err := as.tenants.GetByID(ctx, nil, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant == nil || !utils.VerifyAPIKey(tenant.APIKeyHash, apiKey) {
		as.log.Warn("api key rejected", "tenant_id", tenantID)
		return nil, perrors.Unauthorizedf("invalid tenant or api key")
	}

	now := time.Now()
	expiresAt := now.Add(as.accessTTL)
	claims := tenantClaims{
		TenantName: tenant.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tenant.ID.String(),
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(as.secret)
	if err != nil {
		return nil, err
	}
	return &TokenGrant{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(as.accessTTL.Seconds()),
		ExpiresAt:   expiresAt,
		TenantName:  tenant.Name,
	}, nil
}

// SetContextFromToken validates the token and attaches the tenant identity
// to the context. The signing method is pinned to HMAC so a token signed
// with some other scheme never reaches the claims check.
func (as *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	if strings.TrimSpace(tokenString) == "" {
		return ctx, perrors.Unauthorizedf("missing token")
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &tenantClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, perrors.Unauthorizedf("unexpected signing method %v", token.Header["alg"])
		}
		return as.secret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return ctx, perrors.Unauthorizedf("invalid token: %v", err)
	}
	claims, ok := parsed.Claims.(*tenantClaims)
	if !ok || !parsed.Valid {
		return ctx, perrors.Unauthorizedf("invalid or expired token")
	}
	tenantID, err := uuid.Parse(claims.Subject)
	if err != nil || tenantID == uuid.Nil {
		return ctx, perrors.Unauthorizedf("invalid tenant id in token")
	}
	return ctxutil.WithRequestData(ctx, &ctxutil.RequestData{
		TenantID:    tenantID,
		TenantName:  claims.TenantName,
		TokenString: tokenString,
	}), nil
}

func (as *authService) GetAccessTTL() time.Duration {
	return as.accessTTL
}
