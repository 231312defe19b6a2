package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"carbon-scribe/energy-credits/energy-credits-backend/internal/apperrors"
)

// Roles carried in the "roles" claim.
const (
	RoleProducer = "producer"
	RoleVerifier = "verifier"
	RoleTreasury = "treasury"
)

const (
	contextAccountKey = "auth.account_id"
	contextRolesKey   = "auth.roles"
)

// Claims issued by the identity service. The subject is the account id.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Authenticator validates and issues HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	issuer string
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

// IssueToken signs a token for the account with the given roles.
func (a *Authenticator) IssueToken(accountID uuid.UUID, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID.String(),
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse validates a raw token and returns its claims.
func (a *Authenticator) Parse(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, errors.New("token subject is not an account id")
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// caller's account id and roles on the context.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !found && c.IsWebsocket() {
			// Browsers cannot set headers on websocket upgrades.
			raw, found = c.Query("access_token"), true
		}
		if !found || raw == "" {
			abort(c, apperrors.New(apperrors.CodeUnauthorized, "missing bearer token"))
			return
		}

		claims, err := a.Parse(raw)
		if err != nil {
			abort(c, apperrors.Wrap(err, apperrors.CodeUnauthorized, "unauthorized"))
			return
		}

		c.Set(contextAccountKey, uuid.MustParse(claims.Subject))
		c.Set(contextRolesKey, claims.Roles)
		c.Next()
	}
}

// RequireRole allows the request if the caller holds any of the roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, role := range roles {
			if HasRole(c, role) {
				c.Next()
				return
			}
		}
		abort(c, apperrors.New(apperrors.CodeForbidden, "requires role %s", strings.Join(roles, " or ")))
	}
}

// AccountID returns the authenticated caller.
func AccountID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(contextAccountKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// Roles returns the caller's roles.
func Roles(c *gin.Context) []string {
	v, ok := c.Get(contextRolesKey)
	if !ok {
		return nil
	}
	roles, _ := v.([]string)
	return roles
}

func HasRole(c *gin.Context, role string) bool {
	for _, r := range Roles(c) {
		if r == role {
			return true
		}
	}
	return false
}

// MustAccountID is for handlers mounted behind Middleware.
func MustAccountID(c *gin.Context) uuid.UUID {
	id, ok := AccountID(c)
	if !ok {
		panic("auth: handler mounted without authentication middleware")
	}
	return id
}

func abort(c *gin.Context, err *apperrors.Error) {
	status := http.StatusUnauthorized
	if err.Code == apperrors.CodeForbidden {
		status = http.StatusForbidden
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error(), "code": err.Code})
}
