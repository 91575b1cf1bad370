package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the payload of a proxy access token. Routers lists the router names the bearer may
// address; a single "*" entry grants access to every configured router.
type Claims struct {
	Routers []string `json:"routers,omitempty"`
	jwt.RegisteredClaims
}

// Allows reports whether the claims cover the named router.
func (c *Claims) Allows(router string) bool {
	return slices.Contains(c.Routers, "*") || slices.Contains(c.Routers, router)
}

// TokenVerifier validates the HMAC-signed bearer tokens the proxy accepts. It can also mint
// them, for provisioning tools and tests.
type TokenVerifier struct {
	secret []byte
	issuer string
}

// NewTokenVerifier creates a verifier for tokens signed with secret. When issuer is non-empty,
// tokens must carry a matching iss claim.
func NewTokenVerifier(secret []byte, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: secret, issuer: issuer}
}

// Verify parses token and returns its claims. Expired, unsigned, or foreign-issuer tokens are
// rejected.
func (v *TokenVerifier) Verify(token string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		// The algorithm is pinned to HMAC; the alg header is not trusted.
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unsupported signature type %v", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// Mint issues a token for subject covering the given routers, valid for validity from now.
func (v *TokenVerifier) Mint(subject string, routers []string, validity time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Routers: routers,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

type contextKey int

const (
	claimsKey contextKey = iota
	targetKey
	routerNameKey
)

func bearerToken(req *http.Request) (string, error) {
	token, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return "", errors.New("client did not provide a bearer token")
	}
	return token, nil
}

// authenticate rejects requests without a valid token and stores the verified claims on the
// request context.
func (p *Proxy) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		token, err := bearerToken(req)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "missing_token", err)
			return
		}
		claims, err := p.verifier.Verify(token)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "invalid_token", err)
			return
		}
		ctx := context.WithValue(req.Context(), claimsKey, claims)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

func claimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey).(*Claims)
	return claims
}
