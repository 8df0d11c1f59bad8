package middleware

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

type contextKey string

const shopKey contextKey = "shop"

// WithShop stores the authenticated shop domain on the context.
func WithShop(ctx context.Context, shop string) context.Context {
	return context.WithValue(ctx, shopKey, shop)
}

// ShopFromContext returns the shop domain the session token was issued for.
func ShopFromContext(ctx context.Context) (string, bool) {
	shop, ok := ctx.Value(shopKey).(string)
	if !ok || shop == "" {
		return "", false
	}
	return shop, true
}

// SessionTokenMiddleware verifies embedded-app session tokens: HS256 JWTs
// signed with the app API secret, audience set to the app API key, shop
// carried in the dest claim.
func SessionTokenMiddleware(apiKey, apiSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}
			parts := strings.SplitN(auth, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "Invalid authorization format", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(apiSecret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "Invalid session token", http.StatusUnauthorized)
				return
			}
			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "Invalid session token", http.StatusUnauthorized)
				return
			}
			now := time.Now().Unix()
			if !claims.VerifyExpiresAt(now, true) {
				http.Error(w, "Session token expired", http.StatusUnauthorized)
				return
			}
			if !claims.VerifyNotBefore(now, false) {
				http.Error(w, "Session token not yet valid", http.StatusUnauthorized)
				return
			}
			if apiKey != "" && !claims.VerifyAudience(apiKey, true) {
				http.Error(w, "Session token audience mismatch", http.StatusUnauthorized)
				return
			}

			shop, ok := shopFromClaims(claims)
			if !ok {
				http.Error(w, "Missing shop claim", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithShop(r.Context(), shop)))
		})
	}
}

// shopFromClaims extracts the myshopify domain from the dest claim,
// e.g. "https://acme-staging.myshopify.com".
func shopFromClaims(claims jwt.MapClaims) (string, bool) {
	dest, ok := claims["dest"].(string)
	if !ok || dest == "" {
		return "", false
	}
	u, err := url.Parse(dest)
	if err != nil || u.Host == "" {
		// Tokens from some surfaces carry a bare domain.
		if strings.Contains(dest, ".myshopify.com") {
			return strings.TrimPrefix(dest, "https://"), true
		}
		return "", false
	}
	return u.Host, true
}
