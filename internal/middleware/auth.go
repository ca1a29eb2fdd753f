// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/hitoshi/learnify/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// identityContextKey はリクエストコンテキストに認証済みidentityを格納するためのキー。
	identityContextKey = contextKey("identity")
	// identityHolderKey は外側のミドルウェアがidentityを受け取るための箱のキー。
	identityHolderKey = contextKey("identity_holder")
)

// identityHolder は内側の認証ミドルウェアで解決したidentityを外側のログ出力に渡す。
type identityHolder struct {
	mu       sync.Mutex
	identity string
}

func (h *identityHolder) set(identity string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.identity = identity
}

func (h *identityHolder) get() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.identity
}

func contextWithIdentityHolder(ctx context.Context, h *identityHolder) context.Context {
	return context.WithValue(ctx, identityHolderKey, h)
}

// TokenAuthenticator はアクセストークンからidentityを解決するインターフェース。
type TokenAuthenticator interface {
	Authenticate(token string) (string, error)
}

// NewAuthMiddleware はAuthorization: Bearer ヘッダーのトークンを検証し、
// 認証済みidentity（メールアドレス）をリクエストコンテキストに注入するミドルウェアを返す。
// トークンがない、または不正な場合は401を返す。
func NewAuthMiddleware(authn TokenAuthenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			identity, err := authn.Authenticate(token)
			if err != nil {
				slog.Debug("token rejected", slog.String("error", err.Error()))
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// IdentityFromContext はリクエストコンテキストから認証済みidentityを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func IdentityFromContext(ctx context.Context) (string, error) {
	identity, ok := ctx.Value(identityContextKey).(string)
	if !ok || identity == "" {
		return "", fmt.Errorf("identity not found in context")
	}
	return identity, nil
}

// ContextWithIdentity はコンテキストにidentityを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, identity string) context.Context {
	if h, ok := ctx.Value(identityHolderKey).(*identityHolder); ok {
		h.set(identity)
	}
	return context.WithValue(ctx, identityContextKey, identity)
}
