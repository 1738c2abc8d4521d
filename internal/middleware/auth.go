// Package middleware содержит HTTP middleware сервиса буст-платформы.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/boosthub/boosthub-system/internal/model"
)

type contextKey string

const actorKey contextKey = "actor"

const (
	authCookieName = "auth_token"
	authCookieTTL  = 365 * 24 * time.Hour
)

// Actor описывает аутентифицированного пользователя запроса.
type Actor struct {
	ID   int64
	Role model.Role
}

// AuthMiddleware выполняет проверку аутентификации пользователя по подписанному cookie.
// Полезная нагрузка cookie имеет вид "id:role" и подписывается HMAC-SHA256.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет cookie авторизации и добавляет актора в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(authCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		actor, ok := a.parseCookie(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), actorKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRoles пропускает запрос только если роль актора входит в указанный список.
// Middleware должен стоять после Middleware аутентификации.
func RequireRoles(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := GetActorFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			for _, role := range roles {
				if actor.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

// SetAuthCookie устанавливает cookie авторизации для указанного актора.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, actor Actor) {
	payload := strconv.FormatInt(actor.ID, 10) + ":" + string(actor.Role)

	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    payload + "." + a.sign(payload),
		Path:     "/",
		Expires:  time.Now().Add(authCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

func (a *AuthMiddleware) sign(payload string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *AuthMiddleware) parseCookie(cookieValue string) (Actor, bool) {
	parts := strings.Split(cookieValue, ".")
	if len(parts) != 2 {
		return Actor{}, false
	}

	payload := parts[0]
	signature := parts[1]

	if !hmac.Equal([]byte(signature), []byte(a.sign(payload))) {
		return Actor{}, false
	}

	idStr, roleStr, ok := strings.Cut(payload, ":")
	if !ok {
		return Actor{}, false
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return Actor{}, false
	}

	role := model.Role(roleStr)
	switch role {
	case model.RoleCustomer, model.RoleBooster, model.RoleAdmin:
	default:
		return Actor{}, false
	}

	return Actor{ID: id, Role: role}, true
}

// GetActorFromContext извлекает актора из контекста запроса.
func GetActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok
}
