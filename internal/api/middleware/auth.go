// auth.go — JWT-аутентификация /api/v1/* по ключам JWKS внешнего IdP (RS256).
// Публичные endpoints (health, metrics, /blobs/{token}) подключаются без него:
// доступ к содержимому уже ограничен подписанной сессионной ссылкой.
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/phototimeline/internal/api/errors"
)

type contextKey string

// ContextKeyPrincipal — ключ аутентифицированного субъекта в контексте запроса.
const ContextKeyPrincipal contextKey = "jwt_principal"

// Principal — владелец запроса по данным токена.
type Principal struct {
	Subject string
	Scopes  []string
}

// HasScope сообщает, выдан ли субъекту scope.
func (p Principal) HasScope(scope string) bool {
	return slices.Contains(p.Scopes, scope)
}

// accessClaims — claims токена доступа. IdP выдаёт scopes либо строкой
// через пробел (scope), либо массивом (scopes).
type accessClaims struct {
	jwt.RegisteredClaims
	Scope  string   `json:"scope,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
}

func (c *accessClaims) principal() Principal {
	scopes := strings.Fields(c.Scope)
	for _, s := range c.Scopes {
		if !slices.Contains(scopes, s) {
			scopes = append(scopes, s)
		}
	}
	return Principal{Subject: c.Subject, Scopes: scopes}
}

// JWTAuthConfig — параметры JWT middleware.
type JWTAuthConfig struct {
	JWKSURL string
	// CACertPath — доверенный CA для JWKS endpoint (опционально)
	CACertPath      string
	TLSSkipVerify   bool
	ClientTimeout   time.Duration
	RefreshInterval time.Duration
	// JWTLeeway — допустимое расхождение часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Issuer и Audience проверяются, только если заданы
	Issuer   string
	Audience string
}

// JWTAuth — middleware JWT-аутентификации.
type JWTAuth struct {
	kf     keyfunc.Keyfunc
	opts   []jwt.ParserOption
	logger *slog.Logger
}

// NewJWTAuth создаёт middleware с ключами из JWKS endpoint.
// Первая загрузка ключей не блокирует старт: IdP может подняться позже.
func NewJWTAuth(authCfg JWTAuthConfig, logger *slog.Logger) (*JWTAuth, error) {
	storage, err := newJWKSStorage(authCfg, logger)
	if err != nil {
		return nil, err
	}
	kf, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}
	return NewJWTAuthWithKeyfunc(kf, authCfg, logger), nil
}

// NewJWTAuthWithKeyfunc создаёт middleware с готовой keyfunc (тесты, статический JWKS).
// Из authCfg используются только JWTLeeway, Issuer и Audience.
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, authCfg JWTAuthConfig, logger *slog.Logger) *JWTAuth {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(authCfg.JWTLeeway),
	}
	if authCfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(authCfg.Issuer))
	}
	if authCfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(authCfg.Audience))
	}
	return &JWTAuth{
		kf:     kf,
		opts:   opts,
		logger: logger.With(slog.String("component", "jwt_auth")),
	}
}

func newJWKSStorage(authCfg JWTAuthConfig, logger *slog.Logger) (jwkset.Storage, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: authCfg.TLSSkipVerify, //nolint:gosec // PT_TLS_SKIP_VERIFY
	}
	if authCfg.CACertPath != "" {
		pem, err := os.ReadFile(authCfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", authCfg.CACertPath, err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA-сертификат %s не содержит PEM-блоков", authCfg.CACertPath)
		}
		tlsConfig.RootCAs = pool
		logger.Info("CA-сертификат JWKS загружен", slog.String("ca_cert", authCfg.CACertPath))
	}

	storage, err := jwkset.NewStorageFromHTTP(authCfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client: &http.Client{
			Timeout:   authCfg.ClientTimeout,
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           authCfg.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("url", authCfg.JWKSURL),
				slog.String("error", err.Error()),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}
	return storage, nil
}

// Middleware проверяет Bearer-токен и помещает Principal в контекст.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, problem := bearerToken(r)
			if problem != "" {
				apierrors.Unauthorized(w, problem)
				return
			}

			claims := &accessClaims{}
			if _, err := jwt.ParseWithClaims(raw, claims, j.kf.KeyfuncCtx(r.Context()), j.opts...); err != nil {
				j.logger.Debug("Токен отклонён",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			p := claims.principal()
			if p.Subject == "" {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ContextKeyPrincipal, p)))
		})
	}
}

// bearerToken извлекает токен из Authorization; вторым значением — причина отказа.
func bearerToken(r *http.Request) (string, string) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", "Отсутствует заголовок Authorization"
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "Неверный формат Authorization: ожидается Bearer <token>"
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "Пустой Bearer token"
	}
	return token, ""
}

// RequireAccess разграничивает чтение и изменение коллекции по scopes.
// GET/HEAD требуют readScope или writeScope, остальные методы — writeScope.
// Пустой scope не проверяется. Подключается после JWTAuth.Middleware().
func RequireAccess(readScope, writeScope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				apierrors.Unauthorized(w, "Требуется аутентификация")
				return
			}

			safe := r.Method == http.MethodGet || r.Method == http.MethodHead
			switch {
			case writeScope != "" && p.HasScope(writeScope):
			case safe && (readScope == "" || p.HasScope(readScope)):
			case !safe && writeScope == "":
			default:
				need := writeScope
				if safe {
					need = readScope
				}
				apierrors.Forbidden(w, "Недостаточно прав: требуется scope "+need)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PrincipalFromContext возвращает субъекта запроса, если он аутентифицирован.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ContextKeyPrincipal).(Principal)
	return p, ok
}

// SubjectFromContext возвращает sub субъекта или пустую строку.
func SubjectFromContext(ctx context.Context) string {
	p, _ := PrincipalFromContext(ctx)
	return p.Subject
}
