package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const (
	apiKeyScheme    = "sjf"
	apiKeyPrefixLen = 8
	apiKeySecretLen = 32

	defaultKeyCacheSize = 1024
	defaultKeyCacheTTL  = 5 * time.Minute
)

// ErrMalformedAPIKey: ключ не соответствует формату sjf_<prefix>_<secret>.
var ErrMalformedAPIKey = errors.New("malformed api key")

// GeneratedKey: только что выпущенный ключ. Raw показывается клиенту один раз.
type GeneratedKey struct {
	Raw        string
	Prefix     string
	SecretHash []byte
}

// GenerateAPIKey выпускает новый ключ и bcrypt-хеш его секрета.
func GenerateAPIKey() (GeneratedKey, error) {
	prefixBytes := make([]byte, apiKeyPrefixLen/2)
	if _, err := rand.Read(prefixBytes); err != nil {
		return GeneratedKey{}, fmt.Errorf("generate key prefix: %w", err)
	}
	secretBytes := make([]byte, apiKeySecretLen)
	if _, err := rand.Read(secretBytes); err != nil {
		return GeneratedKey{}, fmt.Errorf("generate key secret: %w", err)
	}

	prefix := hex.EncodeToString(prefixBytes)
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return GeneratedKey{}, fmt.Errorf("hash key secret: %w", err)
	}

	return GeneratedKey{
		Raw:        apiKeyScheme + "_" + prefix + "_" + secret,
		Prefix:     prefix,
		SecretHash: hash,
	}, nil
}

// ParseAPIKey разбирает ключ на префикс и секрет.
func ParseAPIKey(raw string) (prefix, secret string, err error) {
	parts := strings.SplitN(strings.TrimSpace(raw), "_", 3)
	if len(parts) != 3 || parts[0] != apiKeyScheme || len(parts[1]) != apiKeyPrefixLen || parts[2] == "" {
		return "", "", ErrMalformedAPIKey
	}
	return parts[1], parts[2], nil
}

// KeyAuthenticator проверяет API-ключи. Успешные проверки кэшируются
// по sha256 от ключа, чтобы не считать bcrypt на каждый запрос.
// Деактивация ключа в хранилище вступает в силу не позже TTL кэша.
type KeyAuthenticator struct {
	keys   domain.APIKeyRepository
	cache  *expirable.LRU[string, domain.APIKey]
	now    func() time.Time
	logger *log.Entry
}

// KeyAuthenticatorOption настраивает KeyAuthenticator.
type KeyAuthenticatorOption func(*KeyAuthenticator)

// WithKeyCache задаёт размер и TTL кэша проверенных ключей.
func WithKeyCache(size int, ttl time.Duration) KeyAuthenticatorOption {
	return func(a *KeyAuthenticator) {
		if size <= 0 {
			size = defaultKeyCacheSize
		}
		if ttl <= 0 {
			ttl = defaultKeyCacheTTL
		}
		a.cache = expirable.NewLRU[string, domain.APIKey](size, nil, ttl)
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) KeyAuthenticatorOption {
	return func(a *KeyAuthenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewKeyAuthenticator создаёт проверяльщик API-ключей.
func NewKeyAuthenticator(keys domain.APIKeyRepository, logger *log.Entry, opts ...KeyAuthenticatorOption) *KeyAuthenticator {
	if logger == nil {
		logger = log.New().WithField("component", "api-key-auth")
	}
	a := &KeyAuthenticator{
		keys:   keys,
		cache:  expirable.NewLRU[string, domain.APIKey](defaultKeyCacheSize, nil, defaultKeyCacheTTL),
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate возвращает вызывающего для ключа или ошибку, оборачивающую domain.ErrUnauthenticated.
func (a *KeyAuthenticator) Authenticate(ctx context.Context, raw string) (domain.Principal, error) {
	cacheKey := fingerprint(raw)
	now := a.now()

	key, ok := a.cache.Get(cacheKey)
	if !ok {
		var err error
		key, err = a.verify(ctx, raw)
		if err != nil {
			return domain.Principal{}, err
		}
		a.cache.Add(cacheKey, key)
	}

	if !key.Usable(now) {
		a.cache.Remove(cacheKey)
		return domain.Principal{}, fmt.Errorf("%w: api key is inactive or expired", domain.ErrUnauthenticated)
	}

	if err := a.keys.TouchLastUsed(ctx, key.ID, now); err != nil {
		a.logger.WithError(err).WithField("api_key_id", key.ID).Warn("failed to update api key last used time")
	}
	return key.Principal(), nil
}

func (a *KeyAuthenticator) verify(ctx context.Context, raw string) (domain.APIKey, error) {
	prefix, secret, err := ParseAPIKey(raw)
	if err != nil {
		return domain.APIKey{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}

	key, err := a.keys.GetByPrefix(ctx, prefix)
	if err != nil {
		if errors.Is(err, domain.ErrAPIKeyNotFound) {
			return domain.APIKey{}, fmt.Errorf("%w: unknown api key", domain.ErrUnauthenticated)
		}
		return domain.APIKey{}, fmt.Errorf("load api key: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword(key.SecretHash, []byte(secret)); err != nil {
		return domain.APIKey{}, fmt.Errorf("%w: api key secret mismatch", domain.ErrUnauthenticated)
	}
	return key, nil
}

func fingerprint(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
