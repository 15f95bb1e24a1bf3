package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/catalog-harvester/pkg/client"
)

// ErrNoToken is returned when the API does not hand out a token.
var ErrNoToken = errors.New("no token in API response")

const tokenCacheKey = "harvester:token"

// TokenConfig holds token provider configuration.
type TokenConfig struct {
	// BaseURL is the catalog API base URL.
	BaseURL string

	// Headers are the shared request headers.
	Headers map[string]string

	// TTL bounds how long an acquired token is reused.
	TTL time.Duration

	// Redis, when set, shares the token cache across workers. Without it the
	// cache is process-local.
	Redis *redis.Client
}

// TokenProvider obtains and caches the API access token.
type TokenProvider struct {
	api    *client.Adapter
	signer *Signer
	config TokenConfig
	logger zerolog.Logger

	mu      sync.Mutex
	cached  string
	expires time.Time
}

// NewTokenProvider creates a token provider.
func NewTokenProvider(api *client.Adapter, signer *Signer, cfg TokenConfig, logger zerolog.Logger) *TokenProvider {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	return &TokenProvider{
		api:    api,
		signer: signer,
		config: cfg,
		logger: logger,
	}
}

type tokenResponse struct {
	Data struct {
		Token string `json:"token"`
	} `json:"data"`
}

// Token returns a valid API token, from cache when possible.
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != "" && time.Now().Before(p.expires) {
		return p.cached, nil
	}

	if p.config.Redis != nil {
		token, err := p.config.Redis.Get(ctx, tokenCacheKey).Result()
		if err == nil && token != "" {
			p.logger.Debug().Msg("Token cache hit (redis)")
			p.cached = token
			p.expires = time.Now().Add(p.config.TTL)
			return token, nil
		}
		if err != nil && err != redis.Nil {
			p.logger.Warn().Err(err).Msg("Token cache read failed, fetching fresh token")
		}
	}

	token, err := p.fetch(ctx)
	if err != nil {
		return "", err
	}

	p.cached = token
	p.expires = time.Now().Add(p.config.TTL)

	if p.config.Redis != nil {
		if err := p.config.Redis.Set(ctx, tokenCacheKey, token, p.config.TTL).Err(); err != nil {
			p.logger.Warn().Err(err).Msg("Token cache write failed")
		}
	}

	return token, nil
}

// fetch acquires a fresh token from the API.
func (p *TokenProvider) fetch(ctx context.Context) (string, error) {
	endpoint := p.config.BaseURL + "/start/"
	res := p.api.Request(ctx, client.Spec{
		URL:     endpoint,
		Params:  map[string]string{"sign": p.signer.Sign(nil)},
		Headers: p.config.Headers,
	})

	var parsed tokenResponse
	if err := client.DecodeJSON(res, "/start/", &parsed); err != nil {
		return "", fmt.Errorf("obtain token: %w", err)
	}
	if parsed.Data.Token == "" {
		return "", ErrNoToken
	}

	p.logger.Debug().Msg("Obtained fresh API token")
	return parsed.Data.Token, nil
}

// Invalidate drops the cached token. The next Token call fetches fresh.
func (p *TokenProvider) Invalidate(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cached = ""
	p.expires = time.Time{}
	if p.config.Redis != nil {
		if err := p.config.Redis.Del(ctx, tokenCacheKey).Err(); err != nil {
			p.logger.Warn().Err(err).Msg("Token cache invalidation failed")
		}
	}
}
