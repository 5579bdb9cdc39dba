package config

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/mozilla-lando/landingd/internal/configcache"
)

// cacheKey is the single Redis key the cached lookup uses; there is only
// ever one repositories.yaml per deployment.
const cacheKey = "landingd:repositories-config"

// CachedRepositoryLookup resolves a repository short name to its
// configured URL and access group, reloading from disk through a
// short-TTL cache so the Public Request API doesn't re-parse
// repositories.yaml on every request. Satisfies api.RepositoryLookup.
type CachedRepositoryLookup struct {
	cache *configcache.Cache
	path  string
	log   *zap.Logger
}

func NewCachedRepositoryLookup(cache *configcache.Cache, path string, log *zap.Logger) *CachedRepositoryLookup {
	return &CachedRepositoryLookup{cache: cache, path: path, log: log}
}

// resolve loads (through the cache) and returns the configured entry for
// shortName. Errors loading or decoding the configuration are logged and
// treated as "not found" — a stale or unreachable cache should never
// crash a request, only cause it to be conservatively rejected by the
// caller.
func (l *CachedRepositoryLookup) resolve(shortName string) (*RepositoryConfig, bool) {
	ctx := context.Background()
	raw, err := l.cache.Get(ctx, cacheKey, func(ctx context.Context) (string, error) {
		cfg, err := Load(l.path)
		if err != nil {
			return "", err
		}
		b, err := json.Marshal(cfg)
		if err != nil {
			return "", err
		}
		return string(b), nil
	})
	if err != nil {
		l.log.Warn("loading repositories config for lookup", zap.Error(err))
		return nil, false
	}

	var cfg RepositoriesConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		l.log.Warn("decoding cached repositories config", zap.Error(err))
		return nil, false
	}
	for i := range cfg.Repositories {
		if cfg.Repositories[i].ShortName == shortName {
			return &cfg.Repositories[i], true
		}
	}
	return nil, false
}

// Lookup reports a repository's configured URL.
func (l *CachedRepositoryLookup) Lookup(shortName string) (string, bool) {
	repo, ok := l.resolve(shortName)
	if !ok {
		return "", false
	}
	return repo.URL, true
}

// AccessGroup reports a repository's configured landing access group, or
// "" if the repository is unknown or carries none.
func (l *CachedRepositoryLookup) AccessGroup(shortName string) string {
	repo, ok := l.resolve(shortName)
	if !ok {
		return ""
	}
	return repo.AccessGroup
}
