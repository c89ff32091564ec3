package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/aster/pkg/database"
	"github.com/Ramsey-B/aster/pkg/metrics"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/redis"
	"github.com/Ramsey-B/aster/pkg/tracing"
)

const (
	// CacheKeyPrefix is the prefix for installation cache keys in Redis
	CacheKeyPrefix = "directory:installation:"

	// RedisCacheTTL is how long installations stay in Redis before a
	// database re-read
	RedisCacheTTL = 5 * time.Minute

	// LocalCacheTTL bounds how stale the in-process copy can get. Writes
	// through this directory invalidate immediately; writes from other
	// replicas surface within this window.
	LocalCacheTTL = 30 * time.Second
)

// InstallationStore persists installations. Implemented by the installation
// repository; the directory fronts it with a two-level read-through cache.
type InstallationStore interface {
	Upsert(ctx context.Context, inst *models.Installation) error
	GetByID(ctx context.Context, id string) (*models.Installation, error)
	GetByTriple(ctx context.Context, subdomain, appID, userID string) (*models.Installation, error)
	UpdateTokens(ctx context.Context, id, accessToken string, refreshToken *string) error
	UpdateSettings(ctx context.Context, id string, settings map[string]any) (*models.Installation, error)
	UpdateWebhookSecret(ctx context.Context, id, secret string) error
	TouchLastActive(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// cachedInstallation is the Redis representation of an installation. The
// model hides its secrets from JSON, so the cache carries its own shape.
type cachedInstallation struct {
	ID            string         `json:"id"`
	Subdomain     string         `json:"subdomain"`
	AppID         string         `json:"app_id"`
	UserID        string         `json:"user_id"`
	WebhookSecret string         `json:"webhook_secret"`
	AccessToken   string         `json:"access_token"`
	RefreshToken  *string        `json:"refresh_token,omitempty"`
	Settings      map[string]any `json:"settings,omitempty"`
	LastActiveAt  *time.Time     `json:"last_active_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func toCached(inst *models.Installation) *cachedInstallation {
	return &cachedInstallation{
		ID:            inst.ID,
		Subdomain:     inst.Subdomain,
		AppID:         inst.AppID,
		UserID:        inst.UserID,
		WebhookSecret: inst.WebhookSecret,
		AccessToken:   inst.AccessToken,
		RefreshToken:  inst.RefreshToken,
		Settings:      inst.Settings.Data,
		LastActiveAt:  inst.LastActiveAt,
		CreatedAt:     inst.CreatedAt,
		UpdatedAt:     inst.UpdatedAt,
	}
}

func (c *cachedInstallation) toModel() *models.Installation {
	return &models.Installation{
		ID:            c.ID,
		Subdomain:     c.Subdomain,
		AppID:         c.AppID,
		UserID:        c.UserID,
		WebhookSecret: c.WebhookSecret,
		AccessToken:   c.AccessToken,
		RefreshToken:  c.RefreshToken,
		Settings:      database.NewJSONB(c.Settings),
		LastActiveAt:  c.LastActiveAt,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

// localEntry is an in-process cached installation with its expiry
type localEntry struct {
	inst      *models.Installation
	expiresAt time.Time
}

// Directory resolves installations for webhook ingress and token grants. All
// writes go through it so the caches never outlive a mutation.
type Directory struct {
	store  InstallationStore
	redis  *redis.Client
	logger ectologger.Logger

	// In-process cache keyed by installation id
	local   map[string]localEntry
	localMu sync.RWMutex
}

// NewDirectory creates a new installation directory
func NewDirectory(store InstallationStore, redisClient *redis.Client, logger ectologger.Logger) *Directory {
	return &Directory{
		store:  store,
		redis:  redisClient,
		logger: logger,
		local:  make(map[string]localEntry),
	}
}

// Register upserts an installation and invalidates any cached copy
func (d *Directory) Register(ctx context.Context, inst *models.Installation) error {
	ctx, span := tracing.StartSpan(ctx, "Directory.Register")
	defer span.End()

	if err := d.store.Upsert(ctx, inst); err != nil {
		return err
	}

	d.invalidate(ctx, inst.ID)
	return nil
}

// Get retrieves an installation by ID, preferring the in-process cache, then
// Redis, then the database
func (d *Directory) Get(ctx context.Context, id string) (*models.Installation, error) {
	ctx, span := tracing.StartSpan(ctx, "Directory.Get")
	defer span.End()

	if inst, ok := d.getLocal(id); ok {
		metrics.DirectoryCacheHits.WithLabelValues("local").Inc()
		return inst, nil
	}

	if cached, err := d.getRedis(ctx, id); err == nil {
		d.logger.WithContext(ctx).Debugf("Using cached installation %s", id)
		metrics.DirectoryCacheHits.WithLabelValues("redis").Inc()
		inst := cached.toModel()
		d.setLocal(inst)
		return inst, nil
	}

	inst, err := d.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	metrics.DirectoryCacheHits.WithLabelValues("db").Inc()

	if err := d.setRedis(ctx, inst); err != nil {
		d.logger.WithContext(ctx).WithError(err).Warn("Failed to cache installation")
	}
	d.setLocal(inst)

	return inst, nil
}

// GetByTriple retrieves an installation by its account identity. Token
// verification compares the stored access token literally, so this always
// reads the database.
func (d *Directory) GetByTriple(ctx context.Context, subdomain, appID, userID string) (*models.Installation, error) {
	ctx, span := tracing.StartSpan(ctx, "Directory.GetByTriple")
	defer span.End()

	return d.store.GetByTriple(ctx, subdomain, appID, userID)
}

// UpdateTokens replaces the stored OAuth tokens for an installation
func (d *Directory) UpdateTokens(ctx context.Context, id, accessToken string, refreshToken *string) error {
	ctx, span := tracing.StartSpan(ctx, "Directory.UpdateTokens")
	defer span.End()

	if err := d.store.UpdateTokens(ctx, id, accessToken, refreshToken); err != nil {
		return err
	}

	d.invalidate(ctx, id)
	return nil
}

// UpdateSettings replaces the installation settings and returns the stored
// record
func (d *Directory) UpdateSettings(ctx context.Context, id string, settings map[string]any) (*models.Installation, error) {
	ctx, span := tracing.StartSpan(ctx, "Directory.UpdateSettings")
	defer span.End()

	inst, err := d.store.UpdateSettings(ctx, id, settings)
	if err != nil {
		return nil, err
	}

	d.invalidate(ctx, id)
	return inst, nil
}

// UpdateWebhookSecret replaces the webhook signing secret
func (d *Directory) UpdateWebhookSecret(ctx context.Context, id, secret string) error {
	ctx, span := tracing.StartSpan(ctx, "Directory.UpdateWebhookSecret")
	defer span.End()

	if err := d.store.UpdateWebhookSecret(ctx, id, secret); err != nil {
		return err
	}

	d.invalidate(ctx, id)
	return nil
}

// TouchLastActive records token activity. Cached copies keep their stale
// timestamp until they expire; last_active_at is advisory.
func (d *Directory) TouchLastActive(ctx context.Context, id string) error {
	return d.store.TouchLastActive(ctx, id)
}

// Uninstall removes an installation and its cached copies
func (d *Directory) Uninstall(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "Directory.Uninstall")
	defer span.End()

	if err := d.store.Delete(ctx, id); err != nil {
		return err
	}

	d.invalidate(ctx, id)
	return nil
}

// getLocal reads the in-process cache. Returns a copy so callers cannot
// mutate the cached record.
func (d *Directory) getLocal(id string) (*models.Installation, bool) {
	d.localMu.RLock()
	entry, ok := d.local[id]
	d.localMu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}

	inst := *entry.inst
	return &inst, true
}

// setLocal stores an installation in the in-process cache
func (d *Directory) setLocal(inst *models.Installation) {
	copied := *inst

	d.localMu.Lock()
	d.local[inst.ID] = localEntry{
		inst:      &copied,
		expiresAt: time.Now().Add(LocalCacheTTL),
	}
	d.localMu.Unlock()
}

// deleteLocal drops an installation from the in-process cache
func (d *Directory) deleteLocal(id string) {
	d.localMu.Lock()
	delete(d.local, id)
	d.localMu.Unlock()
}

// getRedis retrieves an installation from the Redis cache
func (d *Directory) getRedis(ctx context.Context, id string) (*cachedInstallation, error) {
	data, err := d.redis.Get(ctx, d.cacheKey(id))
	if err != nil {
		return nil, err
	}

	var cached cachedInstallation
	if err := json.Unmarshal([]byte(data), &cached); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached installation: %w", err)
	}

	return &cached, nil
}

// setRedis stores an installation in the Redis cache
func (d *Directory) setRedis(ctx context.Context, inst *models.Installation) error {
	data, err := json.Marshal(toCached(inst))
	if err != nil {
		return fmt.Errorf("failed to marshal installation: %w", err)
	}

	return d.redis.Set(ctx, d.cacheKey(inst.ID), string(data), RedisCacheTTL)
}

// invalidate drops the cached copies of an installation. Redis failures are
// logged and swallowed; the TTL bounds how long a stale entry can live.
func (d *Directory) invalidate(ctx context.Context, id string) {
	d.deleteLocal(id)

	if err := d.redis.Del(ctx, d.cacheKey(id)); err != nil {
		d.logger.WithContext(ctx).WithError(err).Warnf("Failed to invalidate cached installation %s", id)
	}
}

func (d *Directory) cacheKey(id string) string {
	return CacheKeyPrefix + id
}
