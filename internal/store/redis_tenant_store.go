package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stratoshift/orchestrator/internal/model"
	"go.uber.org/zap"
)

// dailyCounterTTL keeps daily flow counters around long enough to survive
// timezone skew, then lets Redis reclaim them.
const dailyCounterTTL = 48 * time.Hour

// RedisTenantStore implements TenantStateStore on Redis. Counters use
// atomic INCR operations; the daily flow counter lives in a
// date-suffixed key with a TTL.
type RedisTenantStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisTenantStore creates a new Redis tenant state store
func NewRedisTenantStore(host string, port int, password string, db int, logger *zap.Logger) (*RedisTenantStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisTenantStore{client: client, logger: logger}, nil
}

func quotaKey(tenantID string) string {
	return "tenant:quota:" + tenantID
}

func metricsKey(tenantID string) string {
	return "tenant:metrics:" + tenantID
}

func dailyKey(tenantID, day string) string {
	return fmt.Sprintf("tenant:daily:%s:%s", tenantID, day)
}

func ownerKey(flowID string) string {
	return "flow:owner:" + flowID
}

// GetQuota returns the quota set for a tenant
func (s *RedisTenantStore) GetQuota(ctx context.Context, tenantID string) (*model.TenantQuota, error) {
	data, err := s.client.Get(ctx, quotaKey(tenantID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quota: %w", err)
	}

	var quota model.TenantQuota
	if err := json.Unmarshal(data, &quota); err != nil {
		return nil, fmt.Errorf("failed to unmarshal quota: %w", err)
	}
	return &quota, nil
}

// SetQuota stores the quota for a tenant
func (s *RedisTenantStore) SetQuota(ctx context.Context, tenantID string, quota model.TenantQuota) error {
	data, err := json.Marshal(quota)
	if err != nil {
		return fmt.Errorf("failed to marshal quota: %w", err)
	}
	return s.client.Set(ctx, quotaKey(tenantID), data, 0).Err()
}

// GetMetrics returns the tenant's live counters
func (s *RedisTenantStore) GetMetrics(ctx context.Context, tenantID string) (*model.TenantMetrics, error) {
	return s.readMetrics(ctx, tenantID, time.Now())
}

func (s *RedisTenantStore) readMetrics(ctx context.Context, tenantID string, now time.Time) (*model.TenantMetrics, error) {
	day := model.DayBucket(now)

	pipe := s.client.Pipeline()
	hashCmd := pipe.HGetAll(ctx, metricsKey(tenantID))
	dailyCmd := pipe.Get(ctx, dailyKey(tenantID, day))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read tenant metrics: %w", err)
	}

	m := &model.TenantMetrics{TenantID: tenantID, Day: day}
	fields := hashCmd.Val()
	if v, ok := fields["current_flows"]; ok {
		fmt.Sscanf(v, "%d", &m.CurrentFlows)
	}
	if v, ok := fields["storage_mb"]; ok {
		fmt.Sscanf(v, "%f", &m.StorageUsedMB)
	}
	if v, ok := fields["last_activity"]; ok {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			m.LastActivity = ts
		}
	}
	if daily, err := dailyCmd.Int(); err == nil {
		m.TotalFlowsToday = daily
	}
	return m, nil
}

// Apply atomically mutates counters for one lifecycle event
func (s *RedisTenantStore) Apply(ctx context.Context, tenantID string, event model.TenantEvent) (*model.TenantMetrics, error) {
	now := time.Now()
	day := model.DayBucket(now)

	pipe := s.client.TxPipeline()
	switch event {
	case model.TenantEventCreated:
		pipe.HIncrBy(ctx, metricsKey(tenantID), "current_flows", 1)
		pipe.Incr(ctx, dailyKey(tenantID, day))
		pipe.Expire(ctx, dailyKey(tenantID, day), dailyCounterTTL)
	case model.TenantEventDeleted:
		pipe.HIncrBy(ctx, metricsKey(tenantID), "current_flows", -1)
	default:
		return nil, fmt.Errorf("unknown tenant event: %s", event)
	}
	pipe.HSet(ctx, metricsKey(tenantID), "last_activity", now.Format(time.RFC3339Nano))

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to apply tenant event: %w", err)
	}

	// Deletions can briefly drive the counter negative when creation
	// tracking raced a crash; clamp rather than propagate.
	if event == model.TenantEventDeleted {
		if current, err := s.client.HGet(ctx, metricsKey(tenantID), "current_flows").Int(); err == nil && current < 0 {
			s.logger.Warn("Clamping negative concurrent flow counter",
				zap.String("tenant_id", tenantID),
				zap.Int("value", current))
			s.client.HSet(ctx, metricsKey(tenantID), "current_flows", 0)
		}
	}

	return s.readMetrics(ctx, tenantID, now)
}

// AddStorage atomically adjusts the storage counter
func (s *RedisTenantStore) AddStorage(ctx context.Context, tenantID string, deltaMB float64) (*model.TenantMetrics, error) {
	now := time.Now()

	pipe := s.client.TxPipeline()
	incrCmd := pipe.HIncrByFloat(ctx, metricsKey(tenantID), "storage_mb", deltaMB)
	pipe.HSet(ctx, metricsKey(tenantID), "last_activity", now.Format(time.RFC3339Nano))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to adjust storage counter: %w", err)
	}

	if incrCmd.Val() < 0 {
		s.client.HSet(ctx, metricsKey(tenantID), "storage_mb", 0)
	}

	return s.readMetrics(ctx, tenantID, now)
}

// SetOwner records the flow-to-tenant mapping
func (s *RedisTenantStore) SetOwner(ctx context.Context, flowID, tenantID string) error {
	return s.client.Set(ctx, ownerKey(flowID), tenantID, 0).Err()
}

// GetOwner returns the tenant owning a flow
func (s *RedisTenantStore) GetOwner(ctx context.Context, flowID string) (string, error) {
	tenantID, err := s.client.Get(ctx, ownerKey(flowID)).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get flow owner: %w", err)
	}
	return tenantID, nil
}

// RemoveOwner drops the flow-to-tenant mapping
func (s *RedisTenantStore) RemoveOwner(ctx context.Context, flowID string) error {
	return s.client.Del(ctx, ownerKey(flowID)).Err()
}

// Ping checks the Redis connection
func (s *RedisTenantStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (s *RedisTenantStore) Close() error {
	return s.client.Close()
}
