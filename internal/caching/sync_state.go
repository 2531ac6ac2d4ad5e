package caching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tallysync/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "tallysync"

// SyncStateStore persists scheduler state so history and the last completed
// run survive restarts
type SyncStateStore interface {
	// History
	PushRun(ctx context.Context, run models.SyncRun, max int) error
	History(ctx context.Context, limit int) ([]models.SyncRun, error)

	// Watermarks record the finish time of the last non-failed run per kind
	SetWatermark(ctx context.Context, kind models.SyncKind, at time.Time) error
	Watermark(ctx context.Context, kind models.SyncKind) (time.Time, bool, error)

	Ping(ctx context.Context) error
}

type redisSyncStateStore struct {
	client *redis.Client
}

// NewRedisClient builds a client, accepting both host:port and redis:// URLs
func NewRedisClient(addr, password string, db int) *redis.Client {
	parsedAddr := addr
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsedAddr = strings.TrimPrefix(strings.TrimPrefix(addr, "redis://"), "rediss://")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     parsedAddr,
		Password: password,
		DB:       db,
	})

	if pingErr := client.Ping(context.Background()).Err(); pingErr != nil {
		logrus.WithField("address", parsedAddr).Warnf("Redis ping failed on initialization: %v", pingErr)
	} else {
		logrus.Debug("Redis connection established successfully")
	}
	return client
}

func NewSyncStateStore(client *redis.Client) SyncStateStore {
	return &redisSyncStateStore{client: client}
}

func historyKey() string {
	return fmt.Sprintf("%s:sync:history", keyPrefix)
}

func watermarkKey(kind models.SyncKind) string {
	return fmt.Sprintf("%s:sync:watermark:%s", keyPrefix, kind)
}

func (r *redisSyncStateStore) PushRun(ctx context.Context, run models.SyncRun, max int) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, historyKey(), data)
	if max > 0 {
		pipe.LTrim(ctx, historyKey(), 0, int64(max-1))
	}
	_, err = pipe.Exec(ctx)
	return err
}

// History returns runs most recent first
func (r *redisSyncStateStore) History(ctx context.Context, limit int) ([]models.SyncRun, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	items, err := r.client.LRange(ctx, historyKey(), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	runs := make([]models.SyncRun, 0, len(items))
	for _, item := range items {
		var run models.SyncRun
		if err := json.Unmarshal([]byte(item), &run); err != nil {
			logrus.WithError(err).Warn("skipping unreadable sync history entry")
			continue
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (r *redisSyncStateStore) SetWatermark(ctx context.Context, kind models.SyncKind, at time.Time) error {
	return r.client.Set(ctx, watermarkKey(kind), at.UTC().Format(time.RFC3339Nano), 0).Err()
}

func (r *redisSyncStateStore) Watermark(ctx context.Context, kind models.SyncKind) (time.Time, bool, error) {
	val, err := r.client.Get(ctx, watermarkKey(kind)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	at, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid watermark %q: %w", val, err)
	}
	return at, true, nil
}

func (r *redisSyncStateStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
