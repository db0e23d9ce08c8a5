// Package items reads Item snapshots for triggers that carry only an item id.
package items

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"memotag-notifier/internal/common/logger"
	"memotag-notifier/internal/models"
)

var ErrNotFound = errors.New("item not found")

// Store returns the current snapshot of an item, or ErrNotFound.
type Store interface {
	GetItem(ctx context.Context, itemID string) (*models.Item, error)
}

const selectItem = `SELECT item_id, name, location, status, progress, user_email, total_pieces, target_date, created_at
FROM items WHERE item_id = $1`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetItem(ctx context.Context, itemID string) (*models.Item, error) {
	var (
		item        models.Item
		location    sql.NullString
		userEmail   sql.NullString
		totalPieces sql.NullInt64
		targetDate  sql.NullString
	)
	err := s.db.QueryRowContext(ctx, selectItem, itemID).Scan(
		&item.ItemID, &item.Name, &location, &item.Status, &item.Progress,
		&userEmail, &totalPieces, &targetDate, &item.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query item %s: %w", itemID, err)
	}

	item.Location = location.String
	item.UserEmail = userEmail.String
	item.TargetDate = targetDate.String
	if totalPieces.Valid {
		n := int(totalPieces.Int64)
		item.TotalPieces = &n
	}
	return &item, nil
}

const DefaultCacheTTL = 5 * time.Minute

// CachedStore is a Redis cache-aside layer over another Store. Cache failures
// fall through to the backing store.
type CachedStore struct {
	next   Store
	redis  redis.Cmdable
	ttl    time.Duration
	logger logger.Logger
}

func NewCachedStore(next Store, rdb redis.Cmdable, ttl time.Duration, log logger.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedStore{
		next:   next,
		redis:  rdb,
		ttl:    ttl,
		logger: logger.Component(log, "item-cache"),
	}
}

func CacheKey(itemID string) string { return "item:" + itemID }

func (s *CachedStore) GetItem(ctx context.Context, itemID string) (*models.Item, error) {
	key := CacheKey(itemID)
	if val, err := s.redis.Get(ctx, key).Result(); err == nil {
		var item models.Item
		if err := json.Unmarshal([]byte(val), &item); err == nil {
			return &item, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		s.logger.Debug("cache read failed", map[string]interface{}{
			"item_id": itemID,
			"error":   err.Error(),
		})
	}

	item, err := s.next.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(item)
	if err == nil {
		if err := s.redis.Set(ctx, key, data, s.ttl).Err(); err != nil {
			s.logger.Debug("cache write failed", map[string]interface{}{
				"item_id": itemID,
				"error":   err.Error(),
			})
		}
	}
	return item, nil
}

// Invalidate drops the cached snapshot after the item was mutated.
func (s *CachedStore) Invalidate(ctx context.Context, itemID string) error {
	if err := s.redis.Del(ctx, CacheKey(itemID)).Err(); err != nil {
		return fmt.Errorf("invalidate %s: %w", itemID, err)
	}
	return nil
}
