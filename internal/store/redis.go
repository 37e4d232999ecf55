package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis:
//
//   - a document is a hash whose fields hold JSON-encoded values, so HSET is
//     a field-granular merge-write;
//   - a collection is a zset of document ids scored by server write time,
//     so ZREVRANGE is the timestamp-descending limited query;
//   - pushes ride pub/sub, one channel per document path and one per
//     collection; watchers re-read on notification so delivery for a path
//     follows that path's write order.
type RedisStore struct {
	client *redis.Client
}

// RedisConfig holds connection settings for the store backend.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
}

const (
	docKeyPrefix  = "shiro:doc:"
	colKeyPrefix  = "shiro:col:"
	docChanPrefix = "shiro:ch:doc:"
	colChanPrefix = "shiro:ch:col:"

	readTimeout = 3 * time.Second
)

// NewRedisStore connects and pings the backend.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	log.Printf("Store: connected to redis at %s", cfg.Addr)
	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Set(ctx context.Context, path string, doc Doc) error {
	fields, err := encodeFields(doc)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, docKeyPrefix+path)
	if len(fields) > 0 {
		pipe.HSet(ctx, docKeyPrefix+path, fields)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrUnavailable, path, err)
	}
	r.publish(ctx, path)
	return nil
}

func (r *RedisStore) Merge(ctx context.Context, path string, doc Doc) error {
	fields, err := encodeFields(doc)
	if err != nil {
		return err
	}
	if len(fields) > 0 {
		if err := r.client.HSet(ctx, docKeyPrefix+path, fields).Err(); err != nil {
			return fmt.Errorf("%w: merge %s: %v", ErrUnavailable, path, err)
		}
	}
	r.publish(ctx, path)
	return nil
}

func (r *RedisStore) Get(ctx context.Context, path string) (Doc, error) {
	raw, err := r.client.HGetAll(ctx, docKeyPrefix+path).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", ErrUnavailable, path, err)
	}
	if len(raw) == 0 {
		return nil, ErrNotFound
	}
	return decodeFields(raw)
}

func (r *RedisStore) Add(ctx context.Context, collection string, doc Doc) (string, error) {
	id := uuid.NewString()
	now := time.Now()
	d := make(Doc, len(doc)+1)
	for k, v := range doc {
		d[k] = v
	}
	if _, ok := d["timestamp"]; !ok {
		d["timestamp"] = Timestamp(now)
	}
	fields, err := encodeFields(d)
	if err != nil {
		return "", err
	}
	path := collection + "/" + id
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, docKeyPrefix+path, fields)
	pipe.ZAdd(ctx, colKeyPrefix+collection, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: id,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("%w: add to %s: %v", ErrUnavailable, collection, err)
	}
	r.publish(ctx, path)
	return id, nil
}

func (r *RedisStore) WatchDoc(ctx context.Context, path string) (*DocSub, error) {
	pubsub := r.client.Subscribe(ctx, docChanPrefix+path)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("%w: watch %s: %v", ErrUnavailable, path, err)
	}
	sub := newDocSub(func() { pubsub.Close() })

	go func() {
		r.deliverDoc(path, sub)
		for range pubsub.Channel() {
			r.deliverDoc(path, sub)
		}
	}()
	return sub, nil
}

func (r *RedisStore) WatchQuery(ctx context.Context, collection string, limit int) (*QuerySub, error) {
	pubsub := r.client.Subscribe(ctx, colChanPrefix+collection)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("%w: watch query %s: %v", ErrUnavailable, collection, err)
	}
	sub := newQuerySub(func() { pubsub.Close() })

	go func() {
		r.deliverQuery(collection, limit, sub)
		for range pubsub.Channel() {
			r.deliverQuery(collection, limit, sub)
		}
	}()
	return sub, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// publish notifies the document channel and, because a write inside a
// collection changes query results too, the parent collection channel.
func (r *RedisStore) publish(ctx context.Context, path string) {
	if err := r.client.Publish(ctx, docChanPrefix+path, "1").Err(); err != nil {
		log.Printf("Store: publish %s: %v", path, err)
	}
	if i := strings.LastIndex(path, "/"); i > 0 {
		collection := path[:i]
		if err := r.client.Publish(ctx, colChanPrefix+collection, path[i+1:]).Err(); err != nil {
			log.Printf("Store: publish collection %s: %v", collection, err)
		}
	}
}

func (r *RedisStore) deliverDoc(path string, sub *DocSub) {
	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()
	doc, err := r.Get(ctx, path)
	if err != nil {
		if err != ErrNotFound {
			log.Printf("Store: watch read %s: %v", path, err)
		}
		return
	}
	sub.deliver(doc)
}

func (r *RedisStore) deliverQuery(collection string, limit int, sub *QuerySub) {
	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()
	ids, err := r.client.ZRevRange(ctx, colKeyPrefix+collection, 0, int64(limit-1)).Result()
	if err != nil {
		log.Printf("Store: watch query read %s: %v", collection, err)
		return
	}
	docs := make([]Doc, 0, len(ids))
	kept := make([]string, 0, len(ids))
	for _, id := range ids {
		doc, err := r.Get(ctx, collection+"/"+id)
		if err != nil {
			continue
		}
		doc[DocIDField] = id
		docs = append(docs, doc)
		kept = append(kept, id)
	}
	sub.deliver(kept, docs)
}

func encodeFields(doc Doc) (map[string]interface{}, error) {
	fields := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %s: %w", k, err)
		}
		fields[k] = string(raw)
	}
	return fields, nil
}

func decodeFields(raw map[string]string) (Doc, error) {
	doc := make(Doc, len(raw))
	for k, v := range raw {
		var val interface{}
		if err := json.Unmarshal([]byte(v), &val); err != nil {
			// Tolerate plain strings written by older firmware.
			val = v
		}
		doc[k] = val
	}
	return doc, nil
}
