// Package redisstore connects the advisor to Redis: it reads the externally
// maintained operating limits and market pricing, and publishes every
// optimization result to a capped per-segment list.
//
// Keys:
//   - setpoint:limits:operating  JSON array of {"mapping_key","ll","hl"}
//   - setpoint:pricing           JSON object of rate name to value
//   - setpoint:results:{segment} list of JSON result records, newest first
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tidwall/gjson"

	"github.com/copyleftdev/setpoint/internal/advisor"
	"github.com/copyleftdev/setpoint/internal/economics"
	"github.com/copyleftdev/setpoint/internal/plant"
)

const (
	LimitsKey        = "setpoint:limits:operating"
	PricingKey       = "setpoint:pricing"
	resultsKeyPrefix = "setpoint:results:"

	// DefaultRetention is how many results are kept per segment.
	DefaultRetention = 100
)

// ErrNotConfigured means the key holding limits or pricing does not exist.
var ErrNotConfigured = errors.New("redis key not configured")

// Store implements bounds.Source, economics.Source and advisor.ResultSink.
type Store struct {
	client    *redis.Client
	retention int64
	base      economics.Pricing
	mu        sync.RWMutex
}

// Option customizes a Store.
type Option func(*Store)

// WithRetention caps the per-segment result list.
func WithRetention(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.retention = int64(n)
		}
	}
}

// WithBasePricing sets the rates used for keys missing from the stored
// pricing document.
func WithBasePricing(p economics.Pricing) Option {
	return func(s *Store) { s.base = p }
}

// New connects to Redis and verifies the connection.
func New(addr, password string, db int, opts ...Option) (*Store, error) {
	if addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if db < 0 {
		return nil, errors.New("redis database number must be >= 0")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return NewWithClient(client, opts...), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, opts ...Option) *Store {
	s := &Store{
		client:    client,
		retention: DefaultRetention,
		base:      economics.DefaultPricing(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var errClosed = errors.New("redis store is closed")

func (s *Store) conn() (*redis.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return nil, errClosed
	}
	return s.client, nil
}

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	client, err := s.conn()
	if err != nil {
		return nil, err
	}

	data, err := client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotConfigured)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s from redis: %w", key, err)
	}
	return data, nil
}

// OperatingLimits implements bounds.Source.
func (s *Store) OperatingLimits(ctx context.Context) ([]plant.Limit, error) {
	data, err := s.get(ctx, LimitsKey)
	if err != nil {
		return nil, err
	}
	return ParseLimits(data)
}

// Pricing implements economics.Source.
func (s *Store) Pricing(ctx context.Context) (economics.Pricing, error) {
	data, err := s.get(ctx, PricingKey)
	if err != nil {
		return economics.Pricing{}, err
	}
	return ParsePricing(data, s.base)
}

// SetOperatingLimits replaces the stored limit table.
func (s *Store) SetOperatingLimits(ctx context.Context, limits []plant.Limit) error {
	data, err := json.Marshal(limits)
	if err != nil {
		return fmt.Errorf("failed to marshal limits: %w", err)
	}
	client, err := s.conn()
	if err != nil {
		return err
	}
	if err := client.Set(ctx, LimitsKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store limits in redis: %w", err)
	}
	return nil
}

// SetPricing replaces the stored pricing document.
func (s *Store) SetPricing(ctx context.Context, p economics.Pricing) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal pricing: %w", err)
	}
	client, err := s.conn()
	if err != nil {
		return err
	}
	if err := client.Set(ctx, PricingKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store pricing in redis: %w", err)
	}
	return nil
}

// ResultsKey returns the list key for a segment.
func ResultsKey(segment string) string {
	return resultsKeyPrefix + strings.ToLower(strings.TrimSpace(segment))
}

// Publish implements advisor.ResultSink.
func (s *Store) Publish(ctx context.Context, resp *advisor.Response) error {
	data, err := json.Marshal(resp.Record())
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	client, err := s.conn()
	if err != nil {
		return err
	}
	key := ResultsKey(resp.Segment)
	pipe := client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, s.retention-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish result to redis: %w", err)
	}
	return nil
}

// Results returns up to n records for segment, newest first.
func (s *Store) Results(ctx context.Context, segment string, n int) ([]advisor.Record, error) {
	if n <= 0 {
		n = int(s.retention)
	}
	client, err := s.conn()
	if err != nil {
		return nil, err
	}
	items, err := client.LRange(ctx, ResultsKey(segment), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read results from redis: %w", err)
	}

	out := make([]advisor.Record, 0, len(items))
	for _, item := range items {
		var rec advisor.Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Ping checks the Redis connection health.
func (s *Store) Ping(ctx context.Context) error {
	client, err := s.conn()
	if err != nil {
		return err
	}
	return client.Ping(ctx).Err()
}

// Close closes the Redis client connection. It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

// ParseLimits decodes a limit table. Entries may use "mapping_key" or
// "mappingKey"; keys must name a declared variable.
func ParseLimits(data []byte) ([]plant.Limit, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("limits document is not valid JSON")
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsArray() {
		return nil, errors.New("limits document must be an array")
	}

	var (
		limits []plant.Limit
		err    error
	)
	i := -1
	doc.ForEach(func(_, item gjson.Result) bool {
		i++
		key := item.Get("mapping_key")
		if !key.Exists() {
			key = item.Get("mappingKey")
		}
		ll, hl := item.Get("ll"), item.Get("hl")
		if key.String() == "" || ll.Type != gjson.Number || hl.Type != gjson.Number {
			err = fmt.Errorf("limit %d needs mapping_key, ll and hl", i)
			return false
		}
		_, isControl := plant.ControlByKey(key.String())
		_, isConstraint := plant.ConstraintByKey(key.String())
		if !isControl && !isConstraint {
			err = fmt.Errorf("limit %d names unknown variable %q", i, key.String())
			return false
		}
		limits = append(limits, plant.Limit{Key: key.String(), Low: ll.Float(), High: hl.Float()})
		return true
	})
	if err != nil {
		return nil, err
	}
	return limits, nil
}

// ParsePricing decodes a pricing object over base. Every value must be a
// number and every key a known rate.
func ParsePricing(data []byte, base economics.Pricing) (economics.Pricing, error) {
	if !gjson.ValidBytes(data) {
		return economics.Pricing{}, errors.New("pricing document is not valid JSON")
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return economics.Pricing{}, errors.New("pricing document must be an object")
	}

	overrides := make(map[string]float64)
	var err error
	doc.ForEach(func(key, value gjson.Result) bool {
		if value.Type != gjson.Number {
			err = fmt.Errorf("pricing %s must be a number", key.String())
			return false
		}
		overrides[key.String()] = value.Float()
		return true
	})
	if err != nil {
		return economics.Pricing{}, err
	}
	return base.With(overrides)
}
