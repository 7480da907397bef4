package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/domain/entity"
	"github.com/garyjia/payment-approval/internal/domain/workflow"
)

// ErrInstanceExists is returned by Create when the id is already taken
var ErrInstanceExists = errors.New("instance already exists")

// Options configures the Redis connection
type Options struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	IdleTimeout  time.Duration
	KeyPrefix    string
}

// InstanceStore implements port.InstanceRepository on Redis. Each instance
// is one JSON document; sets per org, status and payment request index it.
type InstanceStore struct {
	client *goredis.Client
	prefix string
	logger *zap.Logger
}

// NewClient connects to Redis and verifies the connection
func NewClient(ctx context.Context, opts Options) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		IdleTimeout:  opts.IdleTimeout,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewInstanceStore creates an instance store over client. Keys are
// namespaced by prefix, "approval:" when empty.
func NewInstanceStore(client *goredis.Client, prefix string, logger *zap.Logger) *InstanceStore {
	if prefix == "" {
		prefix = "approval:"
	}
	return &InstanceStore{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

var _ port.InstanceRepository = (*InstanceStore)(nil)

func (s *InstanceStore) docKey(id string) string     { return s.prefix + "instance:" + id }
func (s *InstanceStore) allKey() string              { return s.prefix + "instances" }
func (s *InstanceStore) orgKey(org string) string    { return s.prefix + "instances:org:" + org }
func (s *InstanceStore) requestKey(pr string) string { return s.prefix + "instances:pr:" + pr }
func (s *InstanceStore) statusKey(st workflow.State) string {
	return s.prefix + "instances:status:" + string(st)
}

// Create stores a new instance and indexes it
func (s *InstanceStore) Create(ctx context.Context, instance *entity.WorkflowInstance) error {
	data, err := json.Marshal(instance)
	if err != nil {
		return fmt.Errorf("failed to marshal instance %s: %w", instance.ID, err)
	}

	ok, err := s.client.SetNX(ctx, s.docKey(instance.ID), data, 0).Result()
	if err != nil {
		s.logger.Error("Failed to create instance", zap.String("instance_id", instance.ID), zap.Error(err))
		return fmt.Errorf("failed to create instance: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrInstanceExists, instance.ID)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZAdd(ctx, s.allKey(), &goredis.Z{Score: float64(instance.CreatedAt.UnixNano()), Member: instance.ID})
		pipe.SAdd(ctx, s.orgKey(instance.OrgID), instance.ID)
		pipe.SAdd(ctx, s.requestKey(instance.PaymentRequestID), instance.ID)
		pipe.SAdd(ctx, s.statusKey(instance.Status), instance.ID)
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to index instance", zap.String("instance_id", instance.ID), zap.Error(err))
		return fmt.Errorf("failed to index instance: %w", err)
	}
	return nil
}

// Save replaces the document of an existing instance and moves it between
// status indexes
func (s *InstanceStore) Save(ctx context.Context, instance *entity.WorkflowInstance) error {
	prev, err := s.GetByID(ctx, instance.ID)
	if err != nil {
		return err
	}
	if prev == nil {
		return fmt.Errorf("instance %s does not exist", instance.ID)
	}

	data, err := json.Marshal(instance)
	if err != nil {
		return fmt.Errorf("failed to marshal instance %s: %w", instance.ID, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.docKey(instance.ID), data, 0)
		if prev.Status != instance.Status {
			pipe.SRem(ctx, s.statusKey(prev.Status), instance.ID)
			pipe.SAdd(ctx, s.statusKey(instance.Status), instance.ID)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to save instance", zap.String("instance_id", instance.ID), zap.Error(err))
		return fmt.Errorf("failed to save instance: %w", err)
	}
	return nil
}

// GetByID loads one instance, nil if it does not exist
func (s *InstanceStore) GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	data, err := s.client.Get(ctx, s.docKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		s.logger.Error("Failed to get instance", zap.String("instance_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get instance %s: %w", id, err)
	}
	return decode(id, data)
}

// List returns the instances matching filter, oldest first
func (s *InstanceStore) List(ctx context.Context, filter entity.InstanceFilter) ([]*entity.WorkflowInstance, error) {
	var sets []string
	if filter.OrgID != "" {
		sets = append(sets, s.orgKey(filter.OrgID))
	}
	if filter.Status != "" {
		sets = append(sets, s.statusKey(filter.Status))
	}
	if filter.PaymentRequestID != "" {
		sets = append(sets, s.requestKey(filter.PaymentRequestID))
	}

	var (
		ids []string
		err error
	)
	if len(sets) == 0 {
		ids, err = s.client.ZRange(ctx, s.allKey(), 0, -1).Result()
	} else {
		ids, err = s.client.SInter(ctx, sets...).Result()
	}
	if err != nil {
		s.logger.Error("Failed to list instance ids", zap.Error(err))
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.docKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load instances: %w", err)
	}

	instances := make([]*entity.WorkflowInstance, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// index entry without a document
			continue
		}
		inst, err := decode(ids[i], []byte(raw))
		if err != nil {
			return nil, err
		}
		if matches(inst, filter) {
			instances = append(instances, inst)
		}
	}

	sort.Slice(instances, func(i, j int) bool {
		a, b := instances[i], instances[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if filter.Limit > 0 && len(instances) > filter.Limit {
		instances = instances[:filter.Limit]
	}
	return instances, nil
}

// Ping reports whether Redis is reachable
func (s *InstanceStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client
func (s *InstanceStore) Close() error {
	return s.client.Close()
}

func matches(inst *entity.WorkflowInstance, filter entity.InstanceFilter) bool {
	if filter.OrgID != "" && inst.OrgID != filter.OrgID {
		return false
	}
	if filter.Status != "" && inst.Status != filter.Status {
		return false
	}
	if filter.PaymentRequestID != "" && inst.PaymentRequestID != filter.PaymentRequestID {
		return false
	}
	return true
}

func decode(id string, data []byte) (*entity.WorkflowInstance, error) {
	var inst entity.WorkflowInstance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance %s: %w", id, err)
	}
	if inst.NodeStates == nil {
		inst.NodeStates = make(map[string]*entity.NodeState)
	}
	return &inst, nil
}
