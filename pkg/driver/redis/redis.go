package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pixelvide/ownmailer/pkg/config"
	"github.com/pixelvide/ownmailer/pkg/queue"
	goredis "github.com/redis/go-redis/v9"
)

// KeyPrefix is prepended to queue names to build list keys.
const KeyPrefix = "queues:"

// RedisDriver keeps each queue in a list. A popped job is gone from the
// list, so Ack has nothing left to do.
type RedisDriver struct {
	client *goredis.Client

	// BlockTimeout bounds each BLPOP so Pop reports an empty queue
	// instead of blocking forever.
	BlockTimeout time.Duration
}

// NewClient connects to the configured redis server
func NewClient(cfg config.RedisConfig) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRedisDriver creates a new Redis driver instance
func NewRedisDriver(client *goredis.Client) *RedisDriver {
	return &RedisDriver{client: client, BlockTimeout: 5 * time.Second}
}

// Pop waits up to BlockTimeout for a job and returns queue.ErrEmpty when
// none arrives.
func (r *RedisDriver) Pop(ctx context.Context, queueName string) (*queue.Job, error) {
	result, err := r.client.BLPop(ctx, r.BlockTimeout, KeyPrefix+queueName).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, queue.ErrEmpty
	}
	if err != nil {
		return nil, err
	}
	// result[0] is the key, result[1] the payload
	if len(result) < 2 {
		return nil, queue.ErrEmpty
	}
	return &queue.Job{Body: []byte(result[1])}, nil
}

// Push adds a job to the queue
func (r *RedisDriver) Push(ctx context.Context, queueName string, body []byte) error {
	return r.client.RPush(ctx, KeyPrefix+queueName, body).Err()
}

func (r *RedisDriver) Ack(ctx context.Context, job *queue.Job) error {
	return nil
}

// FailedRecord is what RedisFailedJobProvider stores per failed job.
type FailedRecord struct {
	UUID       string          `json:"uuid"`
	Connection string          `json:"connection"`
	Queue      string          `json:"queue"`
	Payload    json.RawMessage `json:"payload"`
	Exception  string          `json:"exception"`
	FailedAt   int64           `json:"failed_at"`
}

// RedisFailedJobProvider appends failed jobs to a list.
type RedisFailedJobProvider struct {
	client *goredis.Client
	key    string
	now    func() time.Time
}

func NewRedisFailedJobProvider(client *goredis.Client, key string) *RedisFailedJobProvider {
	if key == "" {
		key = KeyPrefix + "failed"
	}
	return &RedisFailedJobProvider{client: client, key: key, now: time.Now}
}

func (p *RedisFailedJobProvider) Log(ctx context.Context, connection string, queueName string, payload []byte, exception string) error {
	raw := json.RawMessage(payload)
	if !json.Valid(payload) {
		quoted, err := json.Marshal(string(payload))
		if err != nil {
			return err
		}
		raw = quoted
	}
	record, err := json.Marshal(FailedRecord{
		UUID:       uuid.NewString(),
		Connection: connection,
		Queue:      queueName,
		Payload:    raw,
		Exception:  exception,
		FailedAt:   p.now().Unix(),
	})
	if err != nil {
		return err
	}
	return p.client.RPush(ctx, p.key, record).Err()
}
