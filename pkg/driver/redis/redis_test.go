package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pixelvide/ownmailer/pkg/queue"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listHook answers list commands from memory so no server is needed.
type listHook struct {
	mu    sync.Mutex
	lists map[string][]string
}

func (h *listHook) DialHook(next goredis.DialHook) goredis.DialHook { return next }

func (h *listHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return next
}

func (h *listHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		args := cmd.Args()
		switch c := cmd.(type) {
		case *goredis.IntCmd:
			key := args[1].(string)
			for _, v := range args[2:] {
				h.lists[key] = append(h.lists[key], toString(v))
			}
			c.SetVal(int64(len(h.lists[key])))
			return nil
		case *goredis.StringSliceCmd:
			key := args[1].(string)
			if len(h.lists[key]) == 0 {
				c.SetErr(goredis.Nil)
				return goredis.Nil
			}
			v := h.lists[key][0]
			h.lists[key] = h.lists[key][1:]
			c.SetVal([]string{key, v})
			return nil
		}
		return errors.New("unexpected command " + cmd.Name())
	}
}

func toString(v any) string {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case string:
		return t
	}
	return ""
}

func newClient() (*goredis.Client, *listHook) {
	hook := &listHook{lists: map[string][]string{}}
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})
	client.AddHook(hook)
	return client, hook
}

func TestRedisDriver_PushPop(t *testing.T) {
	client, hook := newClient()
	driver := NewRedisDriver(client)
	ctx := context.Background()

	require.NoError(t, driver.Push(ctx, "events", []byte(`{"n":1}`)))
	assert.Equal(t, []string{`{"n":1}`}, hook.lists["queues:events"])

	job, err := driver.Pop(ctx, "events")
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, string(job.Body))
	assert.NoError(t, driver.Ack(ctx, job))

	_, err = driver.Pop(ctx, "events")
	assert.ErrorIs(t, err, queue.ErrEmpty)
}

func TestRedisFailedJobProvider_Log(t *testing.T) {
	client, hook := newClient()
	provider := NewRedisFailedJobProvider(client, "")
	provider.now = func() time.Time { return time.Unix(1700000000, 0) }

	ctx := context.Background()
	require.NoError(t, provider.Log(ctx, "redis", "events", []byte(`{"source":"ses"}`), "boom"))
	require.NoError(t, provider.Log(ctx, "redis", "events", []byte("not json"), "bad body"))

	stored := hook.lists["queues:failed"]
	require.Len(t, stored, 2)

	var first FailedRecord
	require.NoError(t, json.Unmarshal([]byte(stored[0]), &first))
	assert.Equal(t, "redis", first.Connection)
	assert.Equal(t, "events", first.Queue)
	assert.JSONEq(t, `{"source":"ses"}`, string(first.Payload))
	assert.Equal(t, "boom", first.Exception)
	assert.Equal(t, int64(1700000000), first.FailedAt)
	assert.NotEmpty(t, first.UUID)

	var second FailedRecord
	require.NoError(t, json.Unmarshal([]byte(stored[1]), &second))
	assert.JSONEq(t, `"not json"`, string(second.Payload))
}
