package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// scheduleScript arms a task unless one with the same name is pending.
// KEYS[1] = due set, KEYS[2] = payload hash
// ARGV[1] = task name, ARGV[2] = due time (unix ms), ARGV[3] = workflow id
var scheduleScript = redis.NewScript(`
if redis.call("ZSCORE", KEYS[1], ARGV[1]) then
    return 0
end
redis.call("ZADD", KEYS[1], ARGV[2], ARGV[1])
redis.call("HSET", KEYS[2], ARGV[1], ARGV[3])
return 1
`)

// claimScript removes and returns due tasks as a flat name, workflow id list.
// KEYS[1] = due set, KEYS[2] = payload hash
// ARGV[1] = now (unix ms), ARGV[2] = limit
var claimScript = redis.NewScript(`
local names = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
local out = {}
for _, name in ipairs(names) do
    redis.call("ZREM", KEYS[1], name)
    local wf = redis.call("HGET", KEYS[2], name)
    redis.call("HDEL", KEYS[2], name)
    table.insert(out, name)
    table.insert(out, wf or "")
end
return out
`)

type RedisQueue struct {
	client redis.UniversalClient
	queue  string
}

func NewRedisQueue(client redis.UniversalClient, queue string) *RedisQueue {
	if queue == "" {
		queue = DefaultQueue
	}
	return &RedisQueue{client: client, queue: queue}
}

func (q *RedisQueue) keys() []string {
	return []string{q.queue + ":due", q.queue + ":payload"}
}

func (q *RedisQueue) Schedule(ctx context.Context, task Task) error {
	if task.Name == "" {
		return fmt.Errorf("task name is empty")
	}
	added, err := scheduleScript.Run(ctx, q.client, q.keys(),
		task.Name,
		strconv.FormatInt(task.ScheduleTime.UnixMilli(), 10),
		task.WorkflowID,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to schedule task %s: %w", task.Name, err)
	}
	if added == 0 {
		return fmt.Errorf("%w: %s", ErrTaskExists, task.Name)
	}
	return nil
}

func (q *RedisQueue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Task, error) {
	flat, err := claimScript.Run(ctx, q.client, q.keys(),
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.Itoa(limit),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to claim due tasks: %w", err)
	}

	tasks := make([]Task, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		tasks = append(tasks, Task{Name: flat[i], WorkflowID: flat[i+1]})
	}
	return tasks, nil
}
