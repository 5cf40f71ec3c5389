package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type MemoryQueue struct {
	mu    sync.Mutex
	tasks map[string]Task
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{tasks: make(map[string]Task)}
}

func (q *MemoryQueue) Schedule(_ context.Context, task Task) error {
	if task.Name == "" {
		return fmt.Errorf("task name is empty")
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.tasks[task.Name]; ok {
		return fmt.Errorf("%w: %s", ErrTaskExists, task.Name)
	}
	q.tasks[task.Name] = task
	return nil
}

func (q *MemoryQueue) ClaimDue(_ context.Context, now time.Time, limit int) ([]Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []Task
	for _, task := range q.tasks {
		if !task.ScheduleTime.After(now) {
			due = append(due, task)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ScheduleTime.Before(due[j].ScheduleTime)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for _, task := range due {
		delete(q.tasks, task.Name)
	}
	return due, nil
}

func (q *MemoryQueue) Pending() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Task, 0, len(q.tasks))
	for _, task := range q.tasks {
		out = append(out, task)
	}
	return out
}
