package workflow

import (
	"context"
)

// Runner runs one Loop and reports when it has returned.
type Runner struct {
	loop Loop
	done chan struct{}
}

func NewRunner(loop Loop) *Runner {
	return &Runner{
		loop: loop,
		done: make(chan struct{}),
	}
}

func (r *Runner) Done() <-chan struct{} {
	return r.done
}

func (r *Runner) Run(ctx context.Context) {
	defer close(r.done)
	r.loop.Run(ctx)
}
