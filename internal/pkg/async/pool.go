// Package async provides a small typed worker pool used to fan out
// independent read queries (report dimensions, id-batched telemetry calls)
// and collect their results by name.
package async

import (
	"context"
	"sync"
)

// Task is one named unit of work producing a T.
type Task[T any] struct {
	Name    string
	Execute func() (T, error)
}

// Result pairs a task's output with its name and error.
type Result[T any] struct {
	Name string
	Data T
	Err  error
}

type Pool[T any] struct {
	workerCount int
	tasks       chan Task[T]
	results     chan Result[T]
}

func NewPool[T any](workerCount int) *Pool[T] {
	return &Pool[T]{
		workerCount: workerCount,
		tasks:       make(chan Task[T]),
		results:     make(chan Result[T]),
	}
}

func (p *Pool[T]) worker(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			data, err := task.Execute()
			p.results <- Result[T]{
				Name: task.Name,
				Data: data,
				Err:  err,
			}
		case <-ctx.Done():
			return
		}
	}
}

// Execute runs all tasks on the pool's workers and returns results keyed by
// task name. On context cancellation the partial result map is returned.
func (p *Pool[T]) Execute(ctx context.Context, tasks []Task[T]) map[string]Result[T] {
	var wg sync.WaitGroup
	results := make(map[string]Result[T])

	for i := 0; i < p.workerCount; i++ {
		wg.Add(1)
		go p.worker(ctx, &wg)
	}

	go func() {
		for _, task := range tasks {
			select {
			case p.tasks <- task:
			case <-ctx.Done():
				return
			}
		}
		close(p.tasks)
	}()

	for i := 0; i < len(tasks); i++ {
		select {
		case result := <-p.results:
			results[result.Name] = result
		case <-ctx.Done():
			return results
		}
	}

	wg.Wait()
	close(p.results)

	return results
}
