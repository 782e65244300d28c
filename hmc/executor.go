package hmc

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/gonum/floats"
)

// Future is a handle for a derivative computed by a worker.
type Future struct {
	done  chan struct{}
	value []float64
	err   error
}

// Get blocks until the computation is finished.
func (f *Future) Get() ([]float64, error) {
	<-f.done
	return f.value, f.err
}

// ReduceFunc combines results of all the futures into one vector of
// length length.
type ReduceFunc func(futures []*Future, length int) ([]float64, error)

// task is a single provider evaluation.
type task struct {
	provider GradientProvider
	dtype    DerivativeType
	future   *Future
}

// ParallelGradientExecutor evaluates derivative providers using a
// fixed pool of workers, one task per provider.
type ParallelGradientExecutor struct {
	providers []GradientProvider
	nWorkers  int
	tasks     chan task
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewParallelGradientExecutor starts a worker pool. Negative
// threadCount means one worker per available CPU.
func NewParallelGradientExecutor(threadCount int, providers []GradientProvider) *ParallelGradientExecutor {
	if threadCount < 0 {
		threadCount = runtime.GOMAXPROCS(0)
	}
	if threadCount < 1 {
		threadCount = 1
	}
	e := &ParallelGradientExecutor{
		providers: providers,
		nWorkers:  threadCount,
		tasks:     make(chan task, len(providers)),
	}
	for i := 0; i < threadCount; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for t := range e.tasks {
				t.future.value, t.future.err = evaluate(t.dtype, t.provider)
				close(t.future.done)
			}
		}()
	}
	log.Debugf("Started parallel gradient executor with %d workers for %d providers", threadCount, len(providers))
	return e
}

// evaluate runs a single task converting panics to errors, so a
// failing provider never leaves a future unresolved.
func evaluate(t DerivativeType, p GradientProvider) (v []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s of %s: %v", t.Name(), p.Likelihood().ID(), r)
		}
	}()
	return t.Eval(p)
}

// NWorkers returns the pool size.
func (e *ParallelGradientExecutor) NWorkers() int {
	return e.nWorkers
}

// Submit schedules one task per provider. Futures are returned in
// the provider order.
func (e *ParallelGradientExecutor) Submit(t DerivativeType) []*Future {
	futures := make([]*Future, len(e.providers))
	for i, p := range e.providers {
		futures[i] = &Future{done: make(chan struct{})}
		e.tasks <- task{provider: p, dtype: t, future: futures[i]}
	}
	return futures
}

// DerivativeLogDensityInParallel computes derivatives of all the
// providers in parallel and reduces them.
func (e *ParallelGradientExecutor) DerivativeLogDensityInParallel(t DerivativeType, reduce ReduceFunc, length int) ([]float64, error) {
	return reduce(e.Submit(t), length)
}

// Close stops the workers. Submit must not be called afterwards.
func (e *ParallelGradientExecutor) Close() {
	e.closeOnce.Do(func() {
		close(e.tasks)
	})
	e.wg.Wait()
}

// SumReduce sums the results elementwise. All the futures are awaited
// before an error is returned.
func SumReduce(futures []*Future, length int) ([]float64, error) {
	reduction := make([]float64, length)
	var firstErr error
	for i, f := range futures {
		v, err := f.Get()
		if firstErr != nil {
			continue
		}
		switch {
		case err != nil:
			firstErr = fmt.Errorf("%w: task %d: %v", ErrComputation, i, err)
		case len(v) != length:
			firstErr = fmt.Errorf("%w: task %d returned %d values, expected %d",
				ErrComputation, i, len(v), length)
		default:
			floats.Add(reduction, v)
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return reduction, nil
}
