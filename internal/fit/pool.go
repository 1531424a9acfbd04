package fit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/mtfphase/internal/optics"
	"github.com/cwbudde/mtfphase/internal/telemetry"
)

var (
	// ErrWorker marks a plane realization that crashed or never returned.
	// It is fatal to the evaluation and never retried.
	ErrWorker = errors.New("worker failure")
	// ErrPoolClosed is returned by Realize after Close.
	ErrPoolClosed = errors.New("worker pool is closed")
)

type planeTask struct {
	plane int
	phase *optics.PhaseMap
	reply chan<- planeResult
}

type planeResult struct {
	plane  int
	sample optics.MTFSample
	err    error
}

// worker owns a private replica of the shared state and its own engine.
type worker struct {
	id     int
	state  *SharedState
	engine *optics.Engine
}

func newWorker(id int, shared *SharedState) (*worker, error) {
	replica := shared.replicate()
	engine, err := optics.NewEngine(replica.Config)
	if err != nil {
		return nil, err
	}
	return &worker{id: id, state: replica, engine: engine}, nil
}

func (w *worker) realize(plane int, phase *optics.PhaseMap, hook func(workerID, plane int), m *telemetry.Metrics) (res planeResult) {
	res.plane = plane
	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("%w: worker %d panicked on plane %d: %v", ErrWorker, w.id, plane, r)
		}
	}()

	if hook != nil {
		hook(w.id, plane)
	}
	start := time.Now()
	res.sample, res.err = w.engine.RealizePlane(phase, w.state.Defocus.Phase(plane), w.state.Config.Frequencies, w.state.Mode)
	m.ObservePlane(time.Since(start).Seconds())
	return res
}

// Pool realizes every focus plane of one evaluation. Its size is fixed for
// the run; size 0 realizes planes serially in the caller's goroutine.
type Pool struct {
	size    int
	planes  int
	samples int
	metrics *telemetry.Metrics

	inline *worker
	tasks  chan planeTask
	done   chan struct{}
	group  *errgroup.Group
	cancel context.CancelFunc
	once   sync.Once

	// planeHook runs before each plane realization; tests use it to
	// reorder completions.
	planeHook func(workerID, plane int)
}

// NewPool starts size workers, each with a deep copy of shared taken now.
func NewPool(shared *SharedState, size int, metrics *telemetry.Metrics) (*Pool, error) {
	if size < 0 {
		return nil, optics.NewConfigError("workers", "negative pool size %d", size)
	}
	p := &Pool{
		size:    size,
		planes:  shared.Planes(),
		samples: shared.Config.PupilSamples,
		metrics: metrics,
		done:    make(chan struct{}),
	}

	if size == 0 {
		w, err := newWorker(0, shared)
		if err != nil {
			return nil, err
		}
		p.inline = w
		return p, nil
	}

	workers := make([]*worker, size)
	for i := range workers {
		w, err := newWorker(i, shared)
		if err != nil {
			return nil, err
		}
		workers[i] = w
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	p.tasks = make(chan planeTask)
	p.group = group
	p.cancel = cancel

	for _, w := range workers {
		w := w
		metrics.WorkerStarted()
		group.Go(func() error {
			defer metrics.WorkerStopped()
			return p.serve(gctx, w)
		})
	}

	slog.Debug("Worker pool started", "workers", size, "planes", p.planes)
	return p, nil
}

func (p *Pool) serve(ctx context.Context, w *worker) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-p.tasks:
			// Reply channels are buffered for every plane; this never blocks
			t.reply <- w.realize(t.plane, t.phase, p.planeHook, p.metrics)
		}
	}
}

// Size returns the number of workers; 0 means inline.
func (p *Pool) Size() int {
	return p.size
}

// Samples returns the pupil sampling the workers were built for.
func (p *Pool) Samples() int {
	return p.samples
}

// Planes returns the number of planes realized per call.
func (p *Pool) Planes() int {
	return p.planes
}

// Realize computes the MTF of every plane for one in-focus phase map.
// Results are returned in plane order whatever the completion order.
func (p *Pool) Realize(ctx context.Context, phase *optics.PhaseMap) ([]optics.MTFSample, error) {
	select {
	case <-p.done:
		return nil, ErrPoolClosed
	default:
	}

	out := make([]optics.MTFSample, p.planes)
	if p.inline != nil {
		for plane := 0; plane < p.planes; plane++ {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("%w: plane %d not realized: %w", ErrWorker, plane, err)
			}
			r := p.inline.realize(plane, phase, p.planeHook, p.metrics)
			if r.err != nil {
				return nil, r.err
			}
			out[plane] = r.sample
		}
		return out, nil
	}

	reply := make(chan planeResult, p.planes)
	for plane := 0; plane < p.planes; plane++ {
		select {
		case p.tasks <- planeTask{plane: plane, phase: phase, reply: reply}:
		case <-p.done:
			return nil, ErrPoolClosed
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: plane %d not dispatched: %w", ErrWorker, plane, ctx.Err())
		}
	}

	for received := 0; received < p.planes; received++ {
		select {
		case r := <-reply:
			if r.err != nil {
				return nil, r.err
			}
			out[r.plane] = r.sample
		case <-p.done:
			return nil, ErrPoolClosed
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %d of %d planes returned: %w", ErrWorker, received, p.planes, ctx.Err())
		}
	}
	return out, nil
}

// Close stops the workers and waits for them to exit.
func (p *Pool) Close() error {
	var err error
	p.once.Do(func() {
		close(p.done)
		if p.cancel != nil {
			p.cancel()
			err = p.group.Wait()
		}
	})
	return err
}
