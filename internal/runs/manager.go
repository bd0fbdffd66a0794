package runs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"motion-extractor/internal/database"
	"motion-extractor/internal/logging"
	"motion-extractor/internal/media"
	"motion-extractor/internal/metrics"
	"motion-extractor/internal/pipeline"
	"motion-extractor/internal/sink"
	"motion-extractor/internal/workers"

	"github.com/google/uuid"
)

// ErrNotFound is returned for an unknown or evicted run ID.
var ErrNotFound = errors.New("run not found")

// DefaultMaxRetained is how many finished runs keep their output in memory.
const DefaultMaxRetained = 8

// Store persists run history. *database.Database satisfies it.
type Store interface {
	CreateRun(ctx context.Context, run *database.RunRecord) error
	UpdateRunPhase(ctx context.Context, id, phase string) error
	FinishRun(ctx context.Context, id string, res database.RunResult) error
}

// Config configures a Manager.
type Config struct {
	// CacheDir is where uploaded sources are staged.
	CacheDir string

	// MaxRetained bounds finished runs held in memory. Zero uses
	// DefaultMaxRetained.
	MaxRetained int

	// MaxActive bounds runs in flight. Start fails with
	// media.ErrAlreadyRunning while that many are active. Zero uses
	// workers.ForRuns.
	MaxActive int

	// Pipeline is passed to every run's orchestrator.
	Pipeline pipeline.Options
}

// Status is the externally visible view of a run.
type Status struct {
	ID          string          `json:"id"`
	SourceName  string          `json:"sourceName"`
	FrameOffset int             `json:"frameOffset"`
	Brightness  float64         `json:"brightness"`
	Phase       pipeline.Phase  `json:"phase"`
	Progress    float64         `json:"progress"`
	Frames      int             `json:"frames"`
	Skipped     int             `json:"skipped"`
	Info        media.TrackInfo `json:"info"`
	Error       string          `json:"error,omitempty"`
	ErrorKind   string          `json:"errorKind,omitempty"`
	MIMEType    string          `json:"mimeType,omitempty"`
	OutputBytes int             `json:"outputBytes,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	FinishedAt  *time.Time      `json:"finishedAt,omitempty"`
}

type run struct {
	id         string
	sourceName string
	cfg        pipeline.Config
	createdAt  time.Time
	orch       *pipeline.Orchestrator
	cancel     context.CancelFunc
	done       chan struct{}

	// set once done is closed
	finishedAt time.Time
}

// Manager owns the runs started through the service.
type Manager struct {
	rt    media.Runtime
	store Store
	cfg   Config
	log   *logging.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	// slots holds one token per run in flight.
	slots chan struct{}

	mu   sync.RWMutex
	runs map[string]*run
}

// New creates a Manager. store may be nil, in which case history is not
// persisted.
func New(rt media.Runtime, store Store, cfg Config) *Manager {
	if cfg.MaxRetained <= 0 {
		cfg.MaxRetained = DefaultMaxRetained
	}
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = workers.ForRuns()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		rt:         rt,
		store:      store,
		cfg:        cfg,
		log:        logging.For("runs"),
		baseCtx:    ctx,
		baseCancel: cancel,
		slots:      make(chan struct{}, cfg.MaxActive),
		runs:       make(map[string]*run),
	}
}

// Inspect stages data and reports the track a run would use.
func (m *Manager) Inspect(ctx context.Context, name string, data []byte) (media.TrackInfo, error) {
	src, err := media.OpenBytes(m.cfg.CacheDir, name, data)
	if err != nil {
		return media.TrackInfo{}, err
	}
	defer func() {
		if err := src.Release(); err != nil {
			m.log.Warn("release of %s failed: %v", name, err)
		}
	}()

	return pipeline.New(m.rt, m.cfg.Pipeline).Inspect(ctx, src)
}

// Start validates cfg, stages data and starts a background run. It returns
// the new run's ID. The run outlives ctx; use Cancel to stop it.
func (m *Manager) Start(ctx context.Context, name string, data []byte, cfg pipeline.Config) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	if m.baseCtx.Err() != nil {
		return "", fmt.Errorf("manager is shut down: %w", media.ErrInvalidState)
	}

	select {
	case m.slots <- struct{}{}:
	default:
		return "", fmt.Errorf("%d runs already active: %w", m.cfg.MaxActive, media.ErrAlreadyRunning)
	}

	src, err := media.OpenBytes(m.cfg.CacheDir, name, data)
	if err != nil {
		<-m.slots
		return "", err
	}

	r := &run{
		id:         uuid.NewString(),
		sourceName: name,
		cfg:        cfg,
		createdAt:  time.Now(),
		orch:       pipeline.New(m.rt, m.cfg.Pipeline),
		done:       make(chan struct{}),
	}

	if m.store != nil {
		rec := &database.RunRecord{
			ID:          r.id,
			SourceName:  name,
			SourceSize:  src.Size(),
			FrameOffset: cfg.FrameOffset,
			Brightness:  cfg.Brightness,
			Phase:       string(pipeline.PhaseInspecting),
			CreatedAt:   r.createdAt,
		}
		if err := m.store.CreateRun(ctx, rec); err != nil {
			m.log.Warn("failed to record run %s: %v", r.id, err)
		}
	}

	runCtx, cancel := context.WithCancel(m.baseCtx)
	r.cancel = cancel

	m.mu.Lock()
	m.runs[r.id] = r
	m.mu.Unlock()

	m.log.Info("Starting run %s for %s (%d bytes, offset %d)", r.id, name, src.Size(), cfg.FrameOffset)

	m.wg.Add(1)
	go m.execute(runCtx, r, src)

	return r.id, nil
}

func (m *Manager) execute(ctx context.Context, r *run, src *media.Source) {
	defer m.wg.Done()
	defer close(r.done)
	// The slot frees before done closes so a waiter can start the next run.
	defer func() { <-m.slots }()
	defer r.cancel()
	defer func() {
		if err := src.Release(); err != nil {
			m.log.Warn("release of %s failed: %v", r.sourceName, err)
		}
	}()

	var encodingRecorded bool
	onProgress := func(float64) {
		if encodingRecorded || m.store == nil {
			return
		}
		encodingRecorded = true
		if err := m.store.UpdateRunPhase(ctx, r.id, string(pipeline.PhaseEncoding)); err != nil {
			m.log.Debug("failed to record encoding phase for %s: %v", r.id, err)
		}
	}

	out, err := r.orch.Run(ctx, src, r.cfg, onProgress)

	state := r.orch.State()
	m.mu.Lock()
	r.finishedAt = time.Now()
	m.evictLocked()
	m.mu.Unlock()

	if err != nil {
		m.log.Warn("Run %s ended %s: %v", r.id, state.Phase, err)
	} else {
		m.log.Info("Run %s completed: %d frames, %d bytes %s", r.id, out.Frames, len(out.Bytes), out.MIMEType)
	}

	if m.store == nil {
		return
	}
	res := database.RunResult{
		Phase:       string(state.Phase),
		Frames:      state.Composed,
		Skipped:     state.Skipped,
		Width:       int(state.Info.Width),
		Height:      int(state.Info.Height),
		FrameRate:   state.Info.FrameRate,
		OutputBytes: int64(len(out.Bytes)),
		MIMEType:    out.MIMEType,
	}
	if err != nil {
		res.Error = err.Error()
	}
	// The run context may already be canceled; history still has to be written.
	storeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.FinishRun(storeCtx, r.id, res); err != nil {
		m.log.Warn("failed to record outcome of run %s: %v", r.id, err)
	}
}

// evictLocked drops the oldest finished runs beyond MaxRetained.
func (m *Manager) evictLocked() {
	var finished []*run
	for _, r := range m.runs {
		if !r.finishedAt.IsZero() {
			finished = append(finished, r)
		}
	}
	if len(finished) <= m.cfg.MaxRetained {
		return
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].finishedAt.Before(finished[j].finishedAt)
	})
	for _, r := range finished[:len(finished)-m.cfg.MaxRetained] {
		delete(m.runs, r.id)
		m.log.Debug("Evicted run %s", r.id)
	}
}

func (m *Manager) lookup(id string) (*run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

// Status reports a run's phase and progress.
func (m *Manager) Status(id string) (Status, error) {
	r, err := m.lookup(id)
	if err != nil {
		return Status{}, err
	}
	return m.status(r), nil
}

func (m *Manager) status(r *run) Status {
	state := r.orch.State()
	st := Status{
		ID:          r.id,
		SourceName:  r.sourceName,
		FrameOffset: r.cfg.FrameOffset,
		Brightness:  r.cfg.Brightness,
		Phase:       state.Phase,
		Progress:    state.Progress * 100,
		Frames:      state.Composed,
		Skipped:     state.Skipped,
		Info:        state.Info,
		CreatedAt:   r.createdAt,
	}
	// The goroutine may not have reached the orchestrator yet.
	if st.Phase == pipeline.PhaseIdle {
		st.Phase = pipeline.PhaseInspecting
	}
	if state.Err != nil {
		st.Error = state.Err.Error()
		st.ErrorKind = media.Kind(state.Err)
	}
	if state.Output != nil {
		st.MIMEType = state.Output.MIMEType
		st.OutputBytes = len(state.Output.Bytes)
	}

	m.mu.RLock()
	if !r.finishedAt.IsZero() {
		t := r.finishedAt
		st.FinishedAt = &t
	}
	m.mu.RUnlock()
	return st
}

// List returns the retained runs, newest first.
func (m *Manager) List() []Status {
	m.mu.RLock()
	runs := make([]*run, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	m.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].createdAt.After(runs[j].createdAt)
	})
	out := make([]Status, 0, len(runs))
	for _, r := range runs {
		out = append(out, m.status(r))
	}
	return out
}

// Output returns the encoded output of a completed run. Runs that are still
// active or did not complete return media.ErrInvalidState.
func (m *Manager) Output(id string) (sink.Output, error) {
	r, err := m.lookup(id)
	if err != nil {
		return sink.Output{}, err
	}
	state := r.orch.State()
	if state.Phase != pipeline.PhaseCompleted || state.Output == nil {
		return sink.Output{}, fmt.Errorf("run %s is %s: %w", id, state.Phase, media.ErrInvalidState)
	}
	return *state.Output, nil
}

// Cancel stops a run. Canceling a finished run is a no-op.
func (m *Manager) Cancel(id string) error {
	r, err := m.lookup(id)
	if err != nil {
		return err
	}
	m.log.Info("Canceling run %s", id)
	r.cancel()
	return nil
}

// Done returns a channel closed when the run reaches a terminal phase.
func (m *Manager) Done(id string) (<-chan struct{}, error) {
	r, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return r.done, nil
}

// Active returns the number of runs still in flight.
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.runs {
		if r.finishedAt.IsZero() {
			n++
		}
	}
	return n
}

// GetStats implements metrics.StatsProvider.
func (m *Manager) GetStats() metrics.Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats metrics.Stats
	for _, r := range m.runs {
		if r.finishedAt.IsZero() {
			continue
		}
		if out := r.orch.State().Output; out != nil {
			stats.RetainedOutputs++
			stats.RetainedOutputBytes += int64(len(out.Bytes))
		}
	}
	return stats
}

// Shutdown cancels every active run and waits for them to finish or for ctx
// to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.baseCancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
