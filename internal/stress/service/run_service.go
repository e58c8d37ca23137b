// Package service manages test runs: start, stop, progress and history.
package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"stressjudge/internal/common/mq"
	"stressjudge/internal/stress/observer"
	"stressjudge/internal/stress/pipeline"
	"stressjudge/internal/stress/repository"
	"stressjudge/internal/stress/sandbox/engine"
	"stressjudge/internal/stress/sandbox/result"
	"stressjudge/internal/stress/sandbox/spec"
	"stressjudge/internal/stress/worker"
	"stressjudge/internal/stress/workspace"
	appErr "stressjudge/pkg/errors"
	"stressjudge/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultPersistTimeout = 10 * time.Second
	maxTestCount          = 100000
)

// Config holds service dependencies and settings.
type Config struct {
	Engine engine.Engine
	Modes  map[string]spec.PipelineSpec
	Store  repository.RunStore

	// Optional.
	Producer       mq.Producer
	EventTopic     string
	Workspace      *workspace.Writer
	TempRoot       string
	ProjectName    string
	PersistTimeout time.Duration
}

// StartRequest describes one run.
type StartRequest struct {
	Mode  string `json:"mode"`
	Tests int    `json:"tests"`
	// Workers overrides the default worker count when positive.
	Workers       int   `json:"workers"`
	StopOnFailure *bool `json:"stopOnFailure,omitempty"`
	// FilePath names the candidate under test in run history.
	FilePath string `json:"filePath"`
	// SnapshotPaths are source files stored with the run record.
	SnapshotPaths []string `json:"snapshotPaths"`

	// Observer receives progress in addition to the service's own observers.
	Observer observer.Observer `json:"-"`
}

// RunState is the lifecycle of a run.
type RunState string

const (
	RunStateRunning  RunState = "running"
	RunStateFinished RunState = "finished"
	RunStateStopped  RunState = "stopped"
)

// RunStatus is a point-in-time view of a run.
type RunStatus struct {
	RunID     string                  `json:"runId"`
	Mode      string                  `json:"mode"`
	State     RunState                `json:"state"`
	Requested int                     `json:"requested"`
	Workers   int                     `json:"workers"`
	Stats     result.RunAggregate     `json:"stats"`
	Results   []result.TestCaseResult `json:"results,omitempty"`
	StartedAt time.Time               `json:"startedAt"`
}

// Service owns the active runs.
type Service struct {
	engine         engine.Engine
	modes          map[string]spec.PipelineSpec
	store          repository.RunStore
	producer       mq.Producer
	eventTopic     string
	workspace      *workspace.Writer
	tempRoot       string
	projectName    string
	persistTimeout time.Duration

	mu     sync.Mutex
	active map[string]*Run
	byMode map[string]string
}

// NewService validates every mode and creates the service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Engine == nil {
		return nil, appErr.New(appErr.InternalServerError).WithMessage("engine is required")
	}
	if cfg.Store == nil {
		return nil, appErr.New(appErr.InternalServerError).WithMessage("run store is required")
	}
	if len(cfg.Modes) == 0 {
		return nil, appErr.New(appErr.PipelineInvalid).WithMessage("at least one mode is required")
	}
	modes := make(map[string]spec.PipelineSpec, len(cfg.Modes))
	for name, ps := range cfg.Modes {
		ps.Mode = name
		ps = ps.Normalize()
		if err := ps.Validate(); err != nil {
			return nil, appErr.Wrapf(err, appErr.PipelineInvalid, "mode %s", name)
		}
		modes[name] = ps
	}
	persistTimeout := cfg.PersistTimeout
	if persistTimeout <= 0 {
		persistTimeout = defaultPersistTimeout
	}
	return &Service{
		engine:         cfg.Engine,
		modes:          modes,
		store:          cfg.Store,
		producer:       cfg.Producer,
		eventTopic:     cfg.EventTopic,
		workspace:      cfg.Workspace,
		tempRoot:       cfg.TempRoot,
		projectName:    cfg.ProjectName,
		persistTimeout: persistTimeout,
		active:         make(map[string]*Run),
		byMode:         make(map[string]string),
	}, nil
}

// Modes returns the configured mode names in order.
func (s *Service) Modes() []string {
	names := make([]string, 0, len(s.modes))
	for name := range s.modes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start launches a run in the background. Only one run per mode may be active.
func (s *Service) Start(ctx context.Context, req StartRequest) (*Run, error) {
	ps, ok := s.modes[req.Mode]
	if !ok {
		return nil, appErr.Newf(appErr.ModeNotFound, "mode %q is not configured", req.Mode)
	}
	if req.Tests <= 0 || req.Tests > maxTestCount {
		return nil, appErr.ValidationError("tests", "must be between 1 and 100000")
	}
	if req.Workers < 0 {
		return nil, appErr.ValidationError("workers", "must not be negative")
	}
	if req.StopOnFailure != nil {
		ps.StopOnFailure = *req.StopOnFailure
	}

	opts := []pipeline.Option{pipeline.WithTempRoot(s.tempRoot)}
	if s.workspace != nil {
		opts = append(opts, pipeline.WithArtifactSaver(s.workspace))
	}
	pipe, err := pipeline.New(ps, s.engine, opts...)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(logger.WithMode(logger.WithRun(context.WithoutCancel(ctx), runID), req.Mode))

	s.mu.Lock()
	if existing, busy := s.byMode[req.Mode]; busy {
		s.mu.Unlock()
		cancel()
		return nil, appErr.Newf(appErr.RunAlreadyActive, "mode %s already has active run %s", req.Mode, existing)
	}
	s.byMode[req.Mode] = runID
	s.mu.Unlock()

	run := &Run{
		id:          runID,
		mode:        req.Mode,
		requested:   req.Tests,
		startedAt:   time.Now(),
		cancel:      cancel,
		broadcaster: observer.NewBroadcaster(),
		done:        make(chan struct{}),
	}

	observers := observer.Multi{observer.NewLog(runCtx), run.broadcaster}
	var publisher *repository.EventPublisher
	if s.producer != nil && s.eventTopic != "" {
		publisher, err = repository.NewEventPublisher(runCtx, s.producer, s.eventTopic, runID, req.Mode)
		if err != nil {
			logger.Warn(runCtx, "event publisher disabled", zap.Error(err))
		} else {
			observers = append(observers, publisher)
		}
	}
	if req.Observer != nil {
		observers = append(observers, req.Observer)
	}

	normalized := pipe.Spec()
	pool, err := worker.New(pipe, worker.Options{
		MaxWorkers:    req.Workers,
		WorkersCap:    normalized.MaxWorkersCap,
		StopOnFailure: normalized.StopOnFailure,
		Observer:      observers,
		Mode:          req.Mode,
	})
	if err != nil {
		if publisher != nil {
			publisher.Close()
		}
		s.release(run)
		cancel()
		return nil, err
	}
	run.pool = pool

	s.mu.Lock()
	s.active[runID] = run
	s.mu.Unlock()

	if s.workspace != nil {
		if err := s.workspace.Prepare(req.Mode); err != nil {
			logger.Warn(runCtx, "prepare workspace failed", zap.String("root", s.workspace.Root()), zap.Error(err))
		}
	}
	logger.Info(runCtx, "run accepted",
		zap.String("pipeline", pipe.Describe()), zap.Int("tests", req.Tests), zap.Int("workers", pool.Workers()))

	go s.execute(runCtx, run, req, publisher)
	return run, nil
}

// Run starts a run and waits for it.
func (s *Service) Run(ctx context.Context, req StartRequest) (*worker.Report, error) {
	run, err := s.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, run.Stop)
	defer stop()
	return run.Wait(context.WithoutCancel(ctx))
}

func (s *Service) execute(ctx context.Context, run *Run, req StartRequest, publisher *repository.EventPublisher) {
	defer run.cancel()

	report, err := run.pool.RunAllWithID(ctx, run.id, req.Tests)
	if publisher != nil {
		publisher.Close()
		if dropped := publisher.Dropped(); dropped > 0 {
			logger.Warn(ctx, "run events dropped", zap.Uint64("dropped", dropped))
		}
	}
	if err == nil {
		s.persist(ctx, report, req)
	}

	run.mu.Lock()
	run.report = report
	run.err = err
	run.mu.Unlock()
	s.release(run)
	run.broadcaster.Close()
	close(run.done)
}

func (s *Service) persist(ctx context.Context, report *worker.Report, req StartRequest) {
	var snapshot []byte
	if len(req.SnapshotPaths) > 0 {
		blob, err := repository.EncodeFilesSnapshot(req.SnapshotPaths)
		if err != nil {
			logger.Warn(ctx, "build files snapshot failed", zap.Error(err))
		} else {
			snapshot = blob
		}
	}
	rec, err := repository.NewRunRecord(report, repository.RunMeta{
		FilePath:    req.FilePath,
		ProjectName: s.projectName,
		Snapshot:    snapshot,
	})
	if err != nil {
		logger.Error(ctx, "build run record failed", zap.Error(err))
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancel()
	id, err := s.store.SaveRun(saveCtx, rec)
	if err != nil {
		logger.Error(ctx, "save run failed", zap.Error(err))
		return
	}
	logger.Info(ctx, "run saved", zap.Int64("record_id", id))
}

func (s *Service) release(run *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, run.id)
	if s.byMode[run.mode] == run.id {
		delete(s.byMode, run.mode)
	}
}

func (s *Service) lookup(runID string) (*Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.active[runID]
	return run, ok
}

// Stop stops an active run.
func (s *Service) Stop(runID string) error {
	run, ok := s.lookup(runID)
	if !ok {
		return appErr.Newf(appErr.RunNotFound, "run %s is not active", runID)
	}
	run.Stop()
	return nil
}

// StopAll stops every active run.
func (s *Service) StopAll() {
	for _, run := range s.activeRuns() {
		run.Stop()
	}
}

// Shutdown stops every active run and waits until each has been persisted.
func (s *Service) Shutdown(ctx context.Context) error {
	runs := s.activeRuns()
	for _, run := range runs {
		run.Stop()
	}
	for _, run := range runs {
		select {
		case <-run.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Service) activeRuns() []*Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	runs := make([]*Run, 0, len(s.active))
	for _, run := range s.active {
		runs = append(runs, run)
	}
	return runs
}

// Active returns the status of every active run.
func (s *Service) Active() []RunStatus {
	runs := s.activeRuns()
	out := make([]RunStatus, 0, len(runs))
	for _, run := range runs {
		out = append(out, run.Status(false))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Status returns live progress of an active run.
func (s *Service) Status(runID string) (RunStatus, error) {
	run, ok := s.lookup(runID)
	if !ok {
		return RunStatus{}, appErr.Newf(appErr.RunNotFound, "run %s is not active", runID)
	}
	return run.Status(true), nil
}

// Subscribe streams live events of an active run.
func (s *Service) Subscribe(runID string, buffer int) (*observer.Channel, func(), error) {
	run, ok := s.lookup(runID)
	if !ok {
		return nil, nil, appErr.Newf(appErr.RunNotFound, "run %s is not active", runID)
	}
	ch := run.broadcaster.Subscribe(buffer)
	return ch, func() { run.broadcaster.Unsubscribe(ch) }, nil
}

// GetRun returns a stored run.
func (s *Service) GetRun(ctx context.Context, runID string) (repository.RunRecord, error) {
	return s.store.GetRun(ctx, runID)
}

// ListRuns returns stored runs, newest first.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]repository.RunRecord, error) {
	return s.store.ListRuns(ctx, limit)
}
