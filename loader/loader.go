// Package loader drives phased agent initialization. The agent is reported
// usable once the core phases finish; optimization work continues in the
// background and its failure never flips a successful load.
package loader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashgraphonline/holdesk/config"
	"github.com/hashgraphonline/holdesk/log"
)

// Phase names. Unknown names passed to ExecutePhase are programmer errors.
const (
	PhaseCoreValidation     = "core-validation"
	PhaseCoreAgentInit      = "core-agent-init"
	PhaseOptimizationWarmup = "optimization-warmup"
)

// Phase pairs a name with its share of overall progress. Weights sum to 100.
type Phase struct {
	Name   string
	Weight int
}

// defaultPhases mirrors the loading plan: validation is cheap, agent
// initialization dominates, warmup is polish.
var defaultPhases = []Phase{
	{Name: PhaseCoreValidation, Weight: 10},
	{Name: PhaseCoreAgentInit, Weight: 85},
	{Name: PhaseOptimizationWarmup, Weight: 5},
}

// PhaseStatus is the lifecycle state of one phase.
type PhaseStatus string

const (
	PhasePending   PhaseStatus = "pending"
	PhaseRunning   PhaseStatus = "running"
	PhaseCompleted PhaseStatus = "completed"
	PhaseFailed    PhaseStatus = "failed"
)

// Progress is reported to the observer after every phase transition.
type Progress struct {
	Phase   string
	Status  PhaseStatus
	Percent int
}

// Runtime is the external agent collaborator: it validates nothing itself,
// the loader owns configuration checks.
type Runtime interface {
	// Initialize boots the core agent and returns a session id.
	Initialize(ctx context.Context, cfg *config.Config) (string, error)
	// Warmup performs non-essential optimization after the core is ready.
	Warmup(ctx context.Context) error
}

// Result is the outcome of LoadAgent. Success requires only the validation
// and core-init phases.
type Result struct {
	Success                  bool          `json:"success"`
	SessionID                string        `json:"sessionId,omitempty"`
	Error                    string        `json:"error,omitempty"`
	CoreReadyTime            time.Duration `json:"coreReadyTime"`
	BackgroundTasksRemaining int           `json:"backgroundTasksRemaining"`
}

// DefaultInitTimeout bounds the core-agent-init phase.
const DefaultInitTimeout = 60 * time.Second

// Loader composes the phases into a progressive load.
type Loader struct {
	runtime     Runtime
	initTimeout time.Duration
	onProgress  func(Progress)

	mu         sync.Mutex
	phases     []Phase
	statuses   map[string]PhaseStatus
	percent    int
	coreReady  bool
	background sync.WaitGroup
	remaining  int
}

// Options configures a Loader.
type Options struct {
	// InitTimeout bounds core agent initialization (default 60s).
	InitTimeout time.Duration
	// OnProgress observes phase transitions. Optional.
	OnProgress func(Progress)
}

// New creates a loader over the given runtime.
func New(runtime Runtime, opts Options) *Loader {
	timeout := opts.InitTimeout
	if timeout <= 0 {
		timeout = DefaultInitTimeout
	}
	statuses := make(map[string]PhaseStatus, len(defaultPhases))
	for _, p := range defaultPhases {
		statuses[p.Name] = PhasePending
	}
	return &Loader{
		runtime:     runtime,
		initTimeout: timeout,
		onProgress:  opts.OnProgress,
		phases:      defaultPhases,
		statuses:    statuses,
	}
}

// ExecutePhase runs fn as the named phase, tracking status transitions and
// reporting progress after each. Unknown phase names are configuration
// errors, never expected at runtime.
func (l *Loader) ExecutePhase(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	phase, ok := l.lookup(name)
	if !ok {
		return fmt.Errorf("unknown loading phase: %s", name)
	}

	l.transition(name, PhaseRunning, 0)
	if err := fn(ctx); err != nil {
		l.transition(name, PhaseFailed, 0)
		return err
	}
	l.transition(name, PhaseCompleted, phase.Weight)
	return nil
}

func (l *Loader) lookup(name string) (Phase, bool) {
	for _, p := range l.phases {
		if p.Name == name {
			return p, true
		}
	}
	return Phase{}, false
}

func (l *Loader) transition(name string, status PhaseStatus, weight int) {
	l.mu.Lock()
	l.statuses[name] = status
	if status == PhaseCompleted {
		l.percent += weight
		if name == PhaseCoreAgentInit {
			l.coreReady = true
		}
	}
	progress := Progress{Phase: name, Status: status, Percent: l.percent}
	observer := l.onProgress
	l.mu.Unlock()

	log.S().Debugw("loading phase transition", "phase", name, "status", status, "percent", progress.Percent)
	if observer != nil {
		observer(progress)
	}
}

// ValidateCoreConfig checks the required fields before any I/O is attempted.
// The error names the first missing requirement category so the message is
// actionable: core configuration (account, network) is reported separately
// from a missing LLM API key.
func (l *Loader) ValidateCoreConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("missing core configuration: no configuration provided")
	}
	if cfg.AccountID == "" {
		return fmt.Errorf("missing core configuration: account id is required")
	}
	if cfg.Network == "" {
		return fmt.Errorf("missing core configuration: network is required")
	}
	if cfg.OpenAIAPIKey == "" && cfg.AnthropicAPIKey == "" {
		return fmt.Errorf("missing required LLM API key: configure an OpenAI or Anthropic key")
	}
	return nil
}

// InitializeCoreAgent delegates to the runtime under a timeout. A timeout is
// labeled distinctly from the runtime's own failure.
func (l *Loader) InitializeCoreAgent(ctx context.Context, cfg *config.Config, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = l.initTimeout
	}
	initCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		sessionID string
		err       error
	}
	done := make(chan outcome, 1)
	go func() {
		id, err := l.runtime.Initialize(initCtx, cfg)
		done <- outcome{id, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return "", fmt.Errorf("agent initialization failed: %w", out.err)
		}
		return out.sessionID, nil
	case <-initCtx.Done():
		if ctx.Err() != nil {
			return "", fmt.Errorf("agent initialization cancelled: %w", ctx.Err())
		}
		return "", fmt.Errorf("agent initialization timed out after %v", timeout)
	}
}

// IsCoreFunctionalityReady reports whether the core phases have completed.
// True while warmup is still running in the background.
func (l *Loader) IsCoreFunctionalityReady() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.coreReady
}

// Percent returns the cumulative weighted progress.
func (l *Loader) Percent() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.percent
}

// PhaseState returns the status of one phase.
func (l *Loader) PhaseState(name string) PhaseStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok := l.statuses[name]; ok {
		return st
	}
	return PhasePending
}

// LoadAgent runs the full progressive load: validation, core initialization,
// then background warmup. The returned result reflects only the core phases;
// warmup failures are logged and dropped.
func (l *Loader) LoadAgent(ctx context.Context, cfg *config.Config) *Result {
	started := time.Now()

	if err := l.ExecutePhase(ctx, PhaseCoreValidation, func(context.Context) error {
		return l.ValidateCoreConfig(cfg)
	}); err != nil {
		return &Result{Error: err.Error()}
	}

	var sessionID string
	if err := l.ExecutePhase(ctx, PhaseCoreAgentInit, func(ctx context.Context) error {
		id, err := l.InitializeCoreAgent(ctx, cfg, l.initTimeout)
		sessionID = id
		return err
	}); err != nil {
		return &Result{Error: err.Error()}
	}
	coreReadyTime := time.Since(started)

	l.mu.Lock()
	l.remaining++
	l.mu.Unlock()
	l.background.Add(1)
	go func() {
		defer l.background.Done()
		err := l.ExecutePhase(context.WithoutCancel(ctx), PhaseOptimizationWarmup, l.runtime.Warmup)
		if err != nil {
			// Warmup is best-effort polish, not correctness-critical.
			log.S().Warnw("agent warmup failed", "error", err)
		}
		l.mu.Lock()
		l.remaining--
		l.mu.Unlock()
	}()

	l.mu.Lock()
	remaining := l.remaining
	l.mu.Unlock()

	return &Result{
		Success:                  true,
		SessionID:                sessionID,
		CoreReadyTime:            coreReadyTime,
		BackgroundTasksRemaining: remaining,
	}
}

// WaitForBackground blocks until background warmup work finishes. Used by
// tests and orderly shutdown.
func (l *Loader) WaitForBackground() {
	l.background.Wait()
}
