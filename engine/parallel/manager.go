package parallel

import (
	"context"
	"time"

	"github.com/tessera-ai/flowengine/engine/execution"
	"github.com/tessera-ai/flowengine/engine/flowerr"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Mode selects the join semantics of a parallel split
type Mode string

const (
	// ModeAll waits for every branch; any failure aborts the siblings
	// and fails the split unless ContinueOnError is set
	ModeAll Mode = "all"
	// ModeRace takes the first branch to finish, success or failure
	ModeRace Mode = "race"
	// ModeFirstSuccess takes the first branch to succeed; fails only when
	// every branch has failed
	ModeFirstSuccess Mode = "first_success"
)

// ParseMode normalizes a configured mode string
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeRace:
		return ModeRace
	case ModeFirstSuccess:
		return ModeFirstSuccess
	default:
		return ModeAll
	}
}

// Branch is one arm of a parallel split. Child is the overlay context the
// branch runs in; losers are aborted through it.
type Branch struct {
	Index     int
	StartNode string
	Child     *execution.Context
	Run       func(ctx context.Context) error
}

// BranchResult is the outcome of one branch
type BranchResult struct {
	Index    int
	Err      error
	Duration time.Duration
}

// Outcome is the joined result of a split
type Outcome struct {
	Mode Mode
	// Winner is the selected branch index for race and first-success
	// joins, -1 otherwise
	Winner  int
	Results []BranchResult
}

// Options tunes one split
type Options struct {
	Mode          Mode
	MaxConcurrent int
	// ContinueOnError keeps an all-join running past branch failures
	// instead of aborting the siblings and failing the split
	ContinueOnError bool
}

// Manager runs parallel splits under two concurrency bounds: a per-split
// limit and a process-wide limit shared by every execution in the host.
type Manager struct {
	procSem    chan struct{}
	maxPerNode int
	logger     Logger
}

// NewManager creates a parallel manager. maxPerNode caps branches of one
// split, maxProcess caps concurrently running branches host-wide.
func NewManager(maxPerNode, maxProcess int, logger Logger) *Manager {
	if maxPerNode <= 0 {
		maxPerNode = 32
	}
	if maxProcess <= 0 {
		maxProcess = 256
	}
	return &Manager{
		procSem:    make(chan struct{}, maxProcess),
		maxPerNode: maxPerNode,
		logger:     logger,
	}
}

// Run executes the branches under the requested join mode. It always waits
// for every branch goroutine before returning; aborted losers are expected
// to observe their child context and exit promptly.
func (m *Manager) Run(ctx context.Context, branches []Branch, opts Options) (*Outcome, error) {
	if len(branches) == 0 {
		return nil, flowerr.Validation("parallel split has no branches")
	}
	if len(branches) > m.maxPerNode {
		return nil, flowerr.Validation("parallel split has %d branches, limit is %d", len(branches), m.maxPerNode)
	}

	limit := opts.MaxConcurrent
	if limit <= 0 || limit > len(branches) {
		limit = len(branches)
	}
	splitSem := make(chan struct{}, limit)

	resultCh := make(chan BranchResult, len(branches))
	for _, br := range branches {
		br := br
		go func() {
			started := time.Now()

			select {
			case splitSem <- struct{}{}:
			case <-ctx.Done():
				resultCh <- BranchResult{Index: br.Index, Err: flowerr.Classify(context.Cause(ctx))}
				return
			}
			defer func() { <-splitSem }()

			select {
			case m.procSem <- struct{}{}:
			case <-ctx.Done():
				resultCh <- BranchResult{Index: br.Index, Err: flowerr.Classify(context.Cause(ctx))}
				return
			}
			defer func() { <-m.procSem }()

			runCtx := ctx
			if br.Child != nil {
				runCtx = br.Child.Ctx()
			}
			err := br.Run(runCtx)
			resultCh <- BranchResult{Index: br.Index, Err: err, Duration: time.Since(started)}
		}()
	}

	outcome := &Outcome{Mode: opts.Mode, Winner: -1}
	switch opts.Mode {
	case ModeRace:
		return m.joinRace(branches, resultCh, outcome)
	case ModeFirstSuccess:
		return m.joinFirstSuccess(branches, resultCh, outcome)
	default:
		return m.joinAll(branches, resultCh, outcome, opts.ContinueOnError)
	}
}

// joinAll waits for every branch. The first failure aborts the remaining
// siblings and fails the split, unless continueOnError is set, in which
// case the split succeeds and per-branch failures stay visible in the
// results.
func (m *Manager) joinAll(branches []Branch, resultCh chan BranchResult, outcome *Outcome, continueOnError bool) (*Outcome, error) {
	var firstErr error
	for range branches {
		res := <-resultCh
		outcome.Results = append(outcome.Results, res)
		if res.Err == nil || continueOnError {
			continue
		}
		if firstErr == nil {
			firstErr = res.Err
			m.abortLosers(branches, res.Index, "sibling branch failed")
		}
	}
	if continueOnError {
		return outcome, nil
	}
	return outcome, firstErr
}

// joinRace takes the first finisher, aborts the rest and drains them
func (m *Manager) joinRace(branches []Branch, resultCh chan BranchResult, outcome *Outcome) (*Outcome, error) {
	first := <-resultCh
	outcome.Winner = first.Index
	outcome.Results = append(outcome.Results, first)

	m.abortLosers(branches, first.Index, "superseded by sibling branch")
	for i := 1; i < len(branches); i++ {
		outcome.Results = append(outcome.Results, <-resultCh)
	}
	return outcome, first.Err
}

// joinFirstSuccess waits for the first success, aborting the rest once one
// arrives; when every branch fails it reports the first failure
func (m *Manager) joinFirstSuccess(branches []Branch, resultCh chan BranchResult, outcome *Outcome) (*Outcome, error) {
	var firstErr error
	remaining := len(branches)

	for remaining > 0 {
		res := <-resultCh
		remaining--
		outcome.Results = append(outcome.Results, res)

		if res.Err == nil && outcome.Winner < 0 {
			outcome.Winner = res.Index
			m.abortLosers(branches, res.Index, "superseded by sibling branch")
		}
		if res.Err != nil && firstErr == nil {
			firstErr = res.Err
		}
	}

	if outcome.Winner >= 0 {
		return outcome, nil
	}
	if firstErr == nil {
		firstErr = flowerr.New(flowerr.KindNodeFailed, false, "no branch succeeded")
	}
	return outcome, firstErr
}

// abortLosers cancels every branch child except the winner
func (m *Manager) abortLosers(branches []Branch, winner int, reason string) {
	for _, br := range branches {
		if br.Index == winner || br.Child == nil {
			continue
		}
		br.Child.Abort(flowerr.Cancelled(reason))
	}
	m.logger.Debug("parallel losers aborted", "winner", winner, "branches", len(branches))
}
