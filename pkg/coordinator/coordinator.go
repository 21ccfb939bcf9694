// Package coordinator executes an invocation plan: the winning Agent runs
// synchronously from the caller's perspective while active Skills fan out as
// concurrent, cancellable, best-effort tasks on a bounded worker pool. Skill
// failures never fail the dispatch; Agent failure is surfaced to the caller.
package coordinator

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/jingkaihe/routelet/pkg/logger"
	dispatchtypes "github.com/jingkaihe/routelet/pkg/types/dispatch"
)

// Options configures execution
type Options struct {
	// MaxConcurrentSkills bounds the skill worker pool; defaults to NumCPU.
	// Admission happens through the semaphore, so exhaustion applies
	// backpressure instead of spawning unbounded goroutines.
	MaxConcurrentSkills int
}

// Runners resolves handler ids to their Runner implementations, with an
// optional fallback for handlers without a dedicated one.
type Runners struct {
	byID     map[string]dispatchtypes.Runner
	fallback dispatchtypes.Runner
}

// NewRunners creates a runner registry with the given fallback (may be nil)
func NewRunners(fallback dispatchtypes.Runner) *Runners {
	return &Runners{
		byID:     make(map[string]dispatchtypes.Runner),
		fallback: fallback,
	}
}

// Register binds a runner to a handler id
func (r *Runners) Register(id string, runner dispatchtypes.Runner) {
	r.byID[id] = runner
}

func (r *Runners) lookup(id string) dispatchtypes.Runner {
	if runner, ok := r.byID[id]; ok {
		return runner
	}
	return r.fallback
}

// Report is the execution outcome of one dispatch. It is immutable once
// returned: outputs and records from skills that finish after the dispatch
// context is cancelled are dropped, never written into a report the caller
// already holds.
type Report struct {
	DispatchID   string                                 `json:"dispatch_id"`
	AgentOutput  *dispatchtypes.HandlerOutput           `json:"agent_output,omitempty"`
	AgentErr     error                                  `json:"-"`
	SkillOutputs map[string]dispatchtypes.HandlerOutput `json:"skill_outputs,omitempty"`
	Records      []dispatchtypes.InvocationRecord       `json:"records,omitempty"`
}

// collector accumulates skill outputs and invocation records in completion
// order. It is sealed before Execute returns, so straggler goroutines from a
// cancelled dispatch can never mutate the report the caller received.
type collector struct {
	mu      sync.Mutex
	sealed  bool
	outputs map[string]dispatchtypes.HandlerOutput
	records []dispatchtypes.InvocationRecord
}

func newCollector() *collector {
	return &collector{outputs: make(map[string]dispatchtypes.HandlerOutput)}
}

func (c *collector) record(rec dispatchtypes.InvocationRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed {
		return
	}
	c.records = append(c.records, rec)
}

func (c *collector) output(id string, out dispatchtypes.HandlerOutput) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed {
		return
	}
	c.outputs[id] = out
}

// seal stops further writes and hands the accumulated state over. After
// sealing, the returned map and slice have a single owner: the caller.
func (c *collector) seal() (map[string]dispatchtypes.HandlerOutput, []dispatchtypes.InvocationRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sealed = true
	return c.outputs, c.records
}

// Execute runs the plan. A single context derived from the caller's governs
// the Agent call and every skill task; cancelling it cancels all of them.
// Suggested invocations still carrying Confirm are recorded as skipped;
// callers clear the flag once the user confirms. Skills that outlive a
// cancelled dispatch are dropped from the report entirely, output and record
// both.
func Execute(ctx context.Context, plan dispatchtypes.Plan, input dispatchtypes.HandlerInput, runners *Runners, opts Options) Report {
	maxSkills := opts.MaxConcurrentSkills
	if maxSkills <= 0 {
		maxSkills = runtime.NumCPU()
	}

	col := newCollector()
	chainedFrom := ""
	if n := len(input.Chain); n > 0 {
		chainedFrom = input.Chain[n-1].ID
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	sem := semaphore.NewWeighted(int64(maxSkills))

	for _, inv := range plan.Skills {
		if inv.Confirm {
			col.record(skippedRecord(inv, chainedFrom))
			continue
		}

		inv := inv
		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				col.record(finishedRecord(inv, chainedFrom, time.Now(), dispatchtypes.OutcomeCancelled, err))
				return
			}
			defer sem.Release(1)

			output, record := runOne(ctx, inv, input, runners, chainedFrom)
			col.record(record)

			if record.Outcome == dispatchtypes.OutcomeSuccess {
				col.output(inv.HandlerID, output)
			} else {
				logger.G(ctx).WithFields(map[string]interface{}{
					"skill":   inv.HandlerID,
					"outcome": record.Outcome,
				}).WithError(errors.New(record.Err)).Warn("skill execution failed, continuing dispatch")
			}
		}()
	}

	report := Report{DispatchID: plan.DispatchID}

	if plan.Agent != nil {
		if plan.Agent.Confirm {
			col.record(skippedRecord(*plan.Agent, chainedFrom))
		} else {
			output, record := runOne(ctx, *plan.Agent, input, runners, chainedFrom)
			col.record(record)

			switch record.Outcome {
			case dispatchtypes.OutcomeSuccess:
				report.AgentOutput = &output
			default:
				report.AgentErr = errors.Errorf("agent %s failed: %s", plan.Agent.HandlerID, record.Err)
			}
		}
	}

	// Best-effort skill collection: wait until the skills finish or the
	// caller's deadline fires. A slow skill never blocks agent result
	// delivery past that deadline.
	waitSkills(ctx, &wg)

	report.SkillOutputs, report.Records = col.seal()
	return report
}

func runOne(ctx context.Context, inv dispatchtypes.Invocation, input dispatchtypes.HandlerInput, runners *Runners, chainedFrom string) (dispatchtypes.HandlerOutput, dispatchtypes.InvocationRecord) {
	started := time.Now()

	runner := runners.lookup(inv.HandlerID)
	if runner == nil {
		return dispatchtypes.HandlerOutput{}, finishedRecord(inv, chainedFrom, started, dispatchtypes.OutcomeError,
			errors.Errorf("no runner registered for handler %s", inv.HandlerID))
	}

	input.Tier = inv.Tier
	output, err := runner.Run(ctx, input)

	outcome := dispatchtypes.OutcomeSuccess
	if err != nil {
		outcome = dispatchtypes.OutcomeError
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			outcome = dispatchtypes.OutcomeCancelled
		}
	}

	return output, finishedRecord(inv, chainedFrom, started, outcome, err)
}

func finishedRecord(inv dispatchtypes.Invocation, chainedFrom string, started time.Time, outcome dispatchtypes.Outcome, err error) dispatchtypes.InvocationRecord {
	record := dispatchtypes.InvocationRecord{
		ID:          uuid.NewString(),
		HandlerID:   inv.HandlerID,
		Mode:        inv.Mode,
		Tier:        inv.Tier,
		StartedAt:   started,
		FinishedAt:  time.Now(),
		Outcome:     outcome,
		ChainedFrom: chainedFrom,
	}
	if err != nil {
		record.Err = err.Error()
	}
	return record
}

func skippedRecord(inv dispatchtypes.Invocation, chainedFrom string) dispatchtypes.InvocationRecord {
	now := time.Now()
	record := finishedRecord(inv, chainedFrom, now, dispatchtypes.OutcomeSkipped, nil)
	record.FinishedAt = now
	return record
}

func waitSkills(ctx context.Context, wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}
