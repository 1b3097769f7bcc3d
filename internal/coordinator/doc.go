// Package coordinator implements the recursive EDRR cycle state machine.
//
// # Overview
//
// The coordinator drives the four-stage Expand → Differentiate → Refine →
// Retrospect methodology. Each stage may spawn a bounded, fully-formed nested
// instance of the same four-stage cycle (a micro-cycle), producing a fractal
// execution structure with a hard recursion budget.
//
// # Architecture
//
// The execution model is a strictly ordered phase loop:
//
//	Expand → Differentiate → Refine → Retrospect → Completed
//
// At the end of each stage a TerminationPolicy evaluates the stage's
// PhaseMetrics against the effective ThresholdConfig and may stop the cycle
// early. Registered recovery hooks get a chance to mutate the metrics before
// the final transition decision.
//
// # Key Components
//
// ## CycleCoordinator
//
// The main entry point. StartCycle runs a full cycle over a shared context
// map and returns a CycleResult envelope. It manages:
//   - Stage execution through a pluggable StageExecutor
//   - Optional micro-cycle spawning via MicroCycleFactory
//   - Recovery hook dispatch and policy re-evaluation
//   - Failure absorption: a stage error never propagates as a Go error
//
// ## TerminationPolicy
//
// A pure evaluator combining ThresholdConfig and PhaseMetrics into a
// terminate/continue decision. The built-in DelimitingPolicy applies the
// documented heuristics in fixed precedence: quality met, diminishing
// returns, human override, granularity floor, resource limit.
//
// ## RecoveryHookRegistry
//
// Ordered per-stage callbacks that may inspect or replace PhaseMetrics.
// Dispatch stops at the first hook reporting Recovered; a hook that errors
// or panics is skipped, never fatal to the cycle.
//
// ## MicroCycleFactory
//
// Builds child coordinators with stage-specific threshold overrides. A
// child's effective recursion budget is never wider than its parent's, which
// is the structural guarantee that recursion terminates regardless of
// configuration mistakes at deeper levels.
//
// # Failure Semantics
//
// Depth exhaustion is not an error: StartChildCycle past the budget returns
// a CycleResult with StatusRecursionLimitReached and the untouched context.
// A stage that errors or panics is recorded into context under "error" and
// converted to StatusEarlyTermination, so a failure in one branch never
// corrupts a sibling or ancestor cycle.
package coordinator
