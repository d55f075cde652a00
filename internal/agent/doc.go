// Package agent contains the task execution core: the per-request execution
// context, the capability table that maps executor kinds to their tools and
// prompts, and the think/act loop that drives one executor run against the
// language model within a bounded iteration budget.
package agent
