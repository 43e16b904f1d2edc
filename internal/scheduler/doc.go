// Package scheduler drives registered task definitions: a minute-aligned
// tick evaluates every task, and each due run is dispatched on its own
// supervised goroutine so one slow or failing task never delays the rest.
package scheduler
