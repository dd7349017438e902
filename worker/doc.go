// Package worker provides the runtime that executes workflow runs on
// behalf of a control plane.
//
// A Worker owns a process-wide registry of compiled graphs, announced to
// the control plane at startup. Its Run method is a blocking control
// loop: claim an assignment, dispatch the run on its own goroutine,
// execute it through the engine (resuming from the run ledger when prior
// progress exists), and report the outcome. A single run's failure — or
// a transport hiccup — is logged and survived; the loop only stops when
// its context is cancelled.
package worker
