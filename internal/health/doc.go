// Package health provides liveness/readiness probes and their HTTP handlers.
//
// [All] joins every failing probe into one error, [Named] labels a probe's
// failures and [Timeout] bounds a slow one. [ShutdownGate] fails readiness while
// the process drains so load balancers stop routing to it first.
package health
