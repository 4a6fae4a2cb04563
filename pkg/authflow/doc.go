// Package authflow is the second-factor orchestrator. It is the only
// component that decides: the risk engine recommends, the method engines
// verify, and this package combines them into one verification flow with
// lockout, policy gating, device trust, and audit on every path.
//
// Verification runs as an ordered sequence of steps over a shared flow
// context, so policy checks always happen before any code is consumed and
// the caller gets a single Result with a generic message.
package authflow
