// Package harness replays scripted register scenarios against the real
// agent components and checks the outcome.
//
// A scenario is a YAML file listing steps (heartbeats, clock advances,
// orders, syncs, cap overrides, menu fetches) and assertions on the final
// state. The harness wires the store, connectivity monitor, governor, sync
// engine, register and menu cache the same way the agent does, but drives
// them step by step instead of from background loops:
//
//   - a heartbeat step runs one monitor check with a scripted pinger
//   - going offline opens the offline session
//   - the recovery edge syncs the queue and then closes the session
//
// Time comes from a manual clock and ids from sequence generators, so the
// trace of a run is deterministic and can be compared against a golden
// file with RunWithGolden.
//
// The backend is an in-process fake. Steps can make it drop an order once
// (a retryable failure) or reject it outright.
package harness
