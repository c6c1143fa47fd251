// Package engine implements the offline order queue and sync engine.
//
// SubmitOrder lets the register take an order regardless of connectivity:
// online it goes straight to the server, offline (or when the server is
// unreachable) it is written to the local queue. Sync replays the queue on
// the recovery edge.
//
// ORDERING:
// Sync replays unsynced orders sequentially, oldest first, so the server
// sees them in the order the register took them. Only one sync runs at a
// time.
//
// FAILURE SEMANTICS:
// A failed submission during sync leaves the order unsynced and queued; it
// is retried on the next recovery edge or explicit RequestSync. Orders are
// never discarded by the engine. The server must deduplicate on the client
// order id, which the upstream client sends as the idempotency key.
//
// PAYMENT METHODS:
// Cash and pending orders may be queued. Card payments need live
// authorization and are rejected with ErrCardOffline whenever they cannot be
// submitted online.
package engine
