// Package store provides SQLite-backed durable storage for the register agent.
//
// One database file holds five namespaces:
//   - kv: generic key/value pairs (cache-age timestamps)
//   - menu: last-known menu, replaced wholesale on every online fetch
//   - orders: the offline order queue
//   - kds: last-known kitchen display snapshot
//   - sessions: offline sessions bounding cash exposure
//
// # Guarantees
//
// Every operation runs in its own transaction and returns only after commit
// or rollback. Callers never hold a lock across a network call.
//
// Each namespace is versioned independently in store_versions, so a
// migration for one namespace never touches the tables of another.
//
// Queue reads are ordered by created_at ASC, id ASC so that sync replays
// orders oldest first.
//
// ClearSyncedOrders deletes only rows with synced=1 inside one transaction;
// an unsynced order is never removed.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - Single connection: SQLite allows one writer at a time
package store
