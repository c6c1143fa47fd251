// Package pos provides the point-of-sale record types shared by the offline
// resilience layer.
//
// This package contains type definitions and validation only. The store,
// sync engine, exposure governor and agent all import pos; pos imports
// nothing internal.
//
// Key design constraints:
//   - Money is always int64 minor currency units (cents), never floats
//   - All JSON tags use snake_case
//   - An OfflineOrder is immutable after creation except for Synced
package pos
