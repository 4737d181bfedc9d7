// Package templock temporarily locks items (user names, IP addresses, API
// keys) after too many attempts within a category.
//
// Callers report attempts with [Engine.AddAttempt]. Each attempt bumps one
// counter per category plus the implicit "main" category. An ordered
// [Strategy] table decides, per category, how many attempts are tolerated
// and how long the resulting lock lasts. [Engine.IsLocked] answers the only
// question most callers need.
//
// State lives in a [storage.Backend]. [storage.Memory] serves a single
// process; [storage.Redis] shares counters and locks across processes.
//
// # Lock transition
//
// When a counter reaches its strategy's Attempts the engine stores the lock,
// deletes every counter of the item, then runs the registered [LockHandler]
// listeners in order. Clearing all counters means one transition fires one
// notification, even when several categories crossed together.
//
// # What this package must NOT do
//
//   - Retry backend calls. Errors surface to the caller wrapped in [ErrStorage].
//   - Roll back a stored lock because clearing or a listener failed.
//   - Keep attempt history beyond the counter TTL.
package templock
