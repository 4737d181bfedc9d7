// Package storage provides the expiring key-value backends the lockout engine
// runs on.
//
// [Backend] is the whole contract: expiring string values, atomic
// increment-with-expiry, and expiring sets. Two implementations exist:
//
//   - [Memory]: in-process, volatile, single machine.
//   - [Redis]: shared across processes through a Redis server.
//
// # Architecture boundaries
//
// Backends own physical storage and TTL enforcement. They know nothing about
// strategies, categories, or locks; key derivation belongs to the engine.
//
// # What this package must NOT do
//
//   - Import templock or any sibling package.
//   - Retry failed commands. Retry policy belongs to the caller.
package storage
