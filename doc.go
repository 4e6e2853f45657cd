// Package orbit defines the core interfaces, types, and helpers used across the
// orbit codebase. It provides record, operation and transform types, the event
// emitter, the backing store abstraction, and shared error codes. Concrete
// backends live in subpackages such as inmemory, badger, and redis, while the
// higher-level features are the action queue (package queue) and the record
// cache (package cache).
// It is designed to be extensible and modular, allowing various storage
// backends to be implemented while sharing a common interface.
// This package is foundational; other components build upon it.
//
// See package source for a concrete composition of the action queue and the
// record cache into an updatable source.
package orbit

// Ordering model
//
// Orbit serializes mutations through the action queue: actions settle strictly
// in push order and no action starts before all earlier ones settled. A failed
// action halts the queue, which resumes only through explicit recovery
// (Process/Retry/Skip/Clear). Within one transform, operations apply in the
// given order and each observes the cumulative effect of the prior operations
// in the same transform. The backing store transaction spanning an apply cycle
// is exclusively owned by that cycle; the queue's single-flight guarantee is
// what prevents overlapping transactions, not locks.
