// Package lockout tracks failed authentication attempts per account and per
// source address and refuses attempts while a key is locked.
//
// A key locks once its failure count reaches the policy threshold and stays
// locked for the policy duration. Failures during a lock are ignored. The
// count is kept at the threshold, so the first failure after the lock lapses
// locks the key again; only a success clears it.
//
// [RedisStore] shares counters across instances. [MemoryStore] is for a
// single process and tests.
package lockout
