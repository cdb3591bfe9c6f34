// Package notifier delivers operator alerts (region update warnings and
// forwarded log lines) through a transport.Sender.
//
// Notify only enqueues. A small worker pool drains the queue under a shared
// token-bucket limit and retries failed sends with jittered backoff.
//
// # Dedup
//
// A notification with a Key is suppressed while an earlier one with the same
// Key is inside the dedup window; without a Key the text is hashed. With
// PersistDedup the windows are also written to the store and consulted on
// the next run.
package notifier
