// Package connection keeps a long-running client attached to its server.
//
// A Manager calls a ConnectFunc, waits for the resulting session to end and
// connects again after an exponential backoff:
//
//	delay = min(initial * multiplier^attempt, max) + random(0, delay * jitter)
//
// The backoff resets after every successful connection. With MaxAttempts
// set, the manager gives up after that many consecutive failures.
package connection
