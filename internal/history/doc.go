// Package history keeps the authoritative chat log.
//
// The log is owned by a single actor goroutine. Appends arrive through the
// actor's own hub subscription and snapshot requests through a bounded
// command queue; both are serviced by one select loop so no reader can ever
// observe a half-applied append.
package history
