// Package broadcast implements the chat hub using the actor pattern.
//
// One goroutine owns the subscriber set and receives publish, subscribe and
// unsubscribe commands on a single FIFO channel (no mutexes). Fan-out never
// blocks: each subscription has a bounded buffer and a lagging subscriber
// loses its oldest buffered messages instead of stalling the publisher.
package broadcast
