// Package chat runs one chat session per WebSocket connection.
//
// A session first waits for the client to pick a username, then splits into
// a reader goroutine that publishes the client's messages to the hub and a
// writer goroutine that sends the history snapshot followed by every message
// the hub fans out. Whichever side finishes first ends the session; the other
// side is released by closing its subscription and the connection.
package chat
