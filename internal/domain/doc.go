// Package domain defines the core chat types, the collaborator contracts and
// the sentinel errors shared by the chat packages.
//
// The interfaces live here so that the chat session can depend on history
// and rendering without importing their implementations.
package domain
