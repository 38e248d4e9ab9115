// Package core defines the canonical, provider-agnostic conversation model:
// message parts, conversation items, streaming events and the session that
// owns the conversation history. Every other package depends on it and it
// depends on nothing but the standard library and uuid.
package core
