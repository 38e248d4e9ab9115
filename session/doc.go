// Package session houses the session store contract and its in-memory
// implementation. The Session struct itself lives in core to centralize
// domain types; keeping only storage here prevents higher layers from
// depending on a concrete backend.
//
// Additional backends can be added without changing calling code; only the
// wiring layer decides which implementation to instantiate.
package session
