// Package config synthesizes the on-disk configuration bundle consumed by the
// router process: the route alias map, the optional MCP config pointer, and
// the system-prompt policy document.
//
// Synthesis is additive: entries already present in a pre-supplied base alias
// file are never overwritten, and all writes are confined to the session's
// private temporary directory. A base file that exists but cannot be parsed
// degrades to an empty base with a logged warning rather than failing the
// session.
package config
