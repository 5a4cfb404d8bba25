// Package relay coordinates per-session bidirectional message pumps between
// the client channel and the upstream voice-AI connection, answers control
// frames locally, and injects scraped context updates into live sessions.
package relay
