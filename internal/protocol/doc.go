// Package protocol defines the JSON wire frames exchanged with the browser
// extension (client channel and scrape ingress) and the Azure Voice Live
// realtime API, including the exact session-configuration handshake shape.
package protocol
