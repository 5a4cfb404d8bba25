// Package server provides the HTTP control plane (session CRUD, health,
// metrics) and the websocket endpoints for the client channel and the
// scrape ingress.
package server
