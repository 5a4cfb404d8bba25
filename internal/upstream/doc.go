// Package upstream provides the duplex transport to the Azure Voice Live
// realtime API: authenticated websocket connect, serialized sends, tagged
// receive results, and the session-configuration handshake.
package upstream
