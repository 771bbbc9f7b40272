// Package link is svlink transport: frames over TCP, client session with
// handshake and server registry with broadcast.
//
// Frame on the wire is one length byte followed by exactly that many payload bytes.
// Frame payload is exactly one packet, see package packet.
// Both sides dispatch decoded packets by tag through Handlers table.
// Broken packets (unknown tag, short, no handler) are logged, counted and skipped,
// transport errors close the connection.
package link
