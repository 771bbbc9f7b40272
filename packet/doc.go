// Package packet is svlink wire protocol codec.
//
// Every packet is one tag byte followed by fixed position fields.
// Integers are int8 or int32 little-endian, variable parts are prefixed
// with their element count. Encoded size is limited to 255 bytes because
// frame length on the wire is a single byte.
// There is no versioning or schema, field layout is the protocol.
package packet
