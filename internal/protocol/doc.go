// Package protocol owns the packet codec between event records and wire frames.
//
// Ownership boundary:
// - typed payload layouts and their sequence field
// - generic and batch JSON payloads
// - the outgoing sequence counter (one per Codec)
// - the ProtocolError taxonomy root
//
// Frame primitives (magic, checksum, compression) live in protocol/frame; event
// records and their JSON form live in protocol/event.
package protocol
