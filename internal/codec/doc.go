// Package codec implements the datagram wire formats for gossip
// messages: JSON for readability and MessagePack for compactness. Both
// share one schema, a map carrying a "message" type entry that can be
// read without decoding the rest.
package codec
