// Package journal is a side-channel transport that records every event
// leaving a hook in a BoltDB file. Entries are keyed by a big-endian
// sequence number so a cursor walk replays them in append order.
package journal
