// Package cache defines the disk-backed store that maps image keys onto
// StoragePath/<type>/<file> files. Writes are streamed into a temp file next to
// the destination and promoted with an atomic rename only after the whole body
// has been persisted, so a reader never observes a truncated entry. A sidecar
// record under StoragePath/.meta keeps the stored-at time and origin content
// type. Validator layers TTL expiry on top of the store: stale entries are
// deleted during lookup and reported as ErrNotFound.
package cache
