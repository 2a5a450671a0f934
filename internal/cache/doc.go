// Package cache defines the disk-backed store that maps identifier digests to
// flat files under StoragePath/<key>. Writes never land on the final path
// directly: bytes are staged under StoragePath/pending/<uuid> and published by
// a single rename, so readers only ever see absent or complete entries. The
// download orchestrator depends on this package for hit lookup, staging and
// commit, and explicit removal.
package cache
