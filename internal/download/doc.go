// Package download orchestrates cache lookup and origin fetches. A hit streams
// the committed entry with its exact size; a miss forks the origin stream so the
// caller and a staging writer consume the same bytes at their own pace, and the
// staged file is published into the cache only after the writer sees a clean
// end of stream.
package download
