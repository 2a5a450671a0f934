// Package fetcher provides the pluggable "give me a byte stream for this
// identifier" capability consumed by the download orchestrator. Three
// interchangeable strategies share one contract: succeed only on 200, surface
// the declared Content-Length when the transport provides one, and never retry
// internally. HTTPSource talks net/http directly, FiberSource goes through the
// Fiber client, and RequestSource layers auth/proxy/redirect/header options on
// top of a dedicated http.Client.
package fetcher
