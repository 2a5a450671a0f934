// Package server hosts the optional Fiber HTTP front end for the download
// cache. GET /fetch streams an identifier's content through the Downloader
// (cache hit or tee'd origin fetch), DELETE /cache clears an entry, and /-/
// paths serve diagnostics. Keep exports narrow and accept explicit
// dependencies so tests can inject fake downloaders.
package server
