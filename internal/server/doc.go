// Package server exposes the job runner and the media library over HTTP.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] method patterns, so path wildcards such as {id} and
// {path...} are read with [http.Request.PathValue].
//
// # Jobs
//
// POST /download, /isolate, /cover and /restore each start one job and answer with a text/event-stream response
// that carries the job's events as `data: {json}` frames, with `: keepalive` comments while the job is quiet. The
// X-Job-ID header names the job so another client can follow it through GET /jobs/{id}/events, which replays from
// the first event, or GET /jobs/{id}/ws, which sends the same events as websocket text messages.
//
// A job does not stop when its client disconnects.
//
// # Library
//
// Listings, storage usage and deletes are plain JSON endpoints backed by the storage synchronizer. GET
// /serve-audio/{path...} serves files from the local cache and rejects any path that leaves the storage root.
//
// # Handler Interface
//
// Custom handlers implement the [Handler] interface, which wraps the stdlib handler interface and adds routes,
// allowing handlers to register multiple routes to encapsulate route definitions within the implementation.
package server
