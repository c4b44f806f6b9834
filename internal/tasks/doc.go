// Package tasks runs the long media jobs with real-time progress reporting.
//
// # Core Operations
//
// [MediaEngine] implements four operations. Each takes a [jobs.Emitter] and returns the terminal [jobs.Result], so a
// request can be bound into a [jobs.Func] and handed to the runner:
//
//  1. [MediaEngine.Fetch] : download a video, playlist or channel
//     - Derives the collection from the source URL
//     - Streams downloader progress as progress and download events
//     - Moves each file into its own item folder and publishes it
//
//  2. [MediaEngine.Isolate] : split primaries into stems
//     - Migrates legacy flat downloads and restores missing primaries from the remote store
//     - Detects tempo and key, runs the separator, renames through the [Pipeline]
//     - Failures are per item; the batch continues
//
//  3. [MediaEngine.Cover] : generate an AI cover from a stem
//     - Picks the stem by priority (Vocals, Drums, Bass, Other)
//     - Makes it publicly reachable, submits and polls the cover API
//
//  4. [MediaEngine.Restore] : pull remote files missing from the local cache
//     - Runs downloads on a bounded worker pool
//
// # Progress Reporting
//
// Messages are plain strings on the job's event stream. Errors that do not end the job are sent as error events;
// the error returned by an operation becomes the terminal event.
//
// Two jobs working on the same item may race on local files. No per-item lock is taken.
package tasks
