// Package services wraps everything outside the process that a job talks to.
//
// # External Tools
//
// [Tool] runs a program with a hard ceiling (five minutes by default). A tool that runs past it is killed and
// reported as [ErrToolTimeout]; a non-zero exit or recognized failure text becomes [ErrToolFailed]. Both are wrapped
// in a [ToolError] carrying the last [DiagnosticLimit] bytes of output.
//
//   - [Downloader] : yt-dlp compatible fetcher. Its merged output is reduced to progress lines by [ParseProgressLine];
//     anything else is dropped.
//   - [Separator] : audio-separator compatible stem splitter. Output files carry role markers such as "(Vocals)".
//   - [Analyzer] : tempo and key estimation. [ToolAnalyzer] runs an external estimator printing JSON;
//     [NoAnalyzer] is used when none is configured.
//
// # Cover API
//
// [APIService] talks to the generative cover API: [APIService.Submit] creates a task from a publicly reachable audio
// URL, [APIService.Task] polls it, and [APIService.Fetch] downloads a result.
package services
