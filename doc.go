// Package notesync keeps a user's hierarchical notes usable offline and in
// sync with a remote document store.
//
// A [Session] is what an application opens after sign-in. It wires the
// pieces that live in the pkg directory:
//
//   - [github.com/codenotes/notesync/pkg/tree]: the in-memory topic and note
//     forest the UI reads and edits, including reordering and reparenting
//   - [github.com/codenotes/notesync/pkg/cache/badger]: the on-device copy of
//     every topic and note plus the durable replay queue
//   - [github.com/codenotes/notesync/pkg/remote/surrealdb]: the remote store,
//     reached over WebSocket with live queries for snapshots
//   - [github.com/codenotes/notesync/pkg/syncqueue]: replays queued writes in
//     order once the remote store is reachable again
//
// # Writes
//
// Every edit lands in memory and in the cache before the call returns. The
// remote write happens on a background writer; when the remote store is not
// reachable the write goes to the replay queue instead and the caller never
// sees an error for it. Writes the remote store rejects for good are passed
// to the handler given with [WithErrorHandler].
//
// # Reachability
//
// [Session.Offline] and [Session.Online] tell the session about network
// changes. Going online connects if needed, resubscribes and drains the
// replay queue. A session opened while SurrealDB is down starts offline and
// serves the cached tree.
//
// # Configuration
//
// [Open] takes a [github.com/codenotes/notesync/pkg/config.Config], usually
// read with config.Load from a YAML file and NOTESYNC_* environment
// variables.
package notesync
