// Package models defines the entities of the note hierarchy and the records
// used to move them between the device and the remote store.
//
// # Entities
//
//   - [Topic]: top-level grouping owned by a single user
//   - [Note]: a code snippet, rich-text page or folder inside a topic; notes
//     nest through [Note.ParentID] and form a forest per topic
//
// # Typed IDs
//
// [UserID], [TopicID] and [NoteID] wrap client-generated UUIDs. Generating IDs
// on the device means a note created offline already carries the ID it will
// have remotely, so queued writes that reference it (sub-notes, edits) replay
// without any ID rewriting.
//
// Each ID knows its table. It marshals to JSON as a plain string and to CBOR
// as a SurrealDB record ID (tag 8 wrapping [table, id]), so the same struct is
// stored in the local cache and in the remote store.
//
// # Patches and mutations
//
// Payloads are typed per entity kind. [NotePatch] is the allow-list of fields
// an edit may touch; [Fields] is the complete set an update can carry,
// including the structural parent change used by reparenting. A [Mutation]
// is the durable form of a write awaiting replay, and [Document] is a tagged
// variant holding exactly one entity.
package models
