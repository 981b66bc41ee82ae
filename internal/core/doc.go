// Package core provides the import and reconciliation engine.
//
// This package turns loosely structured tabular rows (uploaded spreadsheets,
// remote list items) into canonical, strongly typed records and merges them
// into an existing collection. It has no UI, transport or storage code; web
// handlers, the CLI and tests all drive it through the same types.
//
// # Architecture
//
// The engine is built from small parts, leaves first:
//
//   - Value parsers: currency, counts and dates that never fail; each
//     returns a [Parsed] value with a Degraded flag.
//   - Vocabulary: ordered keyword rule tables that map free-text status
//     strings to a kind's enumeration.
//   - Column resolution: [ColumnResolver] finds the source column for a
//     logical field; [FieldMapping] records explicit choices.
//   - Entity mapping: a [Mapper] applies an [EntityDefinition] to each row.
//   - Reconciliation: [Reconcile] merges a batch into a copy of the
//     existing collection and counts added, updated and skipped records.
//   - Orchestration: [Importer] runs a batch from a [RowSource] through to
//     an optional [RecordSink].
//
// # Entity Registry
//
// Entity kinds are registered at init time using [Register]. Each
// [EntityDefinition] carries everything needed to map one kind:
//
//	core.Register(&core.EntityDefinition{
//	    Kind:     core.KindLead,
//	    IDPrefix: "lead",
//	    Fields: []core.FieldSpec{
//	        {Name: "name", Candidates: []string{"name", "nombre"}, Required: true},
//	        {Name: "email", Candidates: []string{"email", "correo"}},
//	    },
//	    Vocabulary: leadVocabulary,
//	    Build:      buildLead,
//	})
//
// # Import Flow
//
//  1. The caller builds an [ImportRequest] with a [RowSource] and the
//     existing collection.
//  2. The field mapping is loaded from the [MappingStore], auto-mapped on
//     first sight of a source and saved.
//  3. Rows are mapped in source order; blank and filtered rows are counted,
//     unmappable rows are dropped and counted.
//  4. The batch is reconciled and the changed records are written to the
//     sink in chunks of [DefaultChunkSize].
//
// # Error Handling
//
// Only structural failures are returned as errors ([ErrSourceUnavailable],
// [ErrUnknownKind]). Per-row problems end up as counts on [ImportResult].
// Technical errors are mapped to user-facing messages with [MapError].
package core
