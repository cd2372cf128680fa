// Package records implements per-player and per-world boss records and their
// two encodings: a persistent tag compound holding every field, and a compact
// network payload holding only the categories named by RecordFlags.
//
// The authority calls Update, then sends EncodeNetwork(flags) with the
// returned flags. Observers pass the payload to DecodeNetwork. A decoded
// non-reset payload always counts as one win.
package records
