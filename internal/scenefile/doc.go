// Package scenefile loads, queries and serializes the Home Assistant scenes
// document.
//
// The document is kept as a yaml.v3 node tree rather than decoded structs so
// comments, key order and fields this package does not understand are written
// back exactly as a person left them. Records are located by their id; items
// that are not well-formed records are skipped with a warning instead of
// failing the whole file.
//
// Entity entries are canonical in the nested shape (state plus an attributes
// mapping). Legacy flat entries are converted by NestEntry, which the read path
// applies transparently and NestFlatEntries applies to the whole file.
package scenefile
