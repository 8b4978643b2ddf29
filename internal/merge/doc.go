// Package merge folds captured entity values into scene records.
//
// Captured attribute values are first reduced to a closed set of YAML-safe
// variants by Convert; values outside that set are dropped with a warning so
// one odd attribute never fails a whole update. The Engine then rewrites only
// the entities a record already declares.
package merge
