// Package filelock serializes updates to the scenes document.
//
// A Manager combines a process-wide exclusive section with an Advisory lock
// on a sibling ".lock" file. The advisory lock only coordinates processes that
// honour the same convention; it does not stop an uncooperative editor. On
// platforms without flock, or when disabled in configuration, the advisory
// lock is a no-op and only in-process serialization remains.
package filelock
