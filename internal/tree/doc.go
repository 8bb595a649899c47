// Package tree owns the hierarchical data model seen by the session layer.
//
// Ownership boundary:
// - normalized paths and the reserved .priority / .value names
// - decoded tree values
// - query filters and subscription keys
// - mutation descriptors derived from server pushes
//
// The session layer treats these as opaque values with equality; merging and
// rendering data is left to callers.
package tree
