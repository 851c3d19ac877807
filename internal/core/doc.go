// Package core provides the domain models shared by the cohort compiler.
//
// # Core Types
//
// Node: one element of the read-only query tree, either a leaf query or a
// container combining its children with a set operation.
// Fingerprint: the cache identity of a node's resolved query text and parameters.
// IdentifierSet: the ordered set of record identifiers a node produces.
// QueryBuilder: the collaborator turning a node into dialect-specific SQL text.
//
// Every type in this package is either immutable or safe to treat as
// immutable once it has been shared between tasks.
package core
