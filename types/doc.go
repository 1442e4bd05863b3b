// Package types defines the core data model of the layered context engine:
// the per-session index document with its three-resolution nodes, archive
// payloads, retrieval selections and decisions, topic transitions, and the
// Result type used at degrade boundaries.
//
// Everything here is plain data. Behavior lives in store, retrieval, topic
// and eval; keeping types dependency-free avoids import cycles between them.
package types
