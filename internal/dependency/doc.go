// Package dependency answers structural questions about a task dependency
// graph: direct dependencies, direct dependents and transitive dependents.
//
// Nodes are identified by NodeID and list the nodes they depend on. A
// dependency on an unknown node is kept as an edge. Queries return ids in
// insertion order so that results are stable across runs, and traversals
// terminate on graphs that contain loops.
//
// A Graph is not safe for concurrent writes.
package dependency
