package dependency

// NodeID is the unique identifier for a node inside a dependency graph.
type NodeID string

// Node is a task together with its dependency list.
type Node struct {
	ID           NodeID
	FriendlyName string
	DependsOn    []NodeID
}

// Graph is a small helper to answer dependency queries.
type Graph struct {
	nodes map[NodeID]*Node
	order []NodeID
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[NodeID]*Node)}
}

// AddNode adds (or replaces) a node in the graph.
func (g *Graph) AddNode(n Node) {
	if g.nodes == nil {
		g.nodes = make(map[NodeID]*Node)
	}
	if _, ok := g.nodes[n.ID]; !ok {
		g.order = append(g.order, n.ID)
	}
	copied := n
	copied.DependsOn = append([]NodeID(nil), n.DependsOn...)
	g.nodes[n.ID] = &copied
}

// Get returns a pointer to the stored node or nil if it does not exist.
func (g *Graph) Get(id NodeID) *Node {
	return g.nodes[id]
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.order)
}

// Dependencies returns a copy of the immediate dependency IDs of id.
func (g *Graph) Dependencies(id NodeID) []NodeID {
	if n, ok := g.nodes[id]; ok {
		return append([]NodeID(nil), n.DependsOn...)
	}
	return nil
}

// Dependents returns the nodes that depend directly on id.
func (g *Graph) Dependents(id NodeID) []NodeID {
	var res []NodeID
	for _, nid := range g.order {
		for _, dep := range g.nodes[nid].DependsOn {
			if dep == id {
				res = append(res, nid)
				break
			}
		}
	}
	return res
}

// Downstream returns every node that depends on id directly or transitively,
// in breadth-first order. These are the nodes a failure of id can skip.
func (g *Graph) Downstream(id NodeID) []NodeID {
	seen := map[NodeID]bool{id: true}
	var res []NodeID
	queue := []NodeID{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, d := range g.Dependents(cur) {
			if seen[d] {
				continue
			}
			seen[d] = true
			res = append(res, d)
			queue = append(queue, d)
		}
	}
	return res
}
