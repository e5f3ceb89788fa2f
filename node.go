package treerender

// Node is the stable identity of one effect in the node graph. A render
// clone and the original effect it was cloned from share the same *Node,
// which is what lets the engine route results by node regardless of which
// clone produced them.
//
// Wiring methods (SetEffect, SetGroup) belong to graph construction and
// are not safe to call concurrently with a render that can see the node.
type Node struct {
	name   string
	effect Effect
	group  *Node
}

// NewNode creates a node with the given user-visible name.
func NewNode(name string) *Node {
	return &Node{name: name}
}

// Name returns the node's user-visible name.
func (n *Node) Name() string { return n.name }

// Effect returns the original (non-clone) effect attached to this node.
func (n *Node) Effect() Effect { return n.effect }

// SetEffect attaches the original effect to this node.
func (n *Node) SetEffect(e Effect) { n.effect = e }

// Group returns the group node enclosing this node, or nil at top level.
func (n *Node) Group() *Node { return n.group }

// SetGroup records the group node enclosing this node.
func (n *Node) SetGroup(g *Node) { n.group = g }

// String returns the node name.
func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	return n.name
}
