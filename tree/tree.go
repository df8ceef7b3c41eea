// Package tree implements Newick trees and their traversals.
package tree

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Mode is a parser mode.
type Mode int

// Parser modes.
const (
	NORMAL Mode = iota
	LENGTH
	CLASS
)

// Tree is a rooted tree; it embeds the root node. Node ids are
// contiguous and assigned in pre-order.
type Tree struct {
	*Node
	nNodes    int
	nodes     []*Node
	nodeOrder []*Node
}

// ClearCache resets cached node lists; it should be called after a
// topology change.
func (tree *Tree) ClearCache() {
	tree.nNodes = 0
	tree.nodes = nil
	tree.nodeOrder = nil
}

// NNodes returns the number of nodes.
func (tree *Tree) NNodes() int {
	if tree.nNodes == 0 {
		tree.nNodes = tree.NSubNodes()
	}
	return tree.nNodes
}

// Nodes returns nodes indexed by id.
func (tree *Tree) Nodes() []*Node {
	if tree.nodes == nil {
		tree.nodes = make([]*Node, tree.NNodes())
		for node := range tree.Walker(nil) {
			tree.nodes[node.Id] = node
		}
	}
	return tree.nodes
}

// Terminals returns the leaves.
func (tree *Tree) Terminals() <-chan *Node {
	return tree.Walker(func(n *Node) bool {
		return n.IsTerminal()
	})
}

// NonTerminals returns the inner nodes.
func (tree *Tree) NonTerminals() <-chan *Node {
	return tree.Walker(func(node *Node) bool {
		return !node.IsTerminal()
	})
}

// NLeaves returns the number of leaves.
func (tree *Tree) NLeaves() (i int) {
	for range tree.Terminals() {
		i++
	}
	return
}

// Walker returns a channel with the filtered nodes in pre-order.
func (tree *Tree) Walker(filter func(*Node) bool) <-chan *Node {
	ch := make(chan *Node, tree.NNodes())
	tree.Walk(ch, filter)
	close(ch)
	return ch
}

// Copy creates independent copy of the tree.
func (tree *Tree) Copy() (newTree *Tree) {
	nNodes := tree.NNodes()
	newTree = &Tree{
		nNodes: nNodes,
		nodes:  make([]*Node, nNodes),
	}

	for i, node := range tree.Nodes() {
		if i != node.Id {
			panic("node id mismatch")
		}
		newTree.nodes[i] = node.Copy()
	}

	// Rewire node/parent connections.
	for i, node := range tree.Nodes() {
		newNode := newTree.nodes[i]
		for _, child := range node.childNodes {
			newNode.AddChild(newTree.nodes[child.Id])
		}
	}

	newTree.Node = newTree.nodes[0]
	return
}

// NodeOrder returns the inner nodes in post-order, i.e. every node
// comes after all of its children.
func (tree *Tree) NodeOrder() []*Node {
	if tree.nodeOrder == nil {
		tree.nodeOrder = make([]*Node, 0, tree.NNodes())
		var visit func(*Node)
		visit = func(node *Node) {
			for _, child := range node.childNodes {
				visit(child)
			}
			if !node.IsTerminal() {
				tree.nodeOrder = append(tree.nodeOrder, node)
			}
		}
		visit(tree.Node)
	}
	return tree.nodeOrder
}

// Reindex assigns node ids in pre-order and clears the cache. Leaf
// ids are not changed.
func (tree *Tree) Reindex() {
	id := 0
	var visit func(*Node)
	visit = func(node *Node) {
		node.Id = id
		id++
		for _, child := range node.childNodes {
			visit(child)
		}
	}
	visit(tree.Node)
	tree.ClearCache()
}

// Unroot converts a binary root into a trifurcation. The first inner
// child of the root is removed and its children are attached to the
// root in its place; its branch length is added to the other root
// branch. The removed node is returned and can be passed to Root.
func (tree *Tree) Unroot() (*Node, error) {
	root := tree.Node
	if len(root.childNodes) != 2 {
		return nil, fmt.Errorf("root has %d children, expected 2", len(root.childNodes))
	}
	pos := -1
	for i, child := range root.childNodes {
		if !child.IsTerminal() {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil, errors.New("cannot unroot a tree with two leaves")
	}
	rm := root.childNodes[pos]
	other := root.childNodes[1-pos]
	other.BranchLength += rm.BranchLength
	if other.Class == 0 {
		other.Class = rm.Class
	}

	children := make([]*Node, 0, len(root.childNodes)-1+len(rm.childNodes))
	children = append(children, root.childNodes[:pos]...)
	for _, child := range rm.childNodes {
		child.Parent = root
		children = append(children, child)
	}
	children = append(children, root.childNodes[pos+1:]...)
	root.childNodes = children

	rm.Parent = nil
	tree.Reindex()
	return rm, nil
}

// Root restores a node removed by Unroot. The remaining root branch
// is split in two equal halves.
func (tree *Tree) Root(rm *Node) error {
	root := tree.Node
	if len(rm.childNodes) == 0 {
		return errors.New("node has no children")
	}
	pos := -1
	for i, child := range root.childNodes {
		if child == rm.childNodes[0] {
			pos = i
			break
		}
	}
	n := len(rm.childNodes)
	if pos < 0 || pos+n > len(root.childNodes) || len(root.childNodes)-n != 1 {
		return errors.New("node children are not attached to the root")
	}
	for i, child := range rm.childNodes {
		if root.childNodes[pos+i] != child {
			return errors.New("node children are not attached to the root")
		}
		child.Parent = rm
	}

	children := make([]*Node, 0, 2)
	children = append(children, root.childNodes[:pos]...)
	children = append(children, rm)
	children = append(children, root.childNodes[pos+n:]...)
	root.childNodes = children
	rm.Parent = root

	other := children[0]
	if other == rm {
		other = children[1]
	}
	other.BranchLength /= 2
	rm.BranchLength = other.BranchLength

	tree.Reindex()
	return nil
}

// Node is a tree node; the branch leads from the node to its parent.
type Node struct {
	Name         string
	BranchLength float64
	Parent       *Node
	childNodes   []*Node
	Id           int
	LeafId       int
	Class        int
}

// NewNode creates a new node.
func NewNode(parent *Node, nodeId int) (node *Node) {
	node = &Node{Parent: parent, Id: nodeId}
	return
}

// Copy creates copy of node with empty parent and children.
func (node *Node) Copy() *Node {
	return &Node{
		Name:         node.Name,
		BranchLength: node.BranchLength,
		childNodes:   make([]*Node, 0, len(node.childNodes)),
		Id:           node.Id,
		LeafId:       node.LeafId,
		Class:        node.Class,
	}
}

// AddChild appends a child node.
func (node *Node) AddChild(subNode *Node) {
	subNode.Parent = node
	node.childNodes = append(node.childNodes, subNode)
}

// format writes a node in Newick format; label adds a suffix after
// the node name.
func (node *Node) format(label func(*Node) string) string {
	var sb strings.Builder
	var visit func(*Node)
	visit = func(n *Node) {
		if !n.IsTerminal() {
			sb.WriteByte('(')
			for i, child := range n.childNodes {
				if i > 0 {
					sb.WriteByte(',')
				}
				visit(child)
			}
			sb.WriteByte(')')
		}
		sb.WriteString(n.Name)
		sb.WriteString(label(n))
	}
	visit(node)
	if node.IsRoot() {
		sb.WriteByte(';')
	}
	return sb.String()
}

// String returns the tree in Newick format with branch lengths.
func (node *Node) String() string {
	return node.format(func(n *Node) string {
		return fmt.Sprintf(":%0.6f", n.BranchLength)
	})
}

// Topology returns the tree in Newick format without branch lengths.
func (node *Node) Topology() string {
	return node.format(func(*Node) string { return "" })
}

// ClassString returns the tree in Newick format with classes and
// branch lengths.
func (node *Node) ClassString() string {
	return node.format(func(n *Node) string {
		if n.Class != 0 {
			return fmt.Sprintf("#%d:%0.6f", n.Class, n.BranchLength)
		}
		return fmt.Sprintf(":%0.6f", n.BranchLength)
	})
}

// StringBr returns the tree topology with node ids as branch labels.
func (node *Node) StringBr() string {
	return node.format(func(n *Node) string {
		return fmt.Sprintf("#br%d", n.Id)
	})
}

// LongString returns a node description.
func (node *Node) LongString() (s string) {
	s = "<"
	if node.Parent == nil {
		s += "root, "
	}
	if node.Name != "" {
		s += "name=" + node.Name + ", "
	}
	s += fmt.Sprintf("Id=%v, BranchLength=%v", node.Id, node.BranchLength)
	if node.IsTerminal() {
		s += fmt.Sprintf(", TipId=%v", node.LeafId)
	}
	if node.Class != 0 {
		s += fmt.Sprintf(", Class=%v", node.Class)
	}
	s += ">"
	return
}

// FullString returns an indented description of the subtree.
func (node *Node) FullString() string {
	return strings.TrimSpace(node.prefixString(""))
}

func (node *Node) prefixString(prefix string) (s string) {
	s = prefix + node.LongString() + "\n"
	for _, node := range node.childNodes {
		s += node.prefixString(prefix + "    ")
	}
	return
}

// ChildNodes returns the children.
func (node *Node) ChildNodes() []*Node {
	return node.childNodes
}

// Walk sends subtree nodes passing the filter to the channel in
// pre-order.
func (node *Node) Walk(ch chan *Node, filter func(*Node) bool) {
	if filter == nil || filter(node) {
		ch <- node
	}
	for _, node := range node.childNodes {
		node.Walk(ch, filter)
	}
}

// NSubNodes returns the subtree size.
func (node *Node) NSubNodes() (size int) {
	for _, node := range node.childNodes {
		size += node.NSubNodes()
	}
	return size + 1
}

// IsRoot returns true for the root.
func (node *Node) IsRoot() bool {
	return node.Parent == nil
}

// IsTerminal returns true for a leaf.
func (node *Node) IsTerminal() bool {
	return len(node.childNodes) == 0
}

// IsSpecial returns true for the Newick special characters.
func IsSpecial(c rune) bool {
	switch c {
	case '(', ')', ':', '#', ';', ',':
		return true
	}
	return false
}

// NewickSplit is a bufio.SplitFunc for Newick tokens.
func NewickSplit(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := 0
	// Skip leading spaces; and return 1-char tokens.
	for width := 0; start < len(data); start += width {
		var r rune
		r, width = utf8.DecodeRune(data[start:])
		if IsSpecial(r) {
			return start + width, data[start : start+width], nil
		}
		if !unicode.IsSpace(r) {
			break
		}
	}
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	// Scan until space or special character.
	for width, i := 0, start; i < len(data); i += width {
		var r rune
		r, width = utf8.DecodeRune(data[i:])
		if unicode.IsSpace(r) || IsSpecial(r) {
			return i, data[start:i], nil
		}
	}
	if atEOF && len(data) > start {
		return len(data), data[start:], nil
	}
	// Request more data.
	return 0, nil, nil
}

// ParseNewick parses a tree in Newick format. Node ids are assigned
// in pre-order, leaf ids in the order of appearance.
func ParseNewick(rd io.Reader) (tree *Tree, err error) {
	scanner := bufio.NewScanner(rd)
	scanner.Split(NewickSplit)

	nodeId := 0

	node := NewNode(nil, nodeId)
	tree = &Tree{Node: node}
	nodeId++

	mode := NORMAL

	for scanner.Scan() {
		text := scanner.Text()
		switch text {
		case "(":
			subNode := NewNode(nil, nodeId)
			nodeId++
			node.AddChild(subNode)
			node = subNode
		case ",":
			if node.Parent == nil {
				return nil, errors.New("top level comma mismatch")
			}
			subNode := NewNode(nil, nodeId)
			nodeId++
			node.Parent.AddChild(subNode)
			node = subNode
		case ")":
			if node.Parent == nil {
				return nil, errors.New("brackets mismatch")
			}
			node = node.Parent
		case "#":
			mode = CLASS
		case ":":
			mode = LENGTH
		case ";":
			if node.Parent != nil {
				return nil, errors.New("brackets mismatch")
			}
			return tree.fixLeaves()
		default:
			switch mode {
			case LENGTH:
				l, err := strconv.ParseFloat(text, 64)
				if err != nil {
					return nil, err
				}
				node.BranchLength = l
			case CLASS:
				cl, err := strconv.ParseInt(text, 0, 0)
				if err != nil {
					return nil, err
				}
				node.Class = int(cl)
			default:
				node.Name = text
			}
			mode = NORMAL
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New("tree is not terminated with ';'")
}

// fixLeaves assigns leaf ids in the order of appearance.
func (tree *Tree) fixLeaves() (*Tree, error) {
	leafId := 0
	for node := range tree.Terminals() {
		if node.Name == "" {
			return nil, errors.New("unnamed leaf")
		}
		node.LeafId = leafId
		leafId++
	}
	return tree, nil
}
