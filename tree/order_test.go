package tree

import (
	"bytes"
	"strings"
	"testing"
)

func TestNodeOrder(tst *testing.T) {
	t, err := ParseNewick(bytes.NewBufferString(tree1))
	if err != nil {
		tst.Fatal("Error parsing tree", err)
	}
	seen := make(map[*Node]bool)
	order := t.NodeOrder()
	if len(order) != t.NNodes()-t.NLeaves() {
		tst.Errorf("Expected %d inner nodes, got %d", t.NNodes()-t.NLeaves(), len(order))
	}
	for _, node := range order {
		for _, child := range node.ChildNodes() {
			if !child.IsTerminal() && !seen[child] {
				tst.Fatal("Node comes before its child:", node.LongString())
			}
		}
		seen[node] = true
	}
	if order[len(order)-1] != t.Node {
		tst.Error("Root is not the last node")
	}
}

func TestIds(tst *testing.T) {
	t, err := ParseNewick(bytes.NewBufferString(tree1))
	if err != nil {
		tst.Fatal("Error parsing tree", err)
	}
	if _, err := t.Unroot(); err != nil {
		tst.Fatal("Error unrooting tree", err)
	}
	for i, node := range t.Nodes() {
		if node.Id != i {
			tst.Error("Node ids are not contiguous")
		}
	}
	leaves := make([]bool, t.NLeaves())
	for node := range t.Terminals() {
		leaves[node.LeafId] = true
	}
	for i, ok := range leaves {
		if !ok {
			tst.Error("Missing leaf id", i)
		}
	}
}

func TestParseErrors(tst *testing.T) {
	for _, s := range []string{"((a,b),c", "(a,b));", "(a:x,b);", "(a,(b,));"} {
		if _, err := ParseNewick(bytes.NewBufferString(s)); err == nil {
			tst.Error("Tree accepted:", s)
		}
	}
}

func TestFullString(tst *testing.T) {
	t, err := ParseNewick(bytes.NewBufferString("(a:1,(b:2,c:3)#1:4);"))
	if err != nil {
		tst.Fatal("Error parsing tree", err)
	}
	lines := strings.Split(t.FullString(), "\n")
	if len(lines) != 5 {
		tst.Fatalf("Expected 5 lines, got %d:\n%s", len(lines), t.FullString())
	}
	if !strings.HasPrefix(lines[0], "<root, ") {
		tst.Error("Wrong root line:", lines[0])
	}
	if !strings.HasPrefix(lines[3], "        <name=b, ") {
		tst.Error("Wrong indentation:", lines[3])
	}
	if !strings.Contains(lines[2], "Class=1") {
		tst.Error("Missing class:", lines[2])
	}
}
