package local

import (
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/keyexpr"
)

// treeNode is one chunk of the subscription tree. Exact chunks hang off
// children, the single chunk wildcard off single and the multi chunk wildcard
// off multi, so a concrete key is matched without visiting unrelated branches.
type treeNode struct {
	children  map[string]*treeNode
	single    *treeNode
	multi     *treeNode
	terminals map[uint64]*entry
}

func newTreeNode() *treeNode {
	return &treeNode{children: map[string]*treeNode{}, terminals: map[uint64]*entry{}}
}

func (n *treeNode) child(chunk string, create bool) *treeNode {
	var next **treeNode
	switch chunk {
	case keyexpr.SingleWild:
		next = &n.single
	case keyexpr.DoubleWild:
		next = &n.multi
	default:
		if c, ok := n.children[chunk]; ok || !create {
			return c
		}
		c := newTreeNode()
		n.children[chunk] = c
		return c
	}
	if *next == nil && create {
		*next = newTreeNode()
	}
	return *next
}

func (n *treeNode) empty() bool {
	return len(n.terminals) == 0 && len(n.children) == 0 && n.single == nil && n.multi == nil
}

type tree struct {
	root *treeNode
	size int
}

func newTree() *tree {
	return &tree{root: newTreeNode()}
}

func (t *tree) insert(e *entry) {
	node := t.root
	for _, chunk := range e.key.Chunks() {
		node = node.child(chunk, true)
	}
	node.terminals[e.id] = e
	t.size++
}

// remove deletes e and prunes the branches it leaves empty.
func (t *tree) remove(e *entry) bool {
	return t.removeAt(t.root, e.key.Chunks(), e)
}

func (t *tree) removeAt(node *treeNode, chunks []string, e *entry) bool {
	if len(chunks) == 0 {
		if _, ok := node.terminals[e.id]; !ok {
			return false
		}
		delete(node.terminals, e.id)
		t.size--
		return true
	}
	next := node.child(chunks[0], false)
	if next == nil || !t.removeAt(next, chunks[1:], e) {
		return false
	}
	if next.empty() {
		switch chunks[0] {
		case keyexpr.SingleWild:
			node.single = nil
		case keyexpr.DoubleWild:
			node.multi = nil
		default:
			delete(node.children, chunks[0])
		}
	}
	return true
}

// match collects every entry whose key expression matches the concrete key.
func (t *tree) match(key keyexpr.KeyExpr) []*entry {
	found := map[uint64]*entry{}
	matchNode(t.root, key.Chunks(), found)
	result := make([]*entry, 0, len(found))
	for _, e := range found {
		result = append(result, e)
	}
	return result
}

func matchNode(node *treeNode, chunks []string, found map[uint64]*entry) {
	if node.multi != nil {
		for i := 0; i <= len(chunks); i++ {
			matchNode(node.multi, chunks[i:], found)
		}
	}
	if len(chunks) == 0 {
		for id, e := range node.terminals {
			found[id] = e
		}
		return
	}
	if c, ok := node.children[chunks[0]]; ok {
		matchNode(c, chunks[1:], found)
	}
	if node.single != nil {
		matchNode(node.single, chunks[1:], found)
	}
}

// walk visits every entry.
func (t *tree) walk(fn func(*entry)) {
	walkNode(t.root, fn)
}

func walkNode(node *treeNode, fn func(*entry)) {
	for _, e := range node.terminals {
		fn(e)
	}
	for _, c := range node.children {
		walkNode(c, fn)
	}
	if node.single != nil {
		walkNode(node.single, fn)
	}
	if node.multi != nil {
		walkNode(node.multi, fn)
	}
}
