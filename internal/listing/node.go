package listing

import (
	"encoding/json"
	"time"
)

// Node is one visible entry of a listing. Directories always carry a
// Children slice, files never do.
type Node struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	IsDirectory bool      `json:"isDirectory"`
	Size        int64     `json:"size"`
	ModTime     time.Time `json:"modTime"`
	Children    []*Node   `json:"children,omitempty"`
	// Truncated marks a directory whose children were not expanded because
	// the depth limit was reached.
	Truncated bool   `json:"truncated,omitempty"`
	QRCode    string `json:"qrCode,omitempty"`
}

// MarshalJSON writes "children": [] for directories with no visible
// children and omits the field for files.
func (n *Node) MarshalJSON() ([]byte, error) {
	type plain Node
	if !n.IsDirectory {
		return json.Marshal((*plain)(n))
	}
	children := n.Children
	if children == nil {
		children = []*Node{}
	}
	return json.Marshal(struct {
		*plain
		Children []*Node `json:"children"`
	}{(*plain)(n), children})
}

// Walk visits every node in nodes and below, parents before children.
func Walk(nodes []*Node, fn func(n *Node)) {
	stack := make([]*Node, 0, len(nodes))
	for i := len(nodes) - 1; i >= 0; i-- {
		stack = append(stack, nodes[i])
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		fn(n)
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
}

// Count returns the number of nodes in the listing.
func Count(nodes []*Node) int {
	var n int
	Walk(nodes, func(*Node) { n++ })
	return n
}
