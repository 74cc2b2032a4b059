package calltree

import (
	"testing"

	"github.com/perfreport/perfreport/internal/capture"
	"github.com/perfreport/perfreport/internal/testutil"
)

func chain(funcIDs ...int) []capture.Frame {
	frames := make([]capture.Frame, len(funcIDs))
	for i, id := range funcIDs {
		frames[i] = capture.Frame{FuncID: id}
	}
	return frames
}

func TestAddChain(t *testing.T) {
	tests := []struct {
		name   string
		chains [][]capture.Frame
		want   *Node
	}{
		{
			name:   "single chain",
			chains: [][]capture.Frame{chain(0, 1, 2)},
			want: &Node{
				FuncID:  -1,
				Subtree: 1,
				Children: []*Node{
					{
						FuncID:  0,
						Subtree: 1,
						Children: []*Node{
							{
								FuncID:  1,
								Subtree: 1,
								Children: []*Node{
									{FuncID: 2, Self: 1, Subtree: 1},
								},
							},
						},
					},
				},
			},
		},
		{
			name:   "shared prefix merges",
			chains: [][]capture.Frame{chain(0, 1), chain(0, 2)},
			want: &Node{
				FuncID:  -1,
				Subtree: 2,
				Children: []*Node{
					{
						FuncID:  0,
						Subtree: 2,
						Children: []*Node{
							{FuncID: 1, Self: 1, Subtree: 1},
							{FuncID: 2, Self: 1, Subtree: 1},
						},
					},
				},
			},
		},
		{
			name:   "self only at the leaf",
			chains: [][]capture.Frame{chain(0, 1), chain(0)},
			want: &Node{
				FuncID:  -1,
				Subtree: 2,
				Children: []*Node{
					{
						FuncID:  0,
						Self:    1,
						Subtree: 2,
						Children: []*Node{
							{FuncID: 1, Self: 1, Subtree: 1},
						},
					},
				},
			},
		},
		{
			name:   "empty chain weighs the root",
			chains: [][]capture.Frame{nil},
			want:   &Node{FuncID: -1, Self: 1, Subtree: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := New()
			for _, c := range tt.chains {
				tree.AddChain(c, 1)
			}
			if diff := testutil.Diff(tree.Root, tt.want); diff != "" {
				t.Fatalf("Result mismatch: got - want +\n%s", diff)
			}
		})
	}
}

func TestSubtreeInvariant(t *testing.T) {
	tree := New()
	tree.AddChain(chain(3, 1, 2), 5)
	tree.AddChain(chain(3, 1), 7)
	tree.AddChain(chain(3, 2, 2), 11)
	tree.AddChain(chain(0), 13)

	tree.Walk(func(n *Node) {
		var children uint64
		for _, c := range n.Children {
			children += c.Subtree
		}
		if n.Subtree != n.Self+children {
			t.Fatalf("node %d: subtree %d != self %d + children %d", n.FuncID, n.Subtree, n.Self, children)
		}
	})
	if got, want := tree.Root.Subtree, uint64(5+7+11+13); got != want {
		t.Fatalf("root subtree: got %d, want %d", got, want)
	}
}

func TestSortRootsDeterministic(t *testing.T) {
	names := map[int]string{0: "main", 1: "__libc_init", 2: "__start_thread", 3: "__libc_init"}
	displayName := func(id int) string { return names[id] }

	// two arrival orders of the same chains
	orders := [][][]capture.Frame{
		{chain(0), chain(1), chain(2), chain(3)},
		{chain(3), chain(2), chain(0), chain(1)},
	}
	var got [][]int
	for _, order := range orders {
		tree := New()
		for _, c := range order {
			tree.AddChain(c, 1)
		}
		tree.SortRoots(displayName)
		ids := make([]int, 0, len(tree.Root.Children))
		for _, c := range tree.Root.Children {
			ids = append(ids, c.FuncID)
		}
		got = append(got, ids)
	}

	// sorted by name, ties broken by function id
	want := []int{1, 3, 2, 0}
	for _, ids := range got {
		if diff := testutil.Diff(ids, want); diff != "" {
			t.Fatalf("Result mismatch: got - want +\n%s", diff)
		}
	}
}
