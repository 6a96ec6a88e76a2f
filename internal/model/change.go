package model

// ChangeKind classifies a tree notification.
type ChangeKind int

const (
	ChangeAdded ChangeKind = iota + 1
	ChangeRemoved
	ChangeMoved
	ChangeReset
	ChangePropertyChanged
)

// String returns the string representation of the change kind.
func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeRemoved:
		return "removed"
	case ChangeMoved:
		return "moved"
	case ChangeReset:
		return "reset"
	case ChangePropertyChanged:
		return "property_changed"
	}
	return "unknown"
}

// Structural reports whether the change alters the shape of the tree.
func (k ChangeKind) Structural() bool {
	return k != ChangePropertyChanged
}

// Change is delivered synchronously to every observer after a mutation.
type Change struct {
	Kind      ChangeKind
	Node      *Node
	Parent    *Node // new parent for added/moved
	OldParent *Node // previous parent for removed/moved
	Property  string
}

// Observer receives tree changes.
type Observer func(Change)
