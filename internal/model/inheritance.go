package model

import "fmt"

// EffectiveValue resolves a property by name, walking up through parents
// while the inheritance flag is set.
func EffectiveValue(n *Node, property string) (any, error) {
	p, ok := LookupProperty(property)
	if !ok {
		return nil, fmt.Errorf("unknown property %q", property)
	}
	src := resolveSource(n, p)
	return p.Get(&src.Props), nil
}

// resolveSource returns the node whose own value is authoritative for p.
// Roots have nothing to inherit from, so their flags are ignored.
func resolveSource(n *Node, p Property) *Node {
	cur := n
	for {
		if cur.IsRoot() || !p.Inherited(&cur.Inherit) {
			return cur
		}
		if cur.parent == nil {
			return cur
		}
		cur = cur.parent
	}
}

// EffectiveProperties returns n's properties with every inherited value
// replaced by the value it resolves to.
func (n *Node) EffectiveProperties() Properties {
	out := n.Props
	for _, p := range propertyTable {
		if !p.Inheritable() {
			continue
		}
		src := resolveSource(n, p)
		if src != n {
			p.Copy(&out, &src.Props)
		}
	}
	return out
}

// ApplyPropertiesToChildren overwrites the stored value of every inheritable
// property on all descendants with the container's own values. Descendant
// inheritance flags are left as they are.
func (n *Node) ApplyPropertiesToChildren() {
	if !n.IsContainer() {
		return
	}
	for _, d := range n.Descendants() {
		for _, p := range propertyTable {
			if p.Inheritable() {
				p.Copy(&d.Props, &n.Props)
			}
		}
		d.notify(Change{Kind: ChangePropertyChanged, Node: d})
	}
}

// ApplyInheritanceToChildren copies the container's inheritance flags onto
// every descendant.
func (n *Node) ApplyInheritanceToChildren() {
	if !n.IsContainer() {
		return
	}
	for _, d := range n.Descendants() {
		d.Inherit = n.Inherit
		d.notify(Change{Kind: ChangePropertyChanged, Node: d})
	}
}
