package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/alfredjeanlab/conntree/internal/model"
)

// TreeOptions controls RenderTree.
type TreeOptions struct {
	// ShowIDs appends each node's ID.
	ShowIDs bool
	// ShowEndpoints appends protocol://hostname:port to connections,
	// resolved through inheritance.
	ShowEndpoints bool
}

// RenderTree writes n and its descendants as an indented tree.
func RenderTree(w io.Writer, n *model.Node, opts TreeOptions) error {
	if _, err := fmt.Fprintln(w, line(n, opts)); err != nil {
		return err
	}
	return renderChildren(w, n, "", opts)
}

func renderChildren(w io.Writer, n *model.Node, prefix string, opts TreeOptions) error {
	kids := n.Children()
	for i, c := range kids {
		branch, next := "├── ", "│   "
		if i == len(kids)-1 {
			branch, next = "└── ", "    "
		}
		if _, err := fmt.Fprintln(w, prefix+RenderMuted(branch)+line(c, opts)); err != nil {
			return err
		}
		if err := renderChildren(w, c, prefix+RenderMuted(next), opts); err != nil {
			return err
		}
	}
	return nil
}

func line(n *model.Node, opts TreeOptions) string {
	var b strings.Builder
	switch {
	case n.IsRoot():
		b.WriteString(RenderAccent(n.Name))
		if n.Protected() {
			b.WriteString(" " + RenderWarn("[protected]"))
		}
	case n.IsContainer():
		b.WriteString(RenderAccent(n.Name + "/"))
	default:
		b.WriteString(n.Name)
		if n.Favorite {
			b.WriteString(" *")
		}
	}
	if opts.ShowEndpoints && n.Kind() == model.KindConnection {
		p := n.EffectiveProperties()
		b.WriteString(" " + RenderMuted(fmt.Sprintf("%s://%s:%d", strings.ToLower(string(p.Protocol)), p.Hostname, p.Port)))
	}
	if opts.ShowIDs && !n.IsRoot() {
		b.WriteString(" " + RenderMuted(n.ID))
	}
	return b.String()
}
