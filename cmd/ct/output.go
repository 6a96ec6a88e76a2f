package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/alfredjeanlab/conntree/internal/model"
	"github.com/alfredjeanlab/conntree/internal/ui"
)

// nodeJSON is the --json form of a node.
type nodeJSON struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Kind       string            `json:"kind"`
	LinkedID   string            `json:"linked_id,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
	Inherited  []string          `json:"inherited,omitempty"`
	Children   []nodeJSON        `json:"children,omitempty"`
}

func toJSON(n *model.Node, withProps, effective bool) nodeJSON {
	out := nodeJSON{ID: n.ID, Name: n.Name, Kind: n.Kind().String(), LinkedID: n.LinkedID}
	if withProps {
		props := n.Props
		if effective {
			props = n.EffectiveProperties()
		}
		out.Properties = map[string]string{}
		for _, p := range model.AllProperties() {
			if p.Sensitive {
				continue
			}
			if v := p.Format(&props); v != "" {
				out.Properties[p.Name] = v
			}
			if p.Inherited(&n.Inherit) {
				out.Inherited = append(out.Inherited, p.Name)
			}
		}
	}
	for _, c := range n.Children() {
		out.Children = append(out.Children, toJSON(c, withProps, effective))
	}
	return out
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

// printProperties lists every property of n. Inherited values are shown
// resolved and marked; secrets are masked.
func printProperties(n *model.Node, effective bool) {
	props := n.Props
	if effective {
		props = n.EffectiveProperties()
	}
	fmt.Printf("ID:    %s\n", n.ID)
	fmt.Printf("Name:  %s\n", n.Name)
	fmt.Printf("Kind:  %s\n", n.Kind())
	if n.LinkedID != "" {
		fmt.Printf("Link:  %s\n", n.LinkedID)
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROPERTY\tVALUE\tSOURCE")
	for _, p := range model.AllProperties() {
		v := p.Format(&props)
		if p.Sensitive && v != "" {
			v = "********"
		}
		source := ""
		if p.Inherited(&n.Inherit) {
			source = ui.RenderMuted("inherited")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name, v, source)
	}
	w.Flush()
}
