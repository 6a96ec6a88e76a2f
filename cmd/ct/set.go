package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/conntree/internal/model"
)

var setCmd = &cobra.Command{
	Use:   "set <id> [Property=value]...",
	Short: "Change properties, inheritance flags or the link of a node",
	Long: `Change properties, inheritance flags or the link of a node.

Property names are the XML attribute names, e.g. Hostname, Port, Protocol.
Passing --inherit Port makes the node take Port from its parent folder;
--own Port makes its stored value authoritative again. "all" selects every
inheritable property.`,
	GroupID: "connections",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inherit, _ := cmd.Flags().GetStringSlice("inherit")
		own, _ := cmd.Flags().GetStringSlice("own")
		link, _ := cmd.Flags().GetString("link")
		favorite, _ := cmd.Flags().GetBool("favorite")

		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.node(args[0])
		if err != nil {
			return err
		}
		if n.IsRoot() {
			return fmt.Errorf("the root has no editable properties")
		}

		var setErr error
		err = a.tree.UpdateProperties(n, func(p *model.Properties) {
			for _, kv := range args[1:] {
				name, value, ok := strings.Cut(kv, "=")
				if !ok {
					setErr = fmt.Errorf("expected Property=value, got %q", kv)
					return
				}
				prop, ok := model.LookupProperty(name)
				if !ok {
					setErr = fmt.Errorf("unknown property %q", name)
					return
				}
				if err := prop.Parse(p, value); err != nil {
					setErr = err
					return
				}
			}
		})
		if err != nil {
			return err
		}
		if setErr != nil {
			return setErr
		}

		if err := setInherit(n, inherit, true); err != nil {
			return err
		}
		if err := setInherit(n, own, false); err != nil {
			return err
		}
		if cmd.Flags().Changed("link") {
			n.LinkedID = link
		}
		if cmd.Flags().Changed("favorite") {
			n.Favorite = favorite
		}
		if err := model.ValidateNode(n); err != nil {
			return err
		}
		if a.tree.ResolveLink(n) == nil {
			return fmt.Errorf("link from %s is dangling or circular", n.ID)
		}
		if err := a.save(ctx); err != nil {
			return err
		}
		fmt.Printf("Updated %s\n", n.Name)
		return nil
	},
}

func setInherit(n *model.Node, names []string, v bool) error {
	for _, name := range names {
		if strings.EqualFold(name, "all") {
			n.Inherit.SetAll(v)
			continue
		}
		prop, ok := model.LookupProperty(name)
		if !ok || !prop.Inheritable() {
			return fmt.Errorf("%q cannot be inherited", name)
		}
		prop.SetInherited(&n.Inherit, v)
	}
	return nil
}

func init() {
	setCmd.Flags().StringSlice("inherit", nil, "properties to inherit from the parent")
	setCmd.Flags().StringSlice("own", nil, "properties to stop inheriting")
	setCmd.Flags().String("link", "", "ID of the connection this one links to (empty clears)")
	setCmd.Flags().Bool("favorite", false, "mark as favorite (local only)")
}
