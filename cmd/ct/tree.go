package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/conntree/internal/model"
	"github.com/alfredjeanlab/conntree/internal/ui"
)

var showCmd = &cobra.Command{
	Use:     "show [id]",
	Short:   "Show the connection tree, or the subtree under id",
	GroupID: "connections",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, _ := cmd.Flags().GetBool("ids")
		endpoints, _ := cmd.Flags().GetBool("endpoints")

		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		id := ""
		if len(args) == 1 {
			id = args[0]
		}
		n, err := a.node(id)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(toJSON(n, endpoints, true))
			return nil
		}
		return ui.RenderTree(os.Stdout, n, ui.TreeOptions{ShowIDs: ids, ShowEndpoints: endpoints})
	},
}

var getCmd = &cobra.Command{
	Use:     "get <id>",
	Short:   "Show the properties of a node",
	GroupID: "connections",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetBool("raw")

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
		if jsonOutput {
			j := toJSON(n, true, !raw)
			j.Children = nil
			printJSON(j)
			return nil
		}
		printProperties(n, !raw)
		return nil
	},
}

var addCmd = &cobra.Command{
	Use:     "add <name>",
	Short:   "Add a connection or folder",
	GroupID: "connections",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parentID, _ := cmd.Flags().GetString("parent")
		folder, _ := cmd.Flags().GetBool("folder")
		host, _ := cmd.Flags().GetString("host")
		protocol, _ := cmd.Flags().GetString("protocol")
		port, _ := cmd.Flags().GetInt("port")
		inheritAll, _ := cmd.Flags().GetBool("inherit")

		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		parent, err := a.node(parentID)
		if err != nil {
			return err
		}

		var n *model.Node
		if folder {
			n = model.NewContainer(args[0])
		} else {
			n = model.NewConnection(args[0])
		}
		if protocol != "" {
			n.Props.Protocol = model.Protocol(strings.ToUpper(protocol))
			if port == 0 {
				n.Props.Port = n.Props.Protocol.DefaultPort()
			}
		}
		if port != 0 {
			n.Props.Port = port
		}
		n.Props.Hostname = host
		if inheritAll && !parent.IsRoot() {
			n.Inherit.SetAll(true)
		}
		if err := model.ValidateNode(n); err != nil {
			return err
		}
		if err := parent.AddChild(n); err != nil {
			return err
		}
		if err := a.save(ctx); err != nil {
			return err
		}

		if jsonOutput {
			printJSON(toJSON(n, false, false))
			return nil
		}
		fmt.Printf("Added %s %s\n", n.Name, ui.RenderMuted(n.ID))
		return nil
	},
}

var renameCmd = &cobra.Command{
	Use:     "rename <id> <name>",
	Short:   "Rename a node",
	GroupID: "connections",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
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
		a.tree.Rename(n, args[1])
		if err := a.save(ctx); err != nil {
			return err
		}
		fmt.Printf("Renamed %s to %s\n", n.ID, n.Name)
		return nil
	},
}

var moveCmd = &cobra.Command{
	Use:     "move <id> <parent-id>",
	Short:   "Move a node under another folder",
	GroupID: "connections",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, _ := cmd.Flags().GetInt("index")

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
		parent, err := a.node(args[1])
		if err != nil {
			return err
		}
		if index < 0 {
			index = parent.ChildCount()
		}
		if err := a.tree.Move(n, parent, index); err != nil {
			return err
		}
		if err := a.save(ctx); err != nil {
			return err
		}
		fmt.Printf("Moved %s under %s\n", n.Name, parent.Name)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <id>...",
	Short:   "Delete one or more nodes",
	GroupID: "connections",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		for _, id := range args {
			n, err := a.node(id)
			if err != nil {
				return err
			}
			if n.IsRoot() {
				return fmt.Errorf("cannot delete the root")
			}
			a.tree.Delete(n)
			fmt.Printf("Deleted %s\n", id)
		}
		return a.save(ctx)
	},
}

var sortCmd = &cobra.Command{
	Use:     "sort [id]",
	Short:   "Sort a folder's children by name",
	GroupID: "connections",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recursive, _ := cmd.Flags().GetBool("recursive")
		auto, _ := cmd.Flags().GetBool("auto")

		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		id := ""
		if len(args) == 1 {
			id = args[0]
		}
		n, err := a.node(id)
		if err != nil {
			return err
		}
		if !n.IsContainer() {
			return fmt.Errorf("%s is not a folder", n.Name)
		}
		if cmd.Flags().Changed("auto") {
			n.SetAutoSort(auto)
		}
		n.SortChildren(recursive)
		return a.save(ctx)
	},
}

var pushCmd = &cobra.Command{
	Use:     "push <folder-id>",
	Short:   "Copy a folder's properties or inheritance flags to everything beneath it",
	GroupID: "connections",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		props, _ := cmd.Flags().GetBool("properties")
		inherit, _ := cmd.Flags().GetBool("inheritance")
		if !props && !inherit {
			return fmt.Errorf("nothing to push: pass --properties and/or --inheritance")
		}

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
			return fmt.Errorf("the root has no properties to push")
		}
		if !n.IsContainer() {
			return fmt.Errorf("%s is not a folder", n.Name)
		}
		err = a.svc.Batch(ctx, func() error {
			if props {
				n.ApplyPropertiesToChildren()
			}
			if inherit {
				n.ApplyInheritanceToChildren()
			}
			return a.save(ctx)
		})
		if err != nil {
			return err
		}
		fmt.Printf("Updated %d nodes under %s\n", len(n.Descendants()), n.Name)
		return nil
	},
}

func init() {
	showCmd.Flags().Bool("ids", false, "show node IDs")
	showCmd.Flags().Bool("endpoints", false, "show protocol://host:port for connections")

	getCmd.Flags().Bool("raw", false, "show stored values instead of resolved ones")

	addCmd.Flags().String("parent", "", "parent folder ID (default: root)")
	addCmd.Flags().Bool("folder", false, "add a folder instead of a connection")
	addCmd.Flags().String("host", "", "hostname")
	addCmd.Flags().String("protocol", "", "protocol (RDP, VNC, SSH2, ...)")
	addCmd.Flags().Int("port", 0, "port (default: the protocol's port)")
	addCmd.Flags().Bool("inherit", false, "inherit every property from the parent folder")

	moveCmd.Flags().Int("index", -1, "position within the new parent (default: last)")

	sortCmd.Flags().Bool("recursive", false, "sort nested folders too")
	sortCmd.Flags().Bool("auto", false, "keep the folder sorted as children are added")

	pushCmd.Flags().Bool("properties", false, "overwrite descendants' stored values")
	pushCmd.Flags().Bool("inheritance", false, "overwrite descendants' inheritance flags")
}
