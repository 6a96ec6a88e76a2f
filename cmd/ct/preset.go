package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/conntree/internal/model"
	"github.com/alfredjeanlab/conntree/internal/preset"
)

var presetCmd = &cobra.Command{
	Use:     "preset",
	Short:   "Manage reusable property presets",
	GroupID: "connections",
}

var presetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List presets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := preset.NewService(cfg.PresetsFile, logger)
		names := svc.Names()
		if jsonOutput {
			printJSON(names)
			return nil
		}
		if len(names) == 0 {
			fmt.Println("No presets")
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

var presetSaveCmd = &cobra.Command{
	Use:   "save <name> <source-id>",
	Short: "Save a node's properties as a preset (replaces a preset with the same name)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.node(args[1])
		if err != nil {
			return err
		}
		if n.IsRoot() {
			return fmt.Errorf("the root cannot be used as a preset source")
		}
		if err := preset.NewService(cfg.PresetsFile, logger).Save(args[0], n); err != nil {
			return err
		}
		fmt.Printf("Saved preset %s\n", args[0])
		return nil
	},
}

var presetDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a preset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := preset.NewService(cfg.PresetsFile, logger).Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted preset %s\n", args[0])
		return nil
	},
}

var presetApplyCmd = &cobra.Command{
	Use:   "apply <name> <id>...",
	Short: "Apply a preset to connections and folders",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		var targets []*model.Node
		for _, id := range args[1:] {
			n, err := a.node(id)
			if err != nil {
				return err
			}
			targets = append(targets, n)
		}

		var applied int
		err = a.svc.Batch(ctx, func() error {
			var err error
			applied, err = preset.NewService(cfg.PresetsFile, logger).Apply(args[0], targets)
			if err != nil {
				return err
			}
			return a.save(ctx)
		})
		if err != nil {
			return err
		}
		fmt.Printf("Applied %s to %d nodes\n", args[0], applied)
		return nil
	},
}

func init() {
	presetCmd.AddCommand(presetListCmd, presetSaveCmd, presetDeleteCmd, presetApplyCmd)
}
