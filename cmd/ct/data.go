package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/conntree/internal/config"
	"github.com/alfredjeanlab/conntree/internal/crypto"
	"github.com/alfredjeanlab/conntree/internal/store"
	"github.com/alfredjeanlab/conntree/internal/store/postgres"
	"github.com/alfredjeanlab/conntree/internal/ui"
)

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Load and rewrite the connections with the current cipher settings",
	Long: `Load and rewrite the connections with the current cipher settings.

Use it after changing CONNTREE_ENCRYPTION_ENGINE, CONNTREE_KDF_ITERATIONS or
CONNTREE_FULL_FILE_ENCRYPTION to re-encrypt the stored document.`,
	GroupID: "data",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.save(ctx); err != nil {
			return err
		}
		fmt.Printf("Saved %d nodes\n", a.tree.NodeCount())
		return nil
	},
}

var convertCmd = &cobra.Command{
	Use:   "convert --to <xml|sql>",
	Short: "Copy the connections from the configured backend to the other one",
	Long: `Copy the connections from the configured backend to the other one.

The destination is CONNTREE_FILE for xml and CONNTREE_DATABASE_URL for sql.
A non-empty SQL destination is never overwritten by an empty tree.`,
	GroupID: "data",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		to, _ := cmd.Flags().GetString("to")
		file, _ := cmd.Flags().GetString("file")
		if to != config.BackendXML && to != config.BackendSQL {
			return fmt.Errorf("--to must be %q or %q", config.BackendXML, config.BackendSQL)
		}
		if to == cfg.Backend && file == "" {
			return fmt.Errorf("source and destination are both %s", to)
		}

		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		dstCfg := *cfg
		if file != "" {
			dstCfg.File = file
		}
		if to == config.BackendSQL && dstCfg.DatabaseURL == "" {
			return fmt.Errorf("CONNTREE_DATABASE_URL is required to convert to sql")
		}
		dst, _, location, err := openStore(ctx, &dstCfg, to, a.auth, a.provider, nil)
		if err != nil {
			return err
		}
		defer dst.Close()

		if err := dst.Save(ctx, a.tree); err != nil {
			if errors.Is(err, store.ErrDestructiveOverwriteRejected) {
				return fmt.Errorf("%s already holds connections: %w", location, err)
			}
			return err
		}
		fmt.Printf("Copied %d nodes to %s\n", a.tree.NodeCount(), location)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:     "migrate",
	Short:   "Upgrade the SQL schema to the latest version",
	GroupID: "data",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Backend != config.BackendSQL {
			return fmt.Errorf("migrate needs CONNTREE_BACKEND=sql")
		}
		provider, err := newProvider(cfg)
		if err != nil {
			return err
		}
		st, err := postgres.Open(cfg.DatabaseURL, postgres.Options{
			ReadOnly: true,
			Provider: provider,
			Auth:     crypto.NewAuthenticator(provider, ui.PasswordPrompt("Master password"), logger),
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		defer st.Close()

		// Load bootstraps and upgrades before reading rows.
		tree, err := st.Load(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Schema at %s (%d nodes)\n", postgres.LatestVersion, tree.NodeCount())
		return nil
	},
}

var passwordCmd = &cobra.Command{
	Use:     "password",
	Short:   "Set or remove the master password",
	GroupID: "data",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		remove, _ := cmd.Flags().GetBool("clear")

		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		root := a.root()
		if remove {
			root.ClearPassword()
		} else {
			pw, ok := ui.PasswordPrompt("New master password")(ctx)
			if !ok {
				return crypto.ErrAuthenticationCancelled
			}
			confirm, ok := ui.PasswordPrompt("Repeat master password")(ctx)
			if !ok {
				return crypto.ErrAuthenticationCancelled
			}
			if pw != confirm {
				return fmt.Errorf("passwords do not match")
			}
			root.SetPassword(pw)
		}
		if err := a.save(ctx); err != nil {
			return err
		}
		if root.Protected() {
			fmt.Println("Master password set")
		} else {
			fmt.Println("Master password removed")
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Print the effective configuration as TOML",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		shown := *cfg
		if shown.DatabaseURL != "" {
			shown.DatabaseURL = redactURL(shown.DatabaseURL)
		}
		return toml.NewEncoder(os.Stdout).Encode(shown)
	},
}

func init() {
	convertCmd.Flags().String("to", "", "destination backend (xml or sql)")
	convertCmd.Flags().String("file", "", "destination file for xml (default CONNTREE_FILE)")

	passwordCmd.Flags().Bool("clear", false, "remove the master password")
}
