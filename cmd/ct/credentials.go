package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/conntree/internal/credential"
	"github.com/alfredjeanlab/conntree/internal/crypto"
	"github.com/alfredjeanlab/conntree/internal/ui"
)

var harvestCmd = &cobra.Command{
	Use:   "harvest <file.xml>",
	Short: "List the distinct credentials stored in a connections file",
	Long: `List the distinct credentials stored in a connections file.

Connections sharing a domain\username collapse into one credential; when
their passwords differ, the first one in document order is kept.`,
	GroupID: "credentials",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		protected, _ := cmd.Flags().GetBool("protected")
		kdbx, _ := cmd.Flags().GetString("kdbx")
		apply, _ := cmd.Flags().GetBool("apply")
		ctx := context.Background()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		password := crypto.DefaultPassword
		if protected {
			pw, ok := ui.PasswordPrompt("Master password of " + filepath.Base(args[0]))(ctx)
			if !ok {
				return crypto.ErrAuthenticationCancelled
			}
			password = pw
		}

		h := credential.NewHarvester(logger)
		records, err := h.Harvest(data, password)
		if err != nil {
			return err
		}

		if jsonOutput {
			out := make([]map[string]string, len(records))
			for i, r := range records {
				out[i] = map[string]string{"id": r.ID, "title": r.Title, "username": r.Username, "domain": r.Domain}
			}
			printJSON(out)
		} else {
			printRecords(records)
		}

		if kdbx != "" {
			if err := exportKDBX(ctx, records, kdbx); err != nil {
				return err
			}
		}
		if apply {
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			n := credential.ApplyHarvest(a.tree, h)
			if err := a.save(ctx); err != nil {
				return err
			}
			fmt.Printf("Linked %d connections to their credentials\n", n)
		}
		return nil
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract [id] --kdbx <file>",
	Short: "Move embedded credentials out of the connections into a KeePass file",
	Long: `Move embedded credentials out of the connections into a KeePass file.

Every connection under id (default: everything) that carries a username,
domain or password is pointed at a credential record instead, and its own
values are cleared. The records are written to the KeePass file before the
connections are saved.`,
	GroupID: "credentials",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kdbx, _ := cmd.Flags().GetString("kdbx")
		if kdbx == "" {
			return fmt.Errorf("--kdbx is required; extracted credentials would otherwise be lost")
		}
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

		repo := credential.NewRepository()
		if err := credential.ExtractCredentials(n, repo); err != nil {
			return err
		}
		if repo.Len() == 0 {
			fmt.Println("No credentials found")
			return nil
		}
		records := repo.List()
		if err := exportKDBX(ctx, records, kdbx); err != nil {
			return err
		}
		if err := a.save(ctx); err != nil {
			return err
		}
		printRecords(records)
		return nil
	},
}

func exportKDBX(ctx context.Context, records []*credential.Record, path string) error {
	pw, ok := ui.PasswordPrompt("KeePass password for " + filepath.Base(path))(ctx)
	if !ok {
		return crypto.ErrAuthenticationCancelled
	}
	if err := credential.ExportKDBX(records, path, pw); err != nil {
		return err
	}
	fmt.Printf("Wrote %d credentials to %s\n", len(records), path)
	return nil
}

func printRecords(records []*credential.Record) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tUSERNAME\tDOMAIN\tPASSWORD")
	for _, r := range records {
		pw := ""
		if r.Password != "" {
			pw = "********"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Title, r.Username, r.Domain, pw)
	}
	w.Flush()
}

func init() {
	harvestCmd.Flags().Bool("protected", false, "prompt for the file's master password")
	harvestCmd.Flags().String("kdbx", "", "also write the credentials to this KeePass file")
	harvestCmd.Flags().Bool("apply", false, "link the configured connections to the harvested credentials and save")

	extractCmd.Flags().String("kdbx", "", "KeePass file to write")
}
