package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rogersnm/griddle/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the notebook and save author identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		// PersistentPreRunE already opened (and initialized) the store;
		// all that's left is persisting the author identity.
		author, _ := cmd.Flags().GetString("author")
		email, _ := cmd.Flags().GetString("email")
		if author != "" {
			cfg.AuthorName = author
		}
		if email != "" {
			cfg.AuthorEmail = email
		}
		if err := config.Save(dataDir, cfg); err != nil {
			return err
		}
		fmt.Printf("Initialized notebook in %s\n", dataDir)
		return nil
	},
}

func init() {
	initCmd.Flags().String("author", "", "author name recorded on revisions")
	initCmd.Flags().String("email", "", "author email recorded on revisions")
	rootCmd.AddCommand(initCmd)
}
