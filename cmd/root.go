package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	mtp "github.com/modeltoolsprotocol/go-sdk"
	"github.com/spf13/cobra"

	"github.com/rogersnm/griddle/internal/commitmsg"
	"github.com/rogersnm/griddle/internal/config"
	"github.com/rogersnm/griddle/internal/store"
)

var (
	version = "dev"
	dataDir string
	verbose bool
	st      *store.Store
	cfg     *config.Config
)

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".griddle")
	}
	return filepath.Join(home, ".griddle")
}

var rootCmd = &cobra.Command{
	Use:     "griddle",
	Short:   "Git-backed cooking lab notebook",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(dataDir)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level := slog.LevelWarn
		if verbose {
			level = slog.LevelInfo
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		st, err = store.Open(dataDir, store.Options{
			Author: commitmsg.Author{
				Name:  cfg.AuthorName,
				Email: cfg.AuthorEmail,
			},
			LockTimeout: cfg.LockTimeout.Value(),
			Retention:   cfg.IdempotencyRetention.Value(),
			Logger:      logger,
		})
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if st != nil {
			return st.Close()
		}
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", defaultDataDir(), "data directory path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log store operations to stderr")

	mtpOpts := &mtp.DescribeOptions{
		Commands: map[string]*mtp.CommandAnnotation{
			"init": {
				Examples: []mtp.Example{
					{Description: "Initialize the notebook", Command: "griddle init --author \"Sam Cook\" --email sam@example.com"},
				},
			},
			"entry create": {
				Stdin: &mtp.IODescriptor{
					ContentType: "text/markdown",
					Description: "Optional cooking protocol body for the new entry",
				},
				Examples: []mtp.Example{
					{Description: "Create an entry dated today", Command: "griddle entry create \"Roast Chicken\" --tags poultry --servings 4"},
					{Description: "Create with an explicit id", Command: "griddle entry create \"Roast Chicken\" --id 2025-01-10_roast-chicken"},
				},
			},
			"entry show": {
				Stdout: &mtp.IODescriptor{
					ContentType: "text/plain",
					Description: "Entry metadata, observation timeline, outcome, and rendered protocol",
				},
				Examples: []mtp.Example{
					{Description: "Show an entry", Command: "griddle entry show 2025-01-10_roast-chicken"},
				},
			},
			"entry list": {
				Stdout: &mtp.IODescriptor{
					ContentType: "text/plain",
					Description: "Table of entries with id, title, observation count, rating, and update date",
				},
			},
			"entry edit": {
				Stdin: &mtp.IODescriptor{
					ContentType: "text/markdown",
					Description: "New protocol body; opens $EDITOR when stdin is a terminal",
				},
				Examples: []mtp.Example{
					{Description: "Replace the protocol from a pipe", Command: "echo '# Brine overnight' | griddle entry edit 2025-01-10_roast-chicken"},
				},
			},
			"entry delete": {
				Examples: []mtp.Example{
					{Description: "Delete an entry (stays reachable in history)", Command: "griddle entry delete 2025-01-10_roast-chicken"},
				},
			},
			"obs add": {
				Examples: []mtp.Example{
					{Description: "Record an observation", Command: "griddle obs add 2025-01-10_roast-chicken \"internal temp 165F at 45min\" --measure temp_f=165"},
					{Description: "Backfill with an explicit time", Command: "griddle obs add 2025-01-10_roast-chicken \"oven preheated\" --at 2025-01-10T17:30:00Z"},
				},
			},
			"outcomes set": {
				Examples: []mtp.Example{
					{Description: "Record the outcome", Command: "griddle outcomes set 2025-01-10_roast-chicken --rating 8 --issue \"slightly dry\" --next-time \"brine longer\""},
				},
			},
			"log": {
				Stdout: &mtp.IODescriptor{
					ContentType: "text/plain",
					Description: "Revision table: hash, summary, author, time; newest first",
				},
				Examples: []mtp.Example{
					{Description: "History of one entry", Command: "griddle log 2025-01-10_roast-chicken"},
				},
			},
		},
	}

	mtp.WithDescribe(rootCmd, mtpOpts)
}

func Execute() error {
	return rootCmd.Execute()
}
