// Package main is a small CLI that exercises the kernel end to end: it
// opens or creates a database, runs SQL statements against it, and can
// trigger or restore a snapshot — without pulling in any wire protocol
// server.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kasuganosora/relkernel/database"
	"github.com/kasuganosora/relkernel/metaimport"
	"github.com/kasuganosora/relkernel/sqlengine"
)

var (
	manager = database.NewManager()
	dbName  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kerneldemo",
		Short: "Exercise the in-process relational kernel from the command line",
	}
	rootCmd.PersistentFlags().StringVar(&dbName, "db", "demo", "database name to operate on")

	rootCmd.AddCommand(execCmd())
	rootCmd.AddCommand(snapshotCmd())
	rootCmd.AddCommand(restoreCmd())
	rootCmd.AddCommand(importCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func execCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec <sql> [sql...]",
		Short: "Run one or more SQL statements against --db, creating it if absent",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if _, err := manager.CreateDatabase(dbName); err != nil {
				return err
			}
			engine := sqlengine.NewEngine(manager)
			for _, stmt := range args {
				result, err := engine.Execute(dbName, stmt)
				if err != nil {
					return fmt.Errorf("%s: %w", stmt, err)
				}
				printResult(stmt, result)
			}
			return nil
		},
	}
}

func printResult(stmt string, result *sqlengine.Result) {
	if result.IsQuery {
		fmt.Printf("%s -> %d row(s)\n", stmt, len(result.Rows))
		for _, row := range result.Rows {
			fmt.Printf("  %v\n", row)
		}
		return
	}
	fmt.Printf("%s -> %d row(s) affected\n", stmt, result.AffectedRows)
}

func snapshotCmd() *cobra.Command {
	var dir, prefix string
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Write a compressed snapshot of --db to --dir",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg := database.PersistenceConfig{
				DatabaseName:       dbName,
				DumpDirectory:      dir,
				DumpFilePrefix:     prefix,
				SnapshotInterval:   time.Minute,
				MaxSnapshotHistory: 10,
			}
			path, err := manager.DumpDatabaseWithConfig(cfg, time.Now())
			if err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "directory to write the snapshot into")
	cmd.Flags().StringVar(&prefix, "prefix", "kerneldemo", "snapshot filename prefix")
	return cmd
}

func restoreCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Load --db from a previously written snapshot file",
		RunE: func(_ *cobra.Command, _ []string) error {
			if path == "" {
				return fmt.Errorf("--file is required")
			}
			if err := manager.LoadDatabase(dbName, path); err != nil {
				return err
			}
			fmt.Println("restored", dbName, "from", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "file", "", "snapshot file to restore from")
	return cmd
}

func importCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Install every table descriptor in --dir as a transient table",
		RunE: func(_ *cobra.Command, _ []string) error {
			if dir == "" {
				return fmt.Errorf("--dir is required")
			}
			db, err := manager.CreateDatabase(dbName)
			if err != nil {
				return err
			}
			tables, err := metaimport.InstallDirectory(db, dir)
			if err != nil {
				return err
			}
			for _, t := range tables {
				fmt.Println("installed", t.Name())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Metadata/<db>/Tables directory to import")
	return cmd
}
