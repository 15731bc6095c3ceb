package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ratlocker/ratlocker/internal/store"
)

var fileCmd = &cobra.Command{
	Use:   "file",
	Short: "Manage stored files",
}

var fileAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Add a local file to the repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := openStore()
		if err != nil {
			return err
		}

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		rec, err := files.AddFile(filepath.Base(args[0]), store.AdminOwner, f)
		if err != nil {
			return err
		}

		fmt.Println("added", rec.Name)
		return nil
	},
}

var fileRmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Remove a file and its metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := openStore()
		if err != nil {
			return err
		}
		return files.DeleteFile(args[0])
	},
}

var fileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored files",
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := openStore()
		if err != nil {
			return err
		}

		infos, err := files.ListFiles()
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tADDED BY\tDOWNLOADS")
		for _, fi := range infos {
			fmt.Fprintf(tw, "%s\t%s\t%d\n", fi.Name, fi.AddedBy, fi.Downloads)
		}
		return tw.Flush()
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Register files added to the data directory out-of-band",
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := openStore()
		if err != nil {
			return err
		}

		added, err := store.Reconcile(files)
		if err != nil {
			return err
		}

		fmt.Printf("%d file(s) registered\n", added)
		return nil
	},
}

func openStore() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	files, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	files.SetMaxFileSize(cfg.MaxFileSize.Bytes())
	return files, nil
}

func init() {
	fileCmd.AddCommand(fileAddCmd)
	fileCmd.AddCommand(fileRmCmd)
	fileCmd.AddCommand(fileListCmd)
}
