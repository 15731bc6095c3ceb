package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ratlocker/ratlocker/internal/keystore"
)

var (
	flagKeyOwner string
	flagKeyUses  int
	flagKeyToken string
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage upload keys",
}

var keyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an upload key",
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := openKeystore()
		if err != nil {
			return err
		}

		token := flagKeyToken
		if token == "" {
			token = uuid.NewString()
		}

		if err := keys.Create(token, flagKeyOwner, flagKeyUses); err != nil {
			return err
		}

		fmt.Println(token)
		return nil
	},
}

var keyDeleteCmd = &cobra.Command{
	Use:   "delete <token>",
	Short: "Delete an upload key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := openKeystore()
		if err != nil {
			return err
		}
		return keys.Delete(args[0])
	},
}

var keyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List upload keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := openKeystore()
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TOKEN\tOWNER\tUSES")
		for _, k := range keys.List() {
			uses := fmt.Sprintf("%d", k.RemainingUses)
			if k.RemainingUses == keystore.UnlimitedUses {
				uses = "unlimited"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", k.Token, k.Owner, uses)
		}
		return tw.Flush()
	},
}

func openKeystore() (*keystore.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return keystore.Load(cfg.KeysPath())
}

func init() {
	keyCreateCmd.Flags().StringVar(&flagKeyOwner, "owner", "admin", "name recorded as the key's owner")
	keyCreateCmd.Flags().IntVar(&flagKeyUses, "uses", keystore.UnlimitedUses, "number of uploads the key allows (-1 for unlimited)")
	keyCreateCmd.Flags().StringVar(&flagKeyToken, "token", "", "explicit token value (default: random UUID)")

	keyCmd.AddCommand(keyCreateCmd)
	keyCmd.AddCommand(keyDeleteCmd)
	keyCmd.AddCommand(keyListCmd)
}
