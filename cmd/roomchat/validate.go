package main

import (
	"github.com/spf13/cobra"

	"github.com/omochice/roomchat/internal/identity"
)

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <name>",
		Short: "Check a display name against the naming rules",
		Long: `Check a display name without connecting.

Names are 2 to 20 characters of letters (any script, with their
combining marks), digits, spaces, '_' and '-'. Leading and trailing
spaces are ignored.

Examples:
  roomchat validate Alice
  roomchat validate "홍 길동"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := identity.Validate(args[0]); err != nil {
				warn("%s", identity.Check(args[0]).Message())
				return err
			}
			success("%q is a valid display name", args[0])
			return nil
		},
	}
}
