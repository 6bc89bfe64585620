package cli

import (
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the API token and list discovered devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Check(cmd.Context())
	},
}
