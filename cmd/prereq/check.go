package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check component...",
	Short: "Check whether components are available without building",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return fmt.Errorf("please specify at least one component")
		}

		reg, err := newRegistry(nil)
		if err != nil {
			return err
		}

		missing := false
		for _, name := range args {
			avail, err := reg.CheckComponent(name)
			if err != nil {
				return err
			}
			if avail.Available {
				fmt.Printf("%s: available\n", name)
				continue
			}
			missing = true
			fmt.Printf("%s: unavailable (%v)\n", name, avail.Reason)
		}

		if missing {
			os.Exit(1)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
