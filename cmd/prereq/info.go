package cli

import (
	"fmt"

	"github.com/exobuild/prereq/pkg/runinfo"
	"github.com/spf13/cobra"
)

var (
	infoConfig string
	infoEnv    bool
)

var infoCmd = &cobra.Command{
	Use:   "info [key]",
	Short: "Print the recorded build variables",
	RunE: func(cmd *cobra.Command, args []string) error {
		run, err := runinfo.New(infoConfig)
		if err != nil {
			return err
		}

		if infoEnv {
			env, err := run.EnvSetup()
			if err != nil {
				return err
			}
			for key, value := range env {
				fmt.Printf("%s=%s\n", key, value)
			}
			return nil
		}

		if err := run.LoadBuildVars(); err != nil {
			return err
		}

		if len(args) > 0 {
			fmt.Println(run.GetInfo(args[0]))
			return nil
		}

		for _, key := range run.Keys() {
			fmt.Printf("%s=%s\n", key, run.GetInfo(key))
		}

		return nil
	},
}

func init() {
	infoCmd.PersistentFlags().StringVar(&infoConfig, "config", "", "test runner configuration file (YAML)")
	infoCmd.PersistentFlags().BoolVar(&infoEnv, "env", false, "print the environment updates for running installed binaries")
	rootCmd.AddCommand(infoCmd)
}
