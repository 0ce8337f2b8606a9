package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	buildDeps []string
)

var buildCmd = &cobra.Command{
	Use:   "build [targets...]",
	Short: "Build the prerequisites for the requested targets",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := newRegistry(args)
		if err != nil {
			return err
		}

		reg.SetDeps(buildDeps)

		if err := reg.Prebuild(); err != nil {
			slog.Error("fatal", "err", err)
			os.Exit(1)
		}

		return reg.SaveBuildInfo()
	},
}

func init() {
	buildCmd.PersistentFlags().StringSliceVar(&buildDeps, "deps", nil, "limit which default components are built when --build-deps=only")
	rootCmd.AddCommand(buildCmd)
}
