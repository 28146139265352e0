package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kolkov/taintflow/cmd/taintflow/runtime"
	"github.com/kolkov/taintflow/internal/taint/config"
	"github.com/kolkov/taintflow/taint"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		info := taint.GetInfo()
		fmt.Fprintf(cmd.OutOrStdout(), "taintflow version %s (build %s, %s)\n", info.Version, info.Build, info.Go)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the configuration file",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var (
	configForce bool

	configInitCmd = &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
		RunE:  runConfigInit,
	}
)

func init() {
	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false, "Overwrite an existing file")
}

// runConfigShow prints the configuration after file and environment.
func runConfigShow(cmd *cobra.Command, args []string) error {
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

// runConfigInit writes the defaults to the --config path.
func runConfigInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configPath); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}
	if err := config.Default().Save(configPath); err != nil {
		return err
	}
	logger.Debug("config written", zap.String("path", configPath))
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", configPath)
	return nil
}

var (
	linkVersion string
	linkLocal   string
	linkDryRun  bool

	linkCmd = &cobra.Command{
		Use:   "link [dir]",
		Short: "Require the engine from the go.mod governing dir",
		Long: `link adds a require directive for the taintflow engine to the go.mod
governing dir (default: the current directory), so rewritten sources can
import the runtime package.

With --local, the engine module is also replaced by a local checkout; pass
--local=auto to use the checkout this tool runs from.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runLink,
	}
)

func init() {
	linkCmd.Flags().StringVar(&linkVersion, "version", "", "Engine version to require (default: this tool's version)")
	linkCmd.Flags().StringVar(&linkLocal, "local", "", "Replace the engine with a local checkout (path or \"auto\")")
	linkCmd.Flags().BoolVarP(&linkDryRun, "dry-run", "n", false, "Print the new go.mod without writing it")
}

func runLink(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	local := linkLocal
	if local == "auto" {
		if local, err = runtime.FindProjectRoot(dir); err != nil {
			return err
		}
	}

	res, err := runtime.Link(dir, runtime.LinkOptions{
		Version: linkVersion,
		Local:   local,
		DryRun:  linkDryRun,
	})
	if err != nil {
		return err
	}
	logger.Debug("go.mod linked",
		zap.String("path", res.GoMod),
		zap.String("module", res.Module),
		zap.Bool("changed", res.Changed))

	out := cmd.OutOrStdout()
	switch {
	case linkDryRun:
		_, err = out.Write(res.Content)
		return err
	case res.Changed:
		fmt.Fprintf(out, "Linked %s into %s (%s)\n", runtime.ModulePath, res.Module, res.GoMod)
	default:
		fmt.Fprintf(out, "%s already requires %s\n", res.Module, runtime.ModulePath)
	}
	fmt.Fprintf(out, "Import %q and start main with:\n\n%s\n", runtime.PackagePath(), runtime.InitCode())
	return nil
}
