// Package symctl is the CLI front end that exercises the symbolication
// library end to end: a symbol table dump, a per-address lookup, and an
// interactive browser. Structured as a cobra+viper skeleton, with
// subcommands registered from their own files.
package symctl

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/manu343726/symctl/internal/symbolicate/dispatch"
	"github.com/manu343726/symctl/internal/symbolicate/obslog"
)

var cfgFile string

// RootCmd is the base command when symctl is called without any
// subcommands.
var RootCmd = &cobra.Command{
	Use:   "symctl",
	Short: "Symbolicate native binaries (PDB, PE, Mach-O, ELF) for a sampling profiler",
	Long: `symctl resolves (debug_name, debug_id) pairs plus relative addresses in
native binaries into symbol names, file paths, and line numbers, with
DWARF-derived inline stack frames.`,
}

// Execute adds all child commands to RootCmd and runs it. Called once by
// main.main.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	RootCmd.AddCommand(tableCmd, addr2lineCmd, browseCmd)
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.symctl.yaml)")
	RootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")
	viper.BindPFlag("verbose", RootCmd.PersistentFlags().Lookup("verbose"))
	cobra.OnInitialize(initConfig, initLogging)
}

// initConfig reads in config file and ENV variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".symctl")
	}

	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func initLogging() {
	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	dispatch.SetLogger(obslog.New(level))
}
