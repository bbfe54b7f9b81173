package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// errBuildFailed 失败信息已经由 renderer 输出
var errBuildFailed = errors.New("build failed")

// globalFlags 所有子命令共享
type globalFlags struct {
	configPath string
	locale     string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "kiridroid",
		Short: "Package a Kirikiri game into a signed Android APK",
		Long: `kiridroid repackages the Kirikiroid2 base APK with a game's content,
icon, package id and display name, then signs and verifies the result.

Examples:
  # Interactive build
  kiridroid build

  # Non-interactive build
  kiridroid build --content ./mygame --icon ./icon.png --package com.example.mygame --name MyGame`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default ./configs/config.yaml if present)")
	root.PersistentFlags().StringVar(&flags.locale, "locale", "", "message language: en, es, ko, zh")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level written to the event log")

	root.AddCommand(
		newBuildCmd(flags),
		newVersionCmd(flags),
		newKeystoreCmd(flags),
		newHistoryCmd(flags),
	)
	return root
}

func main() {
	err := newRootCmd().ExecuteContext(context.Background())
	if err == nil {
		return
	}
	if !errors.Is(err, errBuildFailed) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(1)
}
