package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newVersionCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information and probe the apktool installation",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("kiridroid %s (commit %s, built %s)\n", Version, GitCommit, BuildTime)

			a, err := loadApp(g)
			if err != nil {
				return err
			}
			pipe, err := a.newPipeline(nil)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			v, err := pipe.Tools().Version(ctx)
			if err != nil {
				fmt.Printf("apktool   %s\n", color.RedString("unavailable: %v", err))
				return nil
			}
			fmt.Printf("apktool   %s\n", color.GreenString(v))
			return nil
		},
	}
}
