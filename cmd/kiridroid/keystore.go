package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newKeystoreCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "keystore",
		Short: "Create the signing keystore if it does not exist",
		Long: `Create the signing keystore if it does not exist.

An existing keystore is never regenerated; every build signs with the same identity.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(g)
			if err != nil {
				return err
			}
			pipe, err := a.newPipeline(nil)
			if err != nil {
				return err
			}

			ks := pipe.Keystore()
			if ks.Exists() {
				fmt.Printf("%s %s\n", color.GreenString("keystore exists:"), ks.Path())
				return nil
			}
			if err := ks.Ensure(cmd.Context()); err != nil {
				return fmt.Errorf("failed to create keystore: %w", err)
			}
			fmt.Printf("%s %s\n", color.GreenString("keystore created:"), ks.Path())
			return nil
		},
	}
}
