package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kiridroid/kiridroid-go/internal/domain"
	"github.com/kiridroid/kiridroid-go/internal/repository"
)

func newHistoryCmd(g *globalFlags) *cobra.Command {
	var (
		status string
		search string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "history [build-id]",
		Short: "List recorded builds, or show the tool invocations of one build",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(g)
			if err != nil {
				return err
			}
			db, repo, err := a.openHistory()
			if err != nil {
				return err
			}
			defer closeDB(db)

			if len(args) == 1 {
				return showBuild(cmd, repo, args[0])
			}

			builds, total, err := repo.List(cmd.Context(), repository.ListFilter{
				Page:     1,
				PageSize: limit,
				Status:   status,
				Search:   search,
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCREATED\tSTATUS\tPACKAGE\tNAME\tPHASE")
			for _, b := range builds {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					shortID(b.ID), b.CreatedAt.Local().Format("2006-01-02 15:04"), colorStatus(b.Status), b.PackageID, b.AppName, b.Phase)
			}
			w.Flush()
			fmt.Printf("\n%d of %d builds\n", len(builds), total)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status: queued, running, succeeded, failed")
	cmd.Flags().StringVar(&search, "search", "", "filter by package id or app name")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of builds to show")
	return cmd
}

func showBuild(cmd *cobra.Command, repo repository.BuildRepository, id string) error {
	b, err := repo.FindByID(cmd.Context(), id)
	if err != nil {
		return err
	}

	fmt.Printf("Build:    %s\n", b.ID)
	fmt.Printf("Package:  %s (%s)\n", b.PackageID, b.AppName)
	fmt.Printf("Status:   %s\n", colorStatus(b.Status))
	if b.Status == domain.BuildStatusFailed {
		fmt.Printf("Failure:  %s in %s\n", b.FailureKind.GetDisplayName(), b.Phase)
		fmt.Printf("Detail:   %s\n", b.ErrorMessage)
	}
	if b.ArtifactPath != "" {
		fmt.Printf("Artifact: %s (%s)\n", b.ArtifactPath, humanSize(b.ArtifactSize))
	}

	invs, err := repo.ListInvocations(cmd.Context(), id)
	if err != nil {
		return err
	}
	fmt.Printf("\nTool invocations (%d):\n", len(invs))
	for _, inv := range invs {
		exit := fmt.Sprintf("exit %d", inv.ExitCode)
		if inv.LaunchError != "" {
			exit = color.RedString("not started: %s", inv.LaunchError)
		} else if inv.ExitCode != 0 {
			exit = color.RedString(exit)
		}
		fmt.Printf("  [%s] %s  %dms\n      %s\n", inv.Tool, exit, inv.DurationMS, inv.CommandLine)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func colorStatus(s domain.BuildStatus) string {
	switch s {
	case domain.BuildStatusSucceeded:
		return color.GreenString(string(s))
	case domain.BuildStatusFailed:
		return color.RedString(string(s))
	case domain.BuildStatusRunning:
		return color.CyanString(string(s))
	default:
		return color.YellowString(string(s))
	}
}
