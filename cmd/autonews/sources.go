package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage subscribed channels and feeds",
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every source",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		sources, err := db.GetAllSources()
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			fmt.Println("No sources. Add one with: autonews sources add <username|feed-url>")
			return nil
		}

		for _, s := range sources {
			icon := " "
			if s.IsActive {
				icon = "*"
			}
			title := ""
			if s.Title != nil {
				title = *s.Title
			}
			fmt.Printf("  %s %-30s %-30s %6d members\n", icon, s.Username, title, s.MemberCount)
		}
		return nil
	},
}

var sourcesAddCmd = &cobra.Command{
	Use:   "add [username|feed-url]",
	Short: "Subscribe to a channel or feed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, db, err := buildApp()
		if err != nil {
			return err
		}
		defer db.Close()
		return printResult(a.AddSource(context.Background(), args[0]))
	},
}

var sourcesRemoveCmd = &cobra.Command{
	Use:   "remove [username|feed-url]",
	Short: "Unsubscribe from a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, db, err := buildApp()
		if err != nil {
			return err
		}
		defer db.Close()
		return printResult(a.RemoveSource(context.Background(), args[0]))
	},
}

var sourcesToggleCmd = &cobra.Command{
	Use:   "toggle [username|feed-url]",
	Short: "Pause or resume a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, db, err := buildApp()
		if err != nil {
			return err
		}
		defer db.Close()
		return printResult(a.ToggleSource(context.Background(), args[0]))
	},
}

func init() {
	sourcesCmd.AddCommand(sourcesListCmd)
	sourcesCmd.AddCommand(sourcesAddCmd)
	sourcesCmd.AddCommand(sourcesRemoveCmd)
	sourcesCmd.AddCommand(sourcesToggleCmd)
}
