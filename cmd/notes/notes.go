package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your notes, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := a.token(cmd.Context())
			if err != nil {
				return err
			}
			notes, err := a.client.ListNotes(cmd.Context(), tok)
			if err != nil {
				return apiError(err)
			}
			if a.jsonOut {
				return writeJSON(cmd, notes)
			}
			if len(notes) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No notes yet.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, n := range notes {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", n.ID, n.CreatedAt.Local().Format(time.DateTime), n.Title)
			}
			return tw.Flush()
		},
	}
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := a.token(cmd.Context())
			if err != nil {
				return err
			}
			n, err := a.client.GetNote(cmd.Context(), tok, args[0])
			if err != nil {
				return apiError(err)
			}
			if a.jsonOut {
				return writeJSON(cmd, n)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n%s\n\n%s\n", n.Title, n.CreatedAt.Local().Format(time.DateTime), n.Content)
			return nil
		},
	}
}

func newCreateCmd(a *app) *cobra.Command {
	var title, content string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a note",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := a.token(cmd.Context())
			if err != nil {
				return err
			}
			n, err := a.client.CreateNote(cmd.Context(), tok, title, content)
			if err != nil {
				return apiError(err)
			}
			if a.jsonOut {
				return writeJSON(cmd, n)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", n.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "Note title")
	cmd.Flags().StringVarP(&content, "content", "c", "", "Note content")
	return cmd
}

func newUpdateCmd(a *app) *cobra.Command {
	var title, content string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace a note's title and content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := a.token(cmd.Context())
			if err != nil {
				return err
			}
			n, err := a.client.UpdateNote(cmd.Context(), tok, args[0], title, content)
			if err != nil {
				return apiError(err)
			}
			if a.jsonOut {
				return writeJSON(cmd, n)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", n.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "Note title")
	cmd.Flags().StringVarP(&content, "content", "c", "", "Note content")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := a.token(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.client.DeleteNote(cmd.Context(), tok, args[0]); err != nil {
				return apiError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}
