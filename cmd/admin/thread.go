package main

import (
	"encoding/json"
	"fmt"
	"sparkchat/backend/internal/api/handler"
	"sparkchat/backend/internal/conversation"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newTokenCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <user>",
		Short: "Print a signed access token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, _ := cmd.Flags().GetDuration("ttl")
			tok, err := handler.GenerateJWT([]byte(e.cfg.JWTSecret), args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func newThreadCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thread <viewer> <peer>",
		Short: "Dump a thread as the viewer sees it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			msgs, err := e.store.GetThreadMessages(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			rendered := conversation.Render(msgs, args[0])

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rendered)
			}
			out := cmd.OutOrStdout()
			for _, m := range rendered {
				body := m.Text
				if m.URL != "" {
					body = m.URL
				}
				status := ""
				if m.Outgoing && m.Read {
					status = " ✓✓"
				}
				fmt.Fprintf(out, "%-12s %-8s [%s] %s%s\n", humanize.Time(m.CreatedAt), m.SenderID, m.Kind, body, status)
			}
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "output JSON")
	return cmd
}
