package main

import (
	"fmt"
	"sparkchat/backend/internal/matching"
	"sparkchat/backend/internal/models"

	"github.com/spf13/cobra"
)

func newUserCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user [id]",
		Short: "Create a user, generating an id when none is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lang, _ := cmd.Flags().GetString("lang")
			u := &models.User{Language: lang, Tier: models.TierFree}
			if len(args) == 1 {
				u.ID = args[0]
			}
			if err := e.store.SaveUser(cmd.Context(), u); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), u.ID)
			return nil
		},
	}
	cmd.Flags().String("lang", "en", "preferred language for notifications")
	return cmd
}

func newLikeCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "like <liker> <liked>",
		Short: "Record a like; two likes in opposite directions make a match",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mutual, err := matching.NewMatchingService(e.store).Like(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if mutual {
				fmt.Fprintf(cmd.OutOrStdout(), "%s and %s are now matched\n", args[0], args[1])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s likes %s\n", args[0], args[1])
			}
			return nil
		},
	}
}

func newUnlikeCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "unlike <liker> <liked>",
		Short: "Withdraw a like, closing the thread between the two users",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return matching.NewMatchingService(e.store).Unlike(cmd.Context(), args[0], args[1])
		},
	}
}

func newTierCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "tier <user> <free|premium>",
		Short: "Change a user's subscription tier",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tier := models.Tier(args[1])
			if tier != models.TierFree && tier != models.TierPremium {
				return fmt.Errorf("unknown tier %q", args[1])
			}
			return e.store.UpdateUserTier(cmd.Context(), args[0], tier)
		},
	}
}
