package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

var silenceFor time.Duration

var silenceCmd = &cobra.Command{
	Use:   "silence",
	Short: "Manage alert silences",
	Long:  `Issue and redeem silence tokens, or silence and unsilence alerts directly.`,
}

var silenceIssueCmd = &cobra.Command{
	Use:   "issue <alert-id>",
	Short: "Issue a silence token for an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openStore()
		if err != nil {
			return err
		}
		defer a.Close()

		alert, err := a.store.Alerts().GetByID(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("get alert: %w", err)
		}
		if alert == nil {
			return fmt.Errorf("alert not found: %s", args[0])
		}

		token, err := a.silences.Issue(alert.ID, alert.TeamID)
		if err != nil {
			return err
		}
		if token == "" {
			return fmt.Errorf("silence.secret is not configured")
		}

		link := a.silences.SilenceLink(alert.ID, alert.TeamID)
		if GetOutput() == "json" {
			data, _ := json.MarshalIndent(map[string]any{
				"token":      token,
				"expires_in": int(a.silences.TTL().Seconds()),
				"redeem_url": link,
			}, "", "  ")
			fmt.Println(string(data))
			return nil
		}
		fmt.Println(token)
		if link != "" {
			fmt.Println(link)
		}
		return nil
	},
}

var silenceRedeemCmd = &cobra.Command{
	Use:   "redeem <token>",
	Short: "Redeem a silence token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openStore()
		if err != nil {
			return err
		}
		defer a.Close()

		alert, err := a.silences.Redeem(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printSilenced(alert)
	},
}

var silenceSetCmd = &cobra.Command{
	Use:   "set <alert-id>",
	Short: "Silence an alert for a duration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openStore()
		if err != nil {
			return err
		}
		defer a.Close()

		alert, err := a.silences.SilenceUntil(cmd.Context(), args[0], "cli", time.Now().Add(silenceFor))
		if err != nil {
			return err
		}
		return printSilenced(alert)
	},
}

var silenceClearCmd = &cobra.Command{
	Use:   "clear <alert-id>",
	Short: "Remove an alert's silence",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openStore()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.silences.Unsilence(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("alert %s unsilenced\n", args[0])
		return nil
	},
}

func init() {
	silenceSetCmd.Flags().DurationVar(&silenceFor, "for", 30*time.Minute, "silence duration")

	silenceCmd.AddCommand(silenceIssueCmd)
	silenceCmd.AddCommand(silenceRedeemCmd)
	silenceCmd.AddCommand(silenceSetCmd)
	silenceCmd.AddCommand(silenceClearCmd)
	rootCmd.AddCommand(silenceCmd)
}

func printSilenced(alert *models.Alert) error {
	if alert.Silenced == nil {
		return fmt.Errorf("alert %s is not silenced", alert.ID)
	}
	if GetOutput() == "json" {
		data, _ := json.MarshalIndent(map[string]any{
			"alert_id": alert.ID,
			"by":       alert.Silenced.By,
			"until":    alert.Silenced.Until.UTC().Format(time.RFC3339),
		}, "", "  ")
		fmt.Println(string(data))
		return nil
	}
	fmt.Printf("alert %s silenced until %s\n", alert.ID, alert.Silenced.Until.UTC().Format(time.RFC3339))
	return nil
}
