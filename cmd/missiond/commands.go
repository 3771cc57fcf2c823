package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/missiond/internal/config"
	"github.com/kalambet/missiond/internal/missions"
	"github.com/kalambet/missiond/internal/router"
)

// --- emit ---

var emitCmd = &cobra.Command{
	Use:   "emit <event> <resource-id> <user-id>",
	Short: "Send one event to the running server",
	Long: `Send one event envelope to the running server and print the result.

Events: ` + eventList() + `

Examples:
  missiond emit invoice.overdue inv_8Kq2 usr_1
  missiond emit timer.daily_digest usr_1 usr_1`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		env := map[string]string{
			"event":       args[0],
			"resource_id": args[1],
			"user_id":     args[2],
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
		}
		resp, err := client.post(cmd.Context(), "/v1/events", env)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		// The receipt carries a result body for every status.
		var res router.Result
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return fmt.Errorf("server returned %d: decoding result: %w", resp.StatusCode, err)
		}
		if !res.Dispatched {
			if res.Mission != "" {
				return fmt.Errorf("mission %s failed: %s", res.Mission, res.Error)
			}
			return fmt.Errorf("event rejected: %s", res.Error)
		}
		printSuccess("Dispatched %s to %s", args[0], res.Mission)
		return nil
	},
}

func eventList() string {
	names := make([]string, len(router.Events))
	for i, e := range router.Events {
		names[i] = string(e)
	}
	return strings.Join(names, ", ")
}

// --- missions ---

var missionsCmd = &cobra.Command{
	Use:   "missions",
	Short: "Inspect the mission audit log",
}

var missionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent mission invocations",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/missions?limit=%d&offset=%d", limit, offset))
		if err != nil {
			return err
		}

		var logs []struct {
			Seq        int64     `json:"seq"`
			Event      string    `json:"event"`
			Mission    string    `json:"mission"`
			Status     string    `json:"status"`
			Error      string    `json:"error"`
			ResourceID string    `json:"resource_id"`
			CreatedAt  time.Time `json:"created_at"`
		}
		if err := decodeJSON(resp, &logs); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(logs) == 0 {
			fmt.Fprintln(out, "No missions recorded.")
			return nil
		}
		for _, l := range logs {
			line := fmt.Sprintf("%6d  %s  %-28s %-22s %s  %s",
				l.Seq,
				l.CreatedAt.Local().Format(time.DateTime),
				l.Event,
				orDefault(l.Mission, "-"),
				colorize(statusColor(l.Status), l.Status),
				l.ResourceID,
			)
			if l.Error != "" {
				line += "  " + l.Error
			}
			fmt.Fprintln(out, line)
		}
		return nil
	},
}

func init() {
	missionsListCmd.Flags().Int("limit", 20, "maximum number of records to list")
	missionsListCmd.Flags().Int("offset", 0, "records to skip")
	missionsCmd.AddCommand(missionsListCmd)
}

// --- digest ---

var digestCmd = &cobra.Command{
	Use:   "digest <user-id>",
	Short: "Show a user's digest without sending it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/digest?user_id="+url.QueryEscape(args[0]))
		if err != nil {
			return err
		}

		var d missions.Digest
		if err := decodeJSON(resp, &d); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(d)
		}

		fmt.Fprintln(out, d.Summary())
		if len(d.Tasks) > 0 {
			fmt.Fprintln(out, colorize(colorBold, "\nTasks"))
			for _, t := range d.Tasks {
				fmt.Fprintf(out, "  [%s] %s\n", t.Priority, t.Title)
			}
		}
		if len(d.Leads) > 0 {
			fmt.Fprintln(out, colorize(colorBold, "\nWarm leads"))
			for _, l := range d.Leads {
				fmt.Fprintf(out, "  %.2f  %s\n", l.Score, l.Summary)
			}
		}
		if len(d.Projects) > 0 {
			fmt.Fprintln(out, colorize(colorBold, "\nProjects"))
			for _, p := range d.Projects {
				fmt.Fprintf(out, "  %s (%s)\n", p.Name, p.Status)
			}
		}
		return nil
	},
}

func init() {
	digestCmd.Flags().Bool("json", false, "print the digest as JSON")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(out, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		for _, k := range config.SecretKeys() {
			fmt.Fprintf(out, "  %s = %s\n", colorize(colorBold, k), colorize(colorCyan, "(secret)"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key> <value>",
	Short: "Store a secret in the secrets file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetSecret(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Stored secret %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}
