// scalperctl is the operator CLI. It talks to a running scalper
// instance over its HTTP API, so the database is never opened by two
// processes at once.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	addr   string
	secret string
	actor  string
	reason string
)

func client() *resty.Client {
	c := resty.New().SetBaseURL(addr)
	if secret != "" {
		c.SetHeader("X-Webhook-Secret", secret)
	}
	return c
}

// call performs one API request and pretty-prints the JSON response.
func call(method, path string, body interface{}) error {
	req := client().R()
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	var pretty interface{}
	if err := json.Unmarshal(resp.Body(), &pretty); err != nil {
		fmt.Println(strings.TrimSpace(resp.String()))
	} else {
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(out))
	}

	if resp.IsError() {
		return fmt.Errorf("server returned %s", resp.Status())
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "scalperctl",
	Short: "Operator CLI for the scalper trading engine",
	Long: `scalperctl manages a running scalper instance over its HTTP API.

It covers the operations that must never be automated away silently:
resetting the daily circuit breaker, flipping the global kill switch,
and enabling or disabling symbols in the whitelist.`,
	SilenceUsage: true,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return call("GET", "/status", nil)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show daily PnL aggregates",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		return call("GET", fmt.Sprintf("/stats?days=%d", days), nil)
	},
}

var breakerCmd = &cobra.Command{
	Use:   "breaker",
	Short: "Manage the daily circuit breaker",
}

var breakerResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear today's circuit breaker (audited)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if actor == "" {
			return fmt.Errorf("--actor is required")
		}
		return call("POST", "/admin/breaker/reset", map[string]string{
			"actor": actor, "reason": reason,
		})
	},
}

var killSwitchCmd = &cobra.Command{
	Use:       "killswitch [on|off]",
	Short:     "Enable (on) or halt (off) all trading",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if actor == "" {
			return fmt.Errorf("--actor is required")
		}
		active := args[0] == "on"
		return call("POST", "/admin/killswitch", map[string]interface{}{
			"actor": actor, "reason": reason, "active": active,
		})
	},
}

var coinsCmd = &cobra.Command{
	Use:   "coins",
	Short: "Manage the symbol whitelist",
}

var coinsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured symbols",
	RunE: func(cmd *cobra.Command, args []string) error {
		return call("GET", "/admin/coins", nil)
	},
}

func coinToggleCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " SYMBOL",
		Short: use + " a symbol for trading",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol := strings.ToUpper(args[0])
			return call("POST", fmt.Sprintf("/admin/coins/%s/toggle", symbol),
				map[string]bool{"active": active})
		},
	}
}

var tradesCmd = &cobra.Command{
	Use:   "trades",
	Short: "Inspect and close trades",
}

var tradesOpenCmd = &cobra.Command{
	Use:   "open",
	Short: "List open trades",
	RunE: func(cmd *cobra.Command, args []string) error {
		return call("GET", "/trades/open", nil)
	},
}

var tradesCloseCmd = &cobra.Command{
	Use:   "close ID",
	Short: "Close an open trade at market",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call("POST", fmt.Sprintf("/trades/%s/close", args[0]), map[string]string{})
	},
}

var signalCmd = &cobra.Command{
	Use:   "signal SYMBOL",
	Short: "Submit a manual trade signal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call("POST", "/trades/manual", map[string]string{
			"symbol": strings.ToUpper(args[0]),
		})
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8000", "scalper API address")
	rootCmd.PersistentFlags().StringVar(&secret, "secret", os.Getenv("SCALPER_SECRET"), "webhook secret (or SCALPER_SECRET)")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", "", "operator name for audited actions")
	rootCmd.PersistentFlags().StringVar(&reason, "reason", "", "reason for audited actions")

	statsCmd.Flags().Int("days", 7, "number of days to aggregate")

	breakerCmd.AddCommand(breakerResetCmd)
	coinsCmd.AddCommand(coinsListCmd, coinToggleCmd("enable", true), coinToggleCmd("disable", false))
	tradesCmd.AddCommand(tradesOpenCmd, tradesCloseCmd)
	rootCmd.AddCommand(statusCmd, statsCmd, breakerCmd, killSwitchCmd, coinsCmd, tradesCmd, signalCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
