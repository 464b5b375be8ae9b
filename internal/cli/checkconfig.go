package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tokutei-learning/tokutei/internal/config"
)

func newCheckConfigCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Print the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printConfig(cmd.OutOrStdout(), e.cfg)
		},
	}
}

func printConfig(w io.Writer, cfg *config.Config) error {
	redisMode := cfg.RedisAddr
	if redisMode == "" {
		redisMode = "(in-memory snapshots)"
	}
	backendNote := cfg.SupabaseURL
	if cfg.UsingFallback {
		backendNote += " (fallback)"
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	rows := [][2]string{
		{"env", cfg.Env},
		{"backend", backendNote},
		{"anon key", mask(cfg.SupabaseAnonKey)},
		{"test mode", fmt.Sprint(cfg.TestMode)},
		{"redis", redisMode},
		{"listen", cfg.ListenAddr},
		{"site url", cfg.SiteURL},
		{"log", cfg.LogLevel + "/" + cfg.LogFormat},
		{"snapshot ttl", cfg.SnapshotTTL.String()},
		{"idle ttl", cfg.IdleTTL.String()},
	}
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\n", r[0], r[1])
	}
	return tw.Flush()
}

func mask(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
