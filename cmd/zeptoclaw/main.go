// Command zeptoclaw is the single-binary agent runtime.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/qhkm/zeptoclaw/internal/config"
	"github.com/qhkm/zeptoclaw/internal/gateway"
	"github.com/qhkm/zeptoclaw/internal/runtime"
)

var version = "dev"

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var configPath string
	var verbose bool

	root := &cobra.Command{
		Use:           "zeptoclaw",
		Short:         "ZeptoClaw is a single-binary AI agent runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (json5 or yaml)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(runCommand(&configPath))
	root.AddCommand(doctorCommand(&configPath))
	root.AddCommand(versionCommand())
	return root
}

func runCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the agent runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, warnings, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			for _, warning := range warnings {
				slog.Warn(warning)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := gateway.NewApp(ctx, cfg)
			if err != nil {
				return err
			}
			return app.Run(ctx)
		},
	}
}

func doctorCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Probe configuration, providers, and container runtimes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, warnings, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if len(warnings) == 0 {
				fmt.Fprintln(out, "config      ok")
			} else {
				fmt.Fprintf(out, "config      %d warning(s)\n", len(warnings))
				for _, warning := range warnings {
					fmt.Fprintln(out, "  -", warning)
				}
			}

			report := func(name string, ok bool, detail string) {
				status := "ok"
				if !ok {
					status = "unavailable"
				}
				if detail != "" {
					status += " (" + detail + ")"
				}
				fmt.Fprintf(out, "%-11s %s\n", name, status)
			}

			report("anthropic", cfg.Providers.Anthropic.APIKey != "", credDetail(cfg.Providers.Anthropic.APIKey))
			report("openai", cfg.Providers.OpenAI.APIKey != "", credDetail(cfg.Providers.OpenAI.APIKey))

			probeCtx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			report("native", runtime.NewNative().IsAvailable(probeCtx), "")
			report("docker", runtime.NewDocker(cfg.Runtime.Docker).IsAvailable(probeCtx), "")
			report("apple", runtime.NewApple(cfg.Runtime.Apple).IsAvailable(probeCtx), "")
			return nil
		},
	}
}

func credDetail(key string) string {
	if key == "" {
		return "no API key"
	}
	return ""
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "zeptoclaw", version)
		},
	}
}
