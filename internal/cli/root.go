package cli

import (
	"context"

	"github.com/spf13/cobra"

	"mcpbridge/internal/config"
	"mcpbridge/pkg/logger"
)

// GlobalFlags 全局标志
type GlobalFlags struct {
	ConfigPath string
	Verbose    bool
	Quiet      bool
}

// contextKey CLI 上下文键
type contextKey struct{}

// NewRootCmd 创建根命令
func NewRootCmd() *cobra.Command {
	var globalFlags GlobalFlags

	rootCmd := &cobra.Command{
		Use:   "mcp-bridge",
		Short: "Relay line-delimited JSON-RPC between stdio and a remote MCP endpoint",
		Long: `mcp-bridge reads one JSON-RPC message per line from stdin, POSTs each
message to a remote MCP endpoint and writes the response lines to stdout.

Messages are processed one at a time, so responses keep request order.
Transient network failures are retried with exponential backoff.
Logs go to stderr only.`,
		Example: `  # Bridge to the default endpoint
  mcp-bridge

  # Bridge to a custom endpoint with a token
  BEARER_TOKEN=secret mcp-bridge --uri https://example.com/mcp

  # Expose Prometheus metrics while bridging
  mcp-bridge --metrics-addr 127.0.0.1:9464 -v`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// 跳过 version 和 help 命令的初始化
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}

			cfg, err := config.Load(globalFlags.ConfigPath, cmd.Flags())
			if err != nil {
				return err
			}

			logLevel := cfg.Log.Level
			if globalFlags.Verbose {
				logLevel = "debug"
			}
			if globalFlags.Quiet {
				logLevel = "error"
			}

			if err := logger.Init(logger.LogConfig{
				Level:  logLevel,
				Format: cfg.Log.Format,
				File:   cfg.Log.File,
			}); err != nil {
				return err
			}

			cliCtx := NewCLIContext(cfg, globalFlags.ConfigPath, logger.Get(), globalFlags.Verbose, globalFlags.Quiet)
			cmd.SetContext(context.WithValue(cmd.Context(), contextKey{}, cliCtx))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if cliCtx := GetCLIContext(cmd); cliCtx != nil {
				return cliCtx.Close()
			}
			return nil
		},
		RunE: runBridge,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&globalFlags.ConfigPath, "config", "c", "", "config file path (default ~/.mcp-bridge/config.yaml if present)")
	pf.BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "verbose output")
	pf.BoolVarP(&globalFlags.Quiet, "quiet", "q", false, "quiet mode")

	pf.String("uri", "", "remote MCP endpoint (env URI)")
	pf.String("token", "", "bearer token for the remote endpoint (env BEARER_TOKEN)")
	pf.String("name", "", "diagnostic name used in logs (env MCP_NAME)")
	pf.Int("timeout-ms", 0, "per-request timeout in milliseconds (env MCP_TIMEOUT_MS)")
	pf.Int("max-queue", 0, "inbound and outbound queue depth (env MCP_MAX_QUEUE)")
	pf.Int("max-backoff-ms", 0, "retry backoff ceiling in milliseconds (env MCP_MAX_BACKOFF_MS)")
	pf.String("metrics-addr", "", "serve Prometheus metrics on this address (env MCP_METRICS_ADDR)")
	pf.String("log-level", "", "debug, info, warn or error (env MCP_LOG_LEVEL)")
	pf.String("log-format", "", "console or json, auto-detected when empty (env MCP_LOG_FORMAT)")
	pf.String("log-file", "", "also append logs to this file (env MCP_LOG_FILE)")

	rootCmd.AddCommand(NewVersionCmd())
	rootCmd.AddCommand(NewConfigCmd())

	return rootCmd
}

// GetCLIContext 从命令上下文获取 CLI 上下文
func GetCLIContext(cmd *cobra.Command) *CLIContext {
	ctx := cmd.Context()
	if ctx == nil {
		return nil
	}
	cliCtx, ok := ctx.Value(contextKey{}).(*CLIContext)
	if !ok {
		return nil
	}
	return cliCtx
}
