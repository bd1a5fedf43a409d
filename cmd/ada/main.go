package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configDir      string
	answerProvider string
	answerURL      string
	verbose        bool

	stdioMode bool
	wsAddr    string

	rootCmd = &cobra.Command{
		Use:   "ada",
		Short: "Ask questions and read cited, sectioned answers",
		Long: `ada sends questions to an answer service and keeps the session's
answers so they can be revisited, searched and inspected for sources.`,
		SilenceUsage: true,
		RunE:         runREPLCommand,
	}

	engineCmd = &cobra.Command{
		Use:   "engine",
		Short: "Serve the session over NDJSON stdio or WebSocket for a renderer",
		RunE:  runEngineCommand,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "Directory holding config.json (default: user config dir)")
	rootCmd.PersistentFlags().StringVar(&answerProvider, "provider", "", "Answer provider: http, llm or fixture (overrides config)")
	rootCmd.PersistentFlags().StringVar(&answerURL, "url", "", "Answer service base URL (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log to stderr")

	engineCmd.Flags().BoolVar(&stdioMode, "stdio", false, "Serve the engine over the NDJSON stdio protocol")
	engineCmd.Flags().StringVar(&wsAddr, "ws", "", "Serve the engine over WebSocket on this address (e.g. :8765)")
	engineCmd.MarkFlagsMutuallyExclusive("stdio", "ws")
	engineCmd.MarkFlagsOneRequired("stdio", "ws")
	rootCmd.AddCommand(engineCmd)
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// Errors go to stderr so a stdio protocol stream is never corrupted.
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
}

func baseOptions() runtimeOptions {
	return runtimeOptions{
		ConfigDir:      configDir,
		AnswerProvider: answerProvider,
		AnswerURL:      answerURL,
	}
}

func runREPLCommand(cmd *cobra.Command, args []string) error {
	opts := baseOptions()
	if verbose {
		opts.Console = os.Stderr
	}

	env, err := prepareRuntimeEnv(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer env.Close()

	return newREPL(env, os.Stdin, os.Stdout).Run(cmd.Context())
}

func runEngineCommand(cmd *cobra.Command, args []string) error {
	opts := baseOptions()
	// Stdout belongs to the protocol in stdio mode; logs always go to stderr.
	opts.Console = os.Stderr
	opts.JSONConsole = !verbose

	env, err := prepareRuntimeEnv(cmd.Context(), opts)
	if err != nil {
		return fmt.Errorf("failed to prepare runtime environment: %w", err)
	}
	defer env.Close()

	if stdioMode {
		return runStdIOEngine(cmd.Context(), env)
	}
	return runWSEngine(cmd.Context(), env, wsAddr)
}
