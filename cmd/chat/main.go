// Command chat is a terminal client that talks to the model directly,
// streaming each reply as it arrives.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ashureev/chatxai/internal/agent"
	"github.com/ashureev/chatxai/internal/attachment"
	"github.com/ashureev/chatxai/internal/conversation"
	"github.com/ashureev/chatxai/internal/modules"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	flagModule      string
	flagAttach      string
	flagModulesFile string
	flagHistoryFile string
	flagVerbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with an AI module from the terminal",
	Long: `chat opens an interactive session with one of the configured AI modules.
Replies stream as they arrive. With a message argument it sends that single
message, prints the reply and exits.

Commands inside the session:
  /modules         list modules
  /module <key>    switch module (starts a new conversation)
  /attach <path>   attach a file to the next message
  /detach          drop the pending attachment
  /quit            leave`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runChat,
}

func init() {
	rootCmd.Flags().StringVarP(&flagModule, "module", "m", "", "module key (default from catalog)")
	rootCmd.Flags().StringVarP(&flagAttach, "attach", "a", "", "file to attach to the first message")
	rootCmd.Flags().StringVar(&flagModulesFile, "modules-file", os.Getenv("MODULES_FILE"), "YAML or TOML module catalog")
	rootCmd.Flags().StringVar(&flagHistoryFile, "history-file", defaultHistoryFile(), "line history file")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "log diagnostics to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+err.Error()))
		os.Exit(1)
	}
}

func defaultHistoryFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "chatxai", "history")
}

func runChat(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	defaultKey := os.Getenv("DEFAULT_MODULE")
	if defaultKey == "" {
		defaultKey = modules.DefaultModuleKey
	}
	registry, err := modules.FromConfig(flagModulesFile, defaultKey)
	if err != nil {
		return err
	}

	module := registry.Default()
	if flagModule != "" {
		m, ok := registry.Get(flagModule)
		if !ok {
			return fmt.Errorf("unknown module %q", flagModule)
		}
		module = m
	}

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	gemini, err := agent.NewGeminiClient(ctx, agent.GeminiClientConfig{
		APIKey:  apiKey,
		BaseURL: os.Getenv("GEMINI_BASE_URL"),
	}, logger)
	if err != nil {
		return fmt.Errorf("gemini client: %w (set GEMINI_API_KEY)", err)
	}

	r := &repl{
		orch: agent.NewOrchestrator(agent.OrchestratorConfig{
			Processor: gemini,
			Store:     conversation.NewStore(),
			Module:    module,
			ClientID:  "cli",
			SessionID: "terminal",
			Logger:    logger,
		}),
		registry: registry,
		out:      cmd.OutOrStdout(),
	}

	if flagAttach != "" {
		if err := r.attach(ctx, flagAttach); err != nil {
			return err
		}
	}

	if len(args) > 0 {
		turn := r.send(ctx, joinArgs(args))
		if turn.Err != nil && !turn.Skipped() {
			return turn.Err
		}
		return nil
	}
	return r.interactive(ctx, flagHistoryFile)
}

func joinArgs(args []string) string {
	s := args[0]
	for _, a := range args[1:] {
		s += " " + a
	}
	return s
}

// attach encodes path as the pending attachment.
func (r *repl) attach(ctx context.Context, path string) error {
	d, err := attachment.FileDescriptor(path)
	if err != nil {
		return err
	}
	att, err := attachment.Prepare(ctx, d)
	if err != nil {
		return err
	}
	r.pending = att
	fmt.Fprintln(r.out, infoStyle.Render(fmt.Sprintf("attached %s (%s)", att.Name, att.MediaType)))
	return nil
}
