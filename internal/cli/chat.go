package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tgokhale/batak/internal/config"
	"github.com/tgokhale/batak/internal/logger"
	"github.com/tgokhale/batak/internal/prompt"
	"github.com/tgokhale/batak/pkg/agent"
	"github.com/tgokhale/batak/pkg/conversation"
	"github.com/tgokhale/batak/pkg/provider"
	"github.com/tgokhale/batak/pkg/registry"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive assistant session",
	Long: `Start an interactive assistant session. All configured tool providers
are launched first; the session ends when you type "quit" or interrupt
the process, and providers are shut down in reverse launch order.`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	// Credentials are checked before anything is launched. A missing
	// credential names the variable and how to fix it.
	if err := cfg.Validate(); err != nil {
		var cfgErr *config.ConfigurationError
		if errors.As(err, &cfgErr) {
			return fmt.Errorf("configuration error: %w", err)
		}
		return err
	}

	lg, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: false, // stdout/stderr belong to the chat surface
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer lg.Close()

	promptSrc, err := prompt.New(cfg.Prompt.File)
	if err != nil {
		return err
	}
	defer promptSrc.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Launch every provider before the session starts. Any failure tears
	// down what already started and aborts.
	supervisor := provider.NewSupervisor()
	if err := supervisor.Start(ctx, cfg.ProviderSpecs()); err != nil {
		return fmt.Errorf("failed to start providers: %w", err)
	}
	defer func() {
		if err := supervisor.Close(); err != nil {
			zl := lg.Zerolog()
			zl.Warn().Err(err).Msg("Provider shutdown reported errors")
		}
	}()

	if cfg.Keepalive.Enabled {
		if err := supervisor.StartKeepalive(cfg.Keepalive.Schedule); err != nil {
			return fmt.Errorf("failed to start keepalive: %w", err)
		}
	}

	reg := registry.New()
	for _, conn := range supervisor.Connections() {
		if _, err := reg.Register(conn); err != nil {
			return fmt.Errorf("failed to register tools from %s: %w", conn.ID(), err)
		}
	}

	reasoner, err := agent.NewReasoner(cfg.Reasoning.Provider, cfg.ReasoningAPIKey())
	if err != nil {
		return err
	}

	session := agent.NewSession(reg, conversation.New())

	if cfg.Transcript.Enabled {
		archive, err := conversation.OpenArchive(cfg.Transcript.Path)
		if err != nil {
			// The archive is an audit trail; the session works without it.
			zl := lg.Zerolog()
			zl.Warn().Err(err).Msg("Transcript archive unavailable")
		} else {
			defer archive.Close()
			session.History.SetRecorder(archive.Session(session.ID))
		}
	}

	loop, err := agent.NewLoop(agent.Config{
		Reasoner:    reasoner,
		Registry:    reg,
		Instruction: promptSrc.Text,
		Model:       cfg.Reasoning.Model,
		Temperature: cfg.Reasoning.Temperature,
		MaxTokens:   cfg.Reasoning.MaxTokens,
		MaxTurns:    cfg.Reasoning.MaxTurns,
		MaxRetries:  cfg.Reasoning.MaxRetries,
		Logger:      lg.Zerolog(),
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Batak ready. %d tools from %d providers. Type \"quit\" to exit.\n",
		reg.Len(), len(supervisor.Connections()))

	return runRepl(ctx, cmd, loop, session)
}

// runRepl reads user input line by line and feeds it to the session loop.
// Recoverable failures are printed and the prompt comes back; they are
// never folded into the conversation itself.
func runRepl(ctx context.Context, cmd *cobra.Command, loop *agent.Loop, session *agent.Session) error {
	out := cmd.OutOrStdout()
	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out, "you> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "quit" || input == "exit" {
			return nil
		}

		reply, err := loop.Handle(ctx, session, input)
		if err != nil {
			if ctx.Err() != nil {
				fmt.Fprintln(out)
				return nil
			}
			fmt.Fprintf(out, "batak> sorry, that didn't work: %v\n", err)
			continue
		}

		fmt.Fprintf(out, "batak> %s\n", reply)
	}
}
