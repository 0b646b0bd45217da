package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tgokhale/batak/internal/config"
	"github.com/tgokhale/batak/internal/logger"
	"github.com/tgokhale/batak/pkg/provider"
	"github.com/tgokhale/batak/pkg/registry"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools exposed by the configured providers",
	Long: `Launch every configured tool provider, print the flattened tool
registry, and shut the providers back down.`,
	RunE: runTools,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	// Provider credentials are checked before any subprocess is launched.
	// The reasoning key is not needed to list tools.
	if err := cfg.ValidateProviders(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	lg, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: false,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer lg.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	supervisor := provider.NewSupervisor()
	if err := supervisor.Start(ctx, cfg.ProviderSpecs()); err != nil {
		return fmt.Errorf("failed to start providers: %w", err)
	}
	defer supervisor.Close()

	reg := registry.New()
	for _, conn := range supervisor.Connections() {
		if _, err := reg.Register(conn); err != nil {
			return fmt.Errorf("failed to register tools from %s: %w", conn.ID(), err)
		}
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tPROVIDER\tDESCRIPTION")
	for _, desc := range reg.Descriptors() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", desc.Name, desc.Provider, desc.Description)
	}
	return w.Flush()
}
