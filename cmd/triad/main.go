package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/triad/internal/config"
	"github.com/stellarlinkco/triad/internal/gateway"
	"github.com/stellarlinkco/triad/internal/memory"
	"github.com/stellarlinkco/triad/internal/persona"
)

var rootCmd = &cobra.Command{
	Use:   "triad",
	Short: "triad - persona-driven multi-agent chat service",
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the full service (channels + pipeline + scheduler)",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config, workspace and persona files",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show triad status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(gatewayCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("API key not set. Run 'triad onboard' or set TRIAD_API_KEY")
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	return onboard(os.Stdout)
}

func onboard(out io.Writer) error {
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	personaDir := filepath.Join(cfg.Workspace, "personas")
	if err := os.MkdirAll(personaDir, 0755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	for _, profile := range persona.DefaultProfiles() {
		path := filepath.Join(personaDir, profile.ID, "PERSONA.md")
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := persona.WriteProfile(personaDir, profile); err != nil {
			return fmt.Errorf("write persona %s: %w", profile.ID, err)
		}
		fmt.Fprintf(out, "Created persona: %s\n", path)
	}

	fmt.Fprintf(out, "Workspace ready: %s\n", cfg.Workspace)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s to set your API key and telegram tokens\n", cfgPath)
	fmt.Fprintln(out, "  2. Or set the TRIAD_API_KEY environment variable")
	fmt.Fprintln(out, "  3. Run 'triad gateway' to start the service")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Workspace: %s\n", cfg.Workspace)
	fmt.Printf("Model: %s\n", cfg.Provider.Model)
	fmt.Printf("Embedding model: %s\n", cfg.Provider.EmbeddingModel)
	fmt.Printf("API Key: %s\n", maskKey(cfg.Provider.APIKey))
	fmt.Printf("Telegram: enabled=%v personas=%d\n", cfg.Channels.Telegram.Enabled, len(cfg.Channels.Telegram.PersonaTokens))
	fmt.Printf("Console: enabled=%v\n", cfg.Channels.Console.Enabled)
	fmt.Printf("Environment: %s (tick %ds, speech probability %.2f)\n",
		cfg.Scheduler.Environment, cfg.Scheduler.ResolveTickSeconds(), cfg.Scheduler.ResolveSpeechProbability())
	fmt.Printf("Phases: active %s, free %s, standby %s\n",
		cfg.Workflow.ActiveAt, cfg.Workflow.FreeAt, cfg.Workflow.StandbyAt)

	catalog, err := persona.LoadCatalog(filepath.Join(cfg.Workspace, "personas"))
	if err != nil {
		fmt.Printf("Personas: error (%v)\n", err)
	} else {
		fmt.Printf("Personas: %v\n", catalog.IDs())
	}

	dbPath := cfg.Memory.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(config.ConfigDir(), "data", "triad.db")
	}
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Println("Memory: no database yet (run 'triad gateway')")
		return nil
	}

	engine, err := memory.NewEngine(dbPath, cfg.Memory.ShortTermLimit)
	if err != nil {
		fmt.Printf("Memory: error (%v)\n", err)
		return nil
	}
	defer engine.Close()

	stats, err := engine.Stats()
	if err != nil {
		fmt.Printf("Memory: error (%v)\n", err)
		return nil
	}
	fmt.Printf("Memory: %d short-term in %d channels, %d long-term\n",
		stats.ShortTermCount, stats.ChannelCount, stats.LongTermCount)
	if stats.LastRunDate != "" {
		fmt.Printf("Last consolidation: %s\n", stats.LastRunDate)
	}
	return nil
}

func maskKey(key string) string {
	switch {
	case key == "":
		return "not set"
	case len(key) > 8:
		return key[:4] + "..." + key[len(key)-4:]
	default:
		return "set"
	}
}
