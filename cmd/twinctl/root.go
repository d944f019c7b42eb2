package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/browniz421/twinsync/internal/console"
	"github.com/browniz421/twinsync/internal/infrastructure/config"
	"github.com/browniz421/twinsync/internal/service"
)

// requestTimeout bounds each HTTP request to the hub.
const requestTimeout = 10 * time.Second

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	hubURL     string
	noColor    bool
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "twinctl",
		Short: "twinctl - device twin service client",
		Long: `twinctl reads and updates device twins held by a twinsync hub.

Desired-property patches are JSON merge patches; the hub forwards each one
to the device, which reconciles its components and reports back.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath(), "Path to the configuration file")
	cmd.PersistentFlags().StringVar(&opts.hubURL, "hub-url", "", "Hub API base URL (overrides client.hub_url)")
	cmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable coloured output")

	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newGetCommand(opts))
	cmd.AddCommand(newRegisterCommand(opts))
	cmd.AddCommand(newDeregisterCommand(opts))
	cmd.AddCommand(newPatchCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))
	cmd.AddCommand(newDemoCommand(opts))

	return cmd
}

// defaultConfigPath uses TWINSYNC_CONFIG when set.
func defaultConfigPath() string {
	if path := os.Getenv("TWINSYNC_CONFIG"); path != "" {
		return path
	}
	return "configs/config.yaml"
}

// load reads the configuration, falling back to defaults when the file is
// missing, and applies the --hub-url override.
func (o *globalOptions) load() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if o.hubURL != "" {
		cfg.Client.HubURL = o.hubURL
	}
	return cfg, nil
}

func (o *globalOptions) client() (*service.Client, *config.Config, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, nil, err
	}
	return service.NewClient(cfg.Client.HubURL, requestTimeout), cfg, nil
}

func (o *globalOptions) printer(w io.Writer) *console.Printer {
	if o.noColor {
		return console.New(w, console.WithoutColor())
	}
	return console.New(w)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
