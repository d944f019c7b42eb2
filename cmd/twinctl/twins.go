package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/browniz421/twinsync/internal/twin"
)

var errInvalidPatch = errors.New("patch must be a JSON object or null")

func newListCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every registered twin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _, err := opts.client()
			if err != nil {
				return err
			}
			twins, err := c.Twins(cmd.Context())
			if err != nil {
				return err
			}
			for i := range twins {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tdesired v%d\treported v%d\n",
					twins[i].DeviceID, twins[i].DesiredVersion, twins[i].ReportedVersion)
			}
			return nil
		},
	}
}

func newGetCommand(opts *globalOptions) *cobra.Command {
	var reportedOnly bool

	cmd := &cobra.Command{
		Use:   "get <device-id>",
		Short: "Show a device twin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := opts.client()
			if err != nil {
				return err
			}
			t, err := c.GetTwin(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if reportedOnly {
				opts.printer(cmd.OutOrStdout()).PrintReported("Reported properties of "+t.DeviceID, t)
				return nil
			}
			return printJSON(cmd.OutOrStdout(), t)
		},
	}

	cmd.Flags().BoolVar(&reportedOnly, "reported", false, "Print only the device-reported properties")

	return cmd
}

func newRegisterCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "register <device-id>",
		Short: "Register an empty twin for a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := opts.client()
			if err != nil {
				return err
			}
			t, err := c.Register(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), t)
		},
	}
}

func newDeregisterCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "deregister <device-id>",
		Short: "Delete a device twin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := opts.client()
			if err != nil {
				return err
			}
			if err := c.Deregister(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deregistered %s\n", args[0])
			return nil
		},
	}
}

func newPatchCommand(opts *globalOptions) *cobra.Command {
	var ifVersion int64

	cmd := &cobra.Command{
		Use:   "patch <device-id> <desired-json>",
		Short: "Apply a desired-properties merge patch",
		Long: `Apply a JSON merge patch to the desired properties of a twin.

Pass null to reset every desired property.`,
		Example: `  twinctl patch MyTwinDevice '{"patchId":"turn the fan on","fanOn":"true"}'
  twinctl patch MyTwinDevice null`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			desired, err := parsePatch(args[1])
			if err != nil {
				return err
			}
			c, _, err := opts.client()
			if err != nil {
				return err
			}

			var t *twin.Twin
			if cmd.Flags().Changed("if-version") {
				t, err = c.UpdateDesiredIf(cmd.Context(), args[0], desired, ifVersion)
			} else {
				t, err = c.UpdateDesired(cmd.Context(), args[0], desired)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), t)
		},
	}

	cmd.Flags().Int64Var(&ifVersion, "if-version", 0, "Only apply when the desired version matches")

	return cmd
}

func parsePatch(arg string) (json.RawMessage, error) {
	var v any
	if err := json.Unmarshal([]byte(arg), &v); err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidPatch, err)
	}
	switch v.(type) {
	case nil, map[string]any:
		return json.RawMessage(arg), nil
	default:
		return nil, errInvalidPatch
	}
}

func newHistoryCommand(opts *globalOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <device-id>",
		Short: "Show recent patches applied to a twin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := opts.client()
			if err != nil {
				return err
			}
			entries, err := c.History(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%-8s v%d\t%s\n",
					e.RecordedAt.Format("2006-01-02T15:04:05Z07:00"), e.Side, e.Version, e.Patch)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of entries")

	return cmd
}

func newWatchCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <device-id>",
		Short: "Stream changes to a twin until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := opts.client()
			if err != nil {
				return err
			}
			changes, err := c.Watch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for change := range changes {
				fmt.Fprintf(cmd.OutOrStdout(), "%s v%d %s\n", change.Side, change.Version, change.Patch)
			}
			return nil
		},
	}
}
