package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/voicetyped/campaignflow/pkg/lifecycle"
)

func newTablesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tables",
		Short: "Validate or print transition tables",
	}

	validate := &cobra.Command{
		Use:   "validate [file]",
		Short: "Compile the default tables plus the overrides in file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := lifecycle.LoadRegistry(optionalArg(args))
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %v\n", color.RedString("invalid:"), err)
				return err
			}
			for _, kind := range reg.Kinds() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%d states)\n",
					color.GreenString("ok"), kind, len(reg.States(kind)))
			}
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show [kind]",
		Short: "Print the transitions of one kind or of every kind",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			reg, err := lifecycle.LoadRegistry(path)
			if err != nil {
				return err
			}
			kinds := reg.Kinds()
			if len(args) == 1 {
				kind := lifecycle.Kind(args[0])
				if _, ok := reg.InitialState(kind); !ok {
					return fmt.Errorf("%w: %s", lifecycle.ErrUnknownKind, kind)
				}
				kinds = []lifecycle.Kind{kind}
			}
			for _, kind := range kinds {
				printTable(cmd.OutOrStdout(), reg, kind)
			}
			return nil
		},
	}
	show.Flags().StringP("file", "f", "", "Transition table overrides")

	cmd.AddCommand(validate, show)
	return cmd
}

func printTable(w io.Writer, reg *lifecycle.Registry, kind lifecycle.Kind) {
	initial, _ := reg.InitialState(kind)
	fmt.Fprintf(w, "%s (initial %s)\n", color.New(color.Bold).Sprint(kind), initial)
	for _, s := range reg.States(kind) {
		if reg.IsTerminal(kind, s) {
			fmt.Fprintf(w, "  %s %s\n", s, color.YellowString("[terminal]"))
			continue
		}
		for _, e := range reg.Transitions(kind, s) {
			fmt.Fprintf(w, "  %s -> %s", s, e.Target)
			if e.Action != "" {
				fmt.Fprintf(w, " (%s)", e.Action)
			}
			fmt.Fprintln(w)
		}
	}
}

func optionalArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
