package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/phasebridge/cmd/phasebridge/internal"
	"github.com/tinyland-inc/phasebridge/cmd/phasebridge/internal/relay"
	"github.com/tinyland-inc/phasebridge/cmd/phasebridge/internal/version"
)

func NewPhasebridgeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "phasebridge",
		Short:   fmt.Sprintf("phasebridge - dimension message relay v%s", internal.GetVersion()),
		Example: "phasebridge relay",
	}

	cmd.AddCommand(
		relay.NewRelayCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewPhasebridgeCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
