package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harborintel/port-research/internal/research"
)

var researchKind string

var researchCmd = &cobra.Command{
	Use:   "research <entity-id>",
	Short: "Run one research pass against a port or operator and print the preview",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		entityID := args[0]
		var target research.Target
		switch researchKind {
		case "port":
			port, err := env.Store.GetPort(cmd.Context(), entityID)
			if err != nil {
				return err
			}
			target = research.Target{Kind: "port", ID: port.ID, Name: port.Name, Country: port.Country}
		case "operator":
			op, err := env.Store.GetOperator(cmd.Context(), entityID)
			if err != nil {
				return err
			}
			target = research.Target{Kind: "operator", ID: op.ID, Name: op.Name}
			if port, err := env.Store.GetPort(cmd.Context(), op.PortID); err == nil {
				target.PortName = port.Name
				target.Country = port.Country
			}
		default:
			return eris.Errorf("unknown kind %q, want port or operator", researchKind)
		}

		var preview *research.Preview
		for ev := range env.Orch.Run(cmd.Context(), target) {
			switch ev.Type {
			case research.EventStatus:
				zap.L().Info("progress", zap.String("step", ev.Step), zap.Int("progress", ev.Progress))
			case research.EventPreview:
				preview = ev.Preview
			case research.EventReportError:
				zap.L().Warn("report not persisted", zap.String("message", ev.Message))
			case research.EventError:
				if ev.Error != nil {
					return ev.Error
				}
				return eris.New("research failed")
			}
		}
		if preview == nil {
			return eris.New("research ended without a preview")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(preview); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "%d field proposals, %d sources\n", len(preview.Proposals), len(preview.Sources))
		return nil
	},
}

func init() {
	researchCmd.Flags().StringVar(&researchKind, "kind", "port", "entity kind: port or operator")
	rootCmd.AddCommand(researchCmd)
}
