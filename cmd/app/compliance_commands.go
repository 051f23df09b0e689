package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/allisson/phivault/cmd/app/commands"
	"github.com/allisson/phivault/internal/app"
	"github.com/allisson/phivault/internal/config"
)

func getComplianceCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "compliance-report",
			Usage: "Generate the aggregated audit report with anomaly findings",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "start-date",
					Aliases: []string{"s"},
					Value:   "",
					Usage:   "Start of the window (YYYY-MM-DD or YYYY-MM-DD HH:MM:SS, default: 24h before end)",
				},
				&cli.StringFlag{
					Name:    "end-date",
					Aliases: []string{"e"},
					Value:   "",
					Usage:   "End of the window (default: now)",
				},
				&cli.StringFlag{
					Name:    "format",
					Aliases: []string{"f"},
					Value:   "text",
					Usage:   "Output format: 'text' or 'json'",
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				compliance, err := container.ComplianceUseCase()
				if err != nil {
					return err
				}

				return commands.RunComplianceReport(
					ctx,
					compliance,
					commands.DefaultIO().Writer,
					cmd.String("start-date"),
					cmd.String("end-date"),
					cmd.String("format"),
				)
			},
		},
		{
			Name:  "verify-audit-logs",
			Usage: "Verify audit log signatures for tamper detection (non-zero exit on mismatch)",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "start-date",
					Aliases: []string{"s"},
					Value:   "",
					Usage:   "Start of the window (YYYY-MM-DD or YYYY-MM-DD HH:MM:SS, default: 24h before end)",
				},
				&cli.StringFlag{
					Name:    "end-date",
					Aliases: []string{"e"},
					Value:   "",
					Usage:   "End of the window (default: now)",
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				compliance, err := container.ComplianceUseCase()
				if err != nil {
					return err
				}

				return commands.RunVerifyAuditLogs(
					ctx,
					compliance,
					container.Logger(),
					commands.DefaultIO().Writer,
					cmd.String("start-date"),
					cmd.String("end-date"),
				)
			},
		},
	}
}
