package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/allisson/phivault/cmd/app/commands"
	"github.com/allisson/phivault/internal/app"
	"github.com/allisson/phivault/internal/config"
	cryptoService "github.com/allisson/phivault/internal/crypto/service"
)

func getKeyCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "generate-key",
			Usage: "Generate a new 256-bit key for PHI encryption, session signing or audit signing",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "env-name",
					Aliases: []string{"e"},
					Value:   "PHI_ENCRYPTION_KEY",
					Usage:   "Environment variable name to print (PHI_ENCRYPTION_KEY, SESSION_SECRET, AUDIT_SIGNING_KEY)",
				},
				&cli.StringFlag{
					Name:  "kms-key-uri",
					Value: "",
					Usage: "KMS key URI to wrap the generated key (e.g., base64key://, gcpkms://..., awskms://...)",
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.RunGenerateKey(
					ctx,
					cryptoService.NewKMSService(),
					commands.DefaultIO().Writer,
					cmd.String("env-name"),
					cmd.String("kms-key-uri"),
				)
			},
		},
		{
			Name:  "rotate-phi-key",
			Usage: "Re-encrypt every registered PHI column under a new key (reads NEW_PHI_ENCRYPTION_KEY)",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "reason",
					Aliases: []string{"r"},
					Value:   "scheduled",
					Usage:   "Rotation reason (scheduled, compromised, manual)",
				},
				&cli.StringFlag{
					Name:  "actor-id",
					Value: "",
					Usage: "UUID of the operator triggering the rotation",
				},
				&cli.BoolFlag{
					Name:  "dry-run",
					Value: false,
					Usage: "Count rows that would migrate without writing anything",
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				newKeyHex := os.Getenv("NEW_PHI_ENCRYPTION_KEY")
				if newKeyHex == "" {
					return fmt.Errorf("NEW_PHI_ENCRYPTION_KEY is not set (generate one with 'generate-key')")
				}

				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				rotation, err := container.RotationUseCase()
				if err != nil {
					return err
				}

				return commands.RunRotatePHIKey(
					ctx,
					rotation,
					container.Logger(),
					commands.DefaultIO().Writer,
					newKeyHex,
					cmd.String("reason"),
					cmd.String("actor-id"),
					cmd.Bool("dry-run"),
				)
			},
		},
		{
			Name:  "rotate-session-secret",
			Usage: "Swap the session signing secret and invalidate all sessions (reads NEW_SESSION_SECRET)",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "reason",
					Aliases: []string{"r"},
					Value:   "scheduled",
					Usage:   "Rotation reason (scheduled, compromised, manual)",
				},
				&cli.StringFlag{
					Name:  "actor-id",
					Value: "",
					Usage: "UUID of the operator triggering the rotation",
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				newSecretHex := os.Getenv("NEW_SESSION_SECRET")
				if newSecretHex == "" {
					return fmt.Errorf("NEW_SESSION_SECRET is not set (generate one with 'generate-key')")
				}

				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				rotation, err := container.RotationUseCase()
				if err != nil {
					return err
				}

				return commands.RunRotateSessionSecret(
					ctx,
					rotation,
					container.Logger(),
					commands.DefaultIO().Writer,
					newSecretHex,
					cmd.String("reason"),
					cmd.String("actor-id"),
				)
			},
		},
		{
			Name:  "rotation-recover",
			Usage: "Mark rotation records abandoned by a crashed process as failed, releasing the rotation lock",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "key-type",
					Aliases: []string{"k"},
					Value:   "all",
					Usage:   "Key type to recover (phi_encryption_key, session_secret, all)",
				},
				&cli.DurationFlag{
					Name:  "older-than",
					Value: time.Hour,
					Usage: "Only recover open records older than this duration",
				},
				&cli.StringFlag{
					Name:  "actor-id",
					Value: "",
					Usage: "UUID of the operator triggering the recovery",
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				rotation, err := container.RotationUseCase()
				if err != nil {
					return err
				}

				return commands.RunRotationRecover(
					ctx,
					rotation,
					commands.DefaultIO().Writer,
					cmd.String("key-type"),
					cmd.Duration("older-than"),
					cmd.String("actor-id"),
				)
			},
		},
		{
			Name:  "key-age",
			Usage: "Report key ages against the rotation policy (non-zero exit when overdue)",
			Flags: []cli.Flag{
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

				rotation, err := container.RotationUseCase()
				if err != nil {
					return err
				}

				return commands.RunKeyAges(
					ctx,
					rotation,
					commands.DefaultIO().Writer,
					cmd.String("format"),
				)
			},
		},
	}
}
