package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/nimasrn/voucher-gateway/internal/config"
	"github.com/nimasrn/voucher-gateway/internal/repository"
	"github.com/nimasrn/voucher-gateway/internal/services"
	"github.com/nimasrn/voucher-gateway/pkg/logger"
	"github.com/nimasrn/voucher-gateway/pkg/pg"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var version = "dev"

// Usage:
//
//	cli migrate --env=.env --dir=./migrations --cmd=up
//	cli create-account --env=.env --username=reseller --pin=123456
func main() {
	rootCmd := &cobra.Command{
		Use:           "cli",
		Short:         "Maintenance commands for the voucher gateway",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("env", "", "path to an env file (defaults to ./.env when present)")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(createAccountCmd())

	if err := rootCmd.Execute(); err != nil {
		logger.Error("cli failed", "error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run goose migrations against the write database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pgConf, err := loadPgConfig(cmd)
			if err != nil {
				return err
			}
			dir, _ := cmd.Flags().GetString("dir")
			command, _ := cmd.Flags().GetString("cmd")
			if err := pg.Migrate(pgConf, dir, command); err != nil {
				return errors.Wrap(err, "migration: error running migrations")
			}
			logger.Info("migrations applied", "dir", dir, "cmd", command)
			return nil
		},
	}
	cmd.Flags().String("dir", "./migrations", "migrations directory")
	cmd.Flags().String("cmd", "up", "goose command (up, down, status, ...)")
	return cmd
}

func createAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-account",
		Short: "Create a reseller account with a 6 digit PIN",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			username, _ := cmd.Flags().GetString("username")
			pin, _ := cmd.Flags().GetString("pin")

			pgConf, err := loadPgConfig(cmd)
			if err != nil {
				return err
			}
			gdb, err := pg.Create(pgConf, false)
			if err != nil {
				return errors.Wrap(err, "failed connecting to pg")
			}
			accounts := repository.NewAccountRepository(pg.NewDB(gdb, gdb))

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			account, err := services.NewPinService(accounts).CreateAccount(ctx, username, pin)
			if err != nil {
				return errors.Wrapf(err, "failed to create account %q", username)
			}
			logger.Info("account created", "username", account.Username, "id", account.ID)
			return nil
		},
	}
	cmd.Flags().String("username", "", "account username")
	cmd.Flags().String("pin", "", "6 digit PIN")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("pin")
	return cmd
}

func loadPgConfig(cmd *cobra.Command) (pg.Config, error) {
	envPath, _ := cmd.Flags().GetString("env")
	if envPath == "" {
		if _, err := os.Stat(".env"); err == nil {
			envPath = ".env"
		}
	} else if _, err := os.Stat(envPath); err != nil {
		return pg.Config{}, errors.Wrap(err, "failed to open the passed env file")
	}

	if err := config.Load(envPath); err != nil {
		return pg.Config{}, errors.Wrap(err, "failed to load config")
	}
	return pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}, nil
}
