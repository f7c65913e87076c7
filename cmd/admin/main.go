package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"peerlink/backend/internal/config"
	"peerlink/backend/internal/logger"
	"peerlink/backend/internal/matchmaking"
	"peerlink/backend/internal/rooms"
	"peerlink/backend/internal/storage"
	"time"

	"github.com/spf13/cobra"
)

var (
	envFile string
	svc     *storage.Service
)

var rootCmd = &cobra.Command{
	Use:           "admin",
	Short:         "Maintenance commands for the peerlink relay database",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(envFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger.New(cfg.Debug, true)
		db, err := storage.Open(cfg.DB)
		if err != nil {
			return err
		}
		// No redis needed for admin CLI
		svc = storage.NewStorageService(db, nil)
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep-expired",
	Short: "Expire every overdue pending match request once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := matchmaking.NewManager(svc, nil, nil, 0)
		n, err := mgr.ExpireOverdue(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Expired %d request(s).\n", n)
		return nil
	},
}

var resetPresenceCmd = &cobra.Command{
	Use:   "reset-presence",
	Short: "Mark every user offline, e.g. after a crash",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := svc.ResetPresence(cmd.Context(), time.Now().UTC())
		if err != nil {
			return err
		}
		fmt.Printf("Marked %d user(s) offline.\n", n)
		return nil
	},
}

var roomCmd = &cobra.Command{
	Use:   "room <code>",
	Short: "Print a room and its participants as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		view, err := rooms.NewRegistry(svc, nil, nil).GetByCode(cmd.Context(), args[0], "")
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	},
}

var grantCmd = &cobra.Command{
	Use:   "grant <granter_id> <grantee_id>",
	Short: "Create or reactivate a friend grant between two users",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, id := range args {
			if _, err := svc.GetUser(cmd.Context(), id); err != nil {
				return err
			}
		}
		grant, err := svc.SaveGrant(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Grant %d: %s -> %s (active=%t)\n", grant.ID, grant.GranterID, grant.GranteeID, grant.IsActive)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "env file to load before reading PEERLINK_* variables")
	rootCmd.AddCommand(sweepCmd, resetPresenceCmd, roomCmd, grantCmd)
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
