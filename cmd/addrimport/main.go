// Command addrimport bulk-registers watched addresses from a newline
// delimited file, the same classification POST /addresses performs but
// without going through the REST layer — useful for seeding a new
// deployment or migrating a watchlist.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bsv-watch/address-tracker/internal/logging"
	"github.com/bsv-watch/address-tracker/internal/model"
	"github.com/bsv-watch/address-tracker/internal/store"
	"github.com/bsv-watch/address-tracker/internal/txparse"
	"github.com/bsv-watch/address-tracker/pkg/config"
)

func main() {
	rootCmd := &cobra.Command{Use: "addrimport"}
	rootCmd.AddCommand(importCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func importCmd() *cobra.Command {
	var file string
	var label string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "import watched addresses from a file, one per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), file, label)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to a newline-delimited address list (required)")
	cmd.Flags().StringVar(&label, "label", "", "optional label applied to every imported address")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runImport(ctx context.Context, file, label string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	network, err := txparse.ParseNetwork(cfg.Network.BSVNetwork)
	if err != nil {
		return err
	}

	st, err := store.Connect(ctx, cfg.Store.MongoURL, cfg.Store.Database)
	if err != nil {
		return err
	}
	defer st.Close(ctx)

	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	var added, skipped, invalid int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		addr := strings.TrimSpace(scanner.Text())
		if addr == "" || strings.HasPrefix(addr, "#") {
			continue
		}
		if !txparse.ValidateAddress(addr, network) {
			log.WithField("address", addr).Warn("addrimport: invalid address, skipping")
			invalid++
			continue
		}

		record := &model.WatchedAddress{
			Address:   addr,
			Active:    true,
			CreatedAt: time.Now(),
		}
		if label != "" {
			record.Label = &label
		}

		created, err := st.UpsertAddress(ctx, record)
		if err != nil {
			log.WithError(err).WithField("address", addr).Error("addrimport: failed to insert address")
			continue
		}
		if created {
			added++
		} else {
			skipped++
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fmt.Printf("imported %d addresses (%d already present, %d invalid)\n", added, skipped, invalid)
	return nil
}
