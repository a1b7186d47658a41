/*
Package main implements the book snapshot retention manager.

The raw book logs dominate the vault's disk footprint, so partitions past
the uncompressed window are gzipped in place and compressed partitions past
the retention horizon are deleted. Trades and derived streams are small and
kept indefinitely.

Usage:

	go run main.go -config=.
*/
package main

import (
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Rbear69/system-of-monelith/internal/retention"
	"github.com/Rbear69/system-of-monelith/internal/vault"
)

var (
	configDir = flag.String("config", ".", "Directory containing vault.yaml")
)

func main() {
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := vault.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	booksRoot := filepath.Join(cfg.Root, "raw", "okx", "l2_perps")
	now := time.Now()

	compressed, err := retention.CompressOlderThan(booksRoot,
		now.Add(-time.Duration(cfg.UncompressedHours)*time.Hour))
	if err != nil {
		log.Fatal().Err(err).Msg("compression pass failed")
	}

	deleted, err := retention.DeleteCompressedOlderThan(booksRoot,
		now.Add(-time.Duration(cfg.RetentionDays)*24*time.Hour))
	if err != nil {
		log.Fatal().Err(err).Msg("deletion pass failed")
	}

	log.Info().
		Str("root", booksRoot).
		Int("compressed", compressed).
		Int("deleted", deleted).
		Int("uncompressed_hours", cfg.UncompressedHours).
		Int("retention_days", cfg.RetentionDays).
		Msg("retention complete")
}
