// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kvresp/kvresp/internal/config"
	"github.com/kvresp/kvresp/internal/logging"
	"github.com/kvresp/kvresp/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to server config file (optional, flags below override it)")
	port := flag.Int("port", 0, "TCP port to listen on (default 6380)")
	replicaOf := flag.String("replicaof", "", "\"host port\" of a master to replicate from")
	maxConnBytesPerSec := flag.Int("max-conn-bytes-per-sec", 0, "per-client write rate limit in bytes/s (0 disables)")
	maxReplicaBytesPerSec := flag.Int("max-replica-bytes-per-sec", 0, "per-replica fan-out rate limit in bytes/s (0 disables)")
	snapshotBucket := flag.String("snapshot-s3-bucket", "", "S3 bucket for periodic snapshot archival (optional)")
	logLevel := flag.String("log-level", "", "debug, info, warn or error")
	logFormat := flag.String("log-format", "", "json or text")
	logFile := flag.String("log-file", "", "optional path to also write logs to a file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	applyFlagOverrides(cfg, *port, *replicaOf, *maxConnBytesPerSec, *maxReplicaBytesPerSec, *snapshotBucket, *logLevel, *logFormat, *logFile)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error in config after applying flags: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize server", "err", err)
		os.Exit(1)
	}
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}

func applyFlagOverrides(cfg *config.Config, port int, replicaOf string, maxConnBps, maxReplicaBps int, bucket, level, format, file string) {
	if port != 0 {
		cfg.Server.Port = port
	}
	if replicaOf != "" {
		cfg.Server.ReplicaOf = replicaOf
	}
	if maxConnBps != 0 {
		cfg.Server.MaxBytesPerSecPerConn = maxConnBps
	}
	if maxReplicaBps != 0 {
		cfg.Replication.MaxBytesPerSecPerReplica = maxReplicaBps
	}
	if bucket != "" {
		cfg.Snapshot.S3Bucket = bucket
	}
	if level != "" {
		cfg.Logging.Level = level
	}
	if format != "" {
		cfg.Logging.Format = format
	}
	if file != "" {
		cfg.Logging.File = file
	}
}
