// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package server implementa o servidor kvresp: o laço de aceitação de
// conexões, o despacho por conexão e os jobs periódicos de observabilidade
// e arquivamento.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/kvresp/kvresp/internal/config"
	"github.com/kvresp/kvresp/internal/dispatch"
	"github.com/kvresp/kvresp/internal/replication"
	"github.com/kvresp/kvresp/internal/store"
)

// Server concentra o estado compartilhado entre todas as conexões aceitas:
// o keyspace, o dispatcher e, quando aplicável, o lado master ou replica da
// replicação.
type Server struct {
	cfg        *config.Config
	log        *slog.Logger
	store      *store.Keyspace
	dispatcher *dispatch.Dispatcher
	master     *replication.Master // sempre criado por New, inclusive quando este processo é replica
	replica    *replication.Replica
	archiver   *replication.Archiver

	nextSessionID atomic.Uint64
	monitor       *systemMonitor
}

// New constrói um Server a partir de cfg, sem iniciar nenhuma goroutine.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Server, error) {
	ks := store.New()

	s := &Server{cfg: cfg, log: log, store: ks}

	// O papel de master (aceitar PSYNC e propagar escritas) está sempre
	// disponível, mesmo quando este processo também é replica de outro
	// servidor: a topologia suportada é master/replica de um único nível,
	// não uma cadeia, mas nada impede um cliente de consultar este processo
	// diretamente como leitor.
	s.master = replication.NewMaster(ks, log, cfg.Replication.MaxBytesPerSecPerReplica)

	s.dispatcher = &dispatch.Dispatcher{Store: ks, Repl: s.master, Log: log}

	if cfg.Server.ReplicaOf != "" {
		host, port := cfg.ReplicaOfHostPort()
		s.replica = &replication.Replica{
			MasterHost: host,
			MasterPort: port,
			ListenPort: fmt.Sprintf("%d", cfg.Server.Port),
			Dispatcher: s.dispatcher,
			Log:        log,
		}
		s.master.SetReplicaOf(host, port)
	}

	if cfg.Snapshot.S3Bucket != "" {
		archiver, err := replication.NewArchiver(ctx, cfg.Snapshot.S3Bucket, cfg.Snapshot.S3Prefix, log)
		if err != nil {
			return nil, fmt.Errorf("configuring snapshot archiver: %w", err)
		}
		s.archiver = archiver
	}

	s.monitor = newSystemMonitor()

	return s, nil
}

// Run inicia o listener TCP e bloqueia até ctx ser cancelado. Também inicia
// o cliente de replicação (se configurado) e os jobs periódicos de
// varredura de expiração, amostragem de métricas e arquivamento em S3.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	defer ln.Close()

	s.log.Info("kvresp server listening", "address", addr, "replica_of", s.cfg.Server.ReplicaOf)

	if s.replica != nil {
		go s.replica.Run(ctx)
	}

	jobs, err := s.startScheduledJobs(ctx)
	if err != nil {
		return fmt.Errorf("starting scheduled jobs: %w", err)
	}
	defer jobs.Stop()

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down kvresp server")
		ln.Close()
	}()

	consecutiveErrors := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.log.Info("server shutdown complete")
				return nil
			default:
				consecutiveErrors++
				s.log.Error("accepting connection", "err", err, "consecutive_errors", consecutiveErrors)
				if consecutiveErrors > 5 {
					delay := time.Duration(consecutiveErrors) * 100 * time.Millisecond
					if delay > 5*time.Second {
						delay = 5 * time.Second
					}
					time.Sleep(delay)
				}
				continue
			}
		}
		consecutiveErrors = 0

		sessionID := s.nextSessionID.Add(1)
		go s.handleConnection(ctx, conn, sessionID)
	}
}
