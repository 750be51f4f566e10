// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// systemStats são as métricas de processo reportadas periodicamente pelo
// log de observabilidade ("server stats"); o INFO não as inclui.
type systemStats struct {
	CPUPercent    float64
	MemoryPercent float64
	LoadAverage   float64
}

// systemMonitor amostra métricas do sistema operacional a intervalos
// regulares, sem bloquear o caminho de comando: o log periódico lê o
// último valor amostrado em vez de coletar sob demanda.
type systemMonitor struct {
	mu    sync.RWMutex
	stats systemStats
}

func newSystemMonitor() *systemMonitor {
	return &systemMonitor{}
}

func (m *systemMonitor) collect(log *slog.Logger) {
	var s systemStats
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	} else if err != nil {
		log.Debug("collecting cpu stats", "err", err)
	}
	if v, err := mem.VirtualMemory(); err == nil {
		s.MemoryPercent = v.UsedPercent
	} else {
		log.Debug("collecting memory stats", "err", err)
	}
	if l, err := load.Avg(); err == nil {
		s.LoadAverage = l.Load1
	} else {
		log.Debug("collecting load stats", "err", err)
	}

	m.mu.Lock()
	m.stats = s
	m.mu.Unlock()
}

func (m *systemMonitor) Stats() systemStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// startScheduledJobs registra os jobs periódicos do servidor em um único
// cron.Cron: varredura de expiração ativa, amostragem de métricas de
// sistema e, se configurado, arquivamento do keyspace em S3. O cron
// retornado deve ser parado pelo chamador no shutdown.
func (s *Server) startScheduledJobs(ctx context.Context) (*cron.Cron, error) {
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(s.log.Handler(), slog.LevelDebug))))

	if _, err := c.AddFunc("@every 10s", func() {
		if n := s.store.SweepExpired(); n > 0 {
			s.log.Debug("active expiration sweep", "removed", n)
		}
	}); err != nil {
		return nil, fmt.Errorf("scheduling expiration sweep: %w", err)
	}

	if _, err := c.AddFunc("@every 15s", func() {
		s.monitor.collect(s.log)
		stats := s.monitor.Stats()
		s.log.Info("server stats",
			"cpu_percent", stats.CPUPercent,
			"memory_percent", stats.MemoryPercent,
			"load1", stats.LoadAverage,
			"keys", s.store.KeyCount(),
		)
	}); err != nil {
		return nil, fmt.Errorf("scheduling stats sampling: %w", err)
	}

	if s.archiver != nil {
		spec := fmt.Sprintf("@every %ds", s.cfg.Snapshot.IntervalSeconds)
		if _, err := c.AddFunc(spec, func() {
			archiveCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			if _, err := s.archiver.Archive(archiveCtx, s.store, time.Now()); err != nil {
				s.log.Warn("snapshot archival failed", "err", err)
			}
		}); err != nil {
			return nil, fmt.Errorf("scheduling snapshot archival: %w", err)
		}
	}

	c.Start()
	return c, nil
}
