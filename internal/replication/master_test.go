// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package replication

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/kvresp/kvresp/internal/protocol"
	"github.com/kvresp/kvresp/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
}

func TestPropagateFansOutToAttachedReplicas(t *testing.T) {
	ks := store.New()
	m := NewMaster(ks, discardLogger(), 0)

	var buf bytes.Buffer
	m.attach(1, &buf)

	m.Propagate("SET", []string{"k", "v"})

	v, n, err := protocol.DecodeFrame(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if n != buf.Len() {
		t.Fatalf("unexpected trailing bytes after propagated frame")
	}
	if len(v.Items) != 3 || string(v.Items[0].Bytes) != "SET" {
		t.Fatalf("propagated frame = %+v", v)
	}
}

func TestReplconfAckUpdatesOffsetAndSuppressesReply(t *testing.T) {
	ks := store.New()
	m := NewMaster(ks, discardLogger(), 0)

	var buf bytes.Buffer
	m.attach(7, &buf)

	_, ok := m.Replconf(7, []string{"ACK", "42"})
	if ok {
		t.Fatal("REPLCONF ACK should suppress a reply")
	}

	m.mu.Lock()
	h := m.replicas[7]
	m.mu.Unlock()
	if h.ackOffset.Load() != 42 {
		t.Fatalf("ackOffset = %d, want 42", h.ackOffset.Load())
	}
}

func TestWaitReturnsImmediatelyWhenNoReplicasRequired(t *testing.T) {
	ks := store.New()
	m := NewMaster(ks, discardLogger(), 0)

	start := time.Now()
	n := m.Wait(0, 100)
	if n != 0 {
		t.Fatalf("Wait = %d, want 0", n)
	}
	if time.Since(start) > 200*time.Millisecond {
		t.Fatalf("Wait took too long for a zero-replica requirement")
	}
}

func TestInfoReportsSlaveRoleWhenReplicaOfIsSet(t *testing.T) {
	ks := store.New()
	m := NewMaster(ks, discardLogger(), 0)

	if !strings.Contains(m.Info(), "role:master\r\n") {
		t.Fatalf("Info() before SetReplicaOf = %q, want role:master", m.Info())
	}

	m.SetReplicaOf("10.0.0.1", "6380")
	info := m.Info()
	if !strings.Contains(info, "role:slave\r\n") {
		t.Fatalf("Info() after SetReplicaOf = %q, want role:slave", info)
	}
	if !strings.Contains(info, "master_host:10.0.0.1\r\n") || !strings.Contains(info, "master_port:6380\r\n") {
		t.Fatalf("Info() after SetReplicaOf = %q, want master_host/master_port", info)
	}
}

func TestWaitTimesOutWithoutAck(t *testing.T) {
	ks := store.New()
	m := NewMaster(ks, discardLogger(), 0)

	var buf bytes.Buffer
	m.attach(1, &buf)
	m.Propagate("SET", []string{"k", "v"})

	start := time.Now()
	n := m.Wait(1, 100)
	if n != 0 {
		t.Fatalf("Wait = %d, want 0 (replica never acked)", n)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("Wait returned too early: %v", elapsed)
	}
}
