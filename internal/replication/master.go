// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package replication implementa o papel de master (aceitar PSYNC, manter o
// registro de replicas e propagar comandos de escrita) e o papel de replica
// (handshake com o master, ingestão do snapshot e aplicação contínua do
// stream de comandos recebido).
package replication

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kvresp/kvresp/internal/protocol"
	"github.com/kvresp/kvresp/internal/store"
)

// replicaHandle é o estado que o master mantém por conexão promovida a
// replica via PSYNC.
type replicaHandle struct {
	id            uint64
	mu            sync.Mutex // serializa escritas no link; o fan-out roda de múltiplas goroutines de comando
	w             io.Writer
	listeningPort string
	ackOffset     atomic.Int64
}

// Master é o lado que aceita conexões de replica e propaga escritas. Mesmo
// quando este processo também é replica de outro servidor (topologia
// master/replica de um único nível — ver internal/server.New), o papel de
// master continua disponível para que clientes consultem este processo
// diretamente; replicaOfHost/Port, quando preenchidos via SetReplicaOf,
// apenas mudam o que Info() reporta, não o fan-out em si.
type Master struct {
	Store                 *store.Keyspace
	Log                   *slog.Logger
	BytesPerSecPerReplica int

	replID string
	offset atomic.Int64

	mu            sync.Mutex
	replicas      map[uint64]*replicaHandle
	replicaOfHost string
	replicaOfPort string
}

// NewMaster cria um Master com um novo replication id aleatório de 40
// caracteres hexadecimais, no formato usado pelo protocolo de fio.
func NewMaster(ks *store.Keyspace, log *slog.Logger, bytesPerSecPerReplica int) *Master {
	return &Master{
		Store:                 ks,
		Log:                   log,
		BytesPerSecPerReplica: bytesPerSecPerReplica,
		replID:                randomReplID(),
		replicas:              make(map[uint64]*replicaHandle),
	}
}

func randomReplID() string {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return "0000000000000000000000000000000000000000"
	}
	return hex.EncodeToString(b)
}

// attach associa sessionID a um writer bruto de conexão, usado por Psync
// assim que o FULLRESYNC é negociado nessa sessão.
func (m *Master) attach(sessionID uint64, w io.Writer) *replicaHandle {
	h := &replicaHandle{id: sessionID, w: w}
	m.mu.Lock()
	m.replicas[sessionID] = h
	m.mu.Unlock()
	return h
}

// Detach remove uma réplica do registro de fan-out, chamado pelo loop da
// conexão quando o link cai.
func (m *Master) Detach(sessionID uint64) {
	m.mu.Lock()
	delete(m.replicas, sessionID)
	m.mu.Unlock()
}

// Propagate codifica name/args como um array RESP e o envia a cada replica
// conectada, avançando o offset de replicação uma única vez por comando
// (não por replica), já que o offset representa a posição no stream lógico
// do master, não bytes entregues a um destinatário específico.
func (m *Master) Propagate(name string, args []string) {
	frame := commandFrame(name, args)
	encoded := protocol.Encode(frame)
	m.offset.Add(int64(len(encoded)))

	m.mu.Lock()
	handles := make([]*replicaHandle, 0, len(m.replicas))
	for _, h := range m.replicas {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		h.mu.Lock()
		_, err := h.w.Write(encoded)
		h.mu.Unlock()
		if err != nil && m.Log != nil {
			m.Log.Warn("replication: fan-out write failed", "replica_id", h.id, "err", err)
		}
	}
}

func commandFrame(name string, args []string) protocol.Value {
	items := make([]protocol.Value, 0, len(args)+1)
	items = append(items, protocol.BulkStringFromString(name))
	for _, a := range args {
		items = append(items, protocol.BulkStringFromString(a))
	}
	return protocol.Array(items)
}

// Replconf implementa dispatch.ReplicationHub.Replconf.
func (m *Master) Replconf(sessionID uint64, args []string) (protocol.Value, bool) {
	if len(args) == 0 {
		return protocol.SimpleString("OK"), true
	}
	switch strings.ToUpper(args[0]) {
	case "LISTENING-PORT":
		if len(args) == 2 {
			m.mu.Lock()
			if h, ok := m.replicas[sessionID]; ok {
				h.listeningPort = args[1]
			}
			m.mu.Unlock()
		}
		return protocol.SimpleString("OK"), true
	case "ACK":
		if len(args) == 2 {
			if n, err := strconv.ParseInt(args[1], 10, 64); err == nil {
				m.mu.Lock()
				h := m.replicas[sessionID]
				m.mu.Unlock()
				if h != nil {
					h.ackOffset.Store(n)
				}
			}
		}
		return protocol.Value{}, false
	default:
		return protocol.SimpleString("OK"), true
	}
}

// Psync implementa dispatch.ReplicationHub.Psync: responde FULLRESYNC e
// transfere um snapshot completo do keyspace, então registra a conexão para
// receber o fan-out subsequente.
func (m *Master) Psync(sessionID uint64, args []string, w io.Writer) error {
	throttled := NewThrottledWriter(context.Background(), w, m.BytesPerSecPerReplica)

	baseOffset := m.offset.Load()
	header := fmt.Sprintf("+FULLRESYNC %s %d\r\n", m.replID, baseOffset)
	if _, err := throttled.Write([]byte(header)); err != nil {
		return err
	}

	snapshot, err := EncodeSnapshot(m.Store)
	if err != nil {
		return err
	}
	if _, err := throttled.Write(protocol.Encode(protocol.BulkString(snapshot))); err != nil {
		return err
	}

	m.attach(sessionID, throttled)
	if m.Log != nil {
		m.Log.Info("replication: replica attached", "replica_id", sessionID, "snapshot_bytes", len(snapshot))
	}
	return nil
}

// Wait bloqueia até numReplicas terem confirmado (via REPLCONF ACK) um
// offset igual ou superior ao offset corrente do master, ou até timeoutMs
// decorrer (0 bloqueia indefinidamente). Antes de esperar, solicita um ACK
// imediato de todas as réplicas (REPLCONF GETACK *); o master não envia
// GETACK em nenhum outro momento.
func (m *Master) Wait(numReplicas int, timeoutMillis int64) int64 {
	target := m.offset.Load()
	m.broadcastGetAck()

	deadline := time.Time{}
	if timeoutMillis > 0 {
		deadline = time.Now().Add(time.Duration(timeoutMillis) * time.Millisecond)
	}

	for {
		count := m.countAcked(target)
		if count >= int64(numReplicas) {
			return count
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return count
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func (m *Master) broadcastGetAck() {
	frame := commandFrame("REPLCONF", []string{"GETACK", "*"})
	encoded := protocol.Encode(frame)

	m.mu.Lock()
	handles := make([]*replicaHandle, 0, len(m.replicas))
	for _, h := range m.replicas {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		h.mu.Lock()
		h.w.Write(encoded)
		h.mu.Unlock()
	}
}

func (m *Master) countAcked(target int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, h := range m.replicas {
		if h.ackOffset.Load() >= target {
			n++
		}
	}
	return n
}

// SetReplicaOf marca este Master como subordinado a um master remoto em
// host/port, alterando apenas o que Info() reporta (role/master_host/
// master_port). O fan-out e o registro de replicas continuam funcionando
// normalmente: a topologia suportada é master/replica de um único nível,
// não uma cadeia, e nada impede um cliente de consultar este processo
// diretamente como leitor mesmo enquanto ele replica de outro servidor.
func (m *Master) SetReplicaOf(host, port string) {
	m.mu.Lock()
	m.replicaOfHost = host
	m.replicaOfPort = port
	m.mu.Unlock()
}

// Info implementa dispatch.ReplicationHub.Info.
func (m *Master) Info() string {
	m.mu.Lock()
	n := len(m.replicas)
	host, port := m.replicaOfHost, m.replicaOfPort
	m.mu.Unlock()

	var b strings.Builder
	if host != "" {
		b.WriteString("role:slave\r\n")
		fmt.Fprintf(&b, "master_host:%s\r\n", host)
		fmt.Fprintf(&b, "master_port:%s\r\n", port)
	} else {
		b.WriteString("role:master\r\n")
	}
	fmt.Fprintf(&b, "connected_slaves:%d\r\n", n)
	fmt.Fprintf(&b, "master_replid:%s\r\n", m.replID)
	fmt.Fprintf(&b, "master_repl_offset:%d\r\n", m.offset.Load())
	return b.String()
}
