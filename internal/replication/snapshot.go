// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package replication

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/pgzip"

	"github.com/kvresp/kvresp/internal/protocol"
	"github.com/kvresp/kvresp/internal/store"
)

// EncodeSnapshot serializa o keyspace inteiro como um stream de comandos
// RESP concatenados e o comprime com pgzip (DEFLATE paralelo em blocos),
// mantendo o payload do FULLRESYNC pequeno sem travar a goroutine do PSYNC
// no laço de compressão de uma única CPU.
func EncodeSnapshot(ks *store.Keyspace) ([]byte, error) {
	var raw bytes.Buffer
	for _, cmd := range ks.DumpCommands() {
		items := make([]protocol.Value, 0, len(cmd))
		for _, tok := range cmd {
			items = append(items, protocol.BulkStringFromString(tok))
		}
		raw.Write(protocol.Encode(protocol.Array(items)))
	}

	var compressed bytes.Buffer
	zw := pgzip.NewWriter(&compressed)
	if _, err := zw.Write(raw.Bytes()); err != nil {
		zw.Close()
		return nil, fmt.Errorf("replication: compress snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("replication: close snapshot writer: %w", err)
	}
	return compressed.Bytes(), nil
}

// DecodeSnapshot reverte EncodeSnapshot, retornando a sequência de comandos
// na ordem em que devem ser reaplicados a um Keyspace vazio.
func DecodeSnapshot(data []byte) ([][]string, error) {
	zr, err := pgzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("replication: open snapshot reader: %w", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("replication: decompress snapshot: %w", err)
	}

	var commands [][]string
	pos := 0
	for pos < len(raw) {
		v, n, err := protocol.DecodeFrame(raw[pos:])
		if err != nil {
			return nil, fmt.Errorf("replication: decode snapshot frame at %d: %w", pos, err)
		}
		pos += n

		cmd := make([]string, 0, len(v.Items))
		for _, item := range v.Items {
			cmd = append(cmd, string(item.Bytes))
		}
		commands = append(commands, cmd)
	}
	return commands, nil
}
