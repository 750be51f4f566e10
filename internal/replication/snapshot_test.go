// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package replication

import (
	"testing"
	"time"

	"github.com/kvresp/kvresp/internal/store"
)

func TestEncodeDecodeSnapshotRoundTrip(t *testing.T) {
	ks := store.New()
	ks.Set("greeting", []byte("hello"), time.Time{})
	ks.Push("queue", [][]byte{[]byte("a"), []byte("b")}, false)
	ks.XAdd("events", store.StreamID{Time: 1}, true, true, []string{"kind", "start"})

	blob, err := EncodeSnapshot(ks)
	if err != nil {
		t.Fatalf("EncodeSnapshot: %v", err)
	}

	commands, err := DecodeSnapshot(blob)
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	if len(commands) != 3 {
		t.Fatalf("decoded %d commands, want 3", len(commands))
	}

	replayed := store.New()
	for _, cmd := range commands {
		switch cmd[0] {
		case "SET":
			replayed.Set(cmd[1], []byte(cmd[2]), time.Time{})
		case "RPUSH":
			values := make([][]byte, 0, len(cmd)-2)
			for _, v := range cmd[2:] {
				values = append(values, []byte(v))
			}
			replayed.Push(cmd[1], values, false)
		case "XADD":
			id, hasSeq, err := store.ParseStreamID(cmd[2])
			if err != nil {
				t.Fatalf("ParseStreamID: %v", err)
			}
			if _, err := replayed.XAdd(cmd[1], id, hasSeq, true, cmd[3:]); err != nil {
				t.Fatalf("XAdd: %v", err)
			}
		}
	}

	v, ok := replayed.Get("greeting")
	if !ok || string(v) != "hello" {
		t.Errorf("replayed greeting = %q, %v", v, ok)
	}
	if n, _ := replayed.LLen("queue"); n != 2 {
		t.Errorf("replayed queue length = %d, want 2", n)
	}
	if n := replayed.XLen("events"); n != 1 {
		t.Errorf("replayed events length = %d, want 1", n)
	}
}
