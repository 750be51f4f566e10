// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package dispatch

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/kvresp/kvresp/internal/protocol"
	"github.com/kvresp/kvresp/internal/store"
)

func newTestDispatcher() *Dispatcher {
	return &Dispatcher{Store: store.New()}
}

func command(parts ...string) protocol.Value {
	items := make([]protocol.Value, 0, len(parts))
	for _, p := range parts {
		items = append(items, protocol.BulkStringFromString(p))
	}
	return protocol.Array(items)
}

func TestSetGet(t *testing.T) {
	d := newTestDispatcher()
	sess := NewSession()

	out := d.Dispatch(1, sess, command("SET", "k", "v"), io.Discard)
	if out.Reply.Str != "OK" {
		t.Fatalf("SET reply = %+v", out.Reply)
	}

	out = d.Dispatch(1, sess, command("GET", "k"), io.Discard)
	if string(out.Reply.Bytes) != "v" {
		t.Fatalf("GET reply = %+v", out.Reply)
	}
}

func TestGetMissingReturnsNullBulkString(t *testing.T) {
	d := newTestDispatcher()
	sess := NewSession()

	out := d.Dispatch(1, sess, command("GET", "absent"), io.Discard)
	if out.Reply.Kind != protocol.KindBulkString || !out.Reply.Null {
		t.Fatalf("GET reply = %+v, want null bulk string", out.Reply)
	}
}

func TestIncrWrongTypeError(t *testing.T) {
	d := newTestDispatcher()
	sess := NewSession()
	d.Dispatch(1, sess, command("RPUSH", "l", "x"), io.Discard)

	out := d.Dispatch(1, sess, command("INCR", "l"), io.Discard)
	if out.Reply.Kind != protocol.KindSimpleError {
		t.Fatalf("INCR on list reply = %+v, want error", out.Reply)
	}
}

func TestMultiExecQueuesAndRunsInOrder(t *testing.T) {
	d := newTestDispatcher()
	sess := NewSession()

	out := d.Dispatch(1, sess, command("MULTI"), io.Discard)
	if out.Reply.Str != "OK" {
		t.Fatalf("MULTI reply = %+v", out.Reply)
	}

	out = d.Dispatch(1, sess, command("SET", "k", "1"), io.Discard)
	if out.Reply.Str != "QUEUED" {
		t.Fatalf("queued SET reply = %+v", out.Reply)
	}
	out = d.Dispatch(1, sess, command("INCR", "k"), io.Discard)
	if out.Reply.Str != "QUEUED" {
		t.Fatalf("queued INCR reply = %+v", out.Reply)
	}

	out = d.Dispatch(1, sess, command("EXEC"), io.Discard)
	if out.Reply.Kind != protocol.KindArray || len(out.Reply.Items) != 2 {
		t.Fatalf("EXEC reply = %+v", out.Reply)
	}
	if out.Reply.Items[0].Str != "OK" {
		t.Errorf("EXEC[0] = %+v", out.Reply.Items[0])
	}
	if out.Reply.Items[1].Int != 2 {
		t.Errorf("EXEC[1] = %+v, want Int=2", out.Reply.Items[1])
	}

	if sess.tx != TxNone {
		t.Errorf("session tx state after EXEC = %v, want TxNone", sess.tx)
	}
}

func TestDiscardCancelsQueue(t *testing.T) {
	d := newTestDispatcher()
	sess := NewSession()

	d.Dispatch(1, sess, command("MULTI"), io.Discard)
	d.Dispatch(1, sess, command("SET", "k", "v"), io.Discard)
	out := d.Dispatch(1, sess, command("DISCARD"), io.Discard)
	if out.Reply.Str != "OK" {
		t.Fatalf("DISCARD reply = %+v", out.Reply)
	}

	out = d.Dispatch(1, sess, command("GET", "k"), io.Discard)
	if !out.Reply.Null {
		t.Fatalf("GET after DISCARD should be null, got %+v", out.Reply)
	}
}

func TestExecWithoutMultiErrors(t *testing.T) {
	d := newTestDispatcher()
	sess := NewSession()

	out := d.Dispatch(1, sess, command("EXEC"), io.Discard)
	if out.Reply.Kind != protocol.KindSimpleError {
		t.Fatalf("EXEC without MULTI reply = %+v, want error", out.Reply)
	}
}

func TestBLPopDeliversAcrossConnections(t *testing.T) {
	d := newTestDispatcher()

	result := make(chan protocol.Value, 1)
	go func() {
		sess := NewSession()
		out := d.Dispatch(1, sess, command("BLPOP", "q", "1"), io.Discard)
		result <- out.Reply
	}()

	time.Sleep(50 * time.Millisecond)
	d.Dispatch(2, NewSession(), command("RPUSH", "q", "x"), io.Discard)

	select {
	case reply := <-result:
		if reply.Kind != protocol.KindArray || len(reply.Items) != 2 || string(reply.Items[1].Bytes) != "x" {
			t.Fatalf("BLPOP reply = %+v", reply)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("BLPOP did not resolve")
	}
}

func TestXAddAndXRange(t *testing.T) {
	d := newTestDispatcher()
	sess := NewSession()

	out := d.Dispatch(1, sess, command("XADD", "s", "5-1", "temp", "20"), io.Discard)
	if out.Reply.Kind != protocol.KindBulkString || string(out.Reply.Bytes) != "5-1" {
		t.Fatalf("XADD reply = %+v", out.Reply)
	}

	out = d.Dispatch(1, sess, command("XRANGE", "s", "-", "+"), io.Discard)
	if len(out.Reply.Items) != 1 {
		t.Fatalf("XRANGE reply = %+v", out.Reply)
	}
}

func TestUnknownCommand(t *testing.T) {
	d := newTestDispatcher()
	out := d.Dispatch(1, NewSession(), command("FROBNICATE", "x"), io.Discard)
	if out.Reply.Kind != protocol.KindSimpleError {
		t.Fatalf("unknown command reply = %+v, want error", out.Reply)
	}
}

func TestPsyncWithoutReplicationConfigured(t *testing.T) {
	d := newTestDispatcher()
	var buf bytes.Buffer
	out := d.Dispatch(1, NewSession(), command("PSYNC", "?", "-1"), &buf)
	if out.Reply.Kind != protocol.KindSimpleError {
		t.Fatalf("PSYNC without replication reply = %+v, want error", out.Reply)
	}
}
