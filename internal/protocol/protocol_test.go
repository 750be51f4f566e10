// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		v    Value
	}{
		{"simple string", SimpleString("OK")},
		{"simple error", SimpleError("ERR unknown command")},
		{"positive integer", Integer(42)},
		{"negative integer", Integer(-7)},
		{"zero integer", Integer(0)},
		{"bulk string", BulkStringFromString("hello")},
		{"empty bulk string", BulkString([]byte{})},
		{"null bulk string", NullBulkString()},
		{"binary bulk string", BulkString([]byte{0x00, 0xff, '\r', '\n'})},
		{"empty array", Array(nil)},
		{"null array", NullArray()},
		{"dedicated null", Null()},
		{"nested array", Array([]Value{
			BulkStringFromString("k"),
			Array([]Value{Integer(1), Integer(2)}),
			NullBulkString(),
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := Encode(tt.v)
			got, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !valuesEqual(got, tt.v) {
				t.Errorf("round trip mismatch: got %+v, want %+v", got, tt.v)
			}
		})
	}
}

func TestDecode_NullVsEmptyDistinction(t *testing.T) {
	if string(Encode(NullBulkString())) != "$-1\r\n" {
		t.Errorf("null bulk string wire form = %q", Encode(NullBulkString()))
	}
	if string(Encode(BulkString([]byte{}))) != "$0\r\n\r\n" {
		t.Errorf("empty bulk string wire form = %q", Encode(BulkString([]byte{})))
	}
	if string(Encode(NullArray())) != "*-1\r\n" {
		t.Errorf("null array wire form = %q", Encode(NullArray()))
	}
	if string(Encode(Array(nil))) != "*0\r\n" {
		t.Errorf("empty array wire form = %q", Encode(Array(nil)))
	}
}

func TestDecode_TruncatedPrefixYieldsShortBuffer(t *testing.T) {
	full := Encode(Array([]Value{
		BulkStringFromString("SET"),
		BulkStringFromString("k"),
		BulkStringFromString("v"),
	}))

	for n := 0; n < len(full); n++ {
		_, err := Decode(full[:n])
		if !errors.Is(err, ErrShortBuffer) {
			t.Fatalf("prefix of length %d: expected ErrShortBuffer, got %v", n, err)
		}
	}
}

func TestDecodeFrame_ConcatenatedFrames(t *testing.T) {
	var buf []byte
	buf = AppendEncode(buf, SimpleString("PONG"))
	buf = AppendEncode(buf, Integer(5))
	buf = AppendEncode(buf, BulkStringFromString("abc"))

	var got []Value
	pos := 0
	for pos < len(buf) {
		v, n, err := DecodeFrame(buf[pos:])
		if err != nil {
			t.Fatalf("DecodeFrame at %d: %v", pos, err)
		}
		got = append(got, v)
		pos += n
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(got))
	}
	if got[0].Str != "PONG" || got[1].Int != 5 || string(got[2].Bytes) != "abc" {
		t.Errorf("unexpected decoded frames: %+v", got)
	}
}

func TestDecode_UnknownPrefix(t *testing.T) {
	_, err := Decode([]byte("x\r\n"))
	var de *DecodeError
	if !errors.As(err, &de) || de.Kind != "unknown-prefix" {
		t.Fatalf("expected unknown-prefix DecodeError, got %v", err)
	}
}

func TestDecode_BulkStringUnterminated(t *testing.T) {
	// Declara 3 bytes mas não termina com CRLF.
	_, err := Decode([]byte("$3\r\nabcXX"))
	var de *DecodeError
	if !errors.As(err, &de) || de.Kind != "unterminated" {
		t.Fatalf("expected unterminated DecodeError, got %v", err)
	}
}

func TestSplitSimpleError(t *testing.T) {
	token, msg, ok := SplitSimpleError("WRONGTYPE Operation against a key holding the wrong kind of value")
	if !ok || token != "WRONGTYPE" || msg != "Operation against a key holding the wrong kind of value" {
		t.Errorf("unexpected split: token=%q msg=%q ok=%v", token, msg, ok)
	}

	_, _, ok = SplitSimpleError("lowercase prefix message")
	if ok {
		t.Errorf("expected ok=false for non-uppercase prefix")
	}
}

func valuesEqual(a, b Value) bool {
	if a.Kind != b.Kind || a.Null != b.Null || a.Int != b.Int || a.Str != b.Str {
		return false
	}
	if !bytes.Equal(a.Bytes, b.Bytes) {
		return false
	}
	if len(a.Items) != len(b.Items) {
		return false
	}
	for i := range a.Items {
		if !valuesEqual(a.Items[i], b.Items[i]) {
			return false
		}
	}
	return true
}
