// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package dispatch traduz frames RESP decodificados em operações sobre o
// keyspace, o estado de transação por conexão e o fan-out de replicação.
package dispatch

import "github.com/kvresp/kvresp/internal/protocol"

func errWrongType() protocol.Value {
	return protocol.SimpleError("WRONGTYPE Operation against a key holding the wrong kind of value")
}

func errNotInteger() protocol.Value {
	return protocol.SimpleError("ERR value is not an integer or out of range")
}

func errWrongArgs(cmd string) protocol.Value {
	return protocol.Errorf("ERR", "wrong number of arguments for '%s' command", cmd)
}

func errUnknownCommand(cmd string, args []string) protocol.Value {
	return protocol.Errorf("ERR", "unknown command '%s', with args beginning with: %s", cmd, firstArgPreview(args))
}

func firstArgPreview(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return "'" + args[0] + "', "
}

func errGeneric(format string, args ...any) protocol.Value {
	return protocol.Errorf("ERR", format, args...)
}

func errSyntax() protocol.Value {
	return protocol.SimpleError("ERR syntax error")
}

func errInvalidStreamID() protocol.Value {
	return protocol.SimpleError("ERR Invalid stream ID specified as stream command argument")
}

func errWithinMulti(what string) protocol.Value {
	return protocol.Errorf("ERR", "%s without MULTI", what)
}
