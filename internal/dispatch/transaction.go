// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package dispatch

import "github.com/kvresp/kvresp/internal/protocol"

// TxState é o estado da máquina de transação de uma sessão. Uma sessão
// começa e retorna sempre a TxNone após EXEC ou DISCARD; nunca há um estado
// intermediário persistente entre comandos, já que EXEC roda sua fila
// inteira de forma síncrona antes de devolver a resposta.
type TxState int

const (
	TxNone TxState = iota
	TxPending
)

// queuedCommand é um comando acumulado entre MULTI e EXEC/DISCARD, já
// tokenizado em nome + argumentos (o frame original não precisa ser retido).
type queuedCommand struct {
	name string
	args []string
}

// Session concentra o estado de protocolo por conexão: a máquina de
// transação e a fila de comandos acumulada entre MULTI e EXEC/DISCARD. O
// status de réplica de uma conexão (pós-PSYNC) é rastreado pelo chamador em
// internal/server, não aqui, já que ele não afeta o despacho de comandos em
// si — apenas o que o laço de leitura da conexão faz com a resposta.
type Session struct {
	tx     TxState
	queued []queuedCommand
}

// NewSession cria uma sessão nova, sem transação em andamento.
func NewSession() *Session {
	return &Session{tx: TxNone}
}

// beginMulti inicia uma transação. Retorna um erro se uma já está em curso.
func (s *Session) beginMulti() protocol.Value {
	if s.tx == TxPending {
		return protocol.SimpleError("ERR MULTI calls can not be nested")
	}
	s.tx = TxPending
	s.queued = nil
	return protocol.SimpleString("OK")
}

// discard cancela a transação pendente.
func (s *Session) discard() protocol.Value {
	if s.tx != TxPending {
		return errWithinMulti("DISCARD")
	}
	s.tx = TxNone
	s.queued = nil
	return protocol.SimpleString("OK")
}

// enqueue acumula cmd na transação pendente.
func (s *Session) enqueue(name string, args []string) protocol.Value {
	s.queued = append(s.queued, queuedCommand{name: name, args: args})
	return protocol.SimpleString("QUEUED")
}
