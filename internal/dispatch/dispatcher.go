// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package dispatch

import (
	"io"
	"log/slog"
	"strings"

	"github.com/kvresp/kvresp/internal/protocol"
	"github.com/kvresp/kvresp/internal/store"
)

// ReplicationHub é o subconjunto de internal/replication que o dispatcher
// precisa para atender REPLCONF/PSYNC/WAIT e para propagar comandos de
// escrita aos replicas conectados. Uma interface mantém dispatch livre de um
// import direto de replication, que por sua vez depende de dispatch para
// reaplicar comandos recebidos do master.
type ReplicationHub interface {
	// Propagate encaminha um comando de escrita já aplicado localmente a
	// todos os replicas conectados.
	Propagate(name string, args []string)

	// Replconf atende REPLCONF <opção> <valor> .... ok é false para
	// REPLCONF ACK, que é informativo e nunca recebe resposta.
	Replconf(sessionID uint64, args []string) (reply protocol.Value, ok bool)

	// Psync atende PSYNC <replid> <offset>: escreve o FULLRESYNC e o
	// snapshot diretamente em w e registra a conexão como réplica. Retorna
	// erro se o snapshot não pôde ser produzido.
	Psync(sessionID uint64, args []string, w io.Writer) error

	// Wait bloqueia até numReplicas terem confirmado o offset de replicação
	// atual ou o timeout (ms) decorrer, retornando a contagem confirmada.
	Wait(numReplicas int, timeoutMillis int64) int64

	// Info retorna as linhas da seção de replicação do comando INFO.
	Info() string
}

// Dispatcher aplica comandos RESP decodificados ao keyspace compartilhado,
// cuidando de enfileiramento de transação e fan-out de replicação. Uma
// instância é compartilhada por todas as conexões.
type Dispatcher struct {
	Store *store.Keyspace
	Repl  ReplicationHub // nil quando a replicação está desabilitada
	Log   *slog.Logger
}

// Outcome descreve o resultado de Dispatch. Na maioria dos comandos apenas
// Reply é preenchido; PSYNC e o modo réplica usam os demais campos porque
// escrevem diretamente no writer da conexão em vez de devolver um Value.
type Outcome struct {
	Reply             protocol.Value
	Skip              bool // handler já escreveu a resposta em w; não reenviar Reply
	BecomeReplicaFeed bool // conexão deve parar de ler comandos e virar um sink de fan-out
}

// Dispatch decodifica frame como um comando (deve ser um array de bulk
// strings) e o executa no contexto de sess, escrevendo diretamente em w
// apenas quando o comando exige controle total do fluxo de bytes (PSYNC).
func (d *Dispatcher) Dispatch(sessionID uint64, sess *Session, frame protocol.Value, w io.Writer) Outcome {
	name, args, ok := tokenize(frame)
	if !ok {
		return Outcome{Reply: errGeneric("Protocol error: expected array of bulk strings")}
	}
	upper := strings.ToUpper(name)

	// MULTI/EXEC/DISCARD são operadores de meta-nível: nunca são
	// enfileirados mesmo dentro de uma transação pendente.
	switch upper {
	case "MULTI":
		return Outcome{Reply: sess.beginMulti()}
	case "DISCARD":
		return Outcome{Reply: sess.discard()}
	case "EXEC":
		return Outcome{Reply: d.exec(sessionID, sess)}
	}

	if sess.tx == TxPending {
		return Outcome{Reply: sess.enqueue(upper, args)}
	}

	return d.execOne(sessionID, sess, upper, args, w)
}

// exec roda todos os comandos acumulados em sess.queued, em ordem, buferando
// cada resultado, e os devolve como um único array — a resposta do EXEC.
func (d *Dispatcher) exec(sessionID uint64, sess *Session) protocol.Value {
	if sess.tx != TxPending {
		return errWithinMulti("EXEC")
	}
	queued := sess.queued
	sess.tx = TxNone
	sess.queued = nil

	results := make([]protocol.Value, 0, len(queued))
	for _, c := range queued {
		out := d.execOne(sessionID, sess, c.name, c.args, io.Discard)
		results = append(results, out.Reply)
	}
	return protocol.Array(results)
}

// execOne executa um único comando já fora do modo de enfileiramento.
func (d *Dispatcher) execOne(sessionID uint64, sess *Session, name string, args []string, w io.Writer) Outcome {
	switch name {
	case "PING":
		return Outcome{Reply: cmdPing(args)}
	case "ECHO":
		return Outcome{Reply: cmdEcho(args)}
	case "SET":
		return d.withPropagation(name, args, cmdSet(d.Store, args))
	case "GET":
		return Outcome{Reply: cmdGet(d.Store, args)}
	case "INCR":
		return d.withPropagation(name, args, cmdIncr(d.Store, args))
	case "DEL":
		return d.withPropagation(name, args, cmdDel(d.Store, args))
	case "EXISTS":
		return Outcome{Reply: cmdExists(d.Store, args)}
	case "TYPE":
		return Outcome{Reply: cmdType(d.Store, args)}
	case "EXPIRE":
		return d.withPropagation(name, args, cmdExpire(d.Store, args, false))
	case "PEXPIRE":
		return d.withPropagation(name, args, cmdExpire(d.Store, args, true))
	case "TTL":
		return Outcome{Reply: cmdTTL(d.Store, args, false)}
	case "PTTL":
		return Outcome{Reply: cmdTTL(d.Store, args, true)}
	case "RPUSH":
		return d.withPropagation(name, args, cmdPush(d.Store, args, false))
	case "LPUSH":
		return d.withPropagation(name, args, cmdPush(d.Store, args, true))
	case "LLEN":
		return Outcome{Reply: cmdLLen(d.Store, args)}
	case "LRANGE":
		return Outcome{Reply: cmdLRange(d.Store, args)}
	case "LPOP":
		return d.withPropagation(name, args, cmdLPop(d.Store, args))
	case "BLPOP":
		return Outcome{Reply: cmdBLPop(d.Store, args)}
	case "XADD":
		reply, forwardArgs := cmdXAdd(d.Store, args)
		return d.withPropagation(name, forwardArgs, reply)
	case "XLEN":
		return Outcome{Reply: cmdXLen(d.Store, args)}
	case "XRANGE":
		return Outcome{Reply: cmdXRange(d.Store, args)}
	case "XREAD":
		return Outcome{Reply: cmdXRead(d.Store, args)}
	case "COMMAND":
		return Outcome{Reply: cmdCommand(args)}
	case "INFO":
		return Outcome{Reply: d.cmdInfo()}
	case "REPLCONF":
		if d.Repl == nil {
			return Outcome{Reply: protocol.SimpleString("OK")}
		}
		reply, ok := d.Repl.Replconf(sessionID, args)
		if !ok {
			return Outcome{Skip: true}
		}
		return Outcome{Reply: reply}
	case "PSYNC":
		if d.Repl == nil {
			return Outcome{Reply: errGeneric("replication is not enabled on this server")}
		}
		if err := d.Repl.Psync(sessionID, args, w); err != nil {
			return Outcome{Reply: errGeneric("%s", err.Error())}
		}
		return Outcome{Skip: true, BecomeReplicaFeed: true}
	case "WAIT":
		return Outcome{Reply: cmdWait(d.Repl, args)}
	default:
		return Outcome{Reply: errUnknownCommand(strings.ToLower(name), args)}
	}
}

// withPropagation encaminha name/args aos replicas quando reply não é um
// simple-error e a replicação está habilitada, e então devolve o outcome
// normal. Comandos de leitura nunca passam por aqui.
func (d *Dispatcher) withPropagation(name string, args []string, reply protocol.Value) Outcome {
	if d.Repl != nil && reply.Kind != protocol.KindSimpleError {
		d.Repl.Propagate(name, args)
	}
	return Outcome{Reply: reply}
}

// tokenize extrai o nome do comando e seus argumentos de um frame RESP. Por
// convenção, comandos chegam como um array de bulk strings; aceita-se
// também uma simple string isolada como atalho para comandos sem argumento
// usados por clientes de texto simples (e.g. "PING").
func tokenize(v protocol.Value) (name string, args []string, ok bool) {
	switch v.Kind {
	case protocol.KindArray:
		if len(v.Items) == 0 {
			return "", nil, false
		}
		name = string(v.Items[0].Bytes)
		args = make([]string, 0, len(v.Items)-1)
		for _, item := range v.Items[1:] {
			args = append(args, string(item.Bytes))
		}
		return name, args, true
	case protocol.KindSimpleString:
		return v.Str, nil, true
	default:
		return "", nil, false
	}
}

// ApplyReplicated executa um comando recebido do master no loop de réplica,
// ignorando propagação (a réplica nunca reencaminha o fan-out do master) e
// sem sessão de transação, já que MULTI/EXEC não cruzam o link de replicação.
func (d *Dispatcher) ApplyReplicated(name string, args []string) {
	local := *d
	local.Repl = nil
	local.execOne(0, nil, strings.ToUpper(name), args, io.Discard)
}
