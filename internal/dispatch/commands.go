// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package dispatch

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/kvresp/kvresp/internal/protocol"
	"github.com/kvresp/kvresp/internal/store"
)

func cmdPing(args []string) protocol.Value {
	if len(args) == 0 {
		return protocol.SimpleString("PONG")
	}
	if len(args) == 1 {
		return protocol.BulkStringFromString(args[0])
	}
	return errWrongArgs("ping")
}

func cmdEcho(args []string) protocol.Value {
	if len(args) != 1 {
		return errWrongArgs("echo")
	}
	return protocol.BulkStringFromString(args[0])
}

func cmdSet(ks *store.Keyspace, args []string) protocol.Value {
	if len(args) < 2 {
		return errWrongArgs("set")
	}
	key, value := args[0], args[1]

	var expireAt time.Time
	for i := 2; i < len(args); i++ {
		opt := strings.ToUpper(args[i])
		switch opt {
		case "EX", "PX":
			i++
			if i >= len(args) {
				return errSyntax()
			}
			n, err := strconv.ParseInt(args[i], 10, 64)
			if err != nil {
				return errNotInteger()
			}
			if opt == "EX" {
				expireAt = time.Now().Add(time.Duration(n) * time.Second)
			} else {
				expireAt = time.Now().Add(time.Duration(n) * time.Millisecond)
			}
		default:
			return errSyntax()
		}
	}

	ks.Set(key, []byte(value), expireAt)
	return protocol.SimpleString("OK")
}

func cmdGet(ks *store.Keyspace, args []string) protocol.Value {
	if len(args) != 1 {
		return errWrongArgs("get")
	}
	v, ok := ks.Get(args[0])
	if !ok {
		return protocol.NullBulkString()
	}
	return protocol.BulkString(v)
}

func cmdIncr(ks *store.Keyspace, args []string) protocol.Value {
	if len(args) != 1 {
		return errWrongArgs("incr")
	}
	n, err := ks.Incr(args[0])
	if err != nil {
		return errNotInteger()
	}
	return protocol.Integer(n)
}

func cmdDel(ks *store.Keyspace, args []string) protocol.Value {
	if len(args) == 0 {
		return errWrongArgs("del")
	}
	return protocol.Integer(ks.Del(args...))
}

func cmdExists(ks *store.Keyspace, args []string) protocol.Value {
	if len(args) == 0 {
		return errWrongArgs("exists")
	}
	return protocol.Integer(ks.Exists(args...))
}

func cmdType(ks *store.Keyspace, args []string) protocol.Value {
	if len(args) != 1 {
		return errWrongArgs("type")
	}
	return protocol.SimpleString(ks.Type(args[0]))
}

func cmdExpire(ks *store.Keyspace, args []string, millis bool) protocol.Value {
	if len(args) != 2 {
		return errWrongArgs("expire")
	}
	n, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return errNotInteger()
	}
	d := time.Duration(n) * time.Second
	if millis {
		d = time.Duration(n) * time.Millisecond
	}
	if ks.Expire(args[0], d) {
		return protocol.Integer(1)
	}
	return protocol.Integer(0)
}

func cmdTTL(ks *store.Keyspace, args []string, millis bool) protocol.Value {
	if len(args) != 1 {
		return errWrongArgs("ttl")
	}
	if millis {
		return protocol.Integer(ks.PTTL(args[0]))
	}
	return protocol.Integer(ks.TTL(args[0]))
}

func cmdPush(ks *store.Keyspace, args []string, left bool) protocol.Value {
	if len(args) < 2 {
		return errWrongArgs("rpush")
	}
	values := make([][]byte, 0, len(args)-1)
	for _, a := range args[1:] {
		values = append(values, []byte(a))
	}
	n, err := ks.Push(args[0], values, left)
	if errors.Is(err, store.ErrWrongType) {
		return errWrongType()
	}
	return protocol.Integer(n)
}

func cmdLLen(ks *store.Keyspace, args []string) protocol.Value {
	if len(args) != 1 {
		return errWrongArgs("llen")
	}
	n, err := ks.LLen(args[0])
	if errors.Is(err, store.ErrWrongType) {
		return errWrongType()
	}
	return protocol.Integer(n)
}

func cmdLRange(ks *store.Keyspace, args []string) protocol.Value {
	if len(args) != 3 {
		return errWrongArgs("lrange")
	}
	start, err1 := strconv.ParseInt(args[1], 10, 64)
	stop, err2 := strconv.ParseInt(args[2], 10, 64)
	if err1 != nil || err2 != nil {
		return errNotInteger()
	}
	items, err := ks.LRange(args[0], start, stop)
	if errors.Is(err, store.ErrWrongType) {
		return errWrongType()
	}
	vals := make([]protocol.Value, 0, len(items))
	for _, it := range items {
		vals = append(vals, protocol.BulkString(it))
	}
	return protocol.Array(vals)
}

func cmdLPop(ks *store.Keyspace, args []string) protocol.Value {
	if len(args) < 1 || len(args) > 2 {
		return errWrongArgs("lpop")
	}
	count := 1
	if len(args) == 2 {
		n, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil || n < 0 {
			return errNotInteger()
		}
		count = int(n)
	}
	items, err := ks.LPop(args[0], count)
	if errors.Is(err, store.ErrWrongType) {
		return errWrongType()
	}
	if len(items) == 0 {
		return protocol.NullBulkString()
	}
	if len(args) == 1 {
		return protocol.BulkString(items[0])
	}
	vals := make([]protocol.Value, 0, len(items))
	for _, it := range items {
		vals = append(vals, protocol.BulkString(it))
	}
	return protocol.Array(vals)
}

// cmdBLPop trata BLPOP key [key ...] timeout, bloqueando a goroutine da
// conexão até um valor chegar ou o timeout (em segundos, fracionário)
// decorrer. timeout 0 bloqueia indefinidamente.
func cmdBLPop(ks *store.Keyspace, args []string) protocol.Value {
	if len(args) < 2 {
		return errWrongArgs("blpop")
	}
	keys := args[:len(args)-1]
	secs, err := strconv.ParseFloat(args[len(args)-1], 64)
	if err != nil || secs < 0 {
		return errGeneric("timeout is not a float or out of range")
	}

	ctx := context.Background()
	var cancel context.CancelFunc
	if secs > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(secs*float64(time.Second)))
		defer cancel()
	}

	key, value, ok := ks.BLPop(ctx, keys, time.Duration(secs*float64(time.Second)))
	if !ok {
		return protocol.NullArray()
	}
	return protocol.Array([]protocol.Value{
		protocol.BulkStringFromString(key),
		protocol.BulkString(value),
	})
}

// cmdXAdd trata XADD key <id|*|time-*> field value [field value ...]. O
// segundo retorno são os argumentos a propagar aos replicas: o id literal
// resolvido substitui a forma "*"/"<time>-*" original, de forma que a
// réplica nunca precise (e nunca possa, de forma determinística) recalcular
// um id automático de forma independente.
func cmdXAdd(ks *store.Keyspace, args []string) (protocol.Value, []string) {
	if len(args) < 4 || len(args)%2 != 0 {
		return errWrongArgs("xadd"), nil
	}
	key, idArg := args[0], args[1]
	fields := args[2:]

	var (
		id           store.StreamID
		hasSeq       bool
		explicitTime bool
		err          error
	)
	if idArg == "*" {
		explicitTime = false
	} else {
		id, hasSeq, err = store.ParseStreamID(idArg)
		if err != nil {
			return errInvalidStreamID(), nil
		}
		explicitTime = true
	}

	resolved, err := ks.XAdd(key, id, hasSeq, explicitTime, fields)
	if err != nil {
		if errors.Is(err, store.ErrInvalidStreamID) {
			return protocol.SimpleError("ERR The ID specified in XADD must be greater than 0-0"), nil
		}
		if errors.Is(err, store.ErrTooSmallStreamID) {
			return protocol.SimpleError("ERR The ID specified in XADD is equal or smaller than the target stream top item"), nil
		}
		return errGeneric("%s", err.Error()), nil
	}

	forward := append([]string{key, resolved.String()}, fields...)
	return protocol.BulkStringFromString(resolved.String()), forward
}

func cmdXLen(ks *store.Keyspace, args []string) protocol.Value {
	if len(args) != 1 {
		return errWrongArgs("xlen")
	}
	return protocol.Integer(ks.XLen(args[0]))
}

func cmdXRange(ks *store.Keyspace, args []string) protocol.Value {
	if len(args) != 3 {
		return errWrongArgs("xrange")
	}
	start, err := parseRangeBound(args[1], false)
	if err != nil {
		return errInvalidStreamID()
	}
	end, err := parseRangeBound(args[2], true)
	if err != nil {
		return errInvalidStreamID()
	}
	entries := ks.XRange(args[0], start, end)
	return encodeStreamEntries(entries)
}

func parseRangeBound(s string, isEnd bool) (store.StreamID, error) {
	if s == "-" {
		return store.StreamID{}, nil
	}
	if s == "+" {
		return store.StreamID{Time: ^uint64(0), Seq: ^uint64(0)}, nil
	}
	id, hasSeq, err := store.ParseStreamID(s)
	if err != nil {
		return store.StreamID{}, err
	}
	if !hasSeq && isEnd {
		id.Seq = ^uint64(0)
	}
	return id, nil
}

// cmdXRead trata XREAD STREAMS key [key ...] id [id ...]. A variante
// bloqueante (XREAD BLOCK <ms> STREAMS ...) é suportada com a mesma
// semântica de corrida segura do BLPOP.
func cmdXRead(ks *store.Keyspace, args []string) protocol.Value {
	var blockMillis int64 = -1
	i := 0
parseOptions:
	for i < len(args) {
		switch strings.ToUpper(args[i]) {
		case "BLOCK":
			if i+1 >= len(args) {
				return errSyntax()
			}
			n, err := strconv.ParseInt(args[i+1], 10, 64)
			if err != nil || n < 0 {
				return errNotInteger()
			}
			blockMillis = n
			i += 2
		case "STREAMS":
			i++
			break parseOptions
		default:
			return errSyntax()
		}
	}
	rest := args[i:]
	if len(rest) == 0 || len(rest)%2 != 0 {
		return errGeneric("Unbalanced XREAD list of streams: for each stream key an ID or '$' must be specified")
	}
	n := len(rest) / 2
	keys := rest[:n]
	ids := rest[n:]

	starts := make([]store.StreamID, n)
	for k := range keys {
		if ids[k] == "$" {
			if blockMillis < 0 {
				return errGeneric("The $ ID is meaningless without the BLOCK option")
			}
			last, ok := ks.LastID(keys[k])
			if ok {
				starts[k] = last
			}
			continue
		}
		id, _, err := store.ParseStreamID(ids[k])
		if err != nil {
			return errInvalidStreamID()
		}
		starts[k] = id
	}

	var results []protocol.Value
	for k, key := range keys {
		entries := ks.XRead(key, starts[k])
		if len(entries) > 0 {
			results = append(results, encodeStreamReply(key, entries))
		}
	}
	if len(results) > 0 || blockMillis < 0 {
		if len(results) == 0 {
			return protocol.NullArray()
		}
		return protocol.Array(results)
	}

	// Nenhum stream tinha dados disponíveis: bloqueia apenas na primeira
	// chave (o protocolo real varre todas concorrentemente; como cada
	// conexão despacha um comando por vez, aguardamos a primeira e
	// reavaliamos as demais ao acordar).
	ctx := context.Background()
	var cancel context.CancelFunc
	timeout := time.Duration(0)
	if blockMillis > 0 {
		timeout = time.Duration(blockMillis) * time.Millisecond
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	entries, ok := ks.XReadBlock(ctx, keys[0], starts[0], timeout)
	if !ok {
		return protocol.NullArray()
	}
	results = []protocol.Value{encodeStreamReply(keys[0], entries)}
	for k := 1; k < n; k++ {
		if more := ks.XRead(keys[k], starts[k]); len(more) > 0 {
			results = append(results, encodeStreamReply(keys[k], more))
		}
	}
	return protocol.Array(results)
}

func encodeStreamReply(key string, entries []store.StreamEntry) protocol.Value {
	return protocol.Array([]protocol.Value{
		protocol.BulkStringFromString(key),
		encodeStreamEntries(entries),
	})
}

func encodeStreamEntries(entries []store.StreamEntry) protocol.Value {
	vals := make([]protocol.Value, 0, len(entries))
	for _, e := range entries {
		fields := make([]protocol.Value, 0, len(e.Fields))
		for _, f := range e.Fields {
			fields = append(fields, protocol.BulkStringFromString(f))
		}
		vals = append(vals, protocol.Array([]protocol.Value{
			protocol.BulkStringFromString(e.ID.String()),
			protocol.Array(fields),
		}))
	}
	return protocol.Array(vals)
}

func cmdCommand(args []string) protocol.Value {
	if len(args) == 1 && strings.EqualFold(args[0], "COUNT") {
		return protocol.Integer(int64(len(knownCommands)))
	}
	vals := make([]protocol.Value, 0, len(knownCommands))
	for _, name := range knownCommands {
		vals = append(vals, protocol.Array([]protocol.Value{
			protocol.BulkStringFromString(name),
		}))
	}
	return protocol.Array(vals)
}

var knownCommands = []string{
	"PING", "ECHO", "SET", "GET", "INCR", "DEL", "EXISTS", "TYPE",
	"EXPIRE", "PEXPIRE", "TTL", "PTTL",
	"RPUSH", "LPUSH", "LLEN", "LRANGE", "LPOP", "BLPOP",
	"XADD", "XLEN", "XRANGE", "XREAD",
	"MULTI", "EXEC", "DISCARD",
	"INFO", "COMMAND", "REPLCONF", "PSYNC", "WAIT",
}

func cmdWait(repl ReplicationHub, args []string) protocol.Value {
	if len(args) != 2 {
		return errWrongArgs("wait")
	}
	numReplicas, err1 := strconv.ParseInt(args[0], 10, 64)
	timeoutMs, err2 := strconv.ParseInt(args[1], 10, 64)
	if err1 != nil || err2 != nil {
		return errNotInteger()
	}
	if repl == nil {
		return protocol.Integer(0)
	}
	return protocol.Integer(repl.Wait(int(numReplicas), timeoutMs))
}

// cmdInfo monta a resposta do INFO: seção de replicação delegada ao
// ReplicationHub e uma seção de keyspace derivada do próprio store.
func (d *Dispatcher) cmdInfo() protocol.Value {
	var b strings.Builder
	b.WriteString("# Server\r\nkvresp_mode:standalone\r\n\r\n")
	if d.Repl != nil {
		b.WriteString("# Replication\r\n")
		b.WriteString(d.Repl.Info())
		b.WriteString("\r\n")
	} else {
		b.WriteString("# Replication\r\nrole:master\r\nconnected_slaves:0\r\n\r\n")
	}
	b.WriteString("# Keyspace\r\n")
	b.WriteString("db0:keys=" + strconv.Itoa(d.Store.KeyCount()) + "\r\n")
	return protocol.BulkStringFromString(b.String())
}
