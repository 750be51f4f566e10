// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package replication

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/kvresp/kvresp/internal/dispatch"
	"github.com/kvresp/kvresp/internal/protocol"
)

// Replica mantém a conexão de um servidor com seu master: realiza o
// handshake de 4 passos, ingere o snapshot do FULLRESYNC e então aplica
// continuamente o stream de comandos recebido, reconectando com backoff se
// o link cair.
type Replica struct {
	MasterHost string
	MasterPort string
	ListenPort string
	Dispatcher *dispatch.Dispatcher
	Log        *slog.Logger

	offset int64 // bytes do stream de comandos já aplicados, desde o FULLRESYNC
}

// Run conecta ao master e processa o stream de replicação indefinidamente,
// reconectando com backoff linear limitado (mesmo padrão do loop de
// aceitação de internal/server.Run) até ctx ser cancelado.
func (r *Replica) Run(ctx context.Context) {
	var consecutiveErrors int
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := r.connectAndSync(ctx); err != nil {
			consecutiveErrors++
			delay := time.Duration(consecutiveErrors) * 500 * time.Millisecond
			if delay > 10*time.Second {
				delay = 10 * time.Second
			}
			if r.Log != nil {
				r.Log.Warn("replication: link to master failed, retrying", "err", err, "retry_in", delay)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		consecutiveErrors = 0
	}
}

func (r *Replica) connectAndSync(ctx context.Context) error {
	addr := net.JoinHostPort(r.MasterHost, r.MasterPort)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("dial master %s: %w", addr, err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)

	if err := sendAndExpectLine(conn, reader, "PONG", "PING"); err != nil {
		return err
	}
	if err := sendAndExpectLine(conn, reader, "OK", "REPLCONF", "listening-port", r.ListenPort); err != nil {
		return err
	}
	if err := sendAndExpectLine(conn, reader, "OK", "REPLCONF", "capa", "eof", "capa", "psync2"); err != nil {
		return err
	}

	if _, err := conn.Write(protocol.Encode(commandFrame("PSYNC", []string{"?", "-1"}))); err != nil {
		return fmt.Errorf("send PSYNC: %w", err)
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read FULLRESYNC: %w", err)
	}
	baseOffset, err := parseFullResync(line)
	if err != nil {
		return err
	}
	r.offset = baseOffset

	fr := &frameReader{r: reader}
	snapshotFrame, _, err := fr.next()
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	if snapshotFrame.Kind != protocol.KindBulkString {
		return errors.New("expected bulk string snapshot after FULLRESYNC")
	}
	commands, err := DecodeSnapshot(snapshotFrame.Bytes)
	if err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	for _, cmd := range commands {
		if len(cmd) == 0 {
			continue
		}
		r.Dispatcher.ApplyReplicated(cmd[0], cmd[1:])
	}
	if r.Log != nil {
		r.Log.Info("replication: snapshot applied", "commands", len(commands), "base_offset", baseOffset)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		v, n, err := fr.next()
		if err != nil {
			return fmt.Errorf("read command stream: %w", err)
		}
		r.offset += int64(n)

		if v.Kind != protocol.KindArray || len(v.Items) == 0 {
			continue
		}
		name := strings.ToUpper(string(v.Items[0].Bytes))
		args := make([]string, 0, len(v.Items)-1)
		for _, item := range v.Items[1:] {
			args = append(args, string(item.Bytes))
		}

		if name == "REPLCONF" && len(args) >= 1 && strings.EqualFold(args[0], "GETACK") {
			ack := commandFrame("REPLCONF", []string{"ACK", strconv.FormatInt(r.offset, 10)})
			if _, err := conn.Write(protocol.Encode(ack)); err != nil {
				return fmt.Errorf("send ACK: %w", err)
			}
			continue
		}
		r.Dispatcher.ApplyReplicated(name, args)
	}
}

func sendAndExpectLine(conn net.Conn, reader *bufio.Reader, want string, name string, args ...string) error {
	if _, err := conn.Write(protocol.Encode(commandFrame(name, args))); err != nil {
		return fmt.Errorf("send %s: %w", name, err)
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read reply to %s: %w", name, err)
	}
	line = strings.TrimRight(line, "\r\n")
	if !strings.EqualFold(strings.TrimPrefix(line, "+"), want) {
		return fmt.Errorf("unexpected reply to %s: %q", name, line)
	}
	return nil
}

func parseFullResync(line string) (int64, error) {
	line = strings.TrimRight(line, "\r\n")
	fields := strings.Fields(strings.TrimPrefix(line, "+"))
	if len(fields) != 3 || fields[0] != "FULLRESYNC" {
		return 0, fmt.Errorf("malformed FULLRESYNC line: %q", line)
	}
	return strconv.ParseInt(fields[2], 10, 64)
}

// frameReader decodifica frames RESP de um io.Reader de streaming,
// acumulando bytes sob demanda sempre que DecodeFrame reporta buffer
// insuficiente, sem nunca reprocessar bytes já consumidos.
type frameReader struct {
	r   io.Reader
	buf []byte
}

func (fr *frameReader) next() (protocol.Value, int, error) {
	for {
		v, n, err := protocol.DecodeFrame(fr.buf)
		if err == nil {
			fr.buf = fr.buf[n:]
			return v, n, nil
		}
		if !errors.Is(err, protocol.ErrShortBuffer) {
			return protocol.Value{}, 0, err
		}
		tmp := make([]byte, 4096)
		n2, rerr := fr.r.Read(tmp)
		if n2 > 0 {
			fr.buf = append(fr.buf, tmp[:n2]...)
		}
		if rerr != nil {
			return protocol.Value{}, 0, rerr
		}
	}
}
