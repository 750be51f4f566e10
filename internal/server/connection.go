// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/kvresp/kvresp/internal/dispatch"
	"github.com/kvresp/kvresp/internal/protocol"
	"github.com/kvresp/kvresp/internal/replication"
)

// readChunk é o tamanho de cada leitura do socket. Frames maiores que isso
// simplesmente acumulam em buf ao longo de múltiplas leituras; não há um
// limite superior de frame, apenas de quanto é lido por vez.
const readChunk = 1024

// connState é o estado de uma conexão aceita: seu identificador de sessão
// (usado pelo ReplicationHub para correlacionar REPLCONF/PSYNC à mesma
// conexão), a sessão de transação e se a conexão foi promovida a replica.
type connState struct {
	id            uint64
	sess          *dispatch.Session
	isReplicaLink bool
}

// handleConnection lê frames RESP de conn, despacha cada um e escreve a
// resposta de volta, até o socket fechar ou ctx ser cancelado. A taxa de
// escrita é limitada por throttle bytes/s quando maxBytesPerSec > 0.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn, sessionID uint64) {
	defer conn.Close()

	st := &connState{id: sessionID, sess: dispatch.NewSession()}
	defer func() {
		if st.isReplicaLink && s.master != nil {
			s.master.Detach(st.id)
			s.log.Info("replication: replica detached", "replica_id", st.id, "remote_addr", conn.RemoteAddr())
		}
	}()

	out := io.Writer(conn)
	if s.cfg.Server.MaxBytesPerSecPerConn > 0 {
		out = replication.NewThrottledWriter(ctx, conn, s.cfg.Server.MaxBytesPerSecPerConn)
	}

	fr := &frameReader{r: conn}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, _, err := fr.next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("connection read error", "conn_id", sessionID, "remote_addr", conn.RemoteAddr(), "err", err)
			}
			return
		}

		outcome := s.dispatcher.Dispatch(sessionID, st.sess, frame, conn)
		if outcome.BecomeReplicaFeed {
			st.isReplicaLink = true
			continue
		}
		if outcome.Skip {
			continue
		}
		if _, err := out.Write(protocol.Encode(outcome.Reply)); err != nil {
			s.log.Debug("connection write error", "conn_id", sessionID, "remote_addr", conn.RemoteAddr(), "err", err)
			return
		}
	}
}

// frameReader decodifica frames RESP de um net.Conn de streaming,
// preenchendo seu buffer interno em blocos de readChunk sempre que
// DecodeFrame reporta que o frame corrente ainda está incompleto.
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
		tmp := make([]byte, readChunk)
		n2, rerr := fr.r.Read(tmp)
		if n2 > 0 {
			fr.buf = append(fr.buf, tmp[:n2]...)
		}
		if rerr != nil {
			return protocol.Value{}, 0, rerr
		}
	}
}
