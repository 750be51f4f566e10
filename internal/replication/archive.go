// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package replication

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"

	"github.com/kvresp/kvresp/internal/protocol"
	"github.com/kvresp/kvresp/internal/store"
)

// Archiver envia snapshots periódicos do keyspace para um bucket S3,
// independente do snapshot de FULLRESYNC trocado com replicas: este é um
// backup histórico, comprimido com zstd (maior razão de compressão, custo
// de CPU aceitável fora do caminho crítico de um handshake de replica).
type Archiver struct {
	client *s3.Client
	bucket string
	prefix string
	log    *slog.Logger
}

// NewArchiver resolve as credenciais da AWS pela cadeia padrão (variáveis
// de ambiente, arquivo de credenciais, IAM role) e constrói o cliente S3.
func NewArchiver(ctx context.Context, bucket, prefix string, log *slog.Logger) (*Archiver, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("replication: load AWS config: %w", err)
	}
	return &Archiver{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
		log:    log,
	}, nil
}

// Archive serializa o keyspace, comprime com zstd e envia ao bucket sob uma
// chave derivada do horário, retornando a chave usada.
func (a *Archiver) Archive(ctx context.Context, ks *store.Keyspace, now time.Time) (string, error) {
	var raw bytes.Buffer
	for _, cmd := range ks.DumpCommands() {
		items := make([]protocol.Value, 0, len(cmd))
		for _, tok := range cmd {
			items = append(items, protocol.BulkStringFromString(tok))
		}
		raw.Write(protocol.Encode(protocol.Array(items)))
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return "", fmt.Errorf("replication: create zstd encoder: %w", err)
	}
	defer enc.Close()
	compressed := enc.EncodeAll(raw.Bytes(), nil)

	key := fmt.Sprintf("%s/%s.cmds.zst", a.prefix, now.UTC().Format("20060102T150405Z"))
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(compressed),
	})
	if err != nil {
		return "", fmt.Errorf("replication: upload snapshot to s3: %w", err)
	}
	if a.log != nil {
		a.log.Info("replication: snapshot archived", "bucket", a.bucket, "key", key, "bytes", len(compressed))
	}
	return key, nil
}
