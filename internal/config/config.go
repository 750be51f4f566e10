// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config carrega e valida a configuração do kvresp-server, seguindo
// o mesmo layout de arquivo YAML opcional com defaulting em validate() usado
// pelo restante do projeto.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ServerListen agrupa as opções de rede do servidor.
type ServerListen struct {
	// Port é a porta TCP em que o servidor aceita conexões de cliente e de
	// replicas.
	Port int `yaml:"port"`

	// ReplicaOf, quando preenchido como "host porta", faz este processo
	// subir como replica daquele master em vez de como master autônomo.
	ReplicaOf string `yaml:"replica_of"`

	// MaxBytesPerSecPerConn limita a taxa de escrita para cada conexão de
	// cliente comum. 0 desabilita o limite.
	MaxBytesPerSecPerConn int `yaml:"max_bytes_per_sec_per_conn"`
}

// ReplicationConfig agrupa as opções específicas do papel de master.
type ReplicationConfig struct {
	// MaxBytesPerSecPerReplica limita a taxa de fan-out para cada replica
	// conectada (FULLRESYNC e stream de comandos). 0 desabilita o limite.
	MaxBytesPerSecPerReplica int `yaml:"max_bytes_per_sec_per_replica"`
}

// SnapshotConfig controla o arquivamento periódico do keyspace em S3,
// independente da replicação.
type SnapshotConfig struct {
	// S3Bucket habilita o arquivamento quando não vazio.
	S3Bucket string `yaml:"s3_bucket"`
	S3Prefix string `yaml:"s3_prefix"`

	// IntervalSeconds entre arquivamentos sucessivos.
	IntervalSeconds int `yaml:"interval_seconds"`
}

// LoggingConfig espelha o trio nível/formato/arquivo aceito por
// internal/logging.NewLogger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Config é a configuração completa do kvresp-server.
type Config struct {
	Server      ServerListen      `yaml:"server"`
	Replication ReplicationConfig `yaml:"replication"`
	Snapshot    SnapshotConfig    `yaml:"snapshot"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// Load lê path (se não vazio) como YAML e aplica defaults faltantes via
// validate(). path vazio produz a configuração default pura.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %q: %w", path, err)
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate reaplica os defaults e checagens de validate() sobre c. Exportada
// para que o cmd possa revalidar a configuração depois de aplicar overrides
// de flags de linha de comando por cima do que Load já carregou do arquivo.
func (c *Config) Validate() error {
	return c.validate()
}

func (c *Config) validate() error {
	if c.Server.Port == 0 {
		c.Server.Port = 6380
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Server.ReplicaOf != "" {
		if len(strings.Fields(c.Server.ReplicaOf)) != 2 {
			return fmt.Errorf("server.replica_of must be \"host port\", got %q", c.Server.ReplicaOf)
		}
	}
	if c.Server.MaxBytesPerSecPerConn < 0 {
		return fmt.Errorf("server.max_bytes_per_sec_per_conn must be >= 0")
	}
	if c.Replication.MaxBytesPerSecPerReplica < 0 {
		return fmt.Errorf("replication.max_bytes_per_sec_per_replica must be >= 0")
	}
	if c.Snapshot.IntervalSeconds == 0 {
		c.Snapshot.IntervalSeconds = 300
	}
	if c.Snapshot.S3Prefix == "" {
		c.Snapshot.S3Prefix = "kvresp-snapshots"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}

// ReplicaOfHostPort separa server.replica_of em host e porta, já validado
// por Load. Chamar apenas quando ReplicaOf != "".
func (c *Config) ReplicaOfHostPort() (host, port string) {
	fields := strings.Fields(c.Server.ReplicaOf)
	return fields[0], fields[1]
}
