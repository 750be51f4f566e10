// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package store implementa o keyspace compartilhado: valores tipados com TTL,
// listas, streams e o coordenador de waiters bloqueantes (BLPOP / XREAD BLOCK).
package store

import "errors"

// Erros de operação do keyspace. O dispatcher traduz cada um para o frame de
// erro RESP apropriado (ver internal/dispatch/errors.go).
var (
	// ErrWrongType indica que a chave existe com um tipo incompatível com a
	// operação solicitada. Nenhuma mutação ocorre.
	ErrWrongType = errors.New("store: wrong type for operation")

	// ErrInvalidInteger indica que o valor armazenado (ou fornecido) não pode
	// ser interpretado como inteiro de 64 bits, ou que a operação
	// aritmética estourou.
	ErrInvalidInteger = errors.New("store: value is not an integer or out of range")

	// ErrInvalidStreamID indica um XADD com id igual ao sentinel inválido 0-0.
	ErrInvalidStreamID = errors.New("store: the ID specified in XADD must be greater than 0-0")

	// ErrTooSmallStreamID indica um XADD com id menor ou igual ao topo atual.
	ErrTooSmallStreamID = errors.New("store: the ID specified in XADD is equal or smaller than the target stream top item")
)
