// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import "strconv"

// Encode serializa v no grammar RESP. O resultado é sempre um frame completo
// e auto-contido (arrays são serializados recursivamente).
func Encode(v Value) []byte {
	return appendValue(nil, v)
}

// AppendEncode funciona como Encode mas anexa ao slice dst, permitindo ao
// chamador (e.g. o fan-out de replicação) montar múltiplos frames em um
// único buffer de escrita sem realocações intermediárias.
func AppendEncode(dst []byte, v Value) []byte {
	return appendValue(dst, v)
}

func appendValue(dst []byte, v Value) []byte {
	switch v.Kind {
	case KindSimpleString:
		dst = append(dst, byte(KindSimpleString))
		dst = append(dst, v.Str...)
		return appendCRLF(dst)

	case KindSimpleError:
		dst = append(dst, byte(KindSimpleError))
		dst = append(dst, v.Str...)
		return appendCRLF(dst)

	case KindInteger:
		dst = append(dst, byte(KindInteger))
		dst = strconv.AppendInt(dst, v.Int, 10)
		return appendCRLF(dst)

	case KindBulkString:
		dst = append(dst, byte(KindBulkString))
		if v.Null {
			dst = append(dst, '-', '1')
			return appendCRLF(dst)
		}
		dst = strconv.AppendInt(dst, int64(len(v.Bytes)), 10)
		dst = appendCRLF(dst)
		dst = append(dst, v.Bytes...)
		return appendCRLF(dst)

	case KindArray:
		dst = append(dst, byte(KindArray))
		if v.Null {
			dst = append(dst, '-', '1')
			return appendCRLF(dst)
		}
		dst = strconv.AppendInt(dst, int64(len(v.Items)), 10)
		dst = appendCRLF(dst)
		for _, item := range v.Items {
			dst = appendValue(dst, item)
		}
		return dst

	case KindNull:
		dst = append(dst, byte(KindNull))
		return appendCRLF(dst)

	default:
		// Value construído fora dos construtores deste pacote: trata como
		// null para nunca emitir um frame malformado.
		dst = append(dst, byte(KindNull))
		return appendCRLF(dst)
	}
}

func appendCRLF(dst []byte) []byte {
	return append(dst, '\r', '\n')
}
