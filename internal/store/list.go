// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package store

import "time"

// listWaiter representa um cliente bloqueado em BLPOP aguardando um valor em
// uma das chaves de keys. delivered recebe exatamente um valor (o pushed
// value e a chave que o originou) na primeira chamada a Push que o satisfizer;
// nunca é fechado, apenas escrito uma vez, para que o destinatário nunca
// precise distinguir "fechado sem entrega" de "entregue".
type listWaiter struct {
	keys      []string
	delivered chan listDelivery
}

type listDelivery struct {
	key   string
	value []byte
}

func (w *listWaiter) wants(key string) bool {
	for _, k := range w.keys {
		if k == key {
			return true
		}
	}
	return false
}

// Push empilha values à frente (LPUSH) ou ao final (RPUSH) de key, servindo
// primeiro a fila de waiters em ordem de chegada (FIFO) antes de persistir
// qualquer valor restante. O count retornado é o comprimento da lista como o
// cliente o percebe: pushes que já foram entregues a um waiter nunca chegam a
// aparecer no armazenamento, mas contam para o tamanho reportado, pois do
// ponto de vista do chamador eles foram empilhados com sucesso.
func (ks *Keyspace) Push(key string, values [][]byte, left bool) (int64, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	c, ok := ks.getLiveLocked(key)
	if ok && c.kind != kindList {
		return 0, ErrWrongType
	}
	if !ok {
		c = &cell{kind: kindList}
		ks.cells[key] = c
	}

	pushed := int64(len(values))
	remaining := values

	// Entrega direta a waiters registrados para esta chave, em ordem de
	// chegada, antes de qualquer valor tocar o armazenamento persistente.
	if len(ks.listWaiters) > 0 && len(remaining) > 0 {
		var kept []*listWaiter
		for _, w := range ks.listWaiters {
			if len(remaining) > 0 && w.wants(key) {
				var v []byte
				v, remaining = takeOne(remaining, left)
				select {
				case w.delivered <- listDelivery{key: key, value: v}:
					continue // waiter satisfeito, removido da lista
				default:
					// waiter já foi atendido por outra goroutine (timeout
					// corrido) ou o canal está cheio; devolve o valor.
					remaining = putBack(remaining, v, left)
				}
			}
			kept = append(kept, w)
		}
		ks.listWaiters = kept
	}

	for _, v := range remaining {
		if left {
			c.list = append([][]byte{append([]byte(nil), v...)}, c.list...)
		} else {
			c.list = append(c.list, append([]byte(nil), v...))
		}
	}

	return int64(len(c.list)) + (pushed - int64(len(remaining))), nil
}

// takeOne extrai o próximo valor a ser entregue a um waiter, na ordem em
// que apareceria na cabeça da lista se push e pop ocorressem em sequência.
// RPUSH preserva a ordem de chegada (o primeiro argumento some a cabeça
// primeiro, se a lista estava vazia); LPUSH a inverte (o último argumento
// chega à cabeça primeiro), exatamente como Push grava no armazenamento.
func takeOne(values [][]byte, left bool) ([]byte, [][]byte) {
	if left {
		last := len(values) - 1
		return values[last], values[:last]
	}
	return values[0], values[1:]
}

func putBack(values [][]byte, v []byte, left bool) [][]byte {
	if left {
		return append(values, v)
	}
	return append([][]byte{v}, values...)
}

// LLen retorna o comprimento da lista em key, ou 0 se ausente.
func (ks *Keyspace) LLen(key string) (int64, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	c, ok := ks.getLiveLocked(key)
	if !ok {
		return 0, nil
	}
	if c.kind != kindList {
		return 0, ErrWrongType
	}
	return int64(len(c.list)), nil
}

// LPop remove e retorna até count elementos da cabeça da lista. Retorna um
// slice vazio (nil) se a chave não existe ou já está vazia.
func (ks *Keyspace) LPop(key string, count int) ([][]byte, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	c, ok := ks.getLiveLocked(key)
	if !ok {
		return nil, nil
	}
	if c.kind != kindList {
		return nil, ErrWrongType
	}
	if count > len(c.list) {
		count = len(c.list)
	}
	popped := c.list[:count]
	c.list = c.list[count:]
	if len(c.list) == 0 {
		delete(ks.cells, key)
	}
	return popped, nil
}

// LRange retorna os elementos de key entre start e stop (inclusive), com a
// mesma semântica de índices negativos do comando original (-1 é o último
// elemento). Índices fora do intervalo são recortados silenciosamente.
func (ks *Keyspace) LRange(key string, start, stop int64) ([][]byte, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	c, ok := ks.getLiveLocked(key)
	if !ok {
		return nil, nil
	}
	if c.kind != kindList {
		return nil, ErrWrongType
	}

	n := int64(len(c.list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		return nil, nil
	}

	result := make([][]byte, 0, stop-start+1)
	for i := start; i <= stop; i++ {
		result = append(result, c.list[i])
	}
	return result, nil
}

// BLPop bloqueia até que um valor esteja disponível em uma das keys ou até
// timeout decorrer (timeout<=0 bloqueia indefinidamente). Tenta primeiro um
// LPop imediato em ordem de chave; só registra um waiter se todas as chaves
// estiverem vazias. O registro do waiter e a verificação "já há dado
// disponível" ocorrem sob o mesmo lock para nunca perder uma entrega
// concorrente entre a checagem e o registro.
func (ks *Keyspace) BLPop(ctx doneCtx, keys []string, timeout time.Duration) (string, []byte, bool) {
	ks.mu.Lock()
	for _, key := range keys {
		c, ok := ks.getLiveLocked(key)
		if ok && c.kind == kindList && len(c.list) > 0 {
			v := c.list[0]
			c.list = c.list[1:]
			if len(c.list) == 0 {
				delete(ks.cells, key)
			}
			ks.mu.Unlock()
			return key, v, true
		}
	}

	w := &listWaiter{keys: keys, delivered: make(chan listDelivery, 1)}
	ks.listWaiters = append(ks.listWaiters, w)
	ks.mu.Unlock()

	var timer *time.Timer
	var timerC <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case d := <-w.delivered:
		return d.key, d.value, true
	case <-timerC:
		// Corrida entre o timer disparar e um Push concorrente: uma última
		// checagem não bloqueante evita devolver timeout quando o valor já
		// foi entregue no instante exato em que o timer venceu (o bug de
		// "blind unwrap" que uma leitura direta do canal sem select evitaria
		// de checar).
		select {
		case d := <-w.delivered:
			return d.key, d.value, true
		default:
		}
		ks.removeListWaiter(w)
		return "", nil, false
	case <-ctx.Done():
		ks.removeListWaiter(w)
		return "", nil, false
	}
}

func (ks *Keyspace) removeListWaiter(target *listWaiter) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	for i, w := range ks.listWaiters {
		if w == target {
			ks.listWaiters = append(ks.listWaiters[:i], ks.listWaiters[i+1:]...)
			return
		}
	}
}

// doneCtx é o subconjunto de context.Context necessário para cancelamento
// cooperativo de BLPop/XRead, permitindo aos chamadores passar
// context.Context diretamente sem este pacote importar "context" só pela
// assinatura do método.
type doneCtx interface {
	Done() <-chan struct{}
}
