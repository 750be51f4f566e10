// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package store

import "strconv"

// DumpCommands serializa o keyspace inteiro como uma sequência de comandos
// que, reaplicados em ordem a um Keyspace vazio, reconstroem o mesmo estado.
// É a representação usada tanto pelo snapshot FULLRESYNC quanto por
// qualquer ferramenta de inspeção offline; não é um formato binário
// proprietário, apenas o próprio protocolo de comandos do servidor.
func (ks *Keyspace) DumpCommands() [][]string {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	now := ks.now()
	var out [][]string

	for key, c := range ks.cells {
		if !c.liveAt(now) {
			continue
		}
		switch c.kind {
		case kindString:
			out = append(out, []string{"SET", key, string(c.str)})
		case kindInteger:
			out = append(out, []string{"SET", key, strconv.FormatInt(c.integer, 10)})
		case kindList:
			if len(c.list) == 0 {
				continue
			}
			cmd := make([]string, 0, len(c.list)+2)
			cmd = append(cmd, "RPUSH", key)
			for _, v := range c.list {
				cmd = append(cmd, string(v))
			}
			out = append(out, cmd)
		}
		if !c.expireAt.IsZero() {
			ms := c.expireAt.Sub(now).Milliseconds()
			if ms < 0 {
				ms = 0
			}
			out = append(out, []string{"PEXPIRE", key, strconv.FormatInt(ms, 10)})
		}
	}

	for key, s := range ks.streams {
		for _, e := range s.entries {
			cmd := make([]string, 0, len(e.Fields)+2)
			cmd = append(cmd, "XADD", key, e.ID.String())
			cmd = append(cmd, e.Fields...)
			out = append(out, cmd)
		}
	}

	return out
}
