package workerdb

import (
	"context"
	"fmt"
	"strings"
)

// targetPieceBytes is the ~25KB piece size spec.md §4.3 names to avoid
// max-packet limits against the local engine.
const targetPieceBytes = 25 * 1024

// splitPieces breaks a fragment's SQL text into semicolon/newline-bounded
// pieces no larger than ~targetPieceBytes, per spec.md §4.3's
// runQueryInPieces semantics. A single statement larger than the target
// is kept whole rather than split mid-statement.
func splitPieces(sql string) []string {
	statements := splitStatements(sql)

	var pieces []string
	var buf strings.Builder
	for _, stmt := range statements {
		if buf.Len() > 0 && buf.Len()+len(stmt) > targetPieceBytes {
			pieces = append(pieces, buf.String())
			buf.Reset()
		}
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(stmt)
	}
	if buf.Len() > 0 {
		pieces = append(pieces, buf.String())
	}
	return pieces
}

// splitStatements splits on top-level semicolons, ignoring ones inside
// single- or double-quoted string literals.
func splitStatements(sql string) []string {
	var out []string
	var buf strings.Builder
	inSingle, inDouble := false, false
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case c == '\'' && !inDouble:
			inSingle = !inSingle
		case c == '"' && !inSingle:
			inDouble = !inDouble
		}
		if c == ';' && !inSingle && !inDouble {
			stmt := strings.TrimSpace(buf.String())
			if stmt != "" {
				out = append(out, stmt+";")
			}
			buf.Reset()
			continue
		}
		buf.WriteByte(c)
	}
	if stmt := strings.TrimSpace(buf.String()); stmt != "" {
		out = append(out, stmt)
	}
	return out
}

// PoisonCheck is consulted between pieces; ExecScript aborts as soon as
// it reports true, per spec.md §4.3's "check the task's poisoned flag
// between pieces and abort if set".
type PoisonCheck func() bool

// ExecScript runs a (possibly multi-statement) fragment against the
// engine piece by piece, checking poison between pieces.
func (e *Engine) ExecScript(ctx context.Context, sql string, poisoned PoisonCheck) error {
	for i, piece := range splitPieces(sql) {
		if poisoned != nil && poisoned() {
			return fmt.Errorf("workerdb: task poisoned before piece %d", i)
		}
		if err := e.Exec(ctx, piece); err != nil {
			return err
		}
	}
	return nil
}
