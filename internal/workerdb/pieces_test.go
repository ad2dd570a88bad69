package workerdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitStatementsIgnoresSemicolonsInLiterals(t *testing.T) {
	stmts := splitStatements(`INSERT INTO t VALUES ('a;b'); SELECT 1;`)
	assert.Equal(t, []string{`INSERT INTO t VALUES ('a;b');`, `SELECT 1;`}, stmts)
}

func TestSplitStatementsTrailingWithoutSemicolon(t *testing.T) {
	stmts := splitStatements(`SELECT 1; SELECT 2`)
	assert.Equal(t, []string{`SELECT 1;`, `SELECT 2`}, stmts)
}

func TestSplitPiecesKeepsOversizedStatementWhole(t *testing.T) {
	big := "SELECT '" + string(make([]byte, targetPieceBytes+100)) + "';"
	pieces := splitPieces(big)
	if assert.Len(t, pieces, 1) {
		assert.Equal(t, big, pieces[0])
	}
}

func TestSplitPiecesBatchesSmallStatements(t *testing.T) {
	sql := "SELECT 1; SELECT 2; SELECT 3;"
	pieces := splitPieces(sql)
	assert.Len(t, pieces, 1)
}
