// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLexErrorRejectsEmptySQL(t *testing.T) {
	err := lexError("")
	assert.ErrorContains(t, err, "empty")
}

func TestLexErrorAcceptsBalancedSQL(t *testing.T) {
	err := lexError(`SELECT * FROM "orders" WHERE note = 'it''s fine' AND (a = 1 OR b = 2)`)
	assert.NoError(t, err)
}

func TestLexErrorRejectsUnbalancedParens(t *testing.T) {
	assert.ErrorContains(t, lexError("(a + b"), "unbalanced parentheses")
	assert.ErrorContains(t, lexError("a + b)"), "unbalanced closing parenthesis")
}

func TestLexErrorRejectsUnterminatedQuotes(t *testing.T) {
	assert.ErrorContains(t, lexError("'unterminated"), "unterminated single-quoted string")
	assert.ErrorContains(t, lexError(`"unterminated`), "unterminated double-quoted identifier")
}

func TestLexErrorIgnoresParensInsideQuotes(t *testing.T) {
	assert.NoError(t, lexError(`'(' || ')'`))
}

func TestCheckSQLSetsFieldAndSQL(t *testing.T) {
	c := checkSQL("up", "SELECT 1")
	assert.Equal(t, "up", c.Field)
	assert.Equal(t, "SELECT 1", c.SQL)
	assert.NoError(t, c.Err)
}
