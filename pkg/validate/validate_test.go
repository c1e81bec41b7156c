package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchql/pitchql/pkg/apperr"
)

func TestQuestion(t *testing.T) {
	q, err := Question("  top scorers in 2012  ")
	require.NoError(t, err)
	assert.Equal(t, "top scorers in 2012", q)

	for _, in := range []string{"", "   ", "\n\t"} {
		_, err := Question(in)
		assert.True(t, apperr.Is(err, apperr.KindMissingInput), "input %q", in)
	}
}

func TestIsSafe(t *testing.T) {
	cases := []struct {
		sql  string
		safe bool
	}{
		{"SELECT * FROM players;", false},
		{"SELECT * FROM players WHERE name ILIKE '%Ronaldo%'", true},
		{"DROP TABLE players", false},
		{"WITH t AS (SELECT 1) SELECT * FROM t", true},
		{"  select name from clubs  ", true},
		{"SELECT 1", false},
		{"SELECT * FROM players; DELETE FROM players", false},
		{"SELECT * FROM players WHERE 1=1 UNION SELECT * FROM clubs", true},
		{"select created_at from games", true},
		{"SELECT * FROM players WHERE note = 'create'", false},
		{"UPDATE players SET name = 'x'", false},
		{"EXPLAIN SELECT * FROM players", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.safe, IsSafe(tc.sql), "sql %q", tc.sql)
	}
}

func TestSQL(t *testing.T) {
	sql, err := SQL("  SELECT name FROM players  ")
	require.NoError(t, err)
	assert.Equal(t, "SELECT name FROM players", sql)

	_, err = SQL("TRUNCATE players")
	assert.True(t, apperr.Is(err, apperr.KindUnsafeSQL))
}
