package core

import (
	"strings"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/require"
)

func TestValidateSQL(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		wantErr string
	}{
		{name: "simple select", sql: "SELECT * FROM orders"},
		{name: "lowercase select with semicolon", sql: "select count(*) from orders;"},
		{name: "cte", sql: "WITH t AS (SELECT id FROM orders) SELECT * FROM t"},
		{name: "column names containing keywords", sql: "SELECT created_at, updated_by, is_deleted FROM orders"},
		{name: "fenced", sql: "```sql\nSELECT 1\n```"},
		{name: "delete", sql: "DELETE FROM orders", wantErr: "forbidden operation: DELETE"},
		{name: "show", sql: "SHOW TABLES", wantErr: "only SELECT or WITH"},
		{name: "empty", sql: "   ", wantErr: "query is empty"},
		{name: "cte wrapping delete", sql: "WITH x AS (DELETE FROM orders RETURNING *) SELECT * FROM x", wantErr: "forbidden operation: DELETE"},
		{name: "select into", sql: "SELECT * INTO backup FROM orders", wantErr: "forbidden operation: INTO"},
		{name: "lowercase drop", sql: "select 1; drop table orders", wantErr: "forbidden operation: DROP"},
		{name: "stacked statements", sql: "SELECT 1; SELECT 2", wantErr: "multiple statements"},
		{name: "unbalanced", sql: "SELECT (1 + 2 FROM t", wantErr: "unbalanced parentheses"},
		{name: "closing first", sql: "SELECT 1) + (2", wantErr: "unbalanced parentheses"},
		{name: "exec", sql: "SELECT 1 EXEC sp_who", wantErr: "forbidden operation: EXEC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSQL(tt.sql)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrUnsafeQuery))
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateSQL_AcceptedQueriesAreReadOnly(t *testing.T) {
	candidates := []string{
		"SELECT id FROM t",
		"WITH a AS (SELECT 1) SELECT * FROM a",
		"UPDATE t SET a = 1",
		"INSERT INTO t VALUES (1)",
		"SELECT * FROM t WHERE x IN (SELECT y FROM u)",
		"GRANT ALL ON t TO bob",
		"select * from t; truncate t",
	}
	for _, c := range candidates {
		if ValidateSQL(c) != nil {
			continue
		}
		upper := strings.ToUpper(CleanSQL(c))
		require.True(t, strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH"), c)
		for _, kw := range ForbiddenKeywords {
			require.NotRegexp(t, `\b`+kw+`\b`, upper, c)
		}
	}
}

func TestEnsureLimit(t *testing.T) {
	out := EnsureLimit("SELECT * FROM t", 100)
	require.Equal(t, "SELECT * FROM t\nLIMIT 100", out)
	require.Equal(t, 1, strings.Count(out, "LIMIT 100"))

	require.Equal(t, "SELECT * FROM t LIMIT 10", EnsureLimit("SELECT * FROM t LIMIT 10", 100))
	require.Equal(t, "select * from t limit 5", EnsureLimit("select * from t limit 5;", 100))
	require.Equal(t, "SELECT 1\nLIMIT 7", EnsureLimit("SELECT 1;", 7))
	require.Equal(t, "SELECT unlimited FROM t\nLIMIT 3", EnsureLimit("SELECT unlimited FROM t", 3))
}

func TestEnsureLimit_TrailingComment(t *testing.T) {
	sqlText := "SELECT * FROM orders -- newest first"
	require.NoError(t, ValidateSQL(sqlText))

	out := EnsureLimit(sqlText, 100)
	require.Equal(t, "SELECT * FROM orders -- newest first\nLIMIT 100", out)
	lines := strings.Split(out, "\n")
	require.Equal(t, "LIMIT 100", lines[len(lines)-1])

	// A LIMIT mentioned only in a comment does not count
	require.Equal(t, "SELECT * FROM orders /* no LIMIT yet */\nLIMIT 5", EnsureLimit("SELECT * FROM orders /* no LIMIT yet */", 5))
	require.Equal(t, "SELECT * FROM orders -- LIMIT later\nLIMIT 5", EnsureLimit("SELECT * FROM orders -- LIMIT later", 5))
}

func TestClassify(t *testing.T) {
	require.Equal(t, ErrorKind(""), Classify(nil))
	require.Equal(t, ErrorKindUnsafe, Classify(&UnsafeQueryError{Reason: "x"}))
	require.Equal(t, ErrorKindTimeout, Classify(errors.Wrap(ErrExecutionTimeout, "pg")))
	require.Equal(t, ErrorKindDriver, Classify(errors.New("boom")))
}
