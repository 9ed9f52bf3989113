package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"askdb/internal/core"

	"github.com/stretchr/testify/require"
)

func TestExecuteNaturalLanguage_CountOrders(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	conn := env.createConnection(t, "alice")

	res, err := env.bridge.ExecuteNaturalLanguageQuery(ctx, "alice", conn.ID, "how many orders are there", core.ExecuteOptions{})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	require.Equal(t, 1, res.RowCount)
	require.Equal(t, "Counts all orders.", res.Explanation)
	require.Equal(t, core.ConfidenceHigh, res.Confidence)
	require.Contains(t, res.GeneratedSQL, "COUNT(*)")
	require.Contains(t, res.GeneratedSQL, "FROM orders")

	pool := env.opener.last()
	require.Equal(t, []string{"SELECT COUNT(*) AS order_count FROM orders"}, pool.executed)

	prompt := env.chat.lastPrompt()
	require.Contains(t, prompt, "Table: public.orders")
	require.Contains(t, prompt, "customer_id integer FK -> customers.id")
	require.Contains(t, prompt, "double quotes")
	require.Contains(t, prompt, "Customers and their orders.")

	history, err := env.bridge.GetQueryHistory(ctx, "alice", conn.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.True(t, history[0].Success)
	require.Equal(t, 1, history[0].RowCount)
	require.Equal(t, "how many orders are there", history[0].Question)
	require.Equal(t, "SELECT COUNT(*) AS order_count FROM orders", history[0].GeneratedSQL)
}

func TestExecuteNaturalLanguage_RejectsDelete(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.chat.generate = func(string) (string, error) {
		return `{"sql": "DELETE FROM orders", "explanation": "Removes every order.", "confidence": "high"}`, nil
	}
	conn := env.createConnection(t, "alice")

	res, err := env.bridge.ExecuteNaturalLanguageQuery(ctx, "alice", conn.ID, "clean up the orders table", core.ExecuteOptions{})
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, core.ErrorKindUnsafe, res.ErrorKind)
	require.Contains(t, res.Error, "forbidden operation: DELETE")
	require.Nil(t, res.Rows)
	require.Equal(t, 0, env.opener.last().executions())

	history, err := env.bridge.GetQueryHistory(ctx, "alice", conn.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.False(t, history[0].Success)
	require.Equal(t, "DELETE FROM orders", history[0].GeneratedSQL)
	require.Contains(t, history[0].Error, "DELETE")
}

func TestExecuteNaturalLanguage_DryRunNeverExecutes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	conn := env.createConnection(t, "alice")

	res, err := env.bridge.ExecuteNaturalLanguageQuery(ctx, "alice", conn.ID, "how many orders are there", core.ExecuteOptions{DryRun: true})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.True(t, res.DryRun)
	require.Equal(t, "SELECT COUNT(*) AS order_count FROM orders", res.GeneratedSQL)
	require.Equal(t, "Counts all orders.", res.Explanation)
	require.Nil(t, res.Rows)
	require.Equal(t, 0, env.opener.last().executions())

	history, err := env.bridge.GetQueryHistory(ctx, "alice", conn.ID, 10)
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestExecuteNaturalLanguage_GenerationFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.chat.generate = func(string) (string, error) {
		return "Sorry, I cannot help with that.", nil
	}
	conn := env.createConnection(t, "alice")

	_, err := env.bridge.ExecuteNaturalLanguageQuery(ctx, "alice", conn.ID, "what is the meaning of life", core.ExecuteOptions{})
	require.True(t, errors.Is(err, core.ErrGenerationFailed))

	history, err := env.bridge.GetQueryHistory(ctx, "alice", conn.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.False(t, history[0].Success)
	require.Equal(t, core.GenerationFailedSQL, history[0].GeneratedSQL)
	require.NotEmpty(t, history[0].Error)
}

func TestExecuteNaturalLanguage_ModelErrorPropagates(t *testing.T) {
	env := newTestEnv(t)
	env.chat.generate = func(string) (string, error) { return "", errors.New("503 service unavailable") }
	conn := env.createConnection(t, "alice")

	_, err := env.bridge.ExecuteNaturalLanguageQuery(context.Background(), "alice", conn.ID, "count orders", core.ExecuteOptions{})
	require.True(t, errors.Is(err, core.ErrGenerationFailed))
}

func TestExecuteNaturalLanguage_UnknownConnection(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.bridge.ExecuteNaturalLanguageQuery(context.Background(), "alice", "missing", "count orders", core.ExecuteOptions{})
	require.True(t, errors.Is(err, core.ErrConnectionNotFound))
}

func TestExecuteNaturalLanguage_LowConfidenceAnnotates(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.chat.generate = func(string) (string, error) {
		return "Here you go:\n```json\n{\"sql\": \"SELECT id FROM orders WHERE total > 100\", \"explanation\": \"Large orders.\", \"confidence\": \"low\"}\n```", nil
	}
	conn := env.createConnection(t, "alice")

	res, err := env.bridge.ExecuteNaturalLanguageQuery(ctx, "alice", conn.ID, "big orders?", core.ExecuteOptions{})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, core.ConfidenceLow, res.Confidence)
	require.Contains(t, res.Warnings, lowConfidenceWarning)
}

func TestExecuteNaturalLanguage_TimeoutIsStructured(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.opener.newPool = func(dialect core.Dialect, _ core.Credentials) *fakePool {
		return &fakePool{
			dialect: dialect,
			intro:   ordersSchema(),
			execErr: fmt.Errorf("%w: canceling statement due to statement timeout", core.ErrExecutionTimeout),
		}
	}
	conn := env.createConnection(t, "alice")

	res, err := env.bridge.ExecuteNaturalLanguageQuery(ctx, "alice", conn.ID, "how many orders are there", core.ExecuteOptions{Timeout: time.Second})
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, core.ErrorKindTimeout, res.ErrorKind)
	require.Equal(t, "Counts all orders.", res.Explanation)

	history, err := env.bridge.GetQueryHistory(ctx, "alice", conn.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.False(t, history[0].Success)
	require.Contains(t, history[0].Error, "timed out")
}

type failingHistory struct{ core.HistoryRepository }

func (failingHistory) Append(ctx context.Context, e *core.QueryHistoryEntry) error {
	return errors.New("database is locked")
}

func TestExecuteNaturalLanguage_HistoryFailureIsSwallowed(t *testing.T) {
	env := newTestEnv(t, func(d *BridgeDeps) { d.History = failingHistory{d.History} })
	conn := env.createConnection(t, "alice")

	res, err := env.bridge.ExecuteNaturalLanguageQuery(context.Background(), "alice", conn.ID, "how many orders are there", core.ExecuteOptions{})
	require.NoError(t, err)
	require.True(t, res.Success)
}

func TestExecuteSQL_ClampsLimitsAndWarnsOnTruncation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.opener.newPool = func(dialect core.Dialect, _ core.Credentials) *fakePool {
		return &fakePool{
			dialect: dialect,
			out: &core.QueryOutput{
				Columns: []core.ColumnMeta{{Name: "id", Type: "integer"}},
				Rows:    []map[string]interface{}{{"id": 1}, {"id": 2}},
			},
		}
	}
	conn := env.createConnection(t, "alice")

	res, err := env.bridge.ExecuteSQLQuery(ctx, "alice", conn.ID, "SELECT id FROM orders;", core.ExecuteOptions{Timeout: 10 * time.Minute, MaxRows: 2})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 2, res.RowCount)
	require.Equal(t, "SELECT id FROM orders\nLIMIT 2", res.GeneratedSQL)
	require.Equal(t, []string{"Results truncated to 2 rows."}, res.Warnings)

	pool := env.opener.last()
	require.Equal(t, MaxTimeout, pool.limits[0].Timeout)
	require.Equal(t, 2, pool.limits[0].MaxRows)

	_, err = env.bridge.ExecuteSQLQuery(ctx, "alice", conn.ID, "SELECT id FROM orders", core.ExecuteOptions{})
	require.NoError(t, err)
	require.Equal(t, DefaultTimeout, pool.limits[1].Timeout)
	require.Equal(t, DefaultMaxRows, pool.limits[1].MaxRows)
}

func TestExecuteSQL_UnsafeNeverReachesDriver(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	conn := env.createConnection(t, "alice")

	for _, sqlText := range []string{
		"DROP TABLE orders",
		"SELECT * FROM orders; DELETE FROM orders",
		"SELECT id INTO backup FROM orders",
		"SHOW TABLES",
		"SELECT (1",
	} {
		res, err := env.bridge.ExecuteSQLQuery(ctx, "alice", conn.ID, sqlText, core.ExecuteOptions{})
		require.NoError(t, err, sqlText)
		require.False(t, res.Success, sqlText)
		require.Equal(t, core.ErrorKindUnsafe, res.ErrorKind, sqlText)
	}
	require.Equal(t, 0, env.opener.count())
}

func TestExecuteSQL_PoolFailureIsStructured(t *testing.T) {
	env := newTestEnv(t)
	env.opener.newPool = func(dialect core.Dialect, _ core.Credentials) *fakePool {
		return &fakePool{dialect: dialect, probeErr: fmt.Errorf("%w: probe failed: no route to host", core.ErrDriver)}
	}
	conn := env.createConnection(t, "alice")

	res, err := env.bridge.ExecuteSQLQuery(context.Background(), "alice", conn.ID, "SELECT 1", core.ExecuteOptions{})
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, core.ErrorKindDriver, res.ErrorKind)
	require.Contains(t, res.Error, "no route to host")
}

func TestQueryHistory_ScopedAndCleared(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	conn := env.createConnection(t, "alice")

	for i := 0; i < 3; i++ {
		_, err := env.bridge.ExecuteNaturalLanguageQuery(ctx, "alice", conn.ID, fmt.Sprintf("question %d", i), core.ExecuteOptions{})
		require.NoError(t, err)
		env.clock.Advance(time.Second)
	}

	latest, err := env.bridge.GetQueryHistory(ctx, "alice", conn.ID, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	require.Equal(t, "question 2", latest[0].Question)

	foreign, err := env.bridge.GetQueryHistory(ctx, "bob", conn.ID, 10)
	require.NoError(t, err)
	require.Empty(t, foreign)

	require.NoError(t, env.bridge.ClearQueryHistory(ctx, "alice", conn.ID))
	cleared, err := env.bridge.GetQueryHistory(ctx, "alice", conn.ID, 10)
	require.NoError(t, err)
	require.Empty(t, cleared)
}
