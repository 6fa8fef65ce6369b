package bind

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/pgsupporter"
)

func TestRebind(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SELECT 1;", "SELECT 1;"},
		{"SELECT * FROM t WHERE a = %s AND b = %s;", "SELECT * FROM t WHERE a = $1 AND b = $2;"},
		{"INSERT INTO t (a, b) VALUES (%s, %s::json);", "INSERT INTO t (a, b) VALUES ($1, $2::json);"},
		{"SELECT * FROM t WHERE a LIKE 'x%%' AND b = %s;", "SELECT * FROM t WHERE a LIKE 'x%' AND b = $1;"},
		{"SELECT '%d', %s;", "SELECT '%d', $1;"},
		{"SELECT 100%", "SELECT 100%"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Rebind(tt.in))
		})
	}
}

func TestArgs(t *testing.T) {
	args, err := Args([]pgsupporter.Value{
		pgsupporter.ValueOf(1),
		pgsupporter.ValueOf("a"),
		pgsupporter.ValueOf(map[string]any{"k": []int{1, 2}}),
		pgsupporter.ValueOf([]string{"x"}),
	})
	require.NoError(t, err)
	assert.Equal(t, []any{1, "a", `{"k":[1,2]}`, `["x"]`}, args)
}

func TestArgsUnencodable(t *testing.T) {
	_, err := Args([]pgsupporter.Value{pgsupporter.JSON(map[string]any{"ch": make(chan int)})})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parameter 1")
}

func TestStatementWithoutParams(t *testing.T) {
	query, args, err := Statement("CREATE TABLE t (pct text DEFAULT '100%%s');", nil)
	require.NoError(t, err)
	assert.Equal(t, "CREATE TABLE t (pct text DEFAULT '100%%s');", query)
	assert.Nil(t, args)
}

func TestSetsSearchPath(t *testing.T) {
	assert.True(t, SetsSearchPath("SET search_path TO tenant_a,public;"))
	assert.True(t, SetsSearchPath("  set SEARCH_PATH = x"))
	assert.False(t, SetsSearchPath("SHOW search_path;"))
	assert.False(t, SetsSearchPath("SET statement_timeout = 0"))
	assert.False(t, SetsSearchPath(ResetSearchPath))
}
