// Package bind translates pgsupporter statements into driver form.
//
// Statements are written with %s placeholders; the pgx and lib/pq drivers
// expect $n. Structured values are JSON encoded so that the ::json cast
// next to their placeholder receives JSON text.
package bind

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pthm/pgsupporter"
)

// Rebind rewrites %s placeholders to $1..$n and %% to a literal %.
// Other % sequences are left as they are.
func Rebind(query string) string {
	if !strings.Contains(query, "%") {
		return query
	}

	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c != '%' || i+1 >= len(query) {
			sb.WriteByte(c)
			continue
		}
		switch query[i+1] {
		case 's':
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			i++
		case '%':
			sb.WriteByte('%')
			i++
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// Args converts params to driver arguments. Structured values become
// JSON text; scalars pass through.
func Args(params []pgsupporter.Value) ([]any, error) {
	if len(params) == 0 {
		return nil, nil
	}

	args := make([]any, len(params))
	for i, p := range params {
		if !p.IsStructured() {
			args[i] = p.Any()
			continue
		}
		b, err := json.Marshal(p.Any())
		if err != nil {
			return nil, fmt.Errorf("encoding parameter %d as json: %w", i+1, err)
		}
		args[i] = string(b)
	}
	return args, nil
}

// Statement rebinds query and converts params. Without params the query
// is returned untouched, so percent signs in DDL survive.
func Statement(query string, params []pgsupporter.Value) (string, []any, error) {
	if len(params) == 0 {
		return query, nil, nil
	}
	args, err := Args(params)
	if err != nil {
		return "", nil, err
	}
	return Rebind(query), args, nil
}

// ResetSearchPath restores the session search path to the server default.
// Pooled adapters run it before returning a connection whose transaction
// changed the search path, since a committed SET outlives the transaction.
const ResetSearchPath = "RESET search_path;"

// SetsSearchPath reports whether query changes the session search path.
func SetsSearchPath(query string) bool {
	q := strings.TrimSpace(query)
	const prefix = "SET SEARCH_PATH"
	return len(q) >= len(prefix) && strings.EqualFold(q[:len(prefix)], prefix)
}
