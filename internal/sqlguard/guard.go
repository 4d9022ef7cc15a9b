// Package sqlguard re-validates compiled SQL before it leaves the process:
// exactly one read-only SELECT (or set operation over SELECTs) that reads a
// real table, calls no file or metadata functions and carries no comments.
//
// Statements are parsed by DuckDB itself through json_serialize_sql, so the
// guard accepts exactly the dialect the compiled SQL is executed in.
package sqlguard

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" driver
)

var (
	ErrEmpty              = errors.New("sql is empty")
	ErrInvalidSQL         = errors.New("invalid sql")
	ErrNotReadOnly        = errors.New("sql is not a read-only select")
	ErrNoFromClause       = errors.New("select has no FROM clause")
	ErrComment            = errors.New("sql contains a comment")
	ErrMultipleStatements = errors.New("sql contains more than one statement")
	ErrProhibitedFunction = errors.New("sql calls a prohibited function")
	ErrExternalAccess     = errors.New("sql reads a file path")
)

// dangerousFunctions can read the filesystem, leak internal metadata or
// escape the catalog.
var dangerousFunctions = map[string]bool{
	"read_csv":             true,
	"read_csv_auto":        true,
	"read_parquet":         true,
	"parquet_scan":         true,
	"read_json":            true,
	"read_json_auto":       true,
	"read_ndjson":          true,
	"read_text":            true,
	"read_blob":            true,
	"glob":                 true,
	"sqlite_scan":          true,
	"query":                true,
	"query_table":          true,
	"duckdb_extensions":    true,
	"duckdb_settings":      true,
	"duckdb_databases":     true,
	"duckdb_secrets":       true,
	"pragma_database_list": true,
}

// Guard checks statements against an in-memory DuckDB parser. It holds no
// tables and is safe for concurrent use.
type Guard struct {
	db *sql.DB
}

// New opens the in-memory DuckDB instance used for parsing.
func New() (*Guard, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb parser: %w", err)
	}
	return &Guard{db: db}, nil
}

// Close releases the DuckDB instance.
func (g *Guard) Close() error {
	return g.db.Close()
}

// serialized is the envelope returned by json_serialize_sql.
type serialized struct {
	Error        bool              `json:"error"`
	ErrorType    string            `json:"error_type"`
	ErrorMessage string            `json:"error_message"`
	Statements   []json.RawMessage `json:"statements"`
}

// Check returns nil when query is a single read-only SELECT.
func (g *Guard) Check(ctx context.Context, query string) error {
	query = strings.TrimRight(strings.TrimSpace(query), "; \t\r\n")
	if query == "" {
		return ErrEmpty
	}
	if err := scanText(query); err != nil {
		return err
	}
	if !startsReadOnly(query) {
		return ErrNotReadOnly
	}

	var raw string
	if err := g.db.QueryRowContext(ctx, "SELECT json_serialize_sql(?::VARCHAR)", query).Scan(&raw); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrInvalidSQL, err)
	}
	var out serialized
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return fmt.Errorf("decode parse tree: %w", err)
	}
	if out.Error {
		if strings.EqualFold(out.ErrorType, "not implemented") {
			return fmt.Errorf("%w: %s", ErrNotReadOnly, out.ErrorMessage)
		}
		return fmt.Errorf("%w: %s", ErrInvalidSQL, out.ErrorMessage)
	}
	switch len(out.Statements) {
	case 0:
		return ErrEmpty
	case 1:
	default:
		return ErrMultipleStatements
	}

	var stmt struct {
		Node map[string]any `json:"node"`
	}
	if err := json.Unmarshal(out.Statements[0], &stmt); err != nil {
		return fmt.Errorf("decode parse tree: %w", err)
	}
	switch nodeType(stmt.Node) {
	case "SELECT_NODE", "SET_OPERATION_NODE", "CTE_NODE", "RECURSIVE_CTE_NODE":
	default:
		return fmt.Errorf("%w: %s", ErrNotReadOnly, nodeType(stmt.Node))
	}
	return inspect(stmt.Node)
}

// inspect walks the serialized tree: every SELECT needs a FROM clause, no
// function may be on the blocklist and no table may be a file path.
func inspect(v any) error {
	switch n := v.(type) {
	case map[string]any:
		switch nodeType(n) {
		case "SELECT_NODE":
			from, _ := n["from_table"].(map[string]any)
			if t := nodeType(from); t == "" || t == "EMPTY" || t == "EMPTY_FROM" {
				return ErrNoFromClause
			}
		case "BASE_TABLE":
			if name, _ := n["table_name"].(string); strings.ContainsAny(name, "./\\") {
				return fmt.Errorf("%w: %s", ErrExternalAccess, name)
			}
		}
		if name, ok := n["function_name"].(string); ok && dangerousFunctions[strings.ToLower(name)] {
			return fmt.Errorf("%w: %s", ErrProhibitedFunction, name)
		}
		for _, child := range n {
			if err := inspect(child); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range n {
			if err := inspect(child); err != nil {
				return err
			}
		}
	}
	return nil
}

func nodeType(n map[string]any) string {
	t, _ := n["type"].(string)
	return t
}

// startsReadOnly reports whether the first keyword opens a query.
func startsReadOnly(query string) bool {
	q := strings.TrimLeft(query, "( \t\r\n")
	end := strings.IndexFunc(q, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	})
	if end >= 0 {
		q = q[:end]
	}
	switch strings.ToUpper(q) {
	case "SELECT", "WITH", "FROM":
		return true
	}
	return false
}

// scanText rejects comments and statement separators outside quoted
// literals and identifiers. DuckDB drops comments before serializing.
func scanText(query string) error {
	var quote byte
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case quote != 0:
			if ch == quote {
				if i+1 < len(query) && query[i+1] == quote {
					i++
				} else {
					quote = 0
				}
			}
		case ch == '\'' || ch == '"':
			quote = ch
		case strings.HasPrefix(query[i:], "--"), strings.HasPrefix(query[i:], "/*"):
			return ErrComment
		case ch == ';':
			return ErrMultipleStatements
		}
	}
	if quote != 0 {
		return fmt.Errorf("%w: unterminated quote", ErrInvalidSQL)
	}
	return nil
}
