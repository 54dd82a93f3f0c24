package database

// Transaction scripts for SurrealDB.
//
// SurrealDB has no interactive transactions over the RPC connection, so every
// guarded mutation is sent as one BEGIN/COMMIT script. Guards inside the
// script THROW one of the Throw* markers, which Query maps back onto
// ErrNotFound, ErrConflict or ErrDuplicate. Nothing in the script is applied
// when a guard throws.
//
//	tb := NewTxBuilder()
//	tb.Let("t", "SELECT * FROM ONLY type::record($id)", map[string]interface{}{"id": id})
//	tb.Guard("$t = NONE", ThrowNotFound)
//	tb.Add("UPDATE $t.id SET status = $status", map[string]interface{}{"status": "paid"})
//	results, err := ExecuteTransaction(ctx, db, tb)

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// TxBuilder builds atomic transaction scripts with automatic variable namespacing.
// Two statements that both bind $id get $v1_id and $v2_id.
type TxBuilder struct {
	statements []string
	vars       map[string]interface{}
	varCounter uint64
}

// NewTxBuilder creates a new transaction builder
func NewTxBuilder() *TxBuilder {
	return &TxBuilder{
		statements: make([]string, 0),
		vars:       make(map[string]interface{}),
	}
}

// Add adds a statement, namespacing its bound variables.
// Variables not present in vars (LET bindings such as $t) are left alone.
func (tb *TxBuilder) Add(query string, vars map[string]interface{}) {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	// longest first so $ticket_id is rewritten before $ticket
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })

	newQuery := query
	for _, name := range names {
		tb.varCounter++
		newName := fmt.Sprintf("v%d_%s", tb.varCounter, name)
		re := regexp.MustCompile(`\$` + regexp.QuoteMeta(name) + `\b`)
		newQuery = re.ReplaceAllString(newQuery, "$$"+newName)
		tb.vars[newName] = vars[name]
	}

	tb.statements = append(tb.statements, newQuery)
}

// Let binds the result of a statement to a script variable
func (tb *TxBuilder) Let(name, query string, vars map[string]interface{}) {
	tb.Add(fmt.Sprintf("LET $%s = (%s)", name, query), vars)
}

// Guard aborts the script with marker when cond holds
func (tb *TxBuilder) Guard(cond, marker string) {
	tb.statements = append(tb.statements, fmt.Sprintf("IF %s { THROW %q; }", cond, marker))
}

// AddRaw adds a raw statement without variable substitution
func (tb *TxBuilder) AddRaw(query string) {
	tb.statements = append(tb.statements, query)
}

// Build returns the complete transaction query and merged variables
func (tb *TxBuilder) Build() (string, map[string]interface{}) {
	if len(tb.statements) == 0 {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("BEGIN TRANSACTION;\n")
	for _, stmt := range tb.statements {
		sb.WriteString(stmt)
		if !strings.HasSuffix(strings.TrimSpace(stmt), ";") {
			sb.WriteString(";")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("COMMIT TRANSACTION;")

	return sb.String(), tb.vars
}

// ExecuteTransaction executes a transaction built with TxBuilder
func ExecuteTransaction(ctx context.Context, db Database, tb *TxBuilder) ([]interface{}, error) {
	query, vars := tb.Build()
	if query == "" {
		return nil, nil
	}

	return db.Query(ctx, query, vars)
}
