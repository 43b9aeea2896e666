package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/crepo/internal/querysql"
	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/transport"
	"github.com/roach88/crepo/internal/value"
)

// SupportedQueryLanguages lists the statement languages Query executes.
func (c *Conn) SupportedQueryLanguages() []string {
	return []string{transport.LanguageSQLite}
}

// Query executes a statement compiled by querysql.
//
// Result columns arrive as one path per selector followed by a
// (value, type) pair per property column. Columns named "sel.*" are filled
// from the selected node's properties. Scores are always 1.
func (c *Conn) Query(ctx context.Context, stmt transport.Statement) ([]transport.Row, error) {
	if err := c.Check("query"); err != nil {
		return nil, err
	}
	if stmt.Language != transport.LanguageSQLite {
		return nil, repoerr.At(repoerr.CodeUnsupportedOperation, "query", "", "query language %q is not supported", stmt.Language)
	}

	args := make([]any, len(stmt.Args))
	for i, a := range stmt.Args {
		if _, ok := a.(querysql.WorkspaceArg); ok {
			a = c.Workspace()
		}
		args[i] = a
	}

	rows, err := c.q().QueryContext(ctx, stmt.Text, args...)
	if err != nil {
		return nil, repoerr.Wrap(fmt.Errorf("execute query: %w", err), "query", "")
	}

	var valueCols []string
	for _, col := range stmt.Columns {
		if !strings.HasSuffix(col, ".*") {
			valueCols = append(valueCols, col)
		}
	}

	type raw struct {
		paths  []sql.NullString
		values []sql.NullString
		types  []sql.NullInt64
	}
	var raws []raw
	for rows.Next() {
		r := raw{
			paths:  make([]sql.NullString, len(stmt.Selectors)),
			values: make([]sql.NullString, len(valueCols)),
			types:  make([]sql.NullInt64, len(valueCols)),
		}
		dest := make([]any, 0, len(r.paths)+2*len(valueCols))
		for i := range r.paths {
			dest = append(dest, &r.paths[i])
		}
		for i := range valueCols {
			dest = append(dest, &r.values[i], &r.types[i])
		}
		if err := rows.Scan(dest...); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan query row: %w", err)
		}
		raws = append(raws, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}

	if stmt.Offset > 0 {
		raws = raws[min(stmt.Offset, len(raws)):]
	}
	if stmt.Limit > 0 && len(raws) > stmt.Limit {
		raws = raws[:stmt.Limit]
	}

	out := make([]transport.Row, 0, len(raws))
	for _, r := range raws {
		row := transport.Row{}
		for i, sel := range stmt.Selectors {
			if !r.paths[i].Valid {
				row[transport.PathColumn(sel)] = transport.Cell{Type: value.Path, Selector: sel, Null: true}
				row[transport.ScoreColumn(sel)] = transport.Cell{Type: value.Double, Selector: sel, Null: true}
				continue
			}
			row[transport.PathColumn(sel)] = transport.Cell{Value: value.NewPath(r.paths[i].String), Type: value.Path, Selector: sel}
			row[transport.ScoreColumn(sel)] = transport.Cell{Value: value.NewDouble(1), Type: value.Double, Selector: sel}
		}
		for i, col := range valueCols {
			sel, _, _ := strings.Cut(col, ".")
			row[col] = cell(sel, r.values[i], r.types[i])
		}
		for _, col := range stmt.Columns {
			sel, ok := strings.CutSuffix(col, ".*")
			if !ok {
				continue
			}
			if err := c.expandColumns(ctx, row, sel); err != nil {
				return nil, err
			}
		}
		out = append(out, row)
	}
	return out, nil
}

// expandColumns adds a column per property of the node selected by sel.
func (c *Conn) expandColumns(ctx context.Context, row transport.Row, sel string) error {
	p, ok := row[transport.PathColumn(sel)]
	if !ok || p.Null {
		return nil
	}
	props, err := c.readProperties(ctx, c.q(), c.Workspace(), p.Value.String(), "")
	if err != nil {
		return err
	}
	for _, prop := range props {
		col := sel + "." + prop.Name
		if prop.Type == value.Binary || len(prop.Values) == 0 {
			row[col] = transport.Cell{Type: prop.Type, Selector: sel, Null: len(prop.Lengths) == 0}
			continue
		}
		row[col] = cell(sel, sql.NullString{String: prop.Values[0], Valid: true}, sql.NullInt64{Int64: int64(prop.Type), Valid: true})
	}
	return nil
}

func cell(sel string, v sql.NullString, t sql.NullInt64) transport.Cell {
	if !v.Valid || !t.Valid {
		return transport.Cell{Selector: sel, Null: true}
	}
	typ := value.Type(t.Int64)
	if typ == value.Binary {
		return transport.Cell{Type: typ, Selector: sel}
	}
	val, err := value.New(typ, v.String)
	if err != nil {
		val = value.NewString(v.String)
	}
	return transport.Cell{Value: val, Type: typ, Selector: sel}
}
