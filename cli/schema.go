package cli

import (
	"fmt"
	"strings"

	actx "go.hackfix.me/coop/app/context"
	"go.hackfix.me/coop/db/migrator"
)

// Schema prints the live database schema.
type Schema struct {
	YAML bool `kong:"name='yaml',help='Print the schema as a migration document that recreates it.'"`
}

// Run the schema command.
func (c *Schema) Run(appCtx *actx.Context) error {
	m, err := newMigrator(appCtx)
	if err != nil {
		return err
	}

	s, err := m.Snapshot(appCtx.Ctx)
	if err != nil {
		return err
	}

	if c.YAML {
		ops := make([]migrator.Operation, 0, len(s.Tables))
		for _, t := range s.Tables {
			ops = append(ops, migrator.CreateTable{Table: t})
		}
		if len(ops) == 0 {
			return fmt.Errorf("schema '%s' has no tables", s.Name)
		}
		doc, err := migrator.MarshalOperations(ops, nil)
		if err != nil {
			return fmt.Errorf("failed serializing schema: %w", err)
		}
		_, err = appCtx.Stdout.Write(doc)
		return err
	}

	for i, t := range s.Tables {
		if i > 0 {
			fmt.Fprintln(appCtx.Stdout)
		}
		fmt.Fprintf(appCtx.Stdout, "%s\n", t.Name)

		data := make([][]string, 0, len(t.Columns)+len(t.Indexes))
		for _, col := range t.Columns {
			nullable, dflt := "no", ""
			if col.Nullable {
				nullable = "yes"
			}
			if col.Default.Valid {
				dflt = col.Default.V
			}
			key := ""
			for _, pk := range t.PrimaryKey {
				if pk == col.Name {
					key = "primary"
				}
			}
			data = append(data, []string{col.Name, col.Type, nullable, dflt, key})
		}
		for _, idx := range t.Indexes {
			kind := "index"
			if idx.Unique {
				kind = "unique index"
			}
			data = append(data, []string{idx.Name, kind, "", "", strings.Join(idx.Columns, ", ")})
		}

		header := []string{"Name", "Type", "Nullable", "Default", "Key"}
		if err = renderTable(header, data, appCtx.Stdout); err != nil {
			return fmt.Errorf("failed rendering schema: %w", err)
		}
	}

	return nil
}
