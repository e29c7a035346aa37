package local

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/metaenhancer/metaenhancer/pkg/pipeline/core"
	"github.com/metaenhancer/metaenhancer/pkg/pipeline/schema"
)

// IDColumn names rows in diagnostics. It is not part of an entity's metadata.
const IDColumn = "id"

// Table is a CSV file loaded as entities. Columns keeps the normalized header order.
type Table struct {
	Columns  []string
	Entities []*core.MapEntity
}

// CoreEntities returns the entities behind the core.Entity interface.
func (t *Table) CoreEntities() []core.Entity {
	out := make([]core.Entity, len(t.Entities))
	for i, e := range t.Entities {
		out[i] = e
	}
	return out
}

// ReadTableCSV reads one entity per row. Header names are normalized to
// attribute names and empty cells are left out of the metadata. Rows without
// an "id" column are named by their 1-based row number.
func ReadTableCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, raw := range header {
		name := schema.Normalize(raw)
		if name == "" {
			return nil, fmt.Errorf("column %d has an empty name", i+1)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		seen[name] = true
		cols[i] = name
	}

	t := &Table{Columns: cols}
	for row := 1; ; row++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return t, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if len(rec) > len(cols) {
			return nil, fmt.Errorf("row %d has %d columns, header has %d", row, len(rec), len(cols))
		}

		e := &core.MapEntity{ID: strconv.Itoa(row), Data: core.Metadata{}}
		for i, cell := range rec {
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			if cols[i] == IDColumn {
				e.ID = cell
				continue
			}
			e.Data[cols[i]] = schema.Coerce(cols[i], cell)
		}
		t.Entities = append(t.Entities, e)
	}
}

// WriteTableCSV writes the table keeping the original column order. Attributes
// that no input column holds are appended in sorted order.
func WriteTableCSV(w io.Writer, t *Table) error {
	cols := append([]string(nil), t.Columns...)
	have := make(map[string]bool, len(cols))
	for _, c := range cols {
		have[c] = true
	}
	var extra []string
	for _, e := range t.Entities {
		for _, k := range e.Metadata().Keys() {
			if !have[k] {
				have[k] = true
				extra = append(extra, k)
			}
		}
	}
	sort.Strings(extra)
	cols = append(cols, extra...)

	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return err
	}
	row := make([]string, len(cols))
	for _, e := range t.Entities {
		m := e.Metadata()
		for i, c := range cols {
			if c == IDColumn {
				row[i] = e.ID
				continue
			}
			row[i] = ""
			if m.Has(c) {
				row[i] = core.ValueString(m[c])
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
