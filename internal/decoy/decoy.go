// Package decoy holds the fabricated datasets the honeypot responder serves
// in place of real query results. The core treats a dataset as an opaque
// table-name lookup; content comes from the external supplier.
package decoy

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Column types understood by the responders.
const (
	TypeInt   = "int"
	TypeFloat = "float"
	TypeText  = "text"
)

type Column struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// Table is a bounded sequence of fabricated rows. Row values are text; the
// column type only steers the wire-level type description.
type Table struct {
	Columns []Column   `yaml:"columns"`
	Rows    [][]string `yaml:"rows"`
}

type Dataset struct {
	Tables map[string]*Table `yaml:"tables"`
}

// Lookup finds a table case-insensitively.
func (d *Dataset) Lookup(name string) (*Table, bool) {
	if d == nil {
		return nil, false
	}
	if t, ok := d.Tables[name]; ok {
		return t, true
	}
	for n, t := range d.Tables {
		if strings.EqualFold(n, name) {
			return t, true
		}
	}
	return nil, false
}

func (d *Dataset) validate() error {
	for name, table := range d.Tables {
		if table == nil {
			return fmt.Errorf("table %q has no body", name)
		}
		for _, col := range table.Columns {
			switch col.Type {
			case TypeInt, TypeFloat, TypeText, "":
			default:
				return fmt.Errorf("table %q column %q: unknown type %q", name, col.Name, col.Type)
			}
		}
		for i, row := range table.Rows {
			if len(row) != len(table.Columns) {
				return fmt.Errorf("table %q row %d: %d values for %d columns", name, i, len(row), len(table.Columns))
			}
		}
	}
	return nil
}

// Load reads a dataset file.
func Load(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read decoy dataset: %w", err)
	}
	var d Dataset
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse decoy dataset: %w", err)
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// FakeUsers builds a plausible default decoy table so the proxy has
// something to serve before a dataset file is supplied.
func FakeUsers(n int) *Table {
	t := &Table{
		Columns: []Column{
			{Name: "id", Type: TypeInt},
			{Name: "username", Type: TypeText},
			{Name: "email", Type: TypeText},
			{Name: "password", Type: TypeText},
			{Name: "balance", Type: TypeFloat},
		},
	}
	for i := 1; i <= n; i++ {
		t.Rows = append(t.Rows, []string{
			fmt.Sprintf("%d", i),
			fmt.Sprintf("user_%03d", i),
			fmt.Sprintf("user_%03d@example.com", i),
			fmt.Sprintf("5f4dcc3b5aa765d61d83%04d", i*7919%10000),
			fmt.Sprintf("%d.%02d", (i*271)%9000+100, (i*37)%100),
		})
	}
	return t
}

// Default is the dataset used when no file is configured.
func Default() *Dataset {
	return &Dataset{Tables: map[string]*Table{"users": FakeUsers(5)}}
}

// Store hands out immutable dataset snapshots, reloadable independently of
// the policy store.
type Store struct {
	current atomic.Pointer[Dataset]
}

func NewStore(d *Dataset) *Store {
	s := &Store{}
	if d == nil {
		d = &Dataset{}
	}
	s.current.Store(d)
	return s
}

func (s *Store) Snapshot() *Dataset {
	return s.current.Load()
}

func (s *Store) Swap(d *Dataset) {
	if d == nil {
		d = &Dataset{}
	}
	s.current.Store(d)
}
