package trace

import (
	"database/sql"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/fatih/structs"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// TableName is the table the exporter writes records into.
const TableName = "trace_records"

// Row is the relational form of a record.
type Row struct {
	Idx      int64
	Kind     string
	Clk      int64
	TaskID   int64
	Category string
	Reason   string
	PC       int64
	Size     int64
}

// RowOf converts a record at position idx into a row.
func RowOf(idx int, r Record) Row {
	return Row{
		Idx:      int64(idx),
		Kind:     r.Kind.String(),
		Clk:      int64(r.Clk),
		TaskID:   int64(r.ID),
		Category: r.Cat.String(),
		Reason:   r.Reason.String(),
		PC:       int64(r.PC),
		Size:     int64(len(r.Data)),
	}
}

// SQLiteExporter writes trace records into a SQLite database.
type SQLiteExporter struct {
	*sql.DB

	dbName    string
	batchSize int
	pending   []Row
	created   bool
}

// NewSQLiteExporter creates an exporter writing to dbName.sqlite3. An empty
// name generates a unique one. Pending rows are flushed at exit.
func NewSQLiteExporter(dbName string) (*SQLiteExporter, error) {
	if dbName == "" {
		dbName = "lotto_trace_" + xid.New().String()
	}

	filename := dbName + ".sqlite3"
	if _, err := os.Stat(filename); err == nil {
		return nil, fmt.Errorf("trace: file %s already exists", filename)
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return nil, fmt.Errorf("trace: opening %s: %w", filename, err)
	}

	e := &SQLiteExporter{DB: db, dbName: dbName, batchSize: 10000}

	atexit.Register(func() {
		if err := e.Flush(); err != nil {
			fmt.Fprintf(os.Stderr, "trace: flushing %s: %v\n", filename, err)
		}
	})

	return e, nil
}

// Filename returns the database file name.
func (e *SQLiteExporter) Filename() string {
	return e.dbName + ".sqlite3"
}

func (e *SQLiteExporter) createTable() error {
	if e.created {
		return nil
	}

	fields := strings.Join(structs.Names(Row{}), ", \n\t")
	query := `CREATE TABLE ` + TableName + ` (` + "\n\t" + fields + "\n" + `);`

	if _, err := e.Exec(query); err != nil {
		return fmt.Errorf("trace: creating table: %w", err)
	}

	e.created = true

	return nil
}

// Export queues every record of a trace and flushes full batches.
func (e *SQLiteExporter) Export(t Trace) error {
	if err := e.createTable(); err != nil {
		return err
	}

	for i, r := range t.Records() {
		e.pending = append(e.pending, RowOf(i, r))

		if len(e.pending) >= e.batchSize {
			if err := e.Flush(); err != nil {
				return err
			}
		}
	}

	return nil
}

// Flush writes the queued rows in one transaction.
func (e *SQLiteExporter) Flush() error {
	if len(e.pending) == 0 {
		return nil
	}

	tx, err := e.Begin()
	if err != nil {
		return fmt.Errorf("trace: beginning transaction: %w", err)
	}

	placeholders := structs.Names(Row{})
	for i := range placeholders {
		placeholders[i] = "?"
	}

	stmt, err := tx.Prepare("INSERT INTO " + TableName +
		" VALUES (" + strings.Join(placeholders, ", ") + ")")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("trace: preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range e.pending {
		v := []any{}

		fields := reflect.ValueOf(row)
		for i := 0; i < fields.NumField(); i++ {
			v = append(v, fields.Field(i).Interface())
		}

		if _, err := stmt.Exec(v...); err != nil {
			tx.Rollback()
			return fmt.Errorf("trace: inserting record %d: %w", row.Idx, err)
		}
	}

	e.pending = nil

	return tx.Commit()
}
