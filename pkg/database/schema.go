package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks a migrated database against what the stores expect.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"students":          "Student identities",
		"lecturers":         "Lecturer identities",
		"department_heads":  "Department head identities",
		"messages":          "Private message history",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.tableExists(table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateTableStructure verifies column names and declared types.
func (v *SchemaValidator) ValidateTableStructure() error {
	studentColumns := map[string]string{
		"id":                  "TEXT",
		"display_name":        "TEXT",
		"registration_number": "TEXT",
	}
	if err := v.validateColumns("students", studentColumns); err != nil {
		return fmt.Errorf("students table structure invalid: %w", err)
	}

	staffColumns := map[string]string{
		"id":           "TEXT",
		"display_name": "TEXT",
	}
	for _, table := range []string{"lecturers", "department_heads"} {
		if err := v.validateColumns(table, staffColumns); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table, err)
		}
	}

	messageColumns := map[string]string{
		"seq":                      "INTEGER",
		"id":                       "TEXT",
		"from_id":                  "TEXT",
		"from_role":                "TEXT",
		"from_name":                "TEXT",
		"from_registration_number": "TEXT",
		"to_id":                    "TEXT",
		"to_role":                  "TEXT",
		"content":                  "TEXT",
		"timestamp":                "DATETIME",
		"delivered":                "INTEGER",
	}
	if err := v.validateColumns("messages", messageColumns); err != nil {
		return fmt.Errorf("messages table structure invalid: %w", err)
	}

	return nil
}

// ValidateIndexes verifies that all lookup indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_students_registration":        "Registration number uniqueness",
		"idx_messages_pair":                "Conversation retrieval",
		"idx_messages_recipient_delivered": "Undelivered message lookups",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.indexExists(index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}

	return nil
}

// ValidateConstraints verifies that the messages table rejects self
// messages and unknown roles. Probe rows are written inside a transaction
// that is always rolled back.
func (v *SchemaValidator) ValidateConstraints() error {
	tx, err := v.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO messages (id, from_id, from_role, from_name, to_id, to_role, content, timestamp)
		VALUES ('constraint-probe-1', 'u1', 'student', 'U', 'u1', 'lecturer', 'x', CURRENT_TIMESTAMP)
	`)
	if err == nil {
		return fmt.Errorf("check constraint not enforced: messages.from_id <> messages.to_id")
	}

	_, err = tx.Exec(`
		INSERT INTO messages (id, from_id, from_role, from_name, to_id, to_role, content, timestamp)
		VALUES ('constraint-probe-2', 'u1', 'janitor', 'U', 'u2', 'lecturer', 'x', CURRENT_TIMESTAMP)
	`)
	if err == nil {
		return fmt.Errorf("check constraint not enforced: messages.from_role")
	}

	return nil
}

func (v *SchemaValidator) tableExists(tableName string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
		tableName,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) indexExists(indexName string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?",
		indexName,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid int
		var name, dataType string
		var notNull int
		var defaultValue interface{}
		var pk int

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}

	return nil
}
