package agent

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// SchemaSource supplies the DDL the pipeline reasons about.
type SchemaSource interface {
	Schema(ctx context.Context) (string, error)
}

type StaticSchema string

func (s StaticSchema) Schema(context.Context) (string, error) {
	return string(s), nil
}

// FileSchema reads the schema from disk on every turn so edits apply
// without a restart.
type FileSchema struct {
	Path string
}

func (f FileSchema) Schema(context.Context) (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("reading schema file: %w", err)
	}
	schema := strings.TrimSpace(string(data))
	if schema == "" {
		return "", fmt.Errorf("schema file %s is empty", f.Path)
	}
	return schema, nil
}

func NewSchemaSource(path string) SchemaSource {
	if path == "" {
		return StaticSchema(SampleSchema)
	}
	return FileSchema{Path: path}
}

const SampleSchema = `CREATE TABLE customers (
    id          INTEGER PRIMARY KEY,
    email       VARCHAR(255) NOT NULL UNIQUE,
    full_name   VARCHAR(255) NOT NULL,
    city        VARCHAR(120) NOT NULL,
    country     CHAR(2)      NOT NULL,
    status      VARCHAR(32)  NOT NULL,
    created_at  TIMESTAMP    NOT NULL
);

CREATE TABLE orders (
    id           INTEGER PRIMARY KEY,
    customer_id  INTEGER NOT NULL REFERENCES customers(id),
    total_cents  INTEGER NOT NULL,
    currency     CHAR(3) NOT NULL,
    placed_at    TIMESTAMP NOT NULL,
    cancelled_at TIMESTAMP
);`
