// Package database tests for schema translation.
package database

import (
	"strings"
	"testing"
)

// TestTranslateSchemaSerialPrimaryKey verifies the auto-increment rewrite
// produces no duplicate PRIMARY KEY clause.
func TestTranslateSchemaSerialPrimaryKey(t *testing.T) {
	got := TranslateSchema("id SERIAL PRIMARY KEY, name VARCHAR(50)")
	want := "id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT(50)"
	if got != want {
		t.Errorf("TranslateSchema() = %q, want %q", got, want)
	}
	if strings.Count(got, "PRIMARY KEY") != 1 {
		t.Errorf("Expected exactly one PRIMARY KEY clause, got %q", got)
	}
}

// TestTranslateSchemaStripsExplicitPrimaryKey verifies a redundant
// table-level PRIMARY KEY clause is removed once auto-increment implies it.
func TestTranslateSchemaStripsExplicitPrimaryKey(t *testing.T) {
	got := TranslateSchema("id SERIAL PRIMARY KEY, name TEXT, PRIMARY KEY (id)")
	if strings.Contains(got, "PRIMARY KEY (") {
		t.Errorf("Explicit PRIMARY KEY clause should be stripped, got %q", got)
	}
	if !strings.Contains(got, "INTEGER PRIMARY KEY AUTOINCREMENT") {
		t.Errorf("Auto-increment column missing, got %q", got)
	}
}

// TestTranslateSchemaKeepsExplicitPrimaryKeyWithoutSerial verifies the
// clause survives when no auto-increment column absorbs it.
func TestTranslateSchemaKeepsExplicitPrimaryKeyWithoutSerial(t *testing.T) {
	got := TranslateSchema("id INTEGER, name TEXT, PRIMARY KEY (id)")
	if !strings.Contains(got, "PRIMARY KEY (id)") {
		t.Errorf("Explicit PRIMARY KEY should be kept, got %q", got)
	}
}

// TestTranslateSchemaTypes covers the individual type mappings.
func TestTranslateSchemaTypes(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"varchar with length", "name VARCHAR(100)", "name TEXT(100)"},
		{"bare varchar", "name VARCHAR", "name TEXT"},
		{"boolean", "active BOOLEAN", "active INTEGER"},
		{"jsonb", "payload JSONB", "payload TEXT"},
		{"json", "payload JSON", "payload TEXT"},
		{"uuid", "ref UUID", "ref TEXT"},
		{"bigserial", "n BIGSERIAL", "n INTEGER"},
		{"timestamp default", "created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP", "created_at TEXT DEFAULT CURRENT_TIMESTAMP"},
		{"timestamptz", "seen_at TIMESTAMPTZ", "seen_at TEXT"},
		{"timestamp with time zone", "seen_at TIMESTAMP WITH TIME ZONE", "seen_at TEXT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := TranslateSchema(tc.in); got != tc.want {
				t.Errorf("TranslateSchema(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

// TestTranslateSchemaDeterministic verifies repeated runs agree.
func TestTranslateSchemaDeterministic(t *testing.T) {
	in := "id SERIAL PRIMARY KEY, doc JSONB, ok BOOLEAN, label VARCHAR(20), PRIMARY KEY (id)"
	first := TranslateSchema(in)
	for i := 0; i < 5; i++ {
		if got := TranslateSchema(in); got != first {
			t.Fatalf("Translation not deterministic: %q vs %q", first, got)
		}
	}
}

// TestTranslateSchemaNormalizesWhitespace verifies comma and space cleanup.
func TestTranslateSchemaNormalizesWhitespace(t *testing.T) {
	got := TranslateSchema("id   SERIAL PRIMARY KEY ,  name   VARCHAR(10)")
	want := "id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT(10)"
	if got != want {
		t.Errorf("TranslateSchema() = %q, want %q", got, want)
	}
}
