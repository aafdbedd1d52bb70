package database

import "regexp"

// Schema translation is an ordered list of textual substitutions, not a SQL
// parser. It handles the column-definition fragments this layer issues;
// nested types and exotic constraints are out of scope.

type schemaRule struct {
	pattern *regexp.Regexp
	replace string
}

var (
	// Auto-increment detection must run before primary-key stripping so a
	// SERIAL PRIMARY KEY column absorbs the PRIMARY KEY clause.
	autoIncrementRule = schemaRule{
		regexp.MustCompile(`(?i)\b(?:BIG|SMALL)?SERIAL\s+PRIMARY\s+KEY\b`),
		"INTEGER PRIMARY KEY AUTOINCREMENT",
	}

	schemaRules = []schemaRule{
		{regexp.MustCompile(`(?i)\b(?:BIG|SMALL)?SERIAL\b`), "INTEGER"},
		{regexp.MustCompile(`(?i)\bUUID\b`), "TEXT"},
		{regexp.MustCompile(`(?i)\bTIMESTAMPTZ\b`), "TEXT"},
		{regexp.MustCompile(`(?i)\bTIMESTAMP(?:\s+WITH(?:OUT)?\s+TIME\s+ZONE)?\b`), "TEXT"},
		{regexp.MustCompile(`(?i)\bBOOLEAN\b`), "INTEGER"},
		{regexp.MustCompile(`(?i)\bJSONB?\b`), "TEXT"},
		{regexp.MustCompile(`(?i)\bVARCHAR\s*\(\s*(\d+)\s*\)`), "TEXT($1)"},
		{regexp.MustCompile(`(?i)\bVARCHAR\b`), "TEXT"},
	}

	explicitPrimaryKey = regexp.MustCompile(`(?i),?\s*PRIMARY\s+KEY\s*\([^)]*\)`)

	duplicateCommas = regexp.MustCompile(`,\s*,`)
	spaceRuns       = regexp.MustCompile(`\s+`)
	commaSpacing    = regexp.MustCompile(`\s*,\s*`)
)

// TranslateSchema converts a Postgres column-definition fragment into its
// SQLite equivalent. Deterministic and order-sensitive: the auto-increment
// rewrite runs first, and only when it fired is a now-redundant explicit
// PRIMARY KEY (...) clause stripped.
func TranslateSchema(schema string) string {
	out := schema

	hadAutoIncrement := autoIncrementRule.pattern.MatchString(out)
	out = autoIncrementRule.pattern.ReplaceAllString(out, autoIncrementRule.replace)

	for _, rule := range schemaRules {
		out = rule.pattern.ReplaceAllString(out, rule.replace)
	}

	if hadAutoIncrement {
		out = explicitPrimaryKey.ReplaceAllString(out, "")
	}

	out = duplicateCommas.ReplaceAllString(out, ",")
	out = spaceRuns.ReplaceAllString(out, " ")
	out = commaSpacing.ReplaceAllString(out, ", ")
	return trimSchema(out)
}

// trimSchema removes surrounding whitespace and a dangling trailing comma.
func trimSchema(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == ',') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == ',') {
		s = s[:len(s)-1]
	}
	return s
}
