package service

import (
	"fmt"
	"strings"

	"askdb/internal/core"
)

// SummaryPlaceholder is stored when the model could not summarize a schema.
const SummaryPlaceholder = "Schema summary unavailable."

var dialectNotes = map[core.Dialect]string{
	core.DialectPostgres: `PostgreSQL syntax:
- Quote identifiers with double quotes ("Order"); string literals use single quotes.
- Dates: NOW(), CURRENT_DATE, date_trunc('month', col), col - INTERVAL '7 days', EXTRACT(YEAR FROM col).
- Concatenate strings with ||. Case-insensitive match with ILIKE.
- Limit rows with LIMIT n.`,
	core.DialectMySQL: "MySQL syntax:\n" +
		"- Quote identifiers with backticks (`order`); string literals use single quotes.\n" +
		"- Dates: NOW(), CURDATE(), DATE_FORMAT(col, '%Y-%m'), DATE_SUB(col, INTERVAL 7 DAY), YEAR(col).\n" +
		"- Concatenate strings with CONCAT(a, b). LIKE is case-insensitive for most collations.\n" +
		"- Limit rows with LIMIT n.",
	core.DialectSQLServer: `SQL Server (T-SQL) syntax:
- Quote identifiers with square brackets ([Order]); string literals use single quotes (N'...' for Unicode).
- Dates: GETDATE(), CAST(GETDATE() AS date), DATEADD(day, -7, col), DATEPART(year, col), FORMAT(col, 'yyyy-MM').
- Concatenate strings with + or CONCAT(a, b).
- There is no LIMIT. Use SELECT TOP n ... or ORDER BY ... OFFSET 0 ROWS FETCH NEXT n ROWS ONLY.`,
}

const generationRules = `Rules:
1. Produce exactly one read-only statement that starts with SELECT or WITH.
2. Never modify data or schema: no INSERT, UPDATE, DELETE, DROP, CREATE, ALTER, TRUNCATE, GRANT, EXEC, MERGE or SELECT ... INTO.
3. Only reference tables and columns listed in the schema.
4. Prefer explicit JOINs that follow the listed foreign keys.
5. Add WHERE, GROUP BY and ORDER BY clauses where the question calls for them.
6. Unless the question asks for everything, cap the result at %d rows.
7. Do not end the statement with a semicolon.

Respond with a single JSON object and nothing else:
{"sql": "<the query>", "explanation": "<one or two sentences describing what the query returns>", "confidence": "high" | "medium" | "low"}`

// FormatSchema renders a snapshot as the compact text the model reads.
func FormatSchema(s *core.SchemaSnapshot) string {
	var b strings.Builder
	for _, t := range s.Tables {
		b.WriteString("Table: ")
		b.WriteString(t.QualifiedName())
		if t.RowCount != nil {
			fmt.Fprintf(&b, " (~%d rows)", *t.RowCount)
		}
		b.WriteString("\n")
		for _, c := range t.Columns {
			fmt.Fprintf(&b, "  - %s %s", c.Name, c.Type)
			if c.PrimaryKey {
				b.WriteString(" PK")
			}
			if c.ForeignKey {
				fmt.Fprintf(&b, " FK -> %s.%s", c.RefTable, c.RefColumn)
			}
			if !c.Nullable {
				b.WriteString(" NOT NULL")
			}
			b.WriteString("\n")
		}
	}
	if len(s.Relationships) > 0 {
		b.WriteString("\nRelationships:\n")
		for _, r := range s.Relationships {
			fmt.Fprintf(&b, "  - %s.%s -> %s.%s\n", r.FromTable, r.FromColumn, r.ToTable, r.ToColumn)
		}
	}
	return b.String()
}

func buildGenerationPrompt(dialect core.Dialect, schema *core.SchemaSnapshot, maxRows int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert %s analyst who turns questions into SQL.\n\n", dialect)
	b.WriteString("Database schema:\n")
	b.WriteString(FormatSchema(schema))
	if schema.Summary != "" && schema.Summary != SummaryPlaceholder {
		b.WriteString("\nAbout this database: ")
		b.WriteString(schema.Summary)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(dialectNotes[dialect])
	b.WriteString("\n\n")
	fmt.Fprintf(&b, generationRules, maxRows)
	return b.String()
}

func buildExplainPrompt(dialect core.Dialect) string {
	return fmt.Sprintf(`You explain %s queries to people who do not read SQL.
Describe in plain language what the query returns, which tables it reads and how rows are filtered, grouped and ordered.
Keep it to a short paragraph. Do not rewrite or critique the query.`, dialect)
}

const summaryPrompt = `You summarize database schemas.
Given the tables, columns and relationships below, write one short paragraph describing what this database is for and its main entities.
Reply with the paragraph only.`

// extractJSON finds the first JSON object in a model reply, tolerating
// code fences and surrounding prose.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	if start := strings.Index(response, "```json"); start != -1 {
		start += len("```json")
		if end := strings.Index(response[start:], "```"); end != -1 {
			return strings.TrimSpace(response[start : start+end])
		}
	}

	if start := strings.Index(response, "```"); start != -1 {
		start += 3
		if end := strings.Index(response[start:], "```"); end != -1 {
			content := strings.TrimSpace(response[start : start+end])
			if strings.HasPrefix(content, "{") {
				return content
			}
		}
	}

	for i := 0; i < len(response); i++ {
		if response[i] == '{' {
			if obj := extractJSONObject(response, i); obj != "" {
				return obj
			}
		}
	}
	return ""
}

// extractJSONObject returns the balanced object starting at s[start].
func extractJSONObject(s string, start int) string {
	if start >= len(s) || s[start] != '{' {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case c == '{' && !inString:
			depth++
		case c == '}' && !inString:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
