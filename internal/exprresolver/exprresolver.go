// Package exprresolver turns a cube field's declarative SQL reference — a
// bare column name or a templated expression — into a dialect-quoted,
// parameter-bound SQL fragment, the way forma's sql_helpers.go quotes
// identifiers and dualpath_sql_generator.go binds column references against
// a concrete table alias.
package exprresolver

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lychee-technology/cubeengine/internal/dialect"
)

// Resolved is a parameterised SQL fragment: SQL text plus any bound
// parameter values the fragment introduced (e.g. a security-context value
// inlined into the base predicate, never the field's own text).
type Resolved struct {
	SQL    string
	Params []any
}

// columnRefPattern matches a bare column reference: letters, digits,
// underscore, optionally dotted (table.column). Anything else inside a
// template is treated as a literal SQL fragment the cube author wrote
// (e.g. "CASE WHEN", "COALESCE(", parens, operators) and passed through
// verbatim — cube/dimension/measure definitions are registered Go code,
// not request-time-supplied text, so there is no injection surface here.
var columnRefPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ResolveColumn resolves a bare column reference (or `alias.column`) for
// the given table alias, quoting each identifier segment.
func ResolveColumn(adapter *dialect.Adapter, tableAlias, sqlRef string) (Resolved, error) {
	ref := strings.TrimSpace(sqlRef)
	if ref == "" {
		return Resolved{}, fmt.Errorf("exprresolver: empty SQL reference")
	}

	if columnRefPattern.MatchString(ref) {
		if strings.Contains(ref, ".") {
			parts := strings.SplitN(ref, ".", 2)
			return Resolved{SQL: adapter.QuoteIdent(parts[0]) + "." + adapter.QuoteIdent(parts[1])}, nil
		}
		if tableAlias != "" {
			return Resolved{SQL: adapter.QuoteIdent(tableAlias) + "." + adapter.QuoteIdent(ref)}, nil
		}
		return Resolved{SQL: adapter.QuoteIdent(ref)}, nil
	}

	// Not a bare identifier: it's a templated expression. Quote bare
	// column tokens within it, leaving everything else (operators,
	// function calls, literals the cube author wrote) untouched.
	return Resolved{SQL: qualifyTemplate(adapter, tableAlias, ref)}, nil
}

var identTokenPattern = regexp.MustCompile(`\b[A-Za-z_][A-Za-z0-9_]*\b`)

// sqlKeywords is a small denylist of tokens that must never be quoted as
// column references when they appear inside a templated expression.
var sqlKeywords = map[string]bool{
	"AND": true, "OR": true, "NOT": true, "NULL": true, "NULLIF": true,
	"CASE": true, "WHEN": true, "THEN": true, "ELSE": true, "END": true,
	"COALESCE": true, "CAST": true, "AS": true, "TRUE": true, "FALSE": true,
	"DISTINCT": true, "BETWEEN": true, "IN": true, "LIKE": true, "IS": true,
}

// qualifyTemplate quotes identifier-shaped tokens in a templated expression
// that are not SQL keywords, so `price * qty` becomes `"alias"."price" *
// "alias"."qty"`. Function names immediately followed by `(` are left
// unquoted (they are SQL function calls, not column references).
func qualifyTemplate(adapter *dialect.Adapter, tableAlias, tmpl string) string {
	idx := identTokenPattern.FindAllStringIndex(tmpl, -1)
	if idx == nil {
		return tmpl
	}

	var b strings.Builder
	prevEnd := 0
	for _, loc := range idx {
		start, end := loc[0], loc[1]
		tok := tmpl[start:end]
		b.WriteString(tmpl[prevEnd:start])

		rest := strings.TrimLeft(tmpl[end:], " \t")
		isFunctionCall := strings.HasPrefix(rest, "(")

		switch {
		case isFunctionCall, sqlKeywords[strings.ToUpper(tok)]:
			b.WriteString(tok)
		case tableAlias == "":
			b.WriteString(adapter.QuoteIdent(tok))
		default:
			b.WriteString(adapter.QuoteIdent(tableAlias))
			b.WriteString(".")
			b.WriteString(adapter.QuoteIdent(tok))
		}
		prevEnd = end
	}
	b.WriteString(tmpl[prevEnd:])
	return b.String()
}

// ResolveParam returns a neutral "?" bound-parameter placeholder for a
// security-context or filter value, never string-concatenating the value
// itself into SQL text. internal/queryplanner renumbers every "?" into the
// target dialect's real placeholder scheme at final statement assembly.
func ResolveParam(value any) Resolved {
	return Resolved{SQL: "?", Params: []any{value}}
}
