package querylang

import (
	"fmt"
	"strings"
)

// ColumnRef names what a compiled predicate is matched against. Plain
// targets an ordinary scalar column or expression; JSONArray targets a
// column holding a JSON-encoded array (tasting_notes, variety_canonical),
// compiling to an existential predicate over json_each rather than a
// direct comparison, per §4.5's "any element matches" special case.
type ColumnRef struct {
	Plain     string
	JSONArray string
}

const colPlaceholder = "__COL__"

func (c ColumnRef) finish(predicate string) string {
	if c.JSONArray != "" {
		inner := strings.ReplaceAll(predicate, colPlaceholder, "value")
		return fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) WHERE %s)", c.JSONArray, inner)
	}
	return strings.ReplaceAll(predicate, colPlaceholder, c.Plain)
}

// Compile lowers a parsed expression into a parameterized SQL predicate
// fragment plus its bind values, in the order the placeholders appear in
// the fragment. It never interpolates a bind value directly into the SQL.
func Compile(expr Expr, ref ColumnRef) (string, []any, error) {
	return compileNode(expr, ref)
}

// CompileString parses and compiles in one step, for callers that don't
// need the intermediate AST.
func CompileString(input string, ref ColumnRef) (string, []any, error) {
	expr, err := Parse(input)
	if err != nil {
		return "", nil, err
	}
	return Compile(expr, ref)
}

// Or2 combines two independently compiled predicates with OR, for the
// variety special case (§4.5): a bean matches if either the original
// `variety` column or the unnested `variety_canonical` array matches.
func Or2(fragA string, argsA []any, fragB string, argsB []any) (string, []any) {
	frag := fmt.Sprintf("(%s OR %s)", fragA, fragB)
	args := make([]any, 0, len(argsA)+len(argsB))
	args = append(args, argsA...)
	args = append(args, argsB...)
	return frag, args
}

func compileNode(expr Expr, ref ColumnRef) (string, []any, error) {
	switch e := expr.(type) {
	case *OrExpr:
		return compileBoolean(e.Clauses, "OR", ref)
	case *AndExpr:
		return compileBoolean(e.Clauses, "AND", ref)
	case *NotExpr:
		frag, args, err := compileNode(e.Clause, ref)
		if err != nil {
			return "", nil, err
		}
		return "NOT (" + frag + ")", args, nil
	case *GroupAtom:
		frag, args, err := compileNode(e.Inner, ref)
		if err != nil {
			return "", nil, err
		}
		return "(" + frag + ")", args, nil
	case *PhraseAtom:
		return ref.finish(colPlaceholder + " = ? COLLATE NOCASE"), []any{e.Text}, nil
	case *TermAtom:
		pattern, hasWildcard := translateWildcard(e.Text)
		if !hasWildcard {
			pattern = "%" + pattern + "%"
		}
		return ref.finish(colPlaceholder + " LIKE ? ESCAPE '\\'"), []any{pattern}, nil
	default:
		return "", nil, fmt.Errorf("querylang: unknown AST node %T", expr)
	}
}

func compileBoolean(clauses []Expr, op string, ref ColumnRef) (string, []any, error) {
	parts := make([]string, 0, len(clauses))
	var args []any
	for _, c := range clauses {
		frag, a, err := compileNode(c, ref)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, frag)
		args = append(args, a...)
	}
	return "(" + strings.Join(parts, " "+op+" ") + ")", args, nil
}

// translateWildcard rewrites `*` to SQL LIKE `%`, `?` to `_`, and escapes
// any literal `%`, `_`, or backslash in the source term so they match
// literally rather than as LIKE metacharacters.
func translateWildcard(term string) (pattern string, hasWildcard bool) {
	var b strings.Builder
	for _, r := range term {
		switch r {
		case '*':
			b.WriteByte('%')
			hasWildcard = true
		case '?':
			b.WriteByte('_')
			hasWildcard = true
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String(), hasWildcard
}
