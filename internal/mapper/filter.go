package mapper

import (
	"encoding/json"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/setalabs/blingsync/internal/core"
	apperrors "github.com/setalabs/blingsync/internal/errors"
)

// Filter is a compiled JMESPath expression evaluated against each raw
// record. Records whose result is falsy are skipped rather than synced.
type Filter struct {
	expr     string
	compiled jmespath.JMESPath
}

// NewFilter compiles the expression once so Match does not re-parse it per
// record. An empty expression returns a nil filter, which matches everything.
func NewFilter(expr string) (*Filter, error) {
	if expr == "" {
		return nil, nil
	}
	compiled, err := jmespath.Compile(expr)
	if err != nil {
		return nil, apperrors.Validationf("invalid filter expression %q: %v", expr, err)
	}
	return &Filter{expr: expr, compiled: compiled}, nil
}

// Expression returns the source expression.
func (f *Filter) Expression() string {
	if f == nil {
		return ""
	}
	return f.expr
}

// Match reports whether the record passes the filter. A nil filter matches
// everything; an unparseable record does not match.
func (f *Filter) Match(raw core.RawRecord) (bool, error) {
	if f == nil {
		return true, nil
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false, apperrors.Mapping("", "record is not valid JSON: "+err.Error())
	}

	result, err := f.compiled.Search(doc)
	if err != nil {
		return false, apperrors.Validationf("evaluate filter %q: %v", f.expr, err)
	}
	return truthy(result), nil
}

// truthy mirrors JMESPath truthiness: null, false, empty strings, empty
// collections are false, everything else is true.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
