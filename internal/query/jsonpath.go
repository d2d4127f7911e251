package query

import (
	"fmt"

	"github.com/PaesslerAG/jsonpath"
)

// GetPath evaluates a standard JSONPath expression (e.g. "$.offerings[0].id")
// against doc. It is the plain-lookup counterpart to Match/ParentKeyMatches:
// callers that just need "the value at this path" reach for GetPath rather
// than building a Condition, while the fuzzy/size-aware matcher above stays
// the engine for filter evaluation.
func GetPath(doc any, expr string) (any, error) {
	v, err := jsonpath.Get(expr, doc)
	if err != nil {
		return nil, fmt.Errorf("query: jsonpath %q: %w", expr, err)
	}
	return v, nil
}
