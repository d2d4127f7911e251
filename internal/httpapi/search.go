package httpapi

import (
	"net/http"

	"github.com/decent-stuff/decent-cloud/infrastructure/httputil"
	"github.com/decent-stuff/decent-cloud/internal/search"
)

type searchResponse struct {
	SQL    string `json:"sql"`
	Values []any  `json:"values"`
}

// handleSearch compiles a filter-grammar query string (spec §4.10) against
// the offerings schema and returns the resulting parameterised SQL fragment.
// Executing it against the read model is the caller's concern; this
// endpoint only exercises the compiler so offering search can be previewed
// or driven from a thin client without embedding the grammar twice.
func (a *API) handleSearch(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("q")
	if filter == "" {
		httputil.BadRequest(w, "q query parameter is required")
		return
	}

	compiled, err := search.Compile(a.Offerings, filter)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	httputil.WriteJSON(w, http.StatusOK, searchResponse{SQL: compiled.SQL, Values: compiled.Values})
}
