package server

import (
	"net/http"
	"sort"
	"strings"
)

// MethodRouter maps HTTP methods to handlers for a single path.
type MethodRouter map[string]http.HandlerFunc

// RouteByMethod dispatches on the request method, answering 405 with an
// Allow header listing the supported methods.
func RouteByMethod(w http.ResponseWriter, r *http.Request, routes MethodRouter) {
	if handler, ok := routes[r.Method]; ok {
		handler(w, r)
		return
	}

	allowed := make([]string, 0, len(routes))
	for method := range routes {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}
