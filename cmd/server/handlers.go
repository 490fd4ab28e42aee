package main

import (
	"fmt"
	"net/http"

	"github.com/lychee-technology/cubeengine"
)

// handleQuery handles POST /api/v1/query. The body is a SemanticQuery (§6 of
// the wire format); the response is a ResultSet.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var query cubeengine.SemanticQuery
	if err := readJSONBody(r, &query); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json body: %v", err))
		return
	}

	qctx := cubeengine.NewQueryContext(r.Context(), securityContextFrom(r))
	result, err := s.engine.Execute(query, qctx)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("query failed: %v", err))
		return
	}

	writeSuccess(w, http.StatusOK, result)
}

// handleCompile handles POST /api/v1/compile: returns the SQL and params a
// query would run, without executing it.
func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var query cubeengine.SemanticQuery
	if err := readJSONBody(r, &query); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json body: %v", err))
		return
	}

	qctx := cubeengine.NewQueryContext(r.Context(), securityContextFrom(r))
	compiled, err := s.engine.Compile(query, qctx)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("compile failed: %v", err))
		return
	}

	writeSuccess(w, http.StatusOK, compiled)
}

// handleExplain handles POST /api/v1/explain?analyze=true.
func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var query cubeengine.SemanticQuery
	if err := readJSONBody(r, &query); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json body: %v", err))
		return
	}

	analyze := r.URL.Query().Get("analyze") == "true"
	qctx := cubeengine.NewQueryContext(r.Context(), securityContextFrom(r))
	result, err := s.engine.Explain(query, qctx, analyze)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("explain failed: %v", err))
		return
	}

	writeSuccess(w, http.StatusOK, result)
}

// handleMetadata handles GET /api/v1/metadata: the cube/dimension/measure
// catalog, for ERD rendering and query-building clients.
func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	writeSuccess(w, http.StatusOK, s.engine.Metadata())
}

// handleDistinct handles GET /api/v1/distinct?dimension=Cube.field&limit=50.
func (s *Server) handleDistinct(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	dimension := r.URL.Query().Get("dimension")
	if dimension == "" {
		writeError(w, http.StatusBadRequest, "dimension is required")
		return
	}
	limit := parseLimit(r.URL.Query(), 50, 1000)

	qctx := cubeengine.NewQueryContext(r.Context(), securityContextFrom(r))
	values, err := s.engine.DistinctValues(dimension, qctx, limit)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("distinct values failed: %v", err))
		return
	}

	writeSuccess(w, http.StatusOK, values)
}

// securityContextFrom builds the row-level security context a BaseQuery
// builder can inspect. The demo engine's cubes don't gate on it; a
// deployment with tenant-scoped cubes would populate it from auth
// middleware here.
func securityContextFrom(r *http.Request) cubeengine.SecurityContext {
	return cubeengine.SecurityContext{}
}
