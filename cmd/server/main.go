package main

import (
	"context"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/lychee-technology/cubeengine"
	"github.com/lychee-technology/cubeengine/factory"
	"github.com/lychee-technology/cubeengine/internal/sampledata"
)

// Server exposes an Engine over HTTP.
type Server struct {
	engine *cubeengine.Engine
	mux    *http.ServeMux
}

func NewServer(engine *cubeengine.Engine) *Server {
	return &Server{engine: engine, mux: http.NewServeMux()}
}

// RegisterRoutes wires every handler onto the server's mux.
func (s *Server) RegisterRoutes() {
	s.mux.HandleFunc("/api/v1/query", s.handleQuery)
	s.mux.HandleFunc("/api/v1/compile", s.handleCompile)
	s.mux.HandleFunc("/api/v1/explain", s.handleExplain)
	s.mux.HandleFunc("/api/v1/metadata", s.handleMetadata)
	s.mux.HandleFunc("/api/v1/distinct", s.handleDistinct)
}

func (s *Server) Start(port string) error {
	zap.S().Infow("starting server", "port", port)
	return http.ListenAndServe(":"+port, s.mux)
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	ctx := context.Background()
	dialect := getEnv("ENGINE_DIALECT", "duckdb")

	registry := cubeengine.NewCubeRegistry()
	if err := sampledata.RegisterDemoCubes(registry); err != nil {
		sugar.Fatalf("register cubes: %v", err)
	}

	engine, err := buildEngine(ctx, dialect, registry)
	if err != nil {
		sugar.Fatalf("build engine (dialect=%s): %v", dialect, err)
	}
	defer engine.Runner.Close()

	sugar.Infow("engine ready", "dialect", dialect, "cubes", len(registry.Metadata()))

	server := NewServer(engine)
	server.RegisterRoutes()

	port := getEnv("PORT", "8080")
	if err := server.Start(port); err != nil {
		sugar.Fatalf("server error: %v", err)
	}
}

// buildEngine selects the factory constructor for dialect. DuckDB is the
// default so the server runs with zero external configuration; every other
// dialect reads its DSN from DATABASE_URL.
func buildEngine(ctx context.Context, dialect string, registry cubeengine.CubeRegistry) (*cubeengine.Engine, error) {
	dsn := os.Getenv("DATABASE_URL")

	switch dialect {
	case "duckdb":
		return factory.NewDuckDBEngine(ctx, getEnv("DUCKDB_PATH", ""), registry, nil)
	case "sqlite":
		return factory.NewSQLiteEngine(ctx, getEnv("SQLITE_PATH", ":memory:"), registry, nil)
	case "postgres":
		return factory.NewPostgresEngine(ctx, dsn, registry, nil)
	case "mysql":
		return factory.NewMySQLEngine(ctx, dsn, registry, nil)
	case "singlestore":
		return factory.NewSingleStoreEngine(ctx, dsn, registry, nil)
	default:
		return factory.NewDuckDBEngine(ctx, "", registry, nil)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
