package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/lychee-technology/cubeengine"
	"github.com/lychee-technology/cubeengine/factory"
)

type options struct {
	dbPath       string
	iterations   int
	warmup       int
	concurrency  int
	seed         int64
	seedProvided bool
}

func main() {
	log.SetFlags(0)

	opts := parseFlags()
	ctx := context.Background()

	registry := cubeengine.NewCubeRegistry()
	if err := registerBenchmarkCubes(registry); err != nil {
		log.Fatalf("register cubes: %v", err)
	}

	engine, err := factory.NewDuckDBEngine(ctx, opts.dbPath, registry, nil)
	if err != nil {
		log.Fatalf("open engine: %v", err)
	}
	defer engine.Runner.Close()

	if !opts.seedProvided {
		log.Printf("[info] using random seed %d", opts.seed)
	}
	random := rand.New(rand.NewSource(opts.seed))

	queries := benchmarkQueries()

	for i := 0; i < opts.warmup; i++ {
		q := queries[random.Intn(len(queries))]
		if _, err := runOnce(engine, q); err != nil {
			log.Fatalf("warmup query failed: %v", err)
		}
	}

	results := make(map[string][]time.Duration, len(queries))
	for i := 0; i < opts.iterations; i++ {
		q := queries[i%len(queries)]
		d, err := runOnce(engine, q)
		if err != nil {
			log.Fatalf("query %s failed: %v", q.name, err)
		}
		results[q.name] = append(results[q.name], d)
	}

	report(queries, results)
}

type namedQuery struct {
	name  string
	query cubeengine.SemanticQuery
}

// benchmarkQueries mirror cmd/sample's S1-S5 scenarios, excluding the flow
// query (S6): flow compilation exercises a distinct code path already
// covered by compile_test.go and isn't representative of steady-state
// aggregate-query load.
func benchmarkQueries() []namedQuery {
	return []namedQuery{
		{"headcount-by-department", cubeengine.SemanticQuery{
			Measures:   []string{"Employees.count", "Employees.activeCount"},
			Dimensions: []string{"Employees.departmentId"},
		}},
		{"monthly-loc", cubeengine.SemanticQuery{
			Measures: []string{"Productivity.totalLinesOfCode"},
			TimeDimensions: []cubeengine.TimeDimension{
				{Dimension: "Productivity.date", Granularity: cubeengine.GranularityMonth},
			},
		}},
		{"cross-cube-join", cubeengine.SemanticQuery{
			Measures:   []string{"Employees.activeCount"},
			Dimensions: []string{"Departments.name"},
		}},
		{"active-percentage", cubeengine.SemanticQuery{
			Measures:   []string{"Employees.activePercentage"},
			Dimensions: []string{"Employees.departmentId"},
		}},
		{"moving-average", cubeengine.SemanticQuery{
			Measures:   []string{"Productivity.totalLinesOfCode", "Productivity.movingAvg7Period"},
			Dimensions: []string{"Productivity.employeeId"},
			TimeDimensions: []cubeengine.TimeDimension{
				{Dimension: "Productivity.date", Granularity: cubeengine.GranularityDay},
			},
		}},
	}
}

func runOnce(engine *cubeengine.Engine, q namedQuery) (time.Duration, error) {
	qctx := cubeengine.NewQueryContext(context.Background(), cubeengine.SecurityContext{})
	start := time.Now()
	_, err := engine.Execute(q.query, qctx)
	return time.Since(start), err
}

func report(queries []namedQuery, results map[string][]time.Duration) {
	fmt.Printf("%-28s %8s %10s %10s %10s %8s\n", "query", "n", "mean", "p50", "p95", "max")
	for _, q := range queries {
		durations := results[q.name]
		if len(durations) == 0 {
			continue
		}
		sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

		var total time.Duration
		for _, d := range durations {
			total += d
		}
		mean := total / time.Duration(len(durations))
		p50 := durations[len(durations)*50/100]
		p95 := durations[min(len(durations)*95/100, len(durations)-1)]
		max := durations[len(durations)-1]

		fmt.Printf("%-28s %8d %10s %10s %10s %8s\n", q.name, len(durations), mean, p50, p95, max)
	}
}

func parseFlags() options {
	var opts options

	flag.StringVar(&opts.dbPath, "db-path", getenvDefault("BENCHMARK_DB_PATH", ""), "DuckDB database path (empty for in-memory)")
	flag.IntVar(&opts.iterations, "iterations", getenvDefaultInt("BENCHMARK_ITERATIONS", 200), "number of query executions to time")
	flag.IntVar(&opts.warmup, "warmup", getenvDefaultInt("BENCHMARK_WARMUP", 20), "number of untimed warmup executions")
	flag.IntVar(&opts.concurrency, "concurrency", getenvDefaultInt("BENCHMARK_CONCURRENCY", 1), "reserved for future concurrent execution support")
	seed := flag.Int64("seed", 0, "random seed (0 uses current time)")

	flag.Parse()

	if *seed == 0 {
		opts.seed = time.Now().UnixNano()
		opts.seedProvided = false
	} else {
		opts.seed = *seed
		opts.seedProvided = true
	}

	if opts.iterations < 1 {
		log.Fatal("iterations must be positive")
	}

	return opts
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
