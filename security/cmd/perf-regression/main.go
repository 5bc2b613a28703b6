// Command perf-regression compares two `go test -bench` outputs and fails
// when a tracked benchmark regressed beyond the allowed ratio. It is meant
// to run in CI with the baseline captured from the main branch.
//
// Usage:
//
//	perf-regression -baseline old.txt -candidate new.txt [-limit 0.30]
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
)

const defaultLimit = 0.30

// Tracked benchmarks and the units that gate a merge. Introspection is the
// hot path and gates on allocations too; the Redis-bound flows gate on
// wall time only.
var tracked = []struct {
	name  string
	units []string
}{
	{"BenchmarkIntrospect", []string{"ns/op", "allocs/op"}},
	{"BenchmarkIntrospectParallel", []string{"ns/op"}},
	{"BenchmarkRefresh", []string{"ns/op"}},
	{"BenchmarkLogin", []string{"ns/op"}},
	{"BenchmarkMetricsInc", []string{"ns/op"}},
}

// benchSamples maps benchmark name to unit to the observed values. Multiple
// values per unit appear when the run used -count > 1.
type benchSamples map[string]map[string][]float64

func main() {
	var (
		baselinePath  string
		candidatePath string
		limit         float64
	)

	flag.StringVar(&baselinePath, "baseline", "", "benchmark output from the baseline build")
	flag.StringVar(&candidatePath, "candidate", "", "benchmark output from the candidate build")
	flag.Float64Var(&limit, "limit", defaultLimit, "maximum allowed regression ratio (0.30 = +30%)")
	flag.Parse()

	if baselinePath == "" || candidatePath == "" {
		fmt.Fprintln(os.Stderr, "-baseline and -candidate are required")
		os.Exit(2)
	}
	if limit < 0 {
		fmt.Fprintln(os.Stderr, "-limit must be >= 0")
		os.Exit(2)
	}

	baseline, err := readBenchFile(baselinePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read baseline: %v\n", err)
		os.Exit(1)
	}
	candidate, err := readBenchFile(candidatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read candidate: %v\n", err)
		os.Exit(1)
	}

	var breaches []string

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "benchmark\tunit\tbaseline\tcandidate\tdelta")

	for _, entry := range tracked {
		for _, unit := range entry.units {
			base := medianOf(baseline[entry.name][unit])
			cand := medianOf(candidate[entry.name][unit])
			if base <= 0 || len(candidate[entry.name][unit]) == 0 {
				breaches = append(breaches, fmt.Sprintf("no usable samples for %s %s", entry.name, unit))
				continue
			}

			delta := (cand - base) / base
			fmt.Fprintf(tw, "%s\t%s\t%.1f\t%.1f\t%+.2f%%\n", entry.name, unit, base, cand, delta*100)
			if delta > limit {
				breaches = append(breaches, fmt.Sprintf("%s %s regressed %+.2f%% (limit %+.2f%%)", entry.name, unit, delta*100, limit*100))
			}
		}
	}
	tw.Flush()

	if len(breaches) > 0 {
		fmt.Fprintln(os.Stderr, "performance gate failed:")
		for _, breach := range breaches {
			fmt.Fprintf(os.Stderr, "  - %s\n", breach)
		}
		os.Exit(1)
	}
	fmt.Println("performance gate passed")
}

// readBenchFile collects every tracked benchmark line from a `go test -bench`
// output file. Non-benchmark lines and untracked benchmarks are skipped.
func readBenchFile(path string) (benchSamples, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	samples := benchSamples{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "Benchmark") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}

		name := trimCPUSuffix(fields[0])
		if !isTracked(name) {
			continue
		}
		if samples[name] == nil {
			samples[name] = map[string][]float64{}
		}

		// Fields after the iteration count come in value/unit pairs.
		for i := 2; i+1 < len(fields); i += 2 {
			value, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				continue
			}
			samples[name][fields[i+1]] = append(samples[name][fields[i+1]], value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}

func isTracked(name string) bool {
	for _, entry := range tracked {
		if entry.name == name {
			return true
		}
	}
	return false
}

// trimCPUSuffix strips the -N GOMAXPROCS suffix the bench runner appends.
func trimCPUSuffix(raw string) string {
	idx := strings.LastIndexByte(raw, '-')
	if idx <= 0 {
		return raw
	}
	if _, err := strconv.Atoi(raw[idx+1:]); err != nil {
		return raw
	}
	return raw[:idx]
}

func medianOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
