package kv

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/idkv/cmd/util"
	"github.com/ValentinKolb/idkv/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for idkv servers",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__perf"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)
)

func init() {
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the set-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = viper.GetInt("threads")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

// perfTest is one benchmark of the perf command
type perfTest struct {
	name    string
	prefill bool                         // set all keys before the benchmark
	op      func(key string, i int) error // the measured operation
}

func perfTests() []perfTest {
	largeValue := make([]byte, perfLargeValueSizeKB*1024)

	return []perfTest{
		{name: "set", op: func(key string, _ int) error {
			return rpcStore.Set(dbIndex, key, []byte("test"))
		}},
		{name: "set-large", op: func(key string, _ int) error {
			return rpcStore.Set(dbIndex, key, largeValue)
		}},
		{name: "get", prefill: true, op: func(key string, _ int) error {
			_, _, err := rpcStore.Get(dbIndex, key)
			return err
		}},
		{name: "has", prefill: true, op: func(key string, _ int) error {
			_, err := rpcStore.Has(dbIndex, key)
			return err
		}},
		{name: "delete", prefill: true, op: func(key string, _ int) error {
			_, err := rpcStore.Delete(dbIndex, key)
			return err
		}},
		{name: "rpush", op: func(key string, _ int) error {
			_, err := rpcStore.RPush(dbIndex, key, []byte("item"))
			return err
		}},
		{name: "hset", op: func(key string, i int) error {
			_, err := rpcStore.HSet(dbIndex, key, strconv.Itoa(i%16), []byte("test"))
			return err
		}},
		{name: "mixed", prefill: true, op: func(key string, i int) error {
			var err error
			switch i % 4 {
			case 0:
				err = rpcStore.Set(dbIndex, key, []byte("test"))
			case 1:
				_, _, err = rpcStore.Get(dbIndex, key)
			case 2:
				_, err = rpcStore.Delete(dbIndex, key)
			default:
				_, err = rpcStore.Has(dbIndex, key)
			}
			return err
		}},
	}
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for idkv servers")

	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Database: %d\n", dbIndex)
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	results := make(map[string]testing.BenchmarkResult)
	for _, test := range perfTests() {
		if slices.Contains(perfSkip, test.name) {
			results[test.name] = testing.BenchmarkResult{}
			printResult(test.name, results[test.name])
			continue
		}
		results[test.name] = runPerfTest(test)
		printResult(test.name, results[test.name])
	}

	// the time of a synchronous flush of everything the tests left behind
	if !slices.Contains(perfSkip, "flushall") {
		start := time.Now()
		keys, err := rpcStore.FlushAll()
		if err != nil {
			fmt.Printf("%-20sfailed: %v\n", "flushall", err)
		} else {
			fmt.Printf("%-20s%d keys in %s\n", "flushall", keys, time.Since(start))
		}
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return err
		}
		fmt.Printf("results written to %s\n", csvPath)
	}

	return nil
}

// runPerfTest runs one benchmark and deletes its keys afterward
func runPerfTest(test perfTest) testing.BenchmarkResult {
	getKey, iter := getKeys(test.name)

	return testing.Benchmark(func(b *testing.B) {
		if test.prefill {
			iter(func(k string) {
				if err := rpcStore.Set(dbIndex, k, []byte("test")); err != nil {
					log.Printf("(%s) - error setting key: %v\n", test.name, err)
				}
			})
		}

		b.Cleanup(func() {
			iter(func(k string) {
				if _, err := rpcStore.Delete(dbIndex, k); err != nil {
					log.Printf("(%s) - error deleting key: %v\n", test.name, err)
				}
			})
		})

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				if err := test.op(getKey(counter), counter); err != nil {
					log.Printf("(%s) - error: %v\n", test.name, err)
				}
				counter++
			}
		})
	})
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// creates an array of test keys and functions to work with them
func getKeys(prefix string) (func(int) string, func(func(string))) {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s/%s/%d", perfKeyPrefix, prefix, i)
	}

	// Function to get a key by index (with wraparound)
	getKey := func(i int) string {
		return keys[i%perfKeySpread]
	}

	// Function to iterate over all keys and apply a function to each
	iterateKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Endpoints", "TimeoutSec", "RetryCount", "Database",
		"Serializer", "Transport", "Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		var nsPerOp, opsPerSec float64
		skipped := result.NsPerOp() == 0
		if !skipped {
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			strconv.FormatBool(skipped),
			strings.Join(config.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.RetryCount),
			strconv.Itoa(dbIndex),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
