package bench

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coraldb/coral/cmd/util"
	"github.com/coraldb/coral/lib/core"
	"github.com/coraldb/coral/lib/engine"
	"github.com/coraldb/coral/lib/shard"
	"github.com/coraldb/coral/lib/txn"
	coralutil "github.com/coraldb/coral/lib/util"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// BenchCmd drives a local engine with synthetic workloads and reports
	// latency percentiles per workload.
	BenchCmd = &cobra.Command{
		Use:     "bench",
		Short:   "Benchmark the local coordination core",
		RunE:    run,
		PreRunE: processConfig,
	}

	benchKeySpread  = 100
	benchThreads    = 10
	benchOps        = 10000
	benchMultiWidth = 4
	benchValueSize  = 64
	benchSkip       = make([]string, 0)
)

func init() {
	key := "keys"
	BenchCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use per workload"))
	key = "threads"
	BenchCmd.Flags().Int(key, 10, util.WrapString("Number of concurrent submitters"))
	key = "ops"
	BenchCmd.Flags().Int(key, 10000, util.WrapString("Number of transactions per workload"))
	key = "multi-width"
	BenchCmd.Flags().Int(key, 4, util.WrapString("Keys per multi-key transaction"))
	key = "value-size"
	BenchCmd.Flags().Int(key, 64, util.WrapString("Value size in bytes"))
	key = "skip"
	BenchCmd.Flags().String(key, "", util.WrapString("Workloads to skip (comma separated - e.g. set,mset)"))
	key = "csv"
	BenchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processConfig(cmd *cobra.Command, _ []string) error {
	util.InitConfig()

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	util.InitLoggers(util.LogLevel())

	benchKeySpread = viper.GetInt("keys")
	benchThreads = viper.GetInt("threads")
	benchOps = viper.GetInt("ops")
	benchMultiWidth = viper.GetInt("multi-width")
	benchValueSize = viper.GetInt("value-size")
	benchSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

// result is one workload's aggregated timing.
type result struct {
	name  string
	count int64
	errs  int64
	mean  float64
	pcts  []float64 // p50, p95, p99 in ns
}

func run(_ *cobra.Command, _ []string) error {
	fmt.Println("coral local coordination benchmark")
	fmt.Printf("threads=%d ops=%d keys=%d multi-width=%d value-size=%d\n\n",
		benchThreads, benchOps, benchKeySpread, benchMultiWidth, benchValueSize)

	opts, err := util.GetEngineOptions()
	if err != nil {
		return err
	}

	eng := engine.New(opts)
	eng.Activate()
	defer eng.Close()

	value := strings.Repeat("x", benchValueSize)
	suffix := coralutil.RandomHex(8)
	keyAt := func(i int) string {
		return fmt.Sprintf("bench:%s:%d", suffix, i%benchKeySpread)
	}

	var results []result

	if !shouldSkip("set") {
		results = append(results, workload("set", func(i int) error {
			k := keyAt(i)
			_, err := eng.Run(0, core.SingleKey(0), []string{k}, setBody(value))
			return err
		}))
	}

	if !shouldSkip("get") {
		results = append(results, workload("get", func(i int) error {
			k := keyAt(i)
			_, err := eng.Run(0, core.SingleKey(0), []string{k}, getBody())
			return err
		}))
	}

	if !shouldSkip("mset") {
		ki := core.KeyIndex{Start: 0, End: uint32(2 * benchMultiWidth), Step: 2}
		results = append(results, workload("mset", func(i int) error {
			args := make([]string, 0, 2*benchMultiWidth)
			for j := 0; j < benchMultiWidth; j++ {
				args = append(args, keyAt(i+j), value)
			}
			_, err := eng.Run(0, ki, args, msetBody())
			return err
		}))
	}

	if !shouldSkip("cross") {
		// two-key transactions over a small hot set, submitted in both key
		// orders, to exercise the contention/retry path
		ki := core.KeyIndex{Start: 0, End: 2, Step: 1}
		results = append(results, workload("cross", func(i int) error {
			a, b := keyAt(i), keyAt(i+1)
			if i%2 == 1 {
				a, b = b, a
			}
			_, err := eng.Run(0, ki, []string{a, b}, msetPairBody(value))
			return err
		}))
	}

	for _, r := range results {
		printResult(r)
	}

	if path := viper.GetString("csv"); path != "" {
		if err := writeCSV(path, results); err != nil {
			return err
		}
		fmt.Printf("\nresults written to %s\n", path)
	}

	return nil
}

// --------------------------------------------------------------------------
// Workload Driver
// --------------------------------------------------------------------------

// workload runs op benchOps times over benchThreads goroutines, timing every
// call.
func workload(name string, op func(i int) error) result {
	timer := gometrics.NewTimer()
	var errs int64
	var errsMu sync.Mutex

	var wg sync.WaitGroup
	perThread := benchOps / benchThreads
	for th := 0; th < benchThreads; th++ {
		wg.Add(1)
		go func(th int) {
			defer wg.Done()
			for i := 0; i < perThread; i++ {
				start := time.Now()
				err := op(th*perThread + i)
				timer.UpdateSince(start)
				if err != nil {
					errsMu.Lock()
					errs++
					errsMu.Unlock()
				}
			}
		}(th)
	}
	wg.Wait()

	return result{
		name:  name,
		count: timer.Count(),
		errs:  errs,
		mean:  timer.Mean(),
		pcts:  timer.Percentiles([]float64{0.5, 0.95, 0.99}),
	}
}

// --------------------------------------------------------------------------
// Operation Bodies
// --------------------------------------------------------------------------

func setBody(value string) txn.ShardFunc {
	return func(t *txn.Txn, s *shard.Shard, args core.KeyLockArgs) (interface{}, error) {
		s.Keyspace().Set(args.DbIndex, args.Args[0], []byte(value), t.Clock())
		return nil, nil
	}
}

func getBody() txn.ShardFunc {
	return func(t *txn.Txn, s *shard.Shard, args core.KeyLockArgs) (interface{}, error) {
		e, ok := s.Keyspace().Get(args.DbIndex, args.Args[0])
		if !ok {
			return nil, nil
		}
		cp := make([]byte, len(e.Value))
		copy(cp, e.Value)
		return cp, nil
	}
}

func msetBody() txn.ShardFunc {
	return func(t *txn.Txn, s *shard.Shard, args core.KeyLockArgs) (interface{}, error) {
		for i := 0; i+1 < len(args.Args); i += 2 {
			s.Keyspace().Set(args.DbIndex, args.Args[i], []byte(args.Args[i+1]), t.Clock())
		}
		return nil, nil
	}
}

func msetPairBody(value string) txn.ShardFunc {
	return func(t *txn.Txn, s *shard.Shard, args core.KeyLockArgs) (interface{}, error) {
		for _, k := range args.Args {
			s.Keyspace().Set(args.DbIndex, k, []byte(value), t.Clock())
		}
		return nil, nil
	}
}

// --------------------------------------------------------------------------
// Reporting
// --------------------------------------------------------------------------

func shouldSkip(name string) bool {
	for _, s := range benchSkip {
		if strings.TrimSpace(s) == name {
			return true
		}
	}
	return false
}

func printResult(r result) {
	fmt.Printf("%-8s %8d ops  %6d errs  mean %9.0f ns  p50 %9.0f ns  p95 %9.0f ns  p99 %9.0f ns\n",
		r.name, r.count, r.errs, r.mean, r.pcts[0], r.pcts[1], r.pcts[2])
}

func writeCSV(path string, results []result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"workload", "ops", "errors", "mean_ns", "p50_ns", "p95_ns", "p99_ns"}); err != nil {
		return err
	}
	for _, r := range results {
		rec := []string{
			r.name,
			strconv.FormatInt(r.count, 10),
			strconv.FormatInt(r.errs, 10),
			strconv.FormatFloat(r.mean, 'f', 0, 64),
			strconv.FormatFloat(r.pcts[0], 'f', 0, 64),
			strconv.FormatFloat(r.pcts[1], 'f', 0, 64),
			strconv.FormatFloat(r.pcts[2], 'f', 0, 64),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return nil
}
