// Command jobctl is a small demo/inspection CLI for the engine package,
// the way the teacher's examples/fifo and examples/real-world/bench are
// interactive demos for the pool package rather than part of its public
// API surface.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"

	"github.com/arkwell-io/jobengine/engine"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "demo":
		runDemo()
	case "turbo":
		runTurboDemo()
	case "stats":
		runStatsDemo()
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("usage: jobctl <demo|turbo|stats>")
	fmt.Println("  demo   submit a handful of tasks at mixed priorities")
	fmt.Println("  turbo  run a parallel map over a generated slice")
	fmt.Println("  stats  render pool occupancy and metrics as a table")
}

func printBanner(title string) {
	bold := color.New(color.Bold, color.FgCyan)
	bold.Println("╔══════════════════════════════════════════╗")
	bold.Printf("║ %-42s ║\n", title)
	bold.Println("╚══════════════════════════════════════════╝")
}

func runDemo() {
	printBanner("jobengine demo: mixed priority submissions")

	e := engine.New(engine.WithPoolSize(2))
	defer e.Shutdown()

	add := engine.Callable(func(ctx context.Context, args []any, env map[string]any) (any, error) {
		a := args[0].(int)
		b := args[1].(int)
		return a + b, nil
	})

	bar := progressbar.NewOptions(5,
		progressbar.OptionSetDescription("submitting"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	priorities := []engine.Priority{engine.PriorityLow, engine.PriorityNormal, engine.PriorityHigh}
	futures := make([]*engine.Future[any], 0, 5)
	for i := 0; i < 5; i++ {
		d := engine.TaskDescriptor{
			Callable: add,
			Args:     []any{i, i * 2},
			Priority: priorities[i%len(priorities)],
		}
		futures = append(futures, e.Submit(context.Background(), d))
		_ = bar.Add(1)
	}

	green := color.New(color.FgGreen)
	for i, f := range futures {
		v, err := f.Get(context.Background())
		if err != nil {
			color.Red("task %d failed: %v", i, err)
			continue
		}
		green.Printf("task %d -> %v\n", i, v)
	}

	m := e.Metrics()
	fmt.Printf("\ntasksExecuted=%d tasksFailed=%d\n", m.TasksExecuted, m.TasksFailed)
}

func runTurboDemo() {
	printBanner("jobengine demo: Turbo parallel map")

	e := engine.New()
	defer e.Shutdown()

	const n = 50_000
	items := make([]any, n)
	for i := range items {
		items[i] = i
	}

	square := engine.MapFn(func(ctx context.Context, item any) (any, error) {
		v := item.(int)
		return v * v, nil
	})

	start := time.Now()
	results, err := e.Turbo().Map(context.Background(), items, square, engine.TurboOptions{Force: true})
	if err != nil {
		color.Red("turbo map failed: %v", err)
		os.Exit(1)
	}
	elapsed := time.Since(start)

	fmt.Printf("mapped %d items in %v; results[10]=%v, results[%d]=%v\n",
		len(results), elapsed, results[10], n-1, results[n-1])
}

func runStatsDemo() {
	printBanner("jobengine demo: pool stats table")

	e := engine.New(engine.WithPoolSize(4))
	defer e.Shutdown()
	e.Warmup(engine.PoolNormal, 4)

	sleepy := engine.Callable(func(ctx context.Context, args []any, env map[string]any) (any, error) {
		time.Sleep(time.Duration(20+rand.Intn(30)) * time.Millisecond)
		return "done", nil
	})

	for i := 0; i < 20; i++ {
		e.Submit(context.Background(), engine.TaskDescriptor{Callable: sleepy})
	}
	time.Sleep(200 * time.Millisecond)

	normal := e.Stats(engine.PoolNormal)
	gen := e.Stats(engine.PoolGenerator)
	m := e.Metrics()
	coalesce := e.CoalesceStats()

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Pool", "Size", "Busy", "Idle", "Queue")
	_ = table.Append("normal", fmt.Sprint(normal.Size), fmt.Sprint(normal.BusyCount), fmt.Sprint(normal.IdleCount), fmt.Sprint(normal.QueueLen))
	_ = table.Append("generator", fmt.Sprint(gen.Size), fmt.Sprint(gen.BusyCount), fmt.Sprint(gen.IdleCount), fmt.Sprint(gen.QueueLen))
	if err := table.Render(); err != nil {
		fmt.Fprintln(os.Stderr, "render error:", err)
	}

	fmt.Printf("\nexecuted=%d failed=%d retries=%d affinityHits=%d coalesced=%d/%d (rate %.2f)\n",
		m.TasksExecuted, m.TasksFailed, m.Retries, m.AffinityHits, coalesce.Coalesced, coalesce.Unique, coalesce.Rate)
}
