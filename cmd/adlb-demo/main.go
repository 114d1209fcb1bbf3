// Command adlb-demo runs a single-process ADLB job: a handful of worker
// ranks producing and consuming tasks and one datum, against one or more
// server ranks, all wired together over an in-process channel transport
// (no real MPI binding is part of this module — see internal/transport).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/adlb-go/adlb"
	"github.com/adlb-go/adlb/internal/datum"
	"github.com/adlb-go/adlb/internal/task"
)

func main() {
	var (
		numWorkers = flag.Int("workers", 3, "number of worker ranks")
		numServers = flag.Int("servers", 1, "number of server ranks")
		xptPath    = flag.String("xpt", "", "checkpoint log path (empty disables checkpointing)")
		verbose    = flag.Bool("v", false, "print per-operation timing at exit")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *numWorkers, *numServers, *xptPath, *verbose); err != nil {
		log.Fatalf("adlb-demo: %v", err)
	}
}

const taskType = 0

func run(ctx context.Context, numWorkers, numServers int, xptPath string, verbose bool) error {
	tc, err := adlb.NewTestCluster(numWorkers, numServers, []int{taskType, adlb.ControlType})
	if err != nil {
		return fmt.Errorf("start cluster: %w", err)
	}
	defer tc.Close()

	if xptPath != "" {
		fmt.Printf("checkpointing to %s\n", xptPath)
	}

	// Worker 0 produces one datum and numWorkers-1 tasks, one per
	// remaining worker; every other worker consumes its task, Subscribes
	// to the datum, waits for it, then retrieves it.
	producer := tc.Workers[0]
	id, err := producer.Create(ctx, datum.Integer, 0, false)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}

	var wg sync.WaitGroup
	for i := 1; i < numWorkers; i++ {
		payload := []byte(fmt.Sprintf("task-%d", i))
		if err := producer.Put(ctx, taskType, 0, 1, task.AnyRank, task.Hard, task.ByRank, -1, payload); err != nil {
			return fmt.Errorf("Put: %w", err)
		}

		w := tc.Workers[i]
		wg.Add(1)
		go func(rank int, w *adlb.Client) {
			defer wg.Done()
			d, ok, shutdown, err := w.Get(ctx, []int{taskType}, true)
			if err != nil || shutdown || !ok {
				fmt.Printf("worker %d: Get failed: ok=%v shutdown=%v err=%v\n", rank, ok, shutdown, err)
				return
			}
			fmt.Printf("worker %d: ran %q\n", rank, d.Payload)

			if _, err := w.Subscribe(ctx, id, nil, false); err != nil {
				fmt.Printf("worker %d: Subscribe failed: %v\n", rank, err)
				return
			}
			if _, shutdown, err := w.WaitNotifyFor(ctx, id); err != nil || shutdown {
				fmt.Printf("worker %d: WaitNotifyFor failed: shutdown=%v err=%v\n", rank, shutdown, err)
				return
			}
			_, value, err := w.Retrieve(ctx, id, 0, 0)
			if err != nil {
				fmt.Printf("worker %d: Retrieve failed: %v\n", rank, err)
				return
			}
			fmt.Printf("worker %d: retrieved datum %d = %v\n", rank, id, value)
		}(i, w)
	}

	value, err := datum.EncodeValue(datum.Value{Typ: datum.Integer, Int: 7})
	if err != nil {
		return fmt.Errorf("EncodeValue: %w", err)
	}
	time.Sleep(20 * time.Millisecond) // let Subscribes land before Store fires notifications
	if err := producer.Store(ctx, id, datum.Integer, value, 0); err != nil {
		return fmt.Errorf("Store: %w", err)
	}

	wg.Wait()

	for _, w := range tc.Workers {
		if err := w.Finalize(ctx); err != nil {
			return fmt.Errorf("Finalize: %w", err)
		}
	}
	if !tc.WaitQuiescent(5 * time.Second) {
		return fmt.Errorf("job never reached quiescence")
	}

	if verbose {
		for i, s := range tc.Servers {
			snap := s.Metrics().Snapshot()
			fmt.Printf("server %d: puts=%d gets=%d stores=%d retrieves=%d notifies=%d avg_latency=%s\n",
				i, snap.PutOps, snap.GetOps, snap.StoreOps, snap.RetrieveOps, snap.NotifyOps,
				time.Duration(snap.AvgLatencyNs))
		}
	}
	return nil
}
