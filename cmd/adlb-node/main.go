// Command adlb-node runs one rank of a real multi-process ADLB job over a
// TCP mesh (internal/transport.TCPComm), the real-network counterpart to
// cmd/adlb-demo's single-process in-memory cluster. Invoke it once per
// rank, every invocation sharing the same -addrs list (index i is rank
// i's own listen address) and -servers count, e.g. for one server and two
// workers:
//
//	adlb-node -rank 0 -addrs 127.0.0.1:9000,127.0.0.1:9001,127.0.0.1:9002 -servers 1
//	adlb-node -rank 1 -addrs 127.0.0.1:9000,127.0.0.1:9001,127.0.0.1:9002 -servers 1
//	adlb-node -rank 2 -addrs 127.0.0.1:9000,127.0.0.1:9001,127.0.0.1:9002 -servers 1
//
// The trailing -servers ranks of the world run the server progress loop;
// every other rank is a worker. Worker rank 0 produces one task per
// remaining worker plus a datum every worker subscribes to; every other
// worker Gets its task, Subscribes, waits for the notification, and
// Retrieves the datum.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/adlb-go/adlb"
	"github.com/adlb-go/adlb/internal/datum"
	"github.com/adlb-go/adlb/internal/logging"
	"github.com/adlb-go/adlb/internal/task"
	"github.com/adlb-go/adlb/internal/transport"
)

const taskType = 0

func main() {
	var (
		rank       = flag.Int("rank", -1, "this process's world rank")
		addrsFlag  = flag.String("addrs", "", "comma-separated listen address of every rank, index == rank")
		numServers = flag.Int("servers", 1, "number of trailing world ranks acting as servers")
		xptPath    = flag.String("xpt", "", "checkpoint log path (servers only; empty disables checkpointing)")
	)
	flag.Parse()

	if *rank < 0 || *addrsFlag == "" {
		log.Fatal("adlb-node: -rank and -addrs are required")
	}
	addrs := strings.Split(*addrsFlag, ",")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *rank, addrs, *numServers, *xptPath); err != nil {
		log.Fatalf("adlb-node: %v", err)
	}
}

func run(ctx context.Context, rank int, addrs []string, numServers int, xptPath string) error {
	logger := logging.FromEnv(rank).WithOp("adlb-node")
	comm, err := transport.DialMesh(ctx, addrs, rank, logger)
	if err != nil {
		return fmt.Errorf("dial mesh: %w", err)
	}
	defer comm.Close()

	cfg := adlb.FromEnv()
	cfg.NumServers = numServers
	cfg.XPTPath = xptPath

	amServer, workerComm, srv, cli, err := adlb.Init(comm, numServers, []int{taskType, adlb.ControlType}, cfg)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}

	if amServer {
		defer srv.Close()
		if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("server run: %w", err)
		}
		return nil
	}
	numWorkers := len(addrs) - numServers
	if err := workerComm.Barrier(ctx); err != nil {
		return fmt.Errorf("worker barrier: %w", err)
	}

	if rank == 0 {
		if err := produce(ctx, cli, numWorkers); err != nil {
			return err
		}
	} else {
		if err := consume(ctx, cli, rank); err != nil {
			return err
		}
	}

	if err := cli.Finalize(ctx); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	return nil
}

// produce runs on worker rank 0: it creates one datum, puts one task per
// remaining worker carrying that datum's id, waits briefly for the other
// ranks' Subscribes to land, then stores the datum's value.
func produce(ctx context.Context, cli *adlb.Client, numWorkers int) error {
	id, err := cli.Create(ctx, datum.Integer, 0, false)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}

	payload := []byte(strconv.FormatInt(id, 10))
	for i := 1; i < numWorkers; i++ {
		if err := cli.Put(ctx, taskType, 0, 1, task.AnyRank, task.Hard, task.ByRank, -1, payload); err != nil {
			return fmt.Errorf("put: %w", err)
		}
	}

	time.Sleep(50 * time.Millisecond) // let remote Subscribes land before Store fires notifications

	value, err := datum.EncodeValue(datum.Value{Typ: datum.Integer, Int: 7})
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}
	if err := cli.Store(ctx, id, datum.Integer, value, 0); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	fmt.Printf("rank 0: produced datum %d and %d tasks\n", id, numWorkers-1)
	return nil
}

// consume runs on every non-zero worker rank: it Gets its task (whose
// payload is the producer's datum id), Subscribes to that id, waits for
// the notification, and Retrieves the value.
func consume(ctx context.Context, cli *adlb.Client, rank int) error {
	d, ok, shutdown, err := cli.Get(ctx, []int{taskType}, true)
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	if shutdown || !ok {
		return fmt.Errorf("get: expected a dispatch, ok=%v shutdown=%v", ok, shutdown)
	}

	id, err := strconv.ParseInt(string(d.Payload), 10, 64)
	if err != nil {
		return fmt.Errorf("parse datum id from task payload %q: %w", d.Payload, err)
	}

	if _, err := cli.Subscribe(ctx, id, nil, false); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if _, shutdown, err := cli.WaitNotifyFor(ctx, id); err != nil || shutdown {
		return fmt.Errorf("wait notify: shutdown=%v err=%w", shutdown, err)
	}

	typ, value, err := cli.Retrieve(ctx, id, 0, 0)
	if err != nil {
		return fmt.Errorf("retrieve: %w", err)
	}
	fmt.Printf("rank %d: retrieved datum %d (type %v) = %v\n", rank, id, typ, value)
	return nil
}
