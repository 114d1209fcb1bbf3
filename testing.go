package adlb

import (
	"context"
	"sync"
	"time"

	"github.com/adlb-go/adlb/internal/transport"
)

// TestCluster wires numWorkers+numServers ranks over an in-process
// channel-backed transport and runs every server's progress loop in its own
// goroutine. It is exported so packages that build on top of adlb can
// exercise Put/Get/store behavior without standing up real MPI ranks — the
// same role go-ublk's MockBackend played for backend-consuming tests,
// generalized from a single mocked backend to a whole mocked job.
type TestCluster struct {
	Workers []*Client
	Servers []*Server

	cancel context.CancelFunc
	done   sync.WaitGroup
}

// NewTestCluster starts numWorkers worker ranks and numServers server ranks.
// acceptTypes is passed through to Init on every rank (spec section 4.D's
// periodic summary/steal traffic needs to know which task types a job ever
// uses). Call Close when done to stop every server's progress loop.
func NewTestCluster(numWorkers, numServers int, acceptTypes []int) (*TestCluster, error) {
	comms := transport.NewChanMesh(numWorkers + numServers)

	tc := &TestCluster{}
	ctx, cancel := context.WithCancel(context.Background())
	tc.cancel = cancel

	for _, comm := range comms {
		amServer, _, srv, cli, err := Init(comm, numServers, acceptTypes, Config{})
		if err != nil {
			cancel()
			return nil, err
		}
		if amServer {
			tc.Servers = append(tc.Servers, srv)
			tc.done.Add(1)
			go func(s *Server) {
				defer tc.done.Done()
				s.Run(ctx)
			}(srv)
		} else {
			tc.Workers = append(tc.Workers, cli)
		}
	}
	return tc, nil
}

// Close cancels every server's Run loop and waits for them to return.
func (tc *TestCluster) Close() {
	tc.cancel()
	tc.done.Wait()
}

// AllQuiescent reports whether every server in the cluster has independently
// confirmed global quiescence (spec section 4.D's termination ring).
func (tc *TestCluster) AllQuiescent() bool {
	for _, s := range tc.Servers {
		if !s.Quiescent() {
			return false
		}
	}
	return true
}

// WaitQuiescent polls AllQuiescent until it is true or timeout elapses.
func (tc *TestCluster) WaitQuiescent(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for !tc.AllQuiescent() {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
	return true
}
