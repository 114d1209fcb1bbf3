// Package adlb implements an Asynchronous Dynamic Load Balancer core, a
// Turbine-style distributed data store, and an XPT checkpoint log for
// MPI-based HPC task-parallel runtimes. Grounded on go-ublk's
// backend.go/CreateAndServe bootstrap pattern, generalized from one local
// device to a ring of cooperating servers talking over interfaces.Comm.
package adlb

import (
	"github.com/adlb-go/adlb/internal/interfaces"
)

// IDRangeSize is how many ids each server's range spans (spec section
// 4.E.1: every server owns a disjoint, contiguous id range). Large enough
// that no realistic job exhausts one server's range.
const IDRangeSize = int64(1) << 40

// Init splits worldComm into workers (ranks [0, numWorkers)) and servers
// (the trailing numServers ranks), following the convention used
// throughout the retrieved ADLB/Turbine sources that servers are the last
// ranks of the job's world communicator. Exactly one of (srv, cli) comes
// back non-nil depending on which side rank belongs to; the other two
// return values are meaningful only on the matching side.
func Init(worldComm interfaces.Comm, numServers int, acceptTypes []int, cfg Config) (amServer bool, workerComm interfaces.Comm, srv *Server, cli *Client, err error) {
	size := worldComm.Size()
	if numServers <= 0 || numServers >= size {
		return false, nil, nil, nil, NewError("Init", WrongType)
	}
	numWorkers := size - numServers
	serverBase := numWorkers
	rank := worldComm.Rank()

	if rank >= serverBase {
		serverIndex := rank - serverBase
		expected := workersForServer(numWorkers, numServers, serverIndex)
		s := newServer(worldComm, rank, serverBase, numServers, serverIndex, expected, acceptTypes, cfg)
		return true, nil, s, nil, nil
	}

	home := serverBase + homeServerIndex(rank, numServers)
	wc := newWorkerComm(worldComm, numWorkers)
	c := newClient(worldComm, home, serverBase, numServers)
	return false, wc, nil, c, nil
}

// homeServerIndex round-robins worker rank to a 0-based server index
// (spec section 6.1: each worker has one home server it sends its
// non-id-routed RPCs to, e.g. Put/Get/Finalize/Fail/UniqueId).
func homeServerIndex(workerRank, numServers int) int {
	return workerRank % numServers
}

// workersForServer counts how many workers round-robin to serverIndex,
// used to size the Finalize-gating "all my workers have checked in" test
// (spec section 6.2's Finalize: "barrier then terminate").
func workersForServer(numWorkers, numServers, serverIndex int) int {
	n := 0
	for w := 0; w < numWorkers; w++ {
		if homeServerIndex(w, numServers) == serverIndex {
			n++
		}
	}
	return n
}

// serverForID maps a datum id to the world rank of the server owning its
// range (spec section 4.E.1).
func serverForID(id int64, serverBase int) int {
	idx := int((id - 1) / IDRangeSize)
	return serverBase + idx
}

// idRangeStart is the first id belonging to serverIndex's range; ids start
// at 1 so that 0 remains reserved as the Create/MultiCreate "no hint"
// sentinel (rpc.go's encodeCreateRequest/encodeMultiCreateRequest).
func idRangeStart(serverIndex int) int64 {
	return int64(serverIndex)*IDRangeSize + 1
}
