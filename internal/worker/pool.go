// Package worker implements the bounded worker pool spec.md §5
// describes: a fixed number of workers, each owning an independent
// bounded FIFO, processing datagrams to completion one at a time.
// Enqueue hashes each datagram's dialog key (its Call-ID) to a worker
// index so all traffic for one Call-ID stays ordered on one worker;
// across workers there is no ordering guarantee.
package worker

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/tinysip/b2bua/internal/b2bua"
)

// DefaultWorkerCount and DefaultQueueCapacity are the compile-time
// constants spec.md §6 names (W=5, capacity 10 each).
const (
	DefaultWorkerCount   = 5
	DefaultQueueCapacity = 10
)

// ErrQueueFull is returned by Enqueue when the target worker's queue
// has no free slot. The caller (the UDP receive loop) is expected to
// drop the datagram and rely on the sending endpoint's own
// retransmission, per spec.md §4.6's failure semantics.
var ErrQueueFull = errors.New("worker: queue full")

// Datagram is one inbound UDP payload awaiting processing.
type Datagram struct {
	Data       []byte
	SourceIP   string
	SourcePort uint16
}

// Sender delivers an Outbound payload over the transport. Implemented
// by internal/transport.Socket in the running process, and by a
// recording fake in tests.
type Sender interface {
	Send(o b2bua.Outbound) error
}

// Pool is W independent single-consumer queues draining into a shared
// Core. It owns no network resources itself.
type Pool struct {
	core   *b2bua.Core
	sender Sender
	queues []chan Datagram
	wg     sync.WaitGroup
}

// New builds a Pool with workerCount queues of queueCapacity each. It
// does not start processing until Start is called.
func New(core *b2bua.Core, sender Sender, workerCount, queueCapacity int) *Pool {
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}
	if queueCapacity <= 0 {
		queueCapacity = DefaultQueueCapacity
	}
	p := &Pool{core: core, sender: sender, queues: make([]chan Datagram, workerCount)}
	for i := range p.queues {
		p.queues[i] = make(chan Datagram, queueCapacity)
	}
	return p
}

// Start launches one goroutine per queue. Each drains its queue until
// ctx is canceled.
func (p *Pool) Start(ctx context.Context) {
	for i, q := range p.queues {
		p.wg.Add(1)
		go p.run(ctx, i, q)
	}
}

// Wait blocks until every worker goroutine has exited, for use after
// canceling ctx during shutdown.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, index int, queue chan Datagram) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case dg := <-queue:
			p.process(index, dg)
		}
	}
}

func (p *Pool) process(workerIndex int, dg Datagram) {
	traceID := uuid.NewString()
	slog.Debug("[WORKER] processing datagram", "trace_id", traceID, "worker", workerIndex, "source_ip", dg.SourceIP, "source_port", dg.SourcePort, "bytes", len(dg.Data))

	outbound := p.core.HandleDatagram(dg.Data, dg.SourceIP, dg.SourcePort)
	for _, o := range outbound {
		if err := p.sender.Send(o); err != nil {
			slog.Error("[WORKER] send failed", "trace_id", traceID, "dest_ip", o.DestIP, "dest_port", o.DestPort, "error", err)
		}
	}
}

// Enqueue hashes key (the datagram's dialog identifier, i.e. its
// Call-ID) to a worker and attempts a non-blocking send onto that
// worker's queue. Returns ErrQueueFull if the queue has no room.
func (p *Pool) Enqueue(key string, dg Datagram) error {
	idx := workerIndexFor(key, len(p.queues))
	select {
	case p.queues[idx] <- dg:
		return nil
	default:
		return fmt.Errorf("%w: worker %d", ErrQueueFull, idx)
	}
}

func workerIndexFor(key string, workerCount int) int {
	if workerCount <= 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32()) % workerCount
}
