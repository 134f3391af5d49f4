package jobsched

import (
	lg "github.com/Andrej220/go-utils/zlog"
)

// reportInternalError reports a non-job failure such as a worker that
// could not be pinned. It is logged and forwarded to OnInternalError.
func (p *Pool) reportInternalError(e error) {
	lg.FromContext(p.opts.Ctx).Warn("job pool internal error", lg.Any("error", e))
	if p.opts.OnInternalError != nil {
		p.opts.OnInternalError(e)
	}
}

// reportWorkerFailure runs on the failing worker before it exits.
func (p *Pool) reportWorkerFailure(e *JobPanicError) {
	if p.opts.OnWorkerFailure != nil {
		p.opts.OnWorkerFailure(e)
	}
}

// relayFailure queues a worker failure for the coordinator. Workers never
// re-panic locally.
func (p *Pool) relayFailure(e *JobPanicError) {
	p.relayMu.Lock()
	p.relay = append(p.relay, e)
	p.relayPending.Add(1)
	p.relayMu.Unlock()
}

// rethrowRelayed re-panics the oldest relayed failure on the coordinator.
func (p *Pool) rethrowRelayed() {
	if p.relayPending.Load() == 0 {
		return
	}
	p.relayMu.Lock()
	if len(p.relay) == 0 {
		p.relayMu.Unlock()
		return
	}
	e := p.relay[0]
	p.relay[0] = nil
	p.relay = p.relay[1:]
	p.relayPending.Add(-1)
	p.relayMu.Unlock()
	panic(e)
}

func (p *Pool) takeAllRelayed() []*JobPanicError {
	p.relayMu.Lock()
	defer p.relayMu.Unlock()
	out := p.relay
	p.relay = nil
	p.relayPending.Add(-int32(len(out)))
	return out
}
