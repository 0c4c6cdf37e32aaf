package runner

import (
	"fmt"

	"github.com/acarl005/stripansi"
	"github.com/ethereum/go-ethereum/log"

	"github.com/testadapt/testadapt/framework"
	"github.com/testadapt/testadapt/types"
)

// maxScanIterations bounds the number of state transitions a single Feed may
// perform. A stream that keeps producing matches without draining indicates
// a misbehaving process; the stall callback lets the owner kill it.
const maxScanIterations = 100000

// idleTailBytes is how much unmatched output the parser retains while Idle,
// enough to hold any begin marker split across chunk boundaries.
const idleTailBytes = 8192

type parserState int

const (
	stateIdle parserState = iota
	stateInTestCase
)

// FinishCause tells the parser why its stream ended so it can synthesize the
// right terminal event for a test left open mid-payload.
type FinishCause int

const (
	FinishClean FinishCause = iota
	FinishCancelled
	FinishTimeout
	FinishCrashed
)

// Orphan is a parsed per-test result whose identity matched no node in the
// running batch. It is kept for reconciliation after a forced re-discovery.
type Orphan struct {
	Result framework.CaseResult
}

// ParserConfig configures one streaming parser.
type ParserConfig struct {
	Log     log.Logger
	Adapter framework.Adapter

	// Nodes is the batch's node set keyed by identity. Batches never share
	// nodes, so the parser is the only writer of their run state.
	Nodes map[string]*types.TestNode

	// Sink receives every emitted event.
	Sink types.EventSink

	// OnStall is invoked when the iteration guard trips.
	OnStall func()
}

// Parser incrementally decodes one process's output stream into per-test
// lifecycle events. It suspends whenever the buffered data holds no complete
// marker and resumes on the next Feed.
type Parser struct {
	log     log.Logger
	adapter framework.Adapter
	nodes   map[string]*types.TestNode
	sink    types.EventSink
	onStall func()

	buf     []byte
	state   parserState
	current *types.TestNode // nil while parsing an unmatched case
	caseID  string

	activeRoute []*types.Group
	orphans     []Orphan
	stalled     bool
}

// NewParser creates a parser in the Idle state.
func NewParser(cfg ParserConfig) *Parser {
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	return &Parser{
		log:     cfg.Log,
		adapter: cfg.Adapter,
		nodes:   cfg.Nodes,
		sink:    cfg.Sink,
		onStall: cfg.OnStall,
	}
}

// Feed appends one output chunk and drains every complete marker from the
// buffer. Frameworks run with coloring off; stripping escape sequences here
// is a second line of defense against processes that ignore that.
func (p *Parser) Feed(chunk []byte) {
	if p.stalled {
		return
	}
	p.buf = append(p.buf, []byte(stripansi.Strip(string(chunk)))...)

	for i := 0; ; i++ {
		if i >= maxScanIterations {
			p.log.Error("Parser made no durable progress, declaring stall")
			p.stalled = true
			if p.onStall != nil {
				p.onStall()
			}
			return
		}

		switch p.state {
		case stateIdle:
			m, ok := p.adapter.ScanBegin(p.buf)
			if !ok {
				// Suspend. Keep a tail in case a marker is split.
				if len(p.buf) > idleTailBytes {
					p.buf = append(p.buf[:0], p.buf[len(p.buf)-idleTailBytes:]...)
				}
				return
			}
			if m.SelfTerminating {
				p.resolveCase(framework.CaseResult{ID: m.ID, Status: types.StateSkipped})
				p.buf = p.buf[m.End:]
				continue
			}
			p.buf = p.buf[m.Start:] // payload includes the begin marker
			p.caseID = m.ID
			p.current = p.nodes[m.ID]
			if p.current == nil {
				p.log.Warn("Begin marker matched no requested test", "id", m.ID)
			} else {
				p.transitionTo(p.current)
				p.current.State = types.StateRunning
				p.sink.Emit(types.RunEvent{Kind: types.EventStarted, NodeID: p.current.ID})
			}
			p.state = stateInTestCase

		case stateInTestCase:
			end, ok := p.adapter.ScanEnd(p.buf, p.caseID)
			if !ok {
				// The one expected blocking point: wait for more data.
				return
			}
			payload := p.buf[:end]
			p.buf = p.buf[end:]

			result, err := p.adapter.ParseCasePayload(payload, p.caseID)
			if err != nil {
				p.log.Error("Failed to parse test payload", "id", p.caseID, "err", err)
				result = framework.CaseResult{
					ID:      p.caseID,
					Status:  types.StateErrored,
					Message: fmt.Sprintf("unparseable test output: %v", err),
				}
			}
			p.resolveCase(result)
			p.current = nil
			p.caseID = ""
			p.state = stateIdle
		}
	}
}

// Finish ends the stream. A test still open gets a synthesized terminal event
// matching the cause; any remaining active groups are closed.
func (p *Parser) Finish(cause FinishCause, detail string) {
	if p.state == stateInTestCase && p.current != nil {
		result := framework.CaseResult{ID: p.current.ID, Message: detail}
		switch cause {
		case FinishCancelled:
			result.Status = types.StateCancelled
		case FinishTimeout:
			result.Status = types.StateTimedOut
		default:
			result.Status = types.StateErrored
			if detail == "" {
				result.Message = "process output ended mid-test"
			}
		}
		p.resolveCase(result)
	}
	p.current = nil
	p.caseID = ""
	p.state = stateIdle

	for i := len(p.activeRoute) - 1; i >= 0; i-- {
		if g := p.activeRoute[i]; g.Parent() != nil {
			p.sink.Emit(types.RunEvent{Kind: types.EventGroupCompleted, GroupPath: g.Path()})
		}
	}
	p.activeRoute = nil
}

// Orphans returns the buffered results that matched no node.
func (p *Parser) Orphans() []Orphan {
	return p.orphans
}

// resolveCase applies one terminal result to its node and emits the event.
// Unmatched results are buffered as orphans instead of being discarded.
func (p *Parser) resolveCase(result framework.CaseResult) {
	node := p.nodes[result.ID]
	if node == nil {
		p.log.Debug("Buffering orphan result", "id", result.ID, "status", result.Status)
		p.orphans = append(p.orphans, Orphan{Result: result})
		return
	}

	p.transitionTo(node)
	node.State = result.Status
	node.Duration = result.Duration
	p.sink.Emit(types.RunEvent{
		Kind:     eventKindFor(result.Status),
		NodeID:   node.ID,
		Message:  result.Message,
		Duration: result.Duration,
	})
}

// transitionTo emits minimal group transition events: ancestors no longer on
// the active route close bottom-up, newly entered ones open top-down.
func (p *Parser) transitionTo(node *types.TestNode) {
	route := node.Route()

	shared := 0
	for shared < len(route) && shared < len(p.activeRoute) && route[shared] == p.activeRoute[shared] {
		shared++
	}

	for i := len(p.activeRoute) - 1; i >= shared; i-- {
		if g := p.activeRoute[i]; g.Parent() != nil {
			p.sink.Emit(types.RunEvent{Kind: types.EventGroupCompleted, GroupPath: g.Path()})
		}
	}
	for i := shared; i < len(route); i++ {
		if g := route[i]; g.Parent() != nil {
			p.sink.Emit(types.RunEvent{Kind: types.EventGroupRunning, GroupPath: g.Path()})
		}
	}
	p.activeRoute = route
}

func eventKindFor(state types.RunState) types.EventKind {
	switch state {
	case types.StatePassed:
		return types.EventPassed
	case types.StateFailed:
		return types.EventFailed
	case types.StateSkipped:
		return types.EventSkipped
	case types.StateCancelled:
		return types.EventCancelled
	case types.StateTimedOut:
		return types.EventTimedOut
	default:
		return types.EventErrored
	}
}
