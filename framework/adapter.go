// Package framework defines the per-framework adapter contract: how to
// enumerate an executable's tests, how to build run arguments, and how to
// recognize and parse the per-test sections of its streamed output. One
// adapter exists per supported framework and is selected once when the
// executable is classified.
package framework

import (
	"fmt"
	"time"

	"github.com/testadapt/testadapt/types"
)

// Kind names a supported test framework.
type Kind string

const (
	KindCatch2 Kind = "catch2"
	KindGTest  Kind = "gtest"
)

// CaseInfo is one enumerated test case.
type CaseInfo struct {
	ID      string
	Label   string
	Tags    []string
	File    string
	Line    int
	Skipped bool
}

// Enumeration is the parsed result of a list-tests invocation.
type Enumeration struct {
	Version string // framework version when the listing reports one
	Cases   []CaseInfo
}

// CaseResult is the parsed outcome of one per-test output payload.
type CaseResult struct {
	ID       string
	Status   types.RunState
	Duration time.Duration
	Message  string
}

// BeginMatch locates a test-case-begin marker inside a scan buffer. Start and
// End are byte offsets; End is exclusive and covers the complete marker. A
// self-terminating marker carries its whole payload and represents a skipped
// test, so no matching end marker will follow.
type BeginMatch struct {
	Start           int
	End             int
	ID              string
	SelfTerminating bool
}

// RunOptions tune how run arguments are built.
type RunOptions struct {
	Shuffle bool
	Seed    int64
	NoColor bool
}

// Adapter is the uniform per-framework contract. Scan methods operate on an
// accumulated buffer that may end mid-token; they must only match complete
// markers and report no match otherwise, so the caller can suspend until more
// data arrives.
type Adapter interface {
	Kind() Kind

	// ListArgs are the arguments that put the executable in list-tests mode.
	ListArgs() []string

	// ParseEnumeration decodes the stdout of a list-tests invocation.
	ParseEnumeration(stdout []byte) (Enumeration, error)

	// RunArgs builds the arguments that run exactly the given identities.
	RunArgs(ids []string, opts RunOptions) []string

	// ScanBegin searches buf for the earliest complete begin marker.
	ScanBegin(buf []byte) (BeginMatch, bool)

	// ScanEnd searches buf for the complete end marker of the case with the
	// given identity. buf starts at the case's begin marker; the returned
	// offset is exclusive and covers the whole payload.
	ScanEnd(buf []byte, id string) (int, bool)

	// ParseCasePayload decodes one complete per-test payload, begin marker
	// through end marker inclusive.
	ParseCasePayload(payload []byte, id string) (CaseResult, error)
}

// New returns the adapter for the given framework kind. An empty kind
// defaults to catch2.
func New(kind Kind) (Adapter, error) {
	switch kind {
	case KindCatch2, "":
		return NewCatch2(), nil
	case KindGTest:
		return NewGTest(), nil
	}
	return nil, fmt.Errorf("unsupported test framework %q", kind)
}
