package framework

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/testadapt/testadapt/types"
)

const (
	catch2BeginMarker = "<TestCase "
	catch2EndMarker   = "</TestCase>"
)

// Catch2 adapts executables built against the Catch2 framework (v3 XML
// reporter). Test identity is the full test case name.
type Catch2 struct{}

// NewCatch2 returns the Catch2 adapter.
func NewCatch2() *Catch2 { return &Catch2{} }

func (c *Catch2) Kind() Kind { return KindCatch2 }

func (c *Catch2) ListArgs() []string {
	return []string{"--list-tests", "--reporter", "xml"}
}

// Listing output is either a bare <MatchingTests> document or one wrapped in
// <Catch2TestRun>, depending on the framework version. Both shapes decode
// into the same struct.
type c2Listing struct {
	Version  string         `xml:"catch2-version,attr"`
	Matching []c2ListedCase `xml:"MatchingTests>TestCase"`
	Cases    []c2ListedCase `xml:"TestCase"`
}

type c2ListedCase struct {
	Name string `xml:"Name"`
	Tags string `xml:"Tags"`
	Src  struct {
		File string `xml:"File"`
		Line int    `xml:"Line"`
	} `xml:"SourceInfo"`
}

func (c *Catch2) ParseEnumeration(stdout []byte) (Enumeration, error) {
	var listing c2Listing
	if err := xml.Unmarshal(stdout, &listing); err != nil {
		return Enumeration{}, fmt.Errorf("decoding test listing: %w", err)
	}
	listed := listing.Matching
	if len(listed) == 0 {
		listed = listing.Cases
	}

	enum := Enumeration{Version: listing.Version}
	for _, tc := range listed {
		if tc.Name == "" {
			continue
		}
		tags := parseCatch2Tags(tc.Tags)
		enum.Cases = append(enum.Cases, CaseInfo{
			ID:      tc.Name,
			Label:   tc.Name,
			Tags:    tags,
			File:    tc.Src.File,
			Line:    tc.Src.Line,
			Skipped: hasHiddenTag(tags),
		})
	}
	return enum, nil
}

// parseCatch2Tags splits a "[a][b]" tag string into its tag names.
func parseCatch2Tags(raw string) []string {
	var tags []string
	for {
		open := strings.IndexByte(raw, '[')
		if open < 0 {
			return tags
		}
		close_ := strings.IndexByte(raw[open:], ']')
		if close_ < 0 {
			return tags
		}
		if tag := raw[open+1 : open+close_]; tag != "" {
			tags = append(tags, tag)
		}
		raw = raw[open+close_+1:]
	}
}

// Tags beginning with "." hide the test from default runs.
func hasHiddenTag(tags []string) bool {
	for _, tag := range tags {
		if strings.HasPrefix(tag, ".") {
			return true
		}
	}
	return false
}

func (c *Catch2) RunArgs(ids []string, opts RunOptions) []string {
	args := make([]string, 0, len(ids)+8)
	for _, id := range ids {
		args = append(args, escapeCatch2Spec(id))
	}
	args = append(args, "--reporter", "xml")
	if opts.NoColor {
		args = append(args, "--colour-mode", "none")
	}
	if opts.Shuffle {
		args = append(args, "--order", "rand", "--rng-seed", strconv.FormatInt(opts.Seed, 10))
	} else {
		args = append(args, "--order", "decl")
	}
	return args
}

// escapeCatch2Spec protects characters the test-spec parser treats specially
// inside a test name.
func escapeCatch2Spec(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch r {
		case ',', '[', ']', '\\', '*':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ScanBegin matches a complete <TestCase ...> opening tag. A self-closing tag
// is a skipped test with no body to follow.
func (c *Catch2) ScanBegin(buf []byte) (BeginMatch, bool) {
	start := bytes.Index(buf, []byte(catch2BeginMarker))
	if start < 0 {
		return BeginMatch{}, false
	}
	tagEnd := bytes.IndexByte(buf[start:], '>')
	if tagEnd < 0 {
		// Opening tag still incomplete.
		return BeginMatch{}, false
	}
	tag := buf[start : start+tagEnd+1]
	name, ok := xmlAttr(tag, "name")
	if !ok {
		return BeginMatch{}, false
	}
	return BeginMatch{
		Start:           start,
		End:             start + tagEnd + 1,
		ID:              name,
		SelfTerminating: bytes.HasSuffix(tag, []byte("/>")),
	}, true
}

func (c *Catch2) ScanEnd(buf []byte, _ string) (int, bool) {
	idx := bytes.Index(buf, []byte(catch2EndMarker))
	if idx < 0 {
		return 0, false
	}
	return idx + len(catch2EndMarker), true
}

type c2Expression struct {
	Success  bool   `xml:"success,attr"`
	Type     string `xml:"type,attr"`
	Filename string `xml:"filename,attr"`
	Line     int    `xml:"line,attr"`
	Original string `xml:"Original"`
	Expanded string `xml:"Expanded"`
}

type c2Fatal struct {
	Filename string `xml:"filename,attr"`
	Line     int    `xml:"line,attr"`
	Message  string `xml:",chardata"`
}

type c2Section struct {
	Name        string         `xml:"name,attr"`
	Expressions []c2Expression `xml:"Expression"`
	Sections    []c2Section    `xml:"Section"`
	Fatal       *c2Fatal       `xml:"FatalErrorCondition"`
}

type c2CasePayload struct {
	Name          string `xml:"name,attr"`
	OverallResult struct {
		Success  bool    `xml:"success,attr"`
		Skips    int     `xml:"skips,attr"`
		Duration float64 `xml:"durationInSeconds,attr"`
	} `xml:"OverallResult"`
	Expressions []c2Expression `xml:"Expression"`
	Sections    []c2Section    `xml:"Section"`
	Fatal       *c2Fatal       `xml:"FatalErrorCondition"`
}

func (c *Catch2) ParseCasePayload(payload []byte, id string) (CaseResult, error) {
	var tc c2CasePayload
	if err := xml.Unmarshal(payload, &tc); err != nil {
		return CaseResult{}, fmt.Errorf("decoding payload for %q: %w", id, err)
	}

	result := CaseResult{
		ID:       id,
		Duration: time.Duration(tc.OverallResult.Duration * float64(time.Second)),
	}

	var failures []string
	var fatal *c2Fatal
	collectCatch2Failures(tc.Expressions, tc.Sections, tc.Fatal, &failures, &fatal)

	switch {
	case fatal != nil:
		result.Status = types.StateFailed
		result.Message = fmt.Sprintf("%s:%d: fatal error: %s",
			fatal.Filename, fatal.Line, strings.TrimSpace(fatal.Message))
	case tc.OverallResult.Skips > 0:
		result.Status = types.StateSkipped
	case tc.OverallResult.Success:
		result.Status = types.StatePassed
	default:
		result.Status = types.StateFailed
		result.Message = strings.Join(failures, "\n")
	}
	return result, nil
}

func collectCatch2Failures(exprs []c2Expression, sections []c2Section, fatalIn *c2Fatal, failures *[]string, fatal **c2Fatal) {
	if fatalIn != nil && *fatal == nil {
		*fatal = fatalIn
	}
	for _, e := range exprs {
		if e.Success {
			continue
		}
		*failures = append(*failures, fmt.Sprintf("%s:%d: %s( %s ) with expansion: %s",
			e.Filename, e.Line, e.Type,
			strings.TrimSpace(e.Original), strings.TrimSpace(e.Expanded)))
	}
	for _, s := range sections {
		collectCatch2Failures(s.Expressions, s.Sections, s.Fatal, failures, fatal)
	}
}

// xmlAttr extracts and unescapes one attribute value from a raw tag.
func xmlAttr(tag []byte, name string) (string, bool) {
	needle := []byte(name + `="`)
	idx := bytes.Index(tag, needle)
	if idx < 0 {
		return "", false
	}
	rest := tag[idx+len(needle):]
	end := bytes.IndexByte(rest, '"')
	if end < 0 {
		return "", false
	}
	return unescapeXML(string(rest[:end])), true
}

func unescapeXML(s string) string {
	r := strings.NewReplacer(
		"&quot;", `"`,
		"&apos;", "'",
		"&lt;", "<",
		"&gt;", ">",
		"&amp;", "&",
	)
	return r.Replace(s)
}
