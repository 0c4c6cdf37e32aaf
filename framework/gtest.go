package framework

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/testadapt/testadapt/types"
)

const (
	gtestRunMarker     = "[ RUN      ] "
	gtestOKMarker      = "[       OK ] "
	gtestFailedMarker  = "[  FAILED  ] "
	gtestSkippedMarker = "[  SKIPPED ] "
)

var gtestDurationRe = regexp.MustCompile(`\((\d+) ms\)`)

// GTest adapts executables built against GoogleTest. Test identity is the
// "Suite.Case" pair printed by the run markers.
type GTest struct{}

// NewGTest returns the GoogleTest adapter.
func NewGTest() *GTest { return &GTest{} }

func (g *GTest) Kind() Kind { return KindGTest }

func (g *GTest) ListArgs() []string {
	return []string{"--gtest_list_tests"}
}

// ParseEnumeration decodes the plain-text listing: unindented lines ending
// with "." open a suite, indented lines are its cases. Trailing "# ..."
// comments carry type or value parameters. A DISABLED_ prefix on either part
// marks the case skipped.
func (g *GTest) ParseEnumeration(stdout []byte) (Enumeration, error) {
	var enum Enumeration
	suite := ""
	for _, rawLine := range strings.Split(string(stdout), "\n") {
		line := strings.TrimRight(rawLine, "\r")
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "  ") {
			if suite == "" {
				continue
			}
			name := strings.TrimSpace(line)
			var tags []string
			if idx := strings.Index(name, "#"); idx >= 0 {
				if param := strings.TrimSpace(name[idx+1:]); param != "" {
					tags = append(tags, param)
				}
				name = strings.TrimSpace(name[:idx])
			}
			if name == "" {
				continue
			}
			enum.Cases = append(enum.Cases, CaseInfo{
				ID:      suite + "." + name,
				Label:   name,
				Tags:    tags,
				Skipped: strings.HasPrefix(suite, "DISABLED_") || strings.HasPrefix(name, "DISABLED_"),
			})
			continue
		}
		// Suite lines end with "." before any comment; anything else is
		// preamble noise (e.g. "Running main() from ...").
		header := line
		if idx := strings.Index(header, "#"); idx >= 0 {
			header = strings.TrimSpace(header[:idx])
		}
		if strings.HasSuffix(header, ".") {
			suite = strings.TrimSuffix(header, ".")
		}
	}
	return enum, nil
}

func (g *GTest) RunArgs(ids []string, opts RunOptions) []string {
	args := []string{"--gtest_filter=" + strings.Join(ids, ":")}
	if opts.NoColor {
		args = append(args, "--gtest_color=no")
	}
	if opts.Shuffle {
		args = append(args,
			"--gtest_shuffle",
			"--gtest_random_seed="+strconv.FormatInt(opts.Seed%100000, 10))
	}
	return args
}

// ScanBegin matches a complete "[ RUN      ] Suite.Case" line. GoogleTest has
// no self-terminating marker; skips still emit a terminal SKIPPED line.
func (g *GTest) ScanBegin(buf []byte) (BeginMatch, bool) {
	start := bytes.Index(buf, []byte(gtestRunMarker))
	if start < 0 {
		return BeginMatch{}, false
	}
	nl := bytes.IndexByte(buf[start:], '\n')
	if nl < 0 {
		// Line still incomplete.
		return BeginMatch{}, false
	}
	line := string(bytes.TrimRight(buf[start:start+nl], "\r"))
	id := strings.TrimSpace(strings.TrimPrefix(line, gtestRunMarker))
	if id == "" {
		return BeginMatch{}, false
	}
	return BeginMatch{
		Start: start,
		End:   start + nl + 1,
		ID:    id,
	}, true
}

func (g *GTest) ScanEnd(buf []byte, id string) (int, bool) {
	best := -1
	for _, marker := range []string{gtestOKMarker, gtestFailedMarker, gtestSkippedMarker} {
		if end, ok := findGTestTerminal(buf, marker, id); ok && (best < 0 || end < best) {
			best = end
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}

// findGTestTerminal locates a complete terminal line for the given identity.
// The identity must be followed by whitespace or end-of-line so that
// "A.B" does not match inside "A.B2".
func findGTestTerminal(buf []byte, marker, id string) (int, bool) {
	needle := []byte(marker + id)
	from := 0
	for {
		idx := bytes.Index(buf[from:], needle)
		if idx < 0 {
			return 0, false
		}
		idx += from
		after := idx + len(needle)
		nl := bytes.IndexByte(buf[after:], '\n')
		if nl < 0 {
			return 0, false
		}
		rest := bytes.TrimRight(buf[after:after+nl], "\r")
		if len(rest) == 0 || rest[0] == ' ' || rest[0] == ',' {
			return after + nl + 1, true
		}
		from = after
	}
}

func (g *GTest) ParseCasePayload(payload []byte, id string) (CaseResult, error) {
	result := CaseResult{ID: id}

	lines := strings.Split(string(payload), "\n")
	terminal := ""
	var body []string
	for _, rawLine := range lines {
		line := strings.TrimRight(rawLine, "\r")
		switch {
		case strings.HasPrefix(line, gtestOKMarker):
			result.Status = types.StatePassed
			terminal = line
		case strings.HasPrefix(line, gtestFailedMarker):
			result.Status = types.StateFailed
			terminal = line
		case strings.HasPrefix(line, gtestSkippedMarker):
			result.Status = types.StateSkipped
			terminal = line
		case strings.HasPrefix(line, gtestRunMarker):
			// begin line, not part of the message
		default:
			body = append(body, line)
		}
	}
	if terminal == "" {
		return CaseResult{}, fmt.Errorf("no terminal marker in payload for %q", id)
	}

	if m := gtestDurationRe.FindStringSubmatch(terminal); m != nil {
		ms, _ := strconv.Atoi(m[1])
		result.Duration = time.Duration(ms) * time.Millisecond
	}
	if result.Status != types.StatePassed {
		result.Message = strings.TrimSpace(strings.Join(body, "\n"))
	}
	return result, nil
}
