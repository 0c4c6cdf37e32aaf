package framework

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testadapt/testadapt/types"
)

const gtestListing = `Running main() from gmock_main.cc
MathTest.
  Add
  Sub  # GetParam() = 4
DISABLED_SlowTest.
  WholeSuiteOff
VecTest.
  DISABLED_Resize
`

func TestGTestParseEnumeration(t *testing.T) {
	enum, err := NewGTest().ParseEnumeration([]byte(gtestListing))
	require.NoError(t, err)
	require.Len(t, enum.Cases, 4)

	assert.Equal(t, "MathTest.Add", enum.Cases[0].ID)
	assert.Equal(t, "Add", enum.Cases[0].Label)
	assert.False(t, enum.Cases[0].Skipped)

	assert.Equal(t, "MathTest.Sub", enum.Cases[1].ID)
	assert.Equal(t, []string{"GetParam() = 4"}, enum.Cases[1].Tags)

	assert.Equal(t, "DISABLED_SlowTest.WholeSuiteOff", enum.Cases[2].ID)
	assert.True(t, enum.Cases[2].Skipped)

	assert.Equal(t, "VecTest.DISABLED_Resize", enum.Cases[3].ID)
	assert.True(t, enum.Cases[3].Skipped)
}

func TestGTestRunArgs(t *testing.T) {
	g := NewGTest()

	args := g.RunArgs([]string{"MathTest.Add", "MathTest.Sub"}, RunOptions{NoColor: true})
	assert.Equal(t, "--gtest_filter=MathTest.Add:MathTest.Sub", args[0])
	assert.Contains(t, args, "--gtest_color=no")

	shuffled := g.RunArgs([]string{"MathTest.Add"}, RunOptions{Shuffle: true, Seed: 7})
	assert.Contains(t, shuffled, "--gtest_shuffle")
	assert.Contains(t, shuffled, "--gtest_random_seed=7")
}

func TestGTestScanBegin(t *testing.T) {
	g := NewGTest()

	_, ok := g.ScanBegin([]byte("[ RUN      ] MathTest.A"))
	assert.False(t, ok, "line without newline is incomplete")

	m, ok := g.ScanBegin([]byte("noise\n[ RUN      ] MathTest.Add\nbody"))
	require.True(t, ok)
	assert.Equal(t, "MathTest.Add", m.ID)
	assert.Equal(t, 6, m.Start)
	assert.False(t, m.SelfTerminating)
}

func TestGTestScanEnd(t *testing.T) {
	g := NewGTest()

	buf := []byte("[ RUN      ] MathTest.Add\nsome output\n[       OK ] MathTest.Add (3 ms)\nnext")
	end, ok := g.ScanEnd(buf, "MathTest.Add")
	require.True(t, ok)
	assert.Equal(t, len(buf)-len("next"), end)

	// Identity must match as a whole token.
	other := []byte("[ RUN      ] A.B\n[       OK ] A.B2 (1 ms)\n")
	_, ok = g.ScanEnd(other, "A.B")
	assert.False(t, ok)

	// End marker split mid-token is not a match yet.
	partial := []byte("[ RUN      ] A.B\n[       OK ] A.B (1 m")
	_, ok = g.ScanEnd(partial, "A.B")
	assert.False(t, ok)
}

func TestGTestParseCasePayload(t *testing.T) {
	g := NewGTest()

	ok := "[ RUN      ] MathTest.Add\n[       OK ] MathTest.Add (3 ms)\n"
	res, err := g.ParseCasePayload([]byte(ok), "MathTest.Add")
	require.NoError(t, err)
	assert.Equal(t, types.StatePassed, res.Status)
	assert.Equal(t, 3*time.Millisecond, res.Duration)
	assert.Empty(t, res.Message)

	failed := "[ RUN      ] MathTest.Sub\n" +
		"math_test.cc:23: Failure\nExpected equality of these values:\n  1\n  0\n" +
		"[  FAILED  ] MathTest.Sub (12 ms)\n"
	res, err = g.ParseCasePayload([]byte(failed), "MathTest.Sub")
	require.NoError(t, err)
	assert.Equal(t, types.StateFailed, res.Status)
	assert.Equal(t, 12*time.Millisecond, res.Duration)
	assert.Contains(t, res.Message, "math_test.cc:23")

	skipped := "[ RUN      ] MathTest.Later\n[  SKIPPED ] MathTest.Later (0 ms)\n"
	res, err = g.ParseCasePayload([]byte(skipped), "MathTest.Later")
	require.NoError(t, err)
	assert.Equal(t, types.StateSkipped, res.Status)

	_, err = g.ParseCasePayload([]byte("[ RUN      ] MathTest.Lost\npartial"), "MathTest.Lost")
	assert.Error(t, err)
}
