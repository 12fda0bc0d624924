package export

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/logdict/backend/internal/dictionary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildResult(t *testing.T, lines ...string) *dictionary.Result {
	t.Helper()
	res, err := dictionary.BuildSequential(lines, nil, false)
	require.NoError(t, err)
	return res
}

func TestFromResult_SortedByCountThenKey(t *testing.T) {
	res := buildResult(t, "a b c", "b c d", "a b c")
	snap := FromResult(res)

	assert.Equal(t, SnapshotVersion, snap.Version)
	assert.Equal(t, []PairEntry{
		{A: "b", B: "c", Count: 3},
		{A: "a", B: "b", Count: 2},
		{A: "c", B: "d", Count: 1},
	}, snap.Pairs)
	assert.Equal(t, []TripleEntry{
		{A: "a", B: "b", C: "c", Count: 2},
		{A: "b", B: "c", C: "d", Count: 1},
	}, snap.Triples)
	assert.Equal(t, []string{"a", "b", "c", "d"}, snap.Vocabulary)
	assert.Equal(t, 3, snap.Stats.Lines)
}

func TestSnapshot_ResultRoundTrip(t *testing.T) {
	res := buildResult(t, "x y z w", "y z", "w")
	assert.True(t, res.Equal(FromResult(res).Result()))
}

func TestMsgpack_RoundTrip(t *testing.T) {
	snap := FromResult(buildResult(t, "GET /index 200", "GET /login 302", "POST /login 200"))
	snap.BuildID = "build-1"
	snap.Format = "whitespace"

	var buf bytes.Buffer
	require.NoError(t, EncodeMsgpack(&buf, snap))

	got, err := DecodeMsgpack(&buf)
	require.NoError(t, err)
	assert.Equal(t, snap.Pairs, got.Pairs)
	assert.Equal(t, snap.Triples, got.Triples)
	assert.Equal(t, snap.Vocabulary, got.Vocabulary)
	assert.Equal(t, "build-1", got.BuildID)
	assert.True(t, snap.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, snap.Stats.Tokens, got.Stats.Tokens)
}

func TestDecodeMsgpack_RejectsUnknownVersion(t *testing.T) {
	snap := FromResult(buildResult(t, "a b"))
	snap.Version = 99

	var buf bytes.Buffer
	require.NoError(t, EncodeMsgpack(&buf, snap))
	_, err := DecodeMsgpack(&buf)
	assert.ErrorContains(t, err, "unsupported snapshot version")
}

func TestWriteFile_ByExtension(t *testing.T) {
	snap := FromResult(buildResult(t, "a b c d"))
	dir := t.TempDir()

	for _, name := range []string{"dict.msgpack", "dict.mpk", "dict.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, WriteFile(path, snap))

			got, err := ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, snap.Pairs, got.Pairs)
			assert.Equal(t, snap.Vocabulary, got.Vocabulary)
		})
	}

	err := WriteFile(filepath.Join(dir, "dict.csv"), snap)
	assert.ErrorContains(t, err, "unsupported export extension")
}

func TestGroupByCount(t *testing.T) {
	groups := GroupByCount(map[string]int64{
		"a^b": 2,
		"b^c": 3,
		"c^d": 1,
		"x^y": 2,
	})

	assert.Equal(t, []CountGroup{
		{Count: 1, Keys: []string{"c^d"}},
		{Count: 2, Keys: []string{"a^b", "x^y"}},
		{Count: 3, Keys: []string{"b^c"}},
	}, groups)
	assert.Empty(t, GroupByCount(nil))
}

func TestJoinKey(t *testing.T) {
	assert.Equal(t, "a^b", JoinKey("a", "b"))
	assert.Equal(t, "a^b^c", TripleEntry{A: "a", B: "b", C: "c"}.Key())

	snap := FromResult(buildResult(t, "a b c"))
	assert.Equal(t, map[string]int64{"a^b": 1, "b^c": 1}, snap.PairCounts())
	assert.Equal(t, map[string]int64{"a^b^c": 1}, snap.TripleCounts())
}
