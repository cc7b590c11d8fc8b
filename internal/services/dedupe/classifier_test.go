// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dedupe

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/relink/pkg/contenthash"
)

// scan walks cfg's roots and classifies the result.
func scan(t *testing.T, cfg Config) ([]*DuplicateGroup, *classifier, *Report) {
	t.Helper()
	e, err := newEngine(cfg)
	require.NoError(t, err)

	rep := &Report{}
	records, err := e.collect(context.Background(), rep)
	require.NoError(t, err)

	cl := newClassifier(&e.cfg)
	groups, err := cl.classify(context.Background(), records)
	require.NoError(t, err)
	return groups, cl, rep
}

func memberPaths(g *DuplicateGroup) []string {
	out := make([]string, len(g.Members))
	for i, m := range g.Members {
		out[i] = m.Path
	}
	return out
}

func TestClassifyGroupsIdenticalContent(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	a := writeTestFile(t, root, "a/hello.txt", "hello")
	b := writeTestFile(t, root, "b/hello.txt", "hello")
	writeTestFile(t, root, "c/world.txt", "world")
	writeTestFile(t, root, "d/unique.txt", "only one of me")

	groups, cl, _ := scan(t, testConfig(root))

	require.Len(t, groups, 1)
	assert.Equal(t, []string{a, b}, memberPaths(groups[0]))
	assert.Equal(t, int64(5), groups[0].Size)
	assert.Equal(t, 1, groups[0].ID)
	assert.Empty(t, cl.errors)
	assert.Zero(t, cl.integrity.Load())
}

func TestClassifyRecognizesPrelinkedWithoutReading(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	a := writeTestFile(t, root, "a.bin", "linked content")
	b := filepath.Join(root, "b.bin")
	linkTestFile(t, a, b)

	groups, cl, _ := scan(t, testConfig(root))

	require.Len(t, groups, 1)
	assert.True(t, groups[0].Prelinked())
	assert.Equal(t, []string{a, b}, memberPaths(groups[0]))
	assert.Zero(t, cl.bytesRead.Load(), "pre-linked paths must not be read")
}

func TestClassifyHashesEachObjectOnce(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	content := string(bytes.Repeat([]byte("z"), 1000))
	a := writeTestFile(t, root, "a.bin", content)
	linkTestFile(t, a, filepath.Join(root, "a-link.bin"))
	writeTestFile(t, root, "b.bin", content)
	writeTestFile(t, root, "c.bin", content)

	cfg := testConfig(root)
	cfg.Verify = VerifyHash
	cfg.Hash = contenthash.SHA256
	cfg.PartialSize = 100

	groups, cl, _ := scan(t, cfg)

	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Members, 4)
	// three objects: partial window plus one full read each
	assert.Equal(t, int64(3*100+3*1000), cl.bytesRead.Load())
	assert.Zero(t, cl.comparisons.Load())
}

func TestClassifyPairUsesDirectComparison(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	content := string(bytes.Repeat([]byte("q"), 4096))
	writeTestFile(t, root, "a.bin", content)
	writeTestFile(t, root, "b.bin", content)

	cfg := testConfig(root)
	cfg.PartialSize = 64

	groups, cl, _ := scan(t, cfg)

	require.Len(t, groups, 1)
	assert.Equal(t, int64(1), cl.comparisons.Load())
	assert.Equal(t, int64(2*64+2*4096), cl.bytesRead.Load())
}

func TestClassifyMetadataMatch(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	a := writeTestFile(t, root, "x/report.txt", "same bytes")
	b := writeTestFile(t, root, "y/report.txt", "same bytes")
	c := writeTestFile(t, root, "z/other.txt", "same bytes")
	require.NoError(t, os.Chmod(a, 0o644))
	require.NoError(t, os.Chmod(b, 0o644))
	require.NoError(t, os.Chmod(c, 0o600))

	t.Run("content only", func(t *testing.T) {
		groups, _, _ := scan(t, testConfig(root))
		require.Len(t, groups, 1)
		assert.Equal(t, []string{a, b, c}, memberPaths(groups[0]))
	})

	t.Run("names must match", func(t *testing.T) {
		cfg := testConfig(root)
		cfg.MatchName = true
		groups, _, _ := scan(t, cfg)
		require.Len(t, groups, 1)
		assert.Equal(t, []string{a, b}, memberPaths(groups[0]))
	})

	t.Run("modes must match", func(t *testing.T) {
		cfg := testConfig(root)
		cfg.MatchMode = true
		groups, _, _ := scan(t, cfg)
		require.Len(t, groups, 1)
		assert.Equal(t, []string{a, b}, memberPaths(groups[0]))
	})
}

func TestClassifyTailSplitsSharedPrefix(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	prefix := string(bytes.Repeat([]byte("p"), 8192))
	writeTestFile(t, root, "a.bin", prefix+"AAAA")
	writeTestFile(t, root, "b.bin", prefix+"BBBB")

	cfg := testConfig(root)
	cfg.PartialSize = 1024
	cfg.PartialTailSize = 16

	groups, cl, _ := scan(t, cfg)

	assert.Empty(t, groups)
	assert.Zero(t, cl.comparisons.Load(), "tail signature should split before any comparison")
}

// Files of equal size that differ in a single byte anywhere must never be grouped.
func TestClassifyNearCollisionsNeverGroup(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	rng := rand.New(rand.NewPCG(7, 11))

	contents := make(map[string][]byte)
	for i := range 12 {
		size := 64 + rng.IntN(3*1024)
		base := make([]byte, size)
		for j := range base {
			base[j] = byte(rng.IntN(256))
		}
		// an exact copy and three single-byte variants at head, middle and tail
		variants := [][]byte{bytes.Clone(base), bytes.Clone(base)}
		for _, pos := range []int{0, size / 2, size - 1} {
			v := bytes.Clone(base)
			v[pos] ^= byte(1 + rng.IntN(255))
			variants = append(variants, v)
		}
		for k, v := range variants {
			path := writeTestFile(t, root, fmt.Sprintf("set%02d/v%d.bin", i, k), string(v))
			contents[path] = v
		}
	}

	for _, verify := range []VerifyMode{VerifyBytes, VerifyHash} {
		t.Run(string(verify), func(t *testing.T) {
			cfg := testConfig(root)
			cfg.Verify = verify
			cfg.Hash = contenthash.BLAKE3
			cfg.PartialSize = 32
			cfg.PartialTailSize = 8

			groups, cl, _ := scan(t, cfg)

			require.Len(t, groups, 12)
			for _, g := range groups {
				require.Len(t, g.Members, 2)
				assert.Equal(t, contents[g.Members[0].Path], contents[g.Members[1].Path])
			}
			assert.Zero(t, cl.integrity.Load())
		})
	}
}

func TestVerifySetReportsIntegrityViolation(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	a := writeTestFile(t, root, "a.bin", "aaaa")
	b := writeTestFile(t, root, "b.bin", "bbbb")
	c := writeTestFile(t, root, "c.bin", "aaaa")

	// pretend the full hash collided for all three
	mk := func(path string, ino uint64) *object {
		return &object{
			id:         record(path, 1, ino, 4).ID,
			records:    []*FileRecord{record(path, 1, ino, 4)},
			full:       contenthash.Sum("collision"),
			fullHashed: true,
		}
	}
	set := candidateSet{size: 4, objects: []*object{mk(a, 1), mk(b, 2), mk(c, 3)}}

	cfg := DefaultConfig()
	cfg.Workers = 1
	cl := newClassifier(&cfg)

	res, err := cl.verifySet(context.Background(), set)
	require.NoError(t, err)

	require.Len(t, res.sets, 2)
	assert.Len(t, res.sets[0].objects, 2, "a and c are really equal")
	assert.Equal(t, b, res.sets[1].objects[0].rep().Path)

	require.Len(t, res.errs, 1)
	assert.Equal(t, KindIntegrity, res.errs[0].Kind)
	assert.Equal(t, b, res.errs[0].Path)
	assert.ErrorIs(t, res.errs[0], ErrIntegrity)
	assert.Equal(t, int64(1), cl.integrity.Load())
}

func TestVerifySetDropsUnreadableRepresentative(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	missing := filepath.Join(root, "gone.bin")
	b := writeTestFile(t, root, "b.bin", "data")
	c := writeTestFile(t, root, "c.bin", "data")

	mk := func(path string, ino uint64) *object {
		return &object{id: record(path, 1, ino, 4).ID, records: []*FileRecord{record(path, 1, ino, 4)}}
	}
	set := candidateSet{size: 4, objects: []*object{mk(missing, 1), mk(b, 2), mk(c, 3)}}

	cfg := DefaultConfig()
	cl := newClassifier(&cfg)

	res, err := cl.verifySet(context.Background(), set)
	require.NoError(t, err)

	require.Len(t, res.dropped, 1)
	assert.Equal(t, missing, res.dropped[0].rep().Path)
	require.Len(t, res.sets, 1)
	assert.Len(t, res.sets[0].objects, 2)
}

func TestClassifyCanceled(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTestFile(t, root, "a.bin", "same")
	writeTestFile(t, root, "b.bin", "same")
	writeTestFile(t, root, "c.bin", "same")

	e, err := newEngine(testConfig(root))
	require.NoError(t, err)
	records, err := e.collect(context.Background(), &Report{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = newClassifier(&e.cfg).classify(ctx, records)
	assert.ErrorIs(t, err, context.Canceled)
}
