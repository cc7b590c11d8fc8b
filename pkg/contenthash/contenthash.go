// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package contenthash computes content signatures of files and compares
// file contents without holding them in memory.
package contenthash

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/blake3"
)

// Algorithm names a content hash function.
type Algorithm string

const (
	XXHash Algorithm = "xxhash"
	BLAKE3 Algorithm = "blake3"
	SHA256 Algorithm = "sha256"
)

// bufferSize is the read chunk used for hashing and comparison.
const bufferSize = 1 << 20

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, bufferSize)
		return &b
	},
}

// ParseAlgorithm validates an algorithm name. Matching is case-insensitive.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(name))); a {
	case XXHash, BLAKE3, SHA256:
		return a, nil
	default:
		return "", fmt.Errorf("unknown hash algorithm %q", name)
	}
}

// Cryptographic reports whether collisions of the algorithm are considered
// infeasible, which is what allows a hash match to stand in for a byte comparison.
func (a Algorithm) Cryptographic() bool {
	return a == BLAKE3 || a == SHA256
}

// New returns a fresh hash.Hash for the algorithm.
func (a Algorithm) New() hash.Hash {
	switch a {
	case BLAKE3:
		return blake3.New()
	case SHA256:
		return sha256.New()
	default:
		return xxhash.New()
	}
}

// Sum is a raw digest usable as a map key.
type Sum string

// Hex returns the lowercase hex form of the digest.
func (s Sum) Hex() string {
	return hex.EncodeToString([]byte(s))
}

// Partial is the signature of a bounded window of a file.
type Partial struct {
	Sum Sum
	// Complete is set when the window covered every byte of the file, so the
	// signature is also a full-content signature.
	Complete bool
	// Read is the number of bytes consumed.
	Read int64
}

// PartialFile hashes the first head bytes of path and, when tail > 0, the
// last tail bytes that do not overlap the head. size is the size observed by
// the caller; a file that turns out shorter or longer than that is an error
// so a concurrent writer is never mistaken for a match.
func PartialFile(path string, size int64, alg Algorithm, head, tail int64) (Partial, error) {
	f, err := os.Open(path)
	if err != nil {
		return Partial{}, err
	}
	defer f.Close()

	if err := checkSize(f, path, size); err != nil {
		return Partial{}, err
	}

	h := alg.New()
	head = min(head, size)
	n, err := io.CopyN(h, f, head)
	if err != nil {
		return Partial{}, fmt.Errorf("read head of %s: %w", path, err)
	}
	read := n

	if tail > 0 && size > head {
		tail = min(tail, size-head)
		if _, err := f.Seek(size-tail, io.SeekStart); err != nil {
			return Partial{}, fmt.Errorf("seek tail of %s: %w", path, err)
		}
		n, err := io.CopyN(h, f, tail)
		if err != nil {
			return Partial{}, fmt.Errorf("read tail of %s: %w", path, err)
		}
		read += n
	}

	return Partial{
		Sum:      Sum(h.Sum(nil)),
		Complete: read == size,
		Read:     read,
	}, nil
}

// File hashes the whole content of path. It returns the number of bytes read.
func File(ctx context.Context, path string, size int64, alg Algorithm) (Sum, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	if err := checkSize(f, path, size); err != nil {
		return "", 0, err
	}

	bufp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bufp)
	buf := *bufp

	h := alg.New()
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return "", total, err
		}
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			total += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", total, fmt.Errorf("read %s: %w", path, err)
		}
	}
	if total != size {
		return "", total, fmt.Errorf("%s: %w", path, ErrSizeChanged)
	}
	return Sum(h.Sum(nil)), total, nil
}

// Equal compares two files byte for byte. It returns the number of bytes
// read from each file.
func Equal(ctx context.Context, a, b string) (bool, int64, error) {
	fa, err := os.Open(a)
	if err != nil {
		return false, 0, err
	}
	defer fa.Close()

	fb, err := os.Open(b)
	if err != nil {
		return false, 0, err
	}
	defer fb.Close()

	bufap := bufPool.Get().(*[]byte)
	defer bufPool.Put(bufap)
	bufbp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bufbp)
	bufa, bufb := *bufap, *bufbp

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return false, total, err
		}
		na, errA := io.ReadFull(fa, bufa)
		nb, errB := io.ReadFull(fb, bufb)
		if errA != nil && errA != io.EOF && errA != io.ErrUnexpectedEOF {
			return false, total, fmt.Errorf("read %s: %w", a, errA)
		}
		if errB != nil && errB != io.EOF && errB != io.ErrUnexpectedEOF {
			return false, total, fmt.Errorf("read %s: %w", b, errB)
		}
		if na != nb || !bytes.Equal(bufa[:na], bufb[:nb]) {
			return false, total + int64(min(na, nb)), nil
		}
		total += int64(na)
		// a short read means both files ended at the same offset
		if errA != nil {
			return true, total, nil
		}
	}
}

func checkSize(f *os.File, path string, size int64) error {
	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if fi.Size() != size {
		return fmt.Errorf("%s: %w", path, ErrSizeChanged)
	}
	return nil
}
