// Package dumpfile compresses a finished traffic dump in place.
package dumpfile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// Codec names a compression format for the traffic dump.
type Codec string

const (
	CodecNone   Codec = "none"
	CodecZstd   Codec = "zstd"
	CodecBrotli Codec = "brotli"
)

// Codecs lists the accepted codec names in flag-help order.
var Codecs = []Codec{CodecNone, CodecZstd, CodecBrotli}

// ParseCodec accepts a codec name; the empty string means CodecNone.
func ParseCodec(raw string) (Codec, error) {
	switch Codec(strings.ToLower(strings.TrimSpace(raw))) {
	case "", CodecNone:
		return CodecNone, nil
	case CodecZstd, "zst":
		return CodecZstd, nil
	case CodecBrotli, "br":
		return CodecBrotli, nil
	}
	return "", fmt.Errorf("unknown dump compression %q (want none, zstd or brotli)", raw)
}

// Extension is the suffix appended to a compressed dump.
func (c Codec) Extension() string {
	switch c {
	case CodecZstd:
		return ".zst"
	case CodecBrotli:
		return ".br"
	default:
		return ""
	}
}

// Compress writes path+codec.Extension() and removes path once the compressed
// copy is in place. It returns the path of the file that now holds the dump.
// CodecNone returns path unchanged.
func Compress(path string, codec Codec) (string, error) {
	if codec == "" || codec == CodecNone {
		return path, nil
	}
	if codec.Extension() == "" {
		return path, fmt.Errorf("unknown dump compression %q", codec)
	}

	in, err := os.Open(path)
	if err != nil {
		return path, fmt.Errorf("open dump: %w", err)
	}
	defer in.Close()

	target := path + codec.Extension()
	tmp, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".tmp-*")
	if err != nil {
		return path, err
	}
	tmpPath := tmp.Name()

	if err := encode(tmp, in, codec); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return path, fmt.Errorf("compress dump: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return path, err
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return path, err
	}
	if err := os.Remove(path); err != nil {
		return target, fmt.Errorf("remove uncompressed dump: %w", err)
	}
	return target, nil
}

func encode(dst io.Writer, src io.Reader, codec Codec) error {
	var w io.WriteCloser
	switch codec {
	case CodecZstd:
		zw, err := zstd.NewWriter(dst)
		if err != nil {
			return fmt.Errorf("create zstd writer: %w", err)
		}
		w = zw
	case CodecBrotli:
		w = brotli.NewWriterLevel(dst, brotli.DefaultCompression)
	default:
		return fmt.Errorf("unknown dump compression %q", codec)
	}
	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Open returns a reader over the decompressed contents of a dump written by
// Compress, chosen by file extension. Uncompressed dumps are returned as-is.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	switch {
	case strings.HasSuffix(path, CodecZstd.Extension()):
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("create zstd reader: %w", err)
		}
		return &readCloser{Reader: zr, close: func() error { zr.Close(); return f.Close() }}, nil
	case strings.HasSuffix(path, CodecBrotli.Extension()):
		return &readCloser{Reader: brotli.NewReader(f), close: f.Close}, nil
	default:
		return f, nil
	}
}

type readCloser struct {
	io.Reader
	close func() error
}

func (r *readCloser) Close() error { return r.close() }
