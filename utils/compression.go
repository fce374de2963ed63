package utils

import (
	"bytes"
	"io"

	"github.com/andybalholm/brotli"
)

// CompressText brotli-compresses extracted document text for the
// cached copy stored on the document record.
func CompressText(text string) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
	if _, err := w.Write([]byte(text)); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecompressText reverses CompressText.
func DecompressText(data []byte) (string, error) {
	r := brotli.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
