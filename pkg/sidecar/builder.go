package sidecar

import (
	"crypto/sha256"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/krazyjakee/agentsdb/pkg/layer"
)

// sourceLayer is the subset of *layer.File the builder needs. Scoped to an
// interface so tests can build sidecars over a fake without round-tripping
// through the filesystem.
type sourceLayer interface {
	Bytes() []byte
	Schema() layer.Schema
	RowCount() uint64
	ReadEmbeddingRowF32(row uint32, dst []float32) error
}

// Build scans every row of lf and writes a sidecar to path: per-row L2
// norms always, and the fully decoded f32 matrix when the layer is I8
// (to avoid re-dequantizing at query time) or when includeMatrix is set
// for an F32 layer.
func Build(path string, lf sourceLayer, includeMatrix bool) error {
	schema := lf.Schema()
	rowCount := lf.RowCount()
	dim := schema.Dim

	storeMatrix := includeMatrix || schema.ElementType == layer.ElementI8

	norms := make([]float32, rowCount)
	var matrix []float32
	if storeMatrix {
		matrix = make([]float32, rowCount*uint64(dim))
	}

	row := make([]float32, dim)
	for i := uint64(0); i < rowCount; i++ {
		if err := lf.ReadEmbeddingRowF32(uint32(i+1), row); err != nil {
			return fmt.Errorf("sidecar: reading row %d: %w", i+1, err)
		}
		var sumSquares float64
		for _, v := range row {
			sumSquares += float64(v) * float64(v)
		}
		norms[i] = float32(math.Sqrt(sumSquares))
		if storeMatrix {
			copy(matrix[i*uint64(dim):(i+1)*uint64(dim)], row)
		}
	}

	layerHash := sha256.Sum256(lf.Bytes())

	var flags uint32
	if storeMatrix {
		flags |= FlagEmbeddings
	}

	normsOffset := uint64(HeaderSize)
	normsLength := uint64(len(norms)) * 4
	var embOffset, embLength uint64
	if storeMatrix {
		embOffset = normsOffset + normsLength
		embLength = uint64(len(matrix)) * 4
	}
	total := normsOffset + normsLength + embLength

	buf := make([]byte, total)
	byteOrder.PutUint32(buf[0:4], Magic)
	byteOrder.PutUint16(buf[4:6], VersionMajor)
	byteOrder.PutUint16(buf[6:8], VersionMinor)
	byteOrder.PutUint32(buf[8:12], dim)
	byteOrder.PutUint32(buf[12:16], uint32(schema.ElementType))
	byteOrder.PutUint64(buf[16:24], rowCount)
	byteOrder.PutUint32(buf[24:28], math.Float32bits(schema.QuantScale))
	byteOrder.PutUint32(buf[28:32], flags)
	copy(buf[32:64], layerHash[:])
	byteOrder.PutUint64(buf[64:72], normsOffset)
	byteOrder.PutUint64(buf[72:80], normsLength)
	byteOrder.PutUint64(buf[80:88], embOffset)
	byteOrder.PutUint64(buf[88:96], embLength)
	// buf[96:104] reserved, left zero.

	for i, v := range norms {
		off := int(normsOffset) + i*4
		byteOrder.PutUint32(buf[off:off+4], math.Float32bits(v))
	}
	for i, v := range matrix {
		off := int(embOffset) + i*4
		byteOrder.PutUint32(buf[off:off+4], math.Float32bits(v))
	}

	return atomicWrite(path, buf)
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	var f *os.File
	var tmpPath string
	for n := 0; ; n++ {
		candidate := fmt.Sprintf("%s.tmp", base)
		if n > 0 {
			candidate = fmt.Sprintf("%s.tmp.%d", base, n)
		}
		tmpPath = filepath.Join(dir, candidate)
		var err error
		f, err = os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return fmt.Errorf("sidecar: create temp file %s: %w", tmpPath, err)
		}
		if n > 1<<16 {
			return fmt.Errorf("sidecar: could not allocate temp file for %s after %d attempts", path, n)
		}
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sidecar: write %s: %w", tmpPath, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sidecar: fsync %s: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("sidecar: close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("sidecar: rename %s -> %s: %w", tmpPath, path, err)
	}
	return nil
}

// PathFor returns the conventional sidecar path for a layer file: the
// layer path with ".agix" appended.
func PathFor(layerPath string) string {
	return layerPath + ".agix"
}
