// Package sidecar implements the `.agix` accelerator sidecar: a
// memory-mapped, pre-computed companion to a layer file carrying per-row
// L2 norms and, optionally, the fully decoded f32 embedding matrix, so the
// query engine can skip re-dequantizing I8 rows on every search.
//
// A sidecar is valid for exactly one byte image of its owning layer: the
// header carries the SHA-256 of the entire layer file, and Open refuses to
// trust a sidecar whose hash or schema fields don't match what's on disk.
// Sidecars are never rebuilt implicitly; staleness just means "ignore it".
package sidecar

import "encoding/binary"

// Magic is the sidecar file magic number, ASCII "AGIX" read little-endian.
const Magic uint32 = 0x5849_4741

const (
	VersionMajor uint16 = 1
	VersionMinor uint16 = 0
)

// HeaderSize is the fixed 104-byte header layout:
//
//	magic u32; version_major u16; version_minor u16;
//	dim u32; element_type u32; row_count u64; quant_scale_bits u32; flags u32;
//	layer_sha256 [32]byte;
//	norms_offset u64; norms_length u64;
//	embeddings_offset u64; embeddings_length u64;
//	reserved [8]byte
const HeaderSize = 104

// FlagEmbeddings is the low bit of the header's flags field: when set, the
// decoded f32 embeddings region is present.
const FlagEmbeddings uint32 = 1 << 0

var byteOrder = binary.LittleEndian
