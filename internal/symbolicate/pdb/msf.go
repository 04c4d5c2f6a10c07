// Package pdb implements a from-scratch Microsoft PDB reader: the MSF
// container format, the PDB Info stream (debug id), the DBI stream
// (module list), and per-module CodeView symbol records. No Go library
// for this format was found in the Go ecosystem; this package is
// hand-rolled on encoding/binary, following the same manual binary-struct
// decoding style used by pkg/hw/cpu/llvm/binaryfileparser.go.
package pdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

var msfMagic = []byte("Microsoft C/C++ MSF 7.00\r\n\x1aDS\x00\x00\x00")

// superblock is the MSF container's fixed-size header at file offset 0.
type superblock struct {
	BlockSize         uint32
	FreeBlockMapBlock uint32
	NumBlocks         uint32
	NumDirectoryBytes uint32
	Unknown           uint32
	BlockMapAddr      uint32
}

// msf holds the parsed block structure of a PDB file: the whole file's
// bytes plus the resolved stream directory (one []byte per stream,
// reassembled from its constituent blocks).
type msf struct {
	data    []byte
	sb      superblock
	streams [][]byte
}

func openMSF(data []byte) (*msf, error) {
	if len(data) < 32+24 || !bytes.Equal(data[:32], msfMagic) {
		return nil, fmt.Errorf("pdb: not an MSF file (bad magic)")
	}
	hdr := data[32:]
	sb := superblock{
		BlockSize:         binary.LittleEndian.Uint32(hdr[0:4]),
		FreeBlockMapBlock: binary.LittleEndian.Uint32(hdr[4:8]),
		NumBlocks:         binary.LittleEndian.Uint32(hdr[8:12]),
		NumDirectoryBytes: binary.LittleEndian.Uint32(hdr[12:16]),
		Unknown:           binary.LittleEndian.Uint32(hdr[16:20]),
		BlockMapAddr:      binary.LittleEndian.Uint32(hdr[20:24]),
	}
	if sb.BlockSize == 0 {
		return nil, fmt.Errorf("pdb: zero block size")
	}

	m := &msf{data: data, sb: sb}

	numDirBlocks := numBlocksFor(sb.NumDirectoryBytes, sb.BlockSize)
	dirBlockList, err := m.readBlockIndices(uint64(sb.BlockMapAddr), numDirBlocks)
	if err != nil {
		return nil, fmt.Errorf("pdb: reading directory block map: %w", err)
	}
	dirBytes, err := m.readBlocks(dirBlockList, sb.NumDirectoryBytes)
	if err != nil {
		return nil, fmt.Errorf("pdb: reading stream directory: %w", err)
	}

	if err := m.parseStreamDirectory(dirBytes); err != nil {
		return nil, fmt.Errorf("pdb: parsing stream directory: %w", err)
	}
	return m, nil
}

func numBlocksFor(size, blockSize uint32) uint32 {
	if size == 0 {
		return 0
	}
	return (size + blockSize - 1) / blockSize
}

// readBlockIndices reads n uint32 block indices starting at file offset
// blockIndex*BlockSize (used for the block map pointing at the stream
// directory's own blocks).
func (m *msf) readBlockIndices(blockIndex uint64, n uint32) ([]uint32, error) {
	offset := blockIndex * uint64(m.sb.BlockSize)
	need := uint64(n) * 4
	if offset+need > uint64(len(m.data)) {
		return nil, fmt.Errorf("pdb: block index list out of range")
	}
	raw := m.data[offset : offset+need]
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
	}
	return out, nil
}

// readBlocks concatenates the given blocks' bytes, truncated to
// totalSize.
func (m *msf) readBlocks(blocks []uint32, totalSize uint32) ([]byte, error) {
	out := make([]byte, 0, totalSize)
	remaining := totalSize
	for _, b := range blocks {
		n := m.sb.BlockSize
		if uint32(remaining) < n {
			n = remaining
		}
		start := uint64(b) * uint64(m.sb.BlockSize)
		if start+uint64(n) > uint64(len(m.data)) {
			return nil, fmt.Errorf("pdb: block %d out of range", b)
		}
		out = append(out, m.data[start:start+uint64(n)]...)
		remaining -= n
		if remaining == 0 {
			break
		}
	}
	return out, nil
}

// parseStreamDirectory decodes the stream directory: a stream count,
// followed by each stream's size, followed by each stream's block index
// list back to back.
func (m *msf) parseStreamDirectory(dir []byte) error {
	if len(dir) < 4 {
		return fmt.Errorf("truncated stream directory")
	}
	numStreams := binary.LittleEndian.Uint32(dir[0:4])
	pos := 4

	sizes := make([]uint32, numStreams)
	for i := range sizes {
		if pos+4 > len(dir) {
			return fmt.Errorf("truncated stream size table")
		}
		sizes[i] = binary.LittleEndian.Uint32(dir[pos : pos+4])
		pos += 4
	}

	m.streams = make([][]byte, numStreams)
	for i, size := range sizes {
		if size == 0xFFFFFFFF {
			// Nonexistent stream.
			m.streams[i] = nil
			continue
		}
		nBlocks := numBlocksFor(size, m.sb.BlockSize)
		if pos+int(nBlocks)*4 > len(dir) {
			return fmt.Errorf("truncated block list for stream %d", i)
		}
		blocks := make([]uint32, nBlocks)
		for j := range blocks {
			blocks[j] = binary.LittleEndian.Uint32(dir[pos : pos+4])
			pos += 4
		}
		data, err := m.readBlocks(blocks, size)
		if err != nil {
			return fmt.Errorf("stream %d: %w", i, err)
		}
		m.streams[i] = data
	}
	return nil
}

// Stream returns the reassembled bytes of stream index, or nil if the
// index is out of range or the stream does not exist.
func (m *msf) Stream(index int) []byte {
	if index < 0 || index >= len(m.streams) {
		return nil
	}
	return m.streams[index]
}

// NumStreams returns the number of streams in the directory.
func (m *msf) NumStreams() int { return len(m.streams) }
