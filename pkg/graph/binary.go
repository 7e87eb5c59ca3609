package graph

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"unsafe"
)

const (
	magicBytes = "SAFEPATH"
	version    = uint32(2)
	maxNodes   = 20_000_000
	maxEdges   = 50_000_000
	maxRows    = 2 * maxEdges
)

// fileHeader is the binary header.
type fileHeader struct {
	Magic    [8]byte
	Version  uint32
	NumNodes uint32
	NumEdges uint32
	NumRows  uint32
}

// WriteBinary serializes the edge table rows and node coordinates. Reading
// rebuilds the graph from the rows, so superseded duplicate rows survive the
// round trip in Table.
// The file is written to a temp path and renamed into place.
func WriteBinary(path string, g *Graph) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		f.Close()
		os.Remove(tmpPath) // clean up on error
	}()

	crcWriter := crc32Writer{w: f, hash: crc32.NewIEEE()}
	w := &crcWriter

	hdr := fileHeader{
		Version:  version,
		NumNodes: g.NumNodes,
		NumEdges: g.NumEdges,
		NumRows:  uint32(len(g.Table)),
	}
	copy(hdr.Magic[:], magicBytes)
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	// Node data.
	if err := writeInt64Slice(w, g.NodeIDs); err != nil {
		return fmt.Errorf("write NodeIDs: %w", err)
	}
	if err := writeFloat64Slice(w, g.NodeLng); err != nil {
		return fmt.Errorf("write NodeLng: %w", err)
	}
	if err := writeFloat64Slice(w, g.NodeLat); err != nil {
		return fmt.Errorf("write NodeLat: %w", err)
	}
	flags := make([]byte, g.NumNodes)
	for i, ok := range g.HasCoord {
		if ok {
			flags[i] = 1
		}
	}
	if _, err := w.Write(flags); err != nil {
		return fmt.Errorf("write HasCoord: %w", err)
	}

	// Table rows, column by column, endpoints as dense indices.
	ids := make([]int64, len(g.Table))
	us := make([]uint32, len(g.Table))
	vs := make([]uint32, len(g.Table))
	risks := make([]float64, len(g.Table))
	for i, r := range g.Table {
		u, uok := g.NodeIndex(r.U)
		v, vok := g.NodeIndex(r.V)
		if !uok || !vok {
			return fmt.Errorf("table row %d references unknown node", i)
		}
		ids[i], us[i], vs[i], risks[i] = r.EdgeID, u, v, r.Risk
	}
	if err := writeInt64Slice(w, ids); err != nil {
		return fmt.Errorf("write EdgeID: %w", err)
	}
	if err := writeUint32Slice(w, us); err != nil {
		return fmt.Errorf("write EdgeU: %w", err)
	}
	if err := writeUint32Slice(w, vs); err != nil {
		return fmt.Errorf("write EdgeV: %w", err)
	}
	if err := writeFloat64Slice(w, risks); err != nil {
		return fmt.Errorf("write EdgeRisk: %w", err)
	}

	// Write CRC32 trailer.
	checksum := crcWriter.hash.Sum32()
	if err := binary.Write(f, binary.LittleEndian, checksum); err != nil {
		return fmt.Errorf("write CRC32: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}

	return nil
}

// ReadBinary deserializes a snapshot written by WriteBinary and rebuilds the
// graph from it. Every failure is reported as ErrConfig.
func ReadBinary(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open snapshot: %v", ErrConfig, err)
	}
	defer f.Close()

	g, err := readBinary(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfig, path, err)
	}
	return g, nil
}

func readBinary(f io.Reader) (*Graph, error) {
	crcReader := crc32Reader{r: f, hash: crc32.NewIEEE()}
	r := &crcReader

	var hdr fileHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if string(hdr.Magic[:]) != magicBytes {
		return nil, fmt.Errorf("invalid magic bytes: %q", hdr.Magic)
	}
	if hdr.Version != version {
		return nil, fmt.Errorf("unsupported version: %d", hdr.Version)
	}
	if hdr.NumNodes > maxNodes {
		return nil, fmt.Errorf("NumNodes %d exceeds limit %d", hdr.NumNodes, maxNodes)
	}
	if hdr.NumEdges > maxEdges {
		return nil, fmt.Errorf("NumEdges %d exceeds limit %d", hdr.NumEdges, maxEdges)
	}
	if hdr.NumRows > maxRows || hdr.NumRows < hdr.NumEdges {
		return nil, fmt.Errorf("NumRows %d out of range for %d edges", hdr.NumRows, hdr.NumEdges)
	}

	n, m := int(hdr.NumNodes), int(hdr.NumRows)

	nodeIDs, err := readInt64Slice(r, n)
	if err != nil {
		return nil, fmt.Errorf("read NodeIDs: %w", err)
	}
	nodeLng, err := readFloat64Slice(r, n)
	if err != nil {
		return nil, fmt.Errorf("read NodeLng: %w", err)
	}
	nodeLat, err := readFloat64Slice(r, n)
	if err != nil {
		return nil, fmt.Errorf("read NodeLat: %w", err)
	}
	flags := make([]byte, n)
	if _, err := io.ReadFull(r, flags); err != nil {
		return nil, fmt.Errorf("read HasCoord: %w", err)
	}

	ids, err := readInt64Slice(r, m)
	if err != nil {
		return nil, fmt.Errorf("read EdgeID: %w", err)
	}
	us, err := readUint32Slice(r, m)
	if err != nil {
		return nil, fmt.Errorf("read EdgeU: %w", err)
	}
	vs, err := readUint32Slice(r, m)
	if err != nil {
		return nil, fmt.Errorf("read EdgeV: %w", err)
	}
	risks, err := readFloat64Slice(r, m)
	if err != nil {
		return nil, fmt.Errorf("read EdgeRisk: %w", err)
	}

	expectedCRC := crcReader.hash.Sum32()
	var storedCRC uint32
	if err := binary.Read(f, binary.LittleEndian, &storedCRC); err != nil {
		return nil, fmt.Errorf("read CRC32: %w", err)
	}
	if storedCRC != expectedCRC {
		return nil, fmt.Errorf("CRC32 mismatch: stored=%08x computed=%08x", storedCRC, expectedCRC)
	}

	rows := make([]EdgeRow, m)
	for i := range rows {
		if us[i] >= hdr.NumNodes || vs[i] >= hdr.NumNodes {
			return nil, fmt.Errorf("row %d references node index out of range", i)
		}
		rows[i] = EdgeRow{EdgeID: ids[i], U: nodeIDs[us[i]], V: nodeIDs[vs[i]], Risk: risks[i]}
	}
	coords := make(map[int64]Coord, n)
	for i, id := range nodeIDs {
		if flags[i] != 0 {
			coords[id] = Coord{Lng: nodeLng[i], Lat: nodeLat[i]}
		}
	}

	g, err := Build(rows, coords)
	if err != nil {
		return nil, err
	}
	if g.NumNodes != hdr.NumNodes || g.NumEdges != hdr.NumEdges {
		return nil, fmt.Errorf("rebuilt graph has %d nodes, %d edges; header says %d, %d",
			g.NumNodes, g.NumEdges, hdr.NumNodes, hdr.NumEdges)
	}
	for i, id := range nodeIDs {
		if g.NodeIDs[i] != id {
			return nil, fmt.Errorf("node order mismatch at index %d", i)
		}
	}
	return g, nil
}

// Zero-copy I/O helpers using unsafe.Slice.

func writeUint32Slice(w io.Writer, s []uint32) error {
	if len(s) == 0 {
		return nil
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*4)
	_, err := w.Write(b)
	return err
}

func writeInt64Slice(w io.Writer, s []int64) error {
	if len(s) == 0 {
		return nil
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*8)
	_, err := w.Write(b)
	return err
}

func writeFloat64Slice(w io.Writer, s []float64) error {
	if len(s) == 0 {
		return nil
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*8)
	_, err := w.Write(b)
	return err
}

func readUint32Slice(r io.Reader, n int) ([]uint32, error) {
	if n == 0 {
		return nil, nil
	}
	s := make([]uint32, n)
	b := unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), n*4)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return s, nil
}

func readInt64Slice(r io.Reader, n int) ([]int64, error) {
	if n == 0 {
		return nil, nil
	}
	s := make([]int64, n)
	b := unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), n*8)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return s, nil
}

func readFloat64Slice(r io.Reader, n int) ([]float64, error) {
	if n == 0 {
		return nil, nil
	}
	s := make([]float64, n)
	b := unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), n*8)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return s, nil
}

// CRC32 wrapping writers/readers.

type crc32Writer struct {
	w    io.Writer
	hash crc32Hash
}

type crc32Hash interface {
	Write([]byte) (int, error)
	Sum32() uint32
}

func (cw *crc32Writer) Write(p []byte) (int, error) {
	cw.hash.Write(p)
	return cw.w.Write(p)
}

type crc32Reader struct {
	r    io.Reader
	hash crc32Hash
}

func (cr *crc32Reader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.hash.Write(p[:n])
	}
	return n, err
}
