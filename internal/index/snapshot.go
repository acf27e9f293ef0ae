package index

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/hyperjump/vecpipe/internal/models"
)

// snapshotMagic starts every snapshot file; the trailing byte is the format version.
var snapshotMagic = [4]byte{'V', 'P', 'X', 1}

// Save writes every collection to path. The file is written to a temporary sibling
// and renamed into place. Format, little-endian:
//
//	magic (4), collections (4), then per collection:
//	  name, dimension (4), distance, points (4), then per point:
//	    id, vector (dimension*4), payload JSON
//
// Strings and payloads are a length (4) followed by the bytes.
func (m *MemoryService) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := m.writeSnapshot(w); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("flush snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

func (m *MemoryService) writeSnapshot(w io.Writer) error {
	if _, err := w.Write(snapshotMagic[:]); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	names := m.collectionNames()
	if err := writeUint32(w, uint32(len(names))); err != nil {
		return fmt.Errorf("write collection count: %w", err)
	}
	for _, name := range names {
		c := m.collections[name]
		if err := writeBytes(w, []byte(name)); err != nil {
			return fmt.Errorf("write collection name: %w", err)
		}
		if err := writeUint32(w, uint32(c.schema.Dimension)); err != nil {
			return fmt.Errorf("write dimension: %w", err)
		}
		if err := writeBytes(w, []byte(c.schema.Distance)); err != nil {
			return fmt.Errorf("write distance: %w", err)
		}
		ids := make([]string, 0, len(c.points))
		for id := range c.points {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		if err := writeUint32(w, uint32(len(ids))); err != nil {
			return fmt.Errorf("write point count: %w", err)
		}
		for _, id := range ids {
			p := c.points[id]
			payload, err := encodePayload(p.Payload)
			if err != nil {
				return fmt.Errorf("encode payload of %s: %w", id, err)
			}
			if err := writeBytes(w, []byte(id)); err != nil {
				return fmt.Errorf("write id: %w", err)
			}
			if _, err := w.Write(float32SliceToBytes(p.Vector)); err != nil {
				return fmt.Errorf("write vector: %w", err)
			}
			if err := writeBytes(w, payload); err != nil {
				return fmt.Errorf("write payload: %w", err)
			}
		}
	}
	return nil
}

// Load replaces the in-memory contents with the snapshot at path.
// A missing file leaves the index unchanged.
func (m *MemoryService) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open snapshot file: %w", err)
	}
	defer f.Close()

	collections, err := readSnapshot(bufio.NewReader(f))
	if err != nil {
		return fmt.Errorf("read snapshot %s: %w", path, err)
	}
	m.mu.Lock()
	m.collections = collections
	m.mu.Unlock()
	return nil
}

func readSnapshot(r io.Reader) (map[string]*memCollection, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if magic != snapshotMagic {
		return nil, fmt.Errorf("not a snapshot file or unsupported version")
	}
	nc, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read collection count: %w", err)
	}
	collections := make(map[string]*memCollection, nc)
	for i := uint32(0); i < nc; i++ {
		name, err := readBytes(r)
		if err != nil {
			return nil, fmt.Errorf("read collection name: %w", err)
		}
		dim, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read dimension: %w", err)
		}
		dist, err := readBytes(r)
		if err != nil {
			return nil, fmt.Errorf("read distance: %w", err)
		}
		n, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read point count: %w", err)
		}
		c := &memCollection{
			schema: models.CollectionSchema{Name: string(name), Dimension: int(dim), Distance: models.Distance(dist)},
			points: make(map[string]models.Record, n),
		}
		buf := make([]byte, int(dim)*4)
		for j := uint32(0); j < n; j++ {
			id, err := readBytes(r)
			if err != nil {
				return nil, fmt.Errorf("read id: %w", err)
			}
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, fmt.Errorf("read vector: %w", err)
			}
			raw, err := readBytes(r)
			if err != nil {
				return nil, fmt.Errorf("read payload: %w", err)
			}
			payload, err := decodePayload(raw)
			if err != nil {
				return nil, err
			}
			c.points[string(id)] = models.Record{ID: string(id), Vector: bytesToFloat32Slice(buf), Payload: payload}
		}
		collections[c.schema.Name] = c
	}
	return collections, nil
}

func writeUint32(w io.Writer, v uint32) error {
	return binary.Write(w, binary.LittleEndian, v)
}

func readUint32(r io.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

func writeBytes(w io.Writer, b []byte) error {
	if err := writeUint32(w, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
