package vector

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// flatBackend is an exact brute-force index over a contiguous row-major matrix.
type flatBackend struct {
	dims   int
	n      int
	metric Metric
	data   []float32
}

func newFlatBackend(dims int, metric Metric, flat []float32, n int) *flatBackend {
	return &flatBackend{dims: dims, n: n, metric: metric, data: flat}
}

func (f *flatBackend) row(i int) []float32 {
	return f.data[i*f.dims : (i+1)*f.dims]
}

func (f *flatBackend) search(query []float32, k int) ([]Hit, error) {
	hits := make([]Hit, f.n)
	for i := 0; i < f.n; i++ {
		var score float64
		if f.metric == MetricL2 {
			score = SquaredL2(query, f.row(i))
		} else {
			score = InnerProduct(query, f.row(i))
		}
		hits[i] = Hit{Position: i, Score: score}
	}
	sortHits(hits, f.metric)
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

func (f *flatBackend) size() int { return f.n }

func (f *flatBackend) free() { f.data = nil }

// writeFile stores the matrix as: uint32 dims, uint32 n, then n*dims
// little-endian float32 values.
func (f *flatBackend) writeFile(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(file)
	header := []uint32{uint32(f.dims), uint32(f.n)}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		_ = file.Close()
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, f.data[:f.n*f.dims]); err != nil {
		_ = file.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func loadFlatBackend(path string, dims int, metric Metric) (*flatBackend, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	r := bufio.NewReader(file)

	header := make([]uint32, 2)
	if err := binary.Read(r, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("read vector header: %w", err)
	}
	if int(header[0]) != dims {
		return nil, fmt.Errorf("vector file has %d dimensions, expected %d", header[0], dims)
	}
	n := int(header[1])
	data := make([]float32, n*dims)
	if err := binary.Read(r, binary.LittleEndian, data); err != nil {
		return nil, fmt.Errorf("read vectors: %w", err)
	}
	if _, err := r.ReadByte(); err != io.EOF {
		return nil, fmt.Errorf("trailing data after %d vectors", n)
	}
	return newFlatBackend(dims, metric, data, n), nil
}
