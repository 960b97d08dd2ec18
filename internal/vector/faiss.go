//go:build faiss && cgo
// +build faiss,cgo

package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/IndexFlat_c.h>
#include <faiss/c_api/index_io_c.h>
#include <faiss/c_api/error_c.h>
*/
import "C"

import (
	"errors"
	"fmt"
	"unsafe"
)

var errFAISSUnavailable = errors.New("FAISS not available")

// IsFAISSAvailable reports whether FAISS support is compiled in (-tags=faiss).
func IsFAISSAvailable() bool { return true }

// faissBackend wraps IndexFlatIP (cosine on normalized rows) or IndexFlatL2.
// FAISS labels are sequential, so a label is the cache position.
type faissBackend struct {
	index  *C.FaissIndex
	metric Metric
	n      int
}

func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

func buildFAISS(dims int, metric Metric, flat []float32, n int) (backend, error) {
	var index *C.FaissIndex
	if metric == MetricL2 {
		var p *C.FaissIndexFlatL2
		if ret := C.faiss_IndexFlatL2_new_with(&p, C.idx_t(dims)); ret != 0 {
			return nil, fmt.Errorf("create FAISS L2 index: %s", faissLastError())
		}
		index = (*C.FaissIndex)(unsafe.Pointer(p))
	} else {
		var p *C.FaissIndexFlatIP
		if ret := C.faiss_IndexFlatIP_new_with(&p, C.idx_t(dims)); ret != 0 {
			return nil, fmt.Errorf("create FAISS IP index: %s", faissLastError())
		}
		index = (*C.FaissIndex)(unsafe.Pointer(p))
	}
	if n > 0 {
		ret := C.faiss_Index_add(index, C.idx_t(n), (*C.float)(unsafe.Pointer(&flat[0])))
		if ret != 0 {
			C.faiss_Index_free(index)
			return nil, fmt.Errorf("add vectors to FAISS index: %s", faissLastError())
		}
	}
	return &faissBackend{index: index, metric: metric, n: n}, nil
}

func loadFAISS(path string, dims int, metric Metric) (backend, error) {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	var index *C.FaissIndex
	if ret := C.faiss_read_index_fname(cPath, 0, &index); ret != 0 {
		return nil, fmt.Errorf("read FAISS index: %s", faissLastError())
	}
	if d := int(C.faiss_Index_d(index)); d != dims {
		C.faiss_Index_free(index)
		return nil, fmt.Errorf("FAISS index has %d dimensions, expected %d", d, dims)
	}
	return &faissBackend{index: index, metric: metric, n: int(C.faiss_Index_ntotal(index))}, nil
}

func (f *faissBackend) search(query []float32, k int) ([]Hit, error) {
	return topK(k, f.n, f.metric, func(m int) ([]Hit, error) {
		return f.searchRaw(query, m)
	})
}

// searchRaw returns FAISS's m best hits. FAISS does not guarantee tie order.
func (f *faissBackend) searchRaw(query []float32, k int) ([]Hit, error) {
	distances := make([]float32, k)
	labels := make([]int64, k)
	ret := C.faiss_Index_search(
		f.index,
		1,
		(*C.float)(unsafe.Pointer(&query[0])),
		C.idx_t(k),
		(*C.float)(unsafe.Pointer(&distances[0])),
		(*C.idx_t)(unsafe.Pointer(&labels[0])),
	)
	if ret != 0 {
		return nil, fmt.Errorf("FAISS search failed: %s", faissLastError())
	}
	hits := make([]Hit, 0, k)
	for i := 0; i < k; i++ {
		if labels[i] < 0 {
			continue
		}
		hits = append(hits, Hit{Position: int(labels[i]), Score: float64(distances[i])})
	}
	return hits, nil
}

func (f *faissBackend) size() int { return f.n }

func (f *faissBackend) writeFile(path string) error {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))
	if ret := C.faiss_write_index_fname(f.index, cPath); ret != 0 {
		return fmt.Errorf("write FAISS index: %s", faissLastError())
	}
	return nil
}

func (f *faissBackend) free() {
	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
}
