package movie

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/exp/mmap"
)

// NPY files hold the movie as little-endian uint16 in C order, readable by
// numpy.load(..., mmap_mode="r").
const (
	npyMagic     = "\x93NUMPY"
	npyDescr     = "<u2"
	npyAlignment = 64
)

var (
	npyDescrPattern   = regexp.MustCompile(`'descr':\s*'([^']*)'`)
	npyFortranPattern = regexp.MustCompile(`'fortran_order':\s*(True|False)`)
	npyShapePattern   = regexp.MustCompile(`'shape':\s*\(([^)]*)\)`)
)

// MappedStorage serves movie values from a read-only memory mapping of an NPY
// file. It must be closed to release the mapping.
type MappedStorage struct {
	reader     *mmap.ReaderAt
	dataOffset int
	n          int
}

// Len returns the number of stored values.
func (s *MappedStorage) Len() int { return s.n }

// At decodes the little-endian uint16 at flat index i.
func (s *MappedStorage) At(i int) float64 {
	off := s.dataOffset + 2*i
	return float64(uint16(s.reader.At(off)) | uint16(s.reader.At(off+1))<<8)
}

// Close unmaps the file.
func (s *MappedStorage) Close() error {
	return s.reader.Close()
}

// OpenNPY opens an NPY file written by WriteNPY (or numpy with dtype uint16)
// and returns a Movie backed by a memory mapping of it.
func OpenNPY(name, path string) (*Movie, error) {
	reader, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to map %s: %w", path, err)
	}

	shape, dataOffset, err := readNPYHeader(reader)
	if err != nil {
		reader.Close()
		return nil, fmt.Errorf("failed to read NPY header of %s: %w", path, err)
	}

	n := product(shape)
	if reader.Len() < dataOffset+2*n {
		reader.Close()
		return nil, fmt.Errorf("%s holds %d bytes, shape %v needs %d: %w",
			path, reader.Len(), shape, dataOffset+2*n, ErrDimensionMismatch)
	}

	m, err := New(name, shape, &MappedStorage{reader: reader, dataOffset: dataOffset, n: n})
	if err != nil {
		reader.Close()
		return nil, err
	}
	return m, nil
}

// WriteNPY streams frames into a new NPY file at path. next is called once per
// frame and must return exactly product(dataSize[1:]) values.
func WriteNPY(path string, dataSize []int, next func(frame int) ([]uint16, error)) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create NPY file: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	if err := writeNPYHeader(w, dataSize); err != nil {
		return err
	}

	frameLen := product(dataSize[1:])
	for t := 0; t < dataSize[0]; t++ {
		values, err := next(t)
		if err != nil {
			return err
		}
		if len(values) != frameLen {
			return fmt.Errorf("frame %d has %d values, expected %d: %w", t, len(values), frameLen, ErrDimensionMismatch)
		}
		if err := binary.Write(w, binary.LittleEndian, values); err != nil {
			return fmt.Errorf("failed to write frame %d: %w", t, err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush NPY file: %w", err)
	}
	return file.Close()
}

func writeNPYHeader(w io.Writer, shape []int) error {
	dims := make([]string, len(shape))
	for i, v := range shape {
		dims[i] = strconv.Itoa(v)
	}
	shapeText := strings.Join(dims, ", ")
	if len(shape) == 1 {
		shapeText += ","
	}
	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", npyDescr, shapeText)

	// magic + version + header length, then the header padded so the data
	// starts on an aligned boundary
	prefix := len(npyMagic) + 2 + 2
	total := prefix + len(header) + 1
	if rem := total % npyAlignment; rem != 0 {
		header += strings.Repeat(" ", npyAlignment-rem)
	}
	header += "\n"

	buf := make([]byte, 0, prefix+len(header))
	buf = append(buf, npyMagic...)
	buf = append(buf, 1, 0)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(header)))
	buf = append(buf, header...)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write NPY header: %w", err)
	}
	return nil
}

func readNPYHeader(r io.ReaderAt) ([]int, int, error) {
	preamble := make([]byte, 12)
	if _, err := r.ReadAt(preamble[:10], 0); err != nil {
		return nil, 0, err
	}
	if string(preamble[:6]) != npyMagic {
		return nil, 0, fmt.Errorf("missing NPY magic string")
	}

	var headerLen, headerStart int
	switch preamble[6] {
	case 1:
		headerLen = int(binary.LittleEndian.Uint16(preamble[8:10]))
		headerStart = 10
	case 2, 3:
		if _, err := r.ReadAt(preamble[10:12], 10); err != nil {
			return nil, 0, err
		}
		headerLen = int(binary.LittleEndian.Uint32(preamble[8:12]))
		headerStart = 12
	default:
		return nil, 0, fmt.Errorf("unsupported NPY version %d.%d", preamble[6], preamble[7])
	}

	raw := make([]byte, headerLen)
	if _, err := r.ReadAt(raw, int64(headerStart)); err != nil {
		return nil, 0, err
	}
	header := string(raw)

	descr := npyDescrPattern.FindStringSubmatch(header)
	if descr == nil || (descr[1] != npyDescr && descr[1] != "|u2") {
		return nil, 0, fmt.Errorf("unsupported NPY dtype in header %q", header)
	}
	fortran := npyFortranPattern.FindStringSubmatch(header)
	if fortran == nil || fortran[1] != "False" {
		return nil, 0, fmt.Errorf("only C-ordered NPY arrays are supported")
	}
	shapeMatch := npyShapePattern.FindStringSubmatch(header)
	if shapeMatch == nil {
		return nil, 0, fmt.Errorf("missing shape in NPY header %q", header)
	}

	var shape []int
	for _, part := range strings.Split(shapeMatch[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid NPY shape %q: %w", shapeMatch[1], err)
		}
		shape = append(shape, v)
	}
	return shape, headerStart + headerLen, nil
}
