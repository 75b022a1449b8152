// Package npyio reads and writes NumPy .npy (format version 1.0) array files.
//
// Only the dtypes the sorting artifacts use are supported: little-endian
// float32 and int32, C-order, one- or two-dimensional.
package npyio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Magic is the leading byte sequence of every .npy file.
var Magic = []byte{0x93, 'N', 'U', 'M', 'P', 'Y'}

// Format version written by this package.
const (
	versionMajor = 1
	versionMinor = 0
)

// Header alignment required by the npy format: magic + version + header
// length prefix + header text must be a multiple of 64 bytes.
const headerAlign = 64

// Supported dtype descriptors.
const (
	descrFloat32 = "<f4"
	descrInt32   = "<i4"
)

var (
	// ErrBadMagic indicates the file does not start with the npy magic.
	ErrBadMagic = errors.New("npyio: bad magic")
	// ErrUnsupportedDtype indicates a descr other than <f4 or <i4.
	ErrUnsupportedDtype = errors.New("npyio: unsupported dtype")
	// ErrFortranOrder indicates a column-major file, which is not supported.
	ErrFortranOrder = errors.New("npyio: fortran order not supported")
)

// Array is a decoded npy payload. Shape has one or two entries; Float32 or
// Int32 is populated depending on the stored dtype, flattened in C order.
type Array struct {
	Shape   []int
	Float32 []float32
	Int32   []int32
}

// Rows returns the first shape dimension.
func (a *Array) Rows() int {
	if len(a.Shape) == 0 {
		return 0
	}

	return a.Shape[0]
}

// WriteFloat32 writes data as a little-endian float32 array with the given
// shape. The product of shape must equal len(data).
func WriteFloat32(w io.Writer, data []float32, shape ...int) error {
	err := validateShape(len(data), shape)
	if err != nil {
		return err
	}

	err = writeHeader(w, descrFloat32, shape)
	if err != nil {
		return err
	}

	return binary.Write(w, binary.LittleEndian, data)
}

// WriteInt32 writes data as a little-endian int32 array with the given shape.
func WriteInt32(w io.Writer, data []int32, shape ...int) error {
	err := validateShape(len(data), shape)
	if err != nil {
		return err
	}

	err = writeHeader(w, descrInt32, shape)
	if err != nil {
		return err
	}

	return binary.Write(w, binary.LittleEndian, data)
}

// WriteFloat32File writes a float32 array to path.
func WriteFloat32File(path string, data []float32, shape ...int) error {
	return writeFile(path, func(f *os.File) error {
		return WriteFloat32(f, data, shape...)
	})
}

// WriteInt32File writes an int32 array to path.
func WriteInt32File(path string, data []int32, shape ...int) error {
	return writeFile(path, func(f *os.File) error {
		return WriteInt32(f, data, shape...)
	})
}

// Read decodes a npy stream.
func Read(r io.Reader) (*Array, error) {
	descr, shape, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	count := 1
	for _, dim := range shape {
		count *= dim
	}

	arr := &Array{Shape: shape}

	switch descr {
	case descrFloat32:
		arr.Float32 = make([]float32, count)
		err = binary.Read(r, binary.LittleEndian, arr.Float32)
	case descrInt32:
		arr.Int32 = make([]int32, count)
		err = binary.Read(r, binary.LittleEndian, arr.Int32)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDtype, descr)
	}

	if err != nil {
		return nil, fmt.Errorf("npyio: read payload: %w", err)
	}

	return arr, nil
}

// ReadFile decodes a npy file at path.
func ReadFile(path string) (*Array, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("npyio: open: %w", err)
	}
	defer f.Close()

	return Read(f)
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("npyio: create: %w", err)
	}

	writeErr := write(f)
	closeErr := f.Close()

	if writeErr != nil {
		return writeErr
	}

	if closeErr != nil {
		return fmt.Errorf("npyio: close: %w", closeErr)
	}

	return nil
}

func validateShape(n int, shape []int) error {
	if len(shape) == 0 || len(shape) > 2 {
		return fmt.Errorf("npyio: shape must have 1 or 2 dims, got %d", len(shape))
	}

	count := 1
	for _, dim := range shape {
		if dim < 0 {
			return fmt.Errorf("npyio: negative dim %d", dim)
		}

		count *= dim
	}

	if count != n {
		return fmt.Errorf("npyio: shape %v does not match %d elements", shape, n)
	}

	return nil
}

func writeHeader(w io.Writer, descr string, shape []int) error {
	dims := make([]string, len(shape))
	for i, dim := range shape {
		dims[i] = strconv.Itoa(dim)
	}

	shapeStr := strings.Join(dims, ", ")
	if len(shape) == 1 {
		shapeStr += ","
	}

	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", descr, shapeStr)

	// Pad with spaces so the total preamble is 64-byte aligned, ending in \n.
	preamble := len(Magic) + 2 + 2
	pad := headerAlign - (preamble+len(header)+1)%headerAlign
	if pad == headerAlign {
		pad = 0
	}

	header += strings.Repeat(" ", pad) + "\n"

	_, err := w.Write(Magic)
	if err != nil {
		return fmt.Errorf("npyio: write magic: %w", err)
	}

	_, err = w.Write([]byte{versionMajor, versionMinor})
	if err != nil {
		return fmt.Errorf("npyio: write version: %w", err)
	}

	err = binary.Write(w, binary.LittleEndian, uint16(len(header))) //nolint:gosec // header is always small.
	if err != nil {
		return fmt.Errorf("npyio: write header length: %w", err)
	}

	_, err = io.WriteString(w, header)
	if err != nil {
		return fmt.Errorf("npyio: write header: %w", err)
	}

	return nil
}

func readHeader(r io.Reader) (descr string, shape []int, err error) {
	preamble := make([]byte, len(Magic)+2+2)

	_, err = io.ReadFull(r, preamble)
	if err != nil {
		return "", nil, fmt.Errorf("npyio: read preamble: %w", err)
	}

	if string(preamble[:len(Magic)]) != string(Magic) {
		return "", nil, ErrBadMagic
	}

	headerLen := binary.LittleEndian.Uint16(preamble[len(Magic)+2:])
	header := make([]byte, headerLen)

	_, err = io.ReadFull(r, header)
	if err != nil {
		return "", nil, fmt.Errorf("npyio: read header: %w", err)
	}

	return parseHeader(string(header))
}

// parseHeader extracts descr, fortran_order and shape from the python-dict
// style header text.
func parseHeader(header string) (descr string, shape []int, err error) {
	descr, err = dictString(header, "descr")
	if err != nil {
		return "", nil, err
	}

	if strings.Contains(header, "'fortran_order': True") {
		return "", nil, ErrFortranOrder
	}

	open := strings.Index(header, "(")
	closing := strings.Index(header, ")")

	if open < 0 || closing < open {
		return "", nil, fmt.Errorf("npyio: malformed shape in header %q", header)
	}

	for _, part := range strings.Split(header[open+1:closing], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		dim, convErr := strconv.Atoi(part)
		if convErr != nil {
			return "", nil, fmt.Errorf("npyio: bad shape dim %q: %w", part, convErr)
		}

		shape = append(shape, dim)
	}

	if len(shape) == 0 {
		shape = []int{1}
	}

	return descr, shape, nil
}

func dictString(header, key string) (string, error) {
	marker := "'" + key + "': '"

	start := strings.Index(header, marker)
	if start < 0 {
		return "", fmt.Errorf("npyio: missing %q in header", key)
	}

	rest := header[start+len(marker):]

	end := strings.Index(rest, "'")
	if end < 0 {
		return "", fmt.Errorf("npyio: unterminated %q in header", key)
	}

	return rest[:end], nil
}
