// Package mnist reads the MNIST handwritten digit set in its IDX format.
//
// Images are served as 784 features normalized to [0, 1] together with an
// integer label in [0, 10).
package mnist

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const (
	imagesMagic = 0x00000803
	labelsMagic = 0x00000801

	// Classes is the number of digit labels.
	Classes = 10

	maxImagePixels = 1 << 16
	maxExamples    = 1 << 20
	maxPixelBytes  = 1 << 31

	// readChunk bounds the up-front allocation for pixel data, so a header
	// promising more than the stream holds fails before the full buffer exists.
	readChunk = 1 << 24
)

// Split selects the training or the test files.
type Split string

const (
	Train Split = "train"
	Test  Split = "t10k"
)

// ImagesFile and LabelsFile are the canonical uncompressed file names.
func (s Split) ImagesFile() string { return string(s) + "-images-idx3-ubyte" }
func (s Split) LabelsFile() string { return string(s) + "-labels-idx1-ubyte" }

// Dataset is an in-memory copy of one split.
type Dataset struct {
	Rows, Cols int
	pixels     []byte
	labels     []byte
}

// Len returns the number of examples.
func (d *Dataset) Len() int {
	return len(d.labels)
}

// Features returns the image size in pixels.
func (d *Dataset) Features() int {
	return d.Rows * d.Cols
}

// Pixels returns the raw bytes of image i.
func (d *Dataset) Pixels(i int) []byte {
	n := d.Features()
	return d.pixels[i*n : (i+1)*n]
}

// Label returns the digit of example i.
func (d *Dataset) Label(i int) int {
	return int(d.labels[i])
}

// Sample returns image i normalized to [0, 1] and its label.
func (d *Dataset) Sample(i int) ([]float64, int) {
	raw := d.Pixels(i)
	features := make([]float64, len(raw))
	for j, p := range raw {
		features[j] = float64(p) / 255
	}
	return features, d.Label(i)
}

// OneHot encodes label as a vector with a single 1.
func OneHot(label, classes int) []float64 {
	v := make([]float64, classes)
	v[label] = 1
	return v
}

// Read parses an images stream and a labels stream.
func Read(images, labels io.Reader) (*Dataset, error) {
	var hdr [4]uint32
	if err := binary.Read(images, binary.BigEndian, &hdr); err != nil {
		return nil, errors.Wrap(err, "read images header")
	}
	if hdr[0] != imagesMagic {
		return nil, errors.Errorf("images: bad magic %#08x", hdr[0])
	}
	count, rows, cols := uint64(hdr[1]), uint64(hdr[2]), uint64(hdr[3])
	if rows == 0 || cols == 0 || rows > maxImagePixels || cols > maxImagePixels || rows*cols > maxImagePixels {
		return nil, errors.Errorf("images: unsupported size %dx%d", rows, cols)
	}
	if count > maxExamples {
		return nil, errors.Errorf("images: %d examples exceeds limit %d", count, maxExamples)
	}
	if count*rows*cols > maxPixelBytes {
		return nil, errors.Errorf("images: %d bytes of pixels exceeds limit %d", count*rows*cols, maxPixelBytes)
	}

	var lhdr [2]uint32
	if err := binary.Read(labels, binary.BigEndian, &lhdr); err != nil {
		return nil, errors.Wrap(err, "read labels header")
	}
	if lhdr[0] != labelsMagic {
		return nil, errors.Errorf("labels: bad magic %#08x", lhdr[0])
	}
	if uint64(lhdr[1]) != count {
		return nil, errors.Errorf("%d images but %d labels", count, lhdr[1])
	}

	pixels, err := readBytes(images, int64(count*rows*cols))
	if err != nil {
		return nil, errors.Wrap(err, "read pixels")
	}
	d := &Dataset{
		Rows:   int(rows),
		Cols:   int(cols),
		pixels: pixels,
		labels: make([]byte, count),
	}
	if _, err := io.ReadFull(labels, d.labels); err != nil {
		return nil, errors.Wrap(err, "read labels")
	}
	for i, l := range d.labels {
		if l >= Classes {
			return nil, errors.Errorf("example %d: label %d out of range", i, l)
		}
	}
	return d, nil
}

// readBytes reads exactly n bytes, growing the buffer as data arrives.
func readBytes(r io.Reader, n int64) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(int(min(n, readChunk)))
	got, err := io.CopyN(&buf, r, n)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		return nil, errors.Wrapf(err, "got %d of %d bytes", got, n)
	}
	return buf.Bytes(), nil
}

// Open loads a split from dir. Each file may be stored plain or gzipped
// (with a .gz suffix).
func Open(dir string, split Split) (*Dataset, error) {
	images, err := openMaybeGzip(filepath.Join(dir, split.ImagesFile()))
	if err != nil {
		return nil, err
	}
	defer images.Close()
	labels, err := openMaybeGzip(filepath.Join(dir, split.LabelsFile()))
	if err != nil {
		return nil, err
	}
	defer labels.Close()

	d, err := Read(images, labels)
	return d, errors.Wrapf(err, "mnist %s", split)
}

type fileReader struct {
	io.Reader
	closers []io.Closer
}

func (f *fileReader) Close() error {
	var first error
	for _, c := range f.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// openMaybeGzip opens path or path.gz and undoes gzip when the content is
// compressed.
func openMaybeGzip(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		f, err = os.Open(path + ".gz")
	}
	if err != nil {
		return nil, errors.Wrap(err, "open dataset file")
	}

	br := bufio.NewReader(f)
	magic, err := br.Peek(2)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "read %s", f.Name())
	}
	if magic[0] != 0x1f || magic[1] != 0x8b {
		return &fileReader{Reader: br, closers: []io.Closer{f}}, nil
	}
	zr, err := gzip.NewReader(br)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "gunzip %s", f.Name())
	}
	return &fileReader{Reader: zr, closers: []io.Closer{zr, f}}, nil
}
