package mnist

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

// encodeIDX builds a tiny images/labels pair of 2x2 images.
func encodeIDX(t *testing.T, pixels [][]byte, labels []byte) ([]byte, []byte) {
	t.Helper()
	var img, lbl bytes.Buffer
	binary.Write(&img, binary.BigEndian, []uint32{imagesMagic, uint32(len(pixels)), 2, 2})
	for _, p := range pixels {
		img.Write(p)
	}
	binary.Write(&lbl, binary.BigEndian, []uint32{labelsMagic, uint32(len(labels))})
	lbl.Write(labels)
	return img.Bytes(), lbl.Bytes()
}

func gzipBytes(t *testing.T, b []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func header(words ...uint32) []byte {
	var b bytes.Buffer
	binary.Write(&b, binary.BigEndian, words)
	return b.Bytes()
}

var samplePixels = [][]byte{{0, 255, 51, 102}, {255, 255, 0, 0}}

func TestRead(t *testing.T) {
	t.Parallel()
	img, lbl := encodeIDX(t, samplePixels, []byte{7, 3})
	d, err := Read(bytes.NewReader(img), bytes.NewReader(lbl))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if d.Len() != 2 || d.Features() != 4 {
		t.Fatalf("got %d examples of %d features, want 2 of 4", d.Len(), d.Features())
	}
	features, label := d.Sample(0)
	want := []float64{0, 1, 0.2, 0.4}
	for i := range want {
		if features[i] != want[i] {
			t.Errorf("feature %d = %g, want %g", i, features[i], want[i])
		}
	}
	if label != 7 {
		t.Errorf("label = %d, want 7", label)
	}
	if d.Label(1) != 3 {
		t.Errorf("label 1 = %d, want 3", d.Label(1))
	}
}

func TestReadErrors(t *testing.T) {
	t.Parallel()
	goodImg, goodLbl := encodeIDX(t, samplePixels, []byte{1, 2})
	_, oneLabel := encodeIDX(t, nil, []byte{1})
	_, badLabel := encodeIDX(t, nil, []byte{1, 12})

	badMagic := append([]byte(nil), goodImg...)
	badMagic[3] = 0x01

	cases := []struct {
		name     string
		img, lbl []byte
		msg      string
	}{
		{"bad image magic", badMagic, goodLbl, "bad magic"},
		{"count mismatch", goodImg, oneLabel, "2 images but 1 labels"},
		{"label range", goodImg, badLabel, "out of range"},
		{"truncated pixels", goodImg[:len(goodImg)-1], goodLbl, "read pixels"},
		{"empty", nil, goodLbl, "images header"},
		{"wrapping size", header(imagesMagic, 1, 0xFFFFFFFF, 0xFFFFFFFF), goodLbl, "unsupported size"},
		{"tall image", header(imagesMagic, 1, 1<<17, 1), goodLbl, "unsupported size"},
		{"pixel budget", header(imagesMagic, 1<<20, 256, 256), goodLbl, "exceeds limit"},
		{"promised pixels missing", header(imagesMagic, 1000, 28, 28), header(labelsMagic, 1000), "read pixels"},
	}
	for _, tc := range cases {
		_, err := Read(bytes.NewReader(tc.img), bytes.NewReader(tc.lbl))
		if err == nil || !strings.Contains(err.Error(), tc.msg) {
			t.Errorf("%s: err = %v, want %q", tc.name, err, tc.msg)
		}
	}
}

func TestOneHot(t *testing.T) {
	t.Parallel()
	v := OneHot(3, Classes)
	for i, x := range v {
		want := 0.0
		if i == 3 {
			want = 1
		}
		if x != want {
			t.Errorf("OneHot(3)[%d] = %g", i, x)
		}
	}
}

func TestOpenPlainAndGzip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	img, lbl := encodeIDX(t, samplePixels, []byte{0, 9})
	// Plain images, gzipped labels.
	if err := os.WriteFile(filepath.Join(dir, Train.ImagesFile()), img, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, Train.LabelsFile()+".gz"), gzipBytes(t, lbl), 0o644); err != nil {
		t.Fatal(err)
	}

	d, err := Open(dir, Train)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if d.Len() != 2 || d.Label(1) != 9 {
		t.Errorf("got %d examples, label 1 = %d", d.Len(), d.Label(1))
	}

	if _, err := Open(dir, Test); err == nil {
		t.Error("expected error for missing test split")
	}
}

func TestFetch(t *testing.T) {
	t.Parallel()
	img, lbl := encodeIDX(t, samplePixels, []byte{4, 5})
	bodies := map[string][]byte{
		"/mnist/" + Train.ImagesFile() + ".gz": gzipBytes(t, img),
		"/mnist/" + Train.LabelsFile() + ".gz": gzipBytes(t, lbl),
		"/mnist/" + Test.ImagesFile() + ".gz":  gzipBytes(t, img),
		"/mnist/" + Test.LabelsFile() + ".gz":  gzipBytes(t, lbl),
	}
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, ok := bodies[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	ctx := context.Background()
	if err := Fetch(ctx, srv.Client(), srv.URL+"/mnist/", dir); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if hits.Load() != 4 {
		t.Errorf("server saw %d requests, want 4", hits.Load())
	}
	for _, split := range []Split{Train, Test} {
		d, err := Open(dir, split)
		if err != nil {
			t.Fatalf("Open(%s): %v", split, err)
		}
		if d.Label(0) != 4 {
			t.Errorf("%s label 0 = %d, want 4", split, d.Label(0))
		}
	}

	// Everything is present now.
	if err := Fetch(ctx, srv.Client(), srv.URL+"/mnist", dir); err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if hits.Load() != 4 {
		t.Errorf("second Fetch downloaded again (%d requests)", hits.Load())
	}

	if err := Fetch(ctx, srv.Client(), srv.URL+"/missing", t.TempDir()); err == nil {
		t.Error("expected error for 404")
	}
}
