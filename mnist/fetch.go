package mnist

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// DefaultBaseURL hosts the four gzipped IDX archives.
const DefaultBaseURL = "https://azureopendatastorage.blob.core.windows.net/mnist"

// Files lists every file of both splits, uncompressed names.
func Files() []string {
	return []string{
		Train.ImagesFile(), Train.LabelsFile(),
		Test.ImagesFile(), Test.LabelsFile(),
	}
}

// Fetch downloads into dir every archive that is not already present,
// either plain or gzipped. Archives are stored compressed; Open reads them
// as they are.
func Fetch(ctx context.Context, client *http.Client, baseURL, dir string) error {
	if client == nil {
		client = http.DefaultClient
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create data dir")
	}
	for _, name := range Files() {
		path := filepath.Join(dir, name)
		if exists(path) || exists(path+".gz") {
			continue
		}
		url := strings.TrimSuffix(baseURL, "/") + "/" + name + ".gz"
		if err := download(ctx, client, url, path+".gz"); err != nil {
			return err
		}
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func download(ctx context.Context, client *http.Client, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "fetch %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("fetch %s: %s", url, resp.Status)
	}

	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "create download file")
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "download %s", url)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "close download file")
	}
	return errors.Wrap(os.Rename(tmp, dest), "install download")
}
