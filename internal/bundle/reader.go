package bundle

import (
	"archive/tar"
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aelpxy/vaultkeep/internal/archive"
	"github.com/aelpxy/vaultkeep/internal/crypt"
	"github.com/aelpxy/vaultkeep/pkg/models"
	"github.com/goccy/go-json"
)

type readCloser struct {
	io.Reader
	close func() error
}

func (r readCloser) Close() error { return r.close() }

// Open returns the plaintext tar.gz stream of a bundle, decrypting when the
// file carries an age header. enc may be nil for plaintext bundles.
func Open(path string, enc *crypt.Encryptor) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, models.Precondition("archive %s not found", path)
		}
		return nil, err
	}

	br := bufio.NewReader(f)
	prefix, _ := br.Peek(crypt.HeaderLen)
	if !crypt.HasHeader(prefix) {
		return readCloser{Reader: br, close: f.Close}, nil
	}
	if enc == nil {
		f.Close()
		return nil, fmt.Errorf("%w: %w", models.ErrPrecondition, crypt.ErrNoPassphrase)
	}

	plain, err := enc.Decrypt(br)
	if err != nil {
		f.Close()
		return nil, err
	}
	return readCloser{Reader: plain, close: f.Close}, nil
}

// Contents is what a single pass over a bundle reveals.
type Contents struct {
	Entries  []string
	Manifest *models.Manifest
}

func (c *Contents) Has(name string) bool {
	for _, e := range c.Entries {
		if e == name {
			return true
		}
	}
	return false
}

// Inspect lists a bundle and decodes its MANIFEST.json.
func Inspect(path string, enc *crypt.Encryptor) (*Contents, error) {
	rc, err := Open(path, enc)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	contents := &Contents{}
	err = archive.Walk(rc, func(hdr *tar.Header, body io.Reader) error {
		name := strings.TrimPrefix(hdr.Name, "./")
		contents.Entries = append(contents.Entries, name)
		if name != models.BundleManifestFile {
			return nil
		}
		var m models.Manifest
		if err := json.NewDecoder(body).Decode(&m); err != nil {
			return models.Integrity("manifest is not valid JSON: %v", err)
		}
		contents.Manifest = &m
		return nil
	})
	if err != nil {
		return contents, err
	}
	return contents, nil
}

// Extract unpacks a bundle into destDir.
func Extract(ctx context.Context, path string, enc *crypt.Encryptor, destDir string) ([]string, error) {
	rc, err := Open(path, enc)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return archive.Extract(ctx, rc, destDir)
}
