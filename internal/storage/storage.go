// Package storage keeps work log attachments on local disk.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"

	"agencyline/internal/config"
	"agencyline/internal/domain"
)

// RefPrefix is the leading segment of every stored reference; it is also the
// public URL prefix files are served under.
const RefPrefix = "uploads/"

type Disk struct {
	Dir      string
	MaxBytes int64
	allowed  map[string]bool
}

func NewDisk(cfg config.StorageConfig) (*Disk, error) {
	if err := os.MkdirAll(cfg.UploadsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	allowed := make(map[string]bool, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		allowed[strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))] = true
	}
	return &Disk{Dir: cfg.UploadsDir, MaxBytes: cfg.MaxFileBytes, allowed: allowed}, nil
}

// Save stores r under a fresh name derived from field and the original
// filename's extension, and returns the reference to persist.
func (d *Disk) Save(ctx context.Context, field, filename string, r io.Reader) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if !d.allowed[ext] {
		return "", domain.Invalid("file", "type %q is not allowed", ext)
	}
	if field == "" {
		field = "attachment"
	}
	name := fmt.Sprintf("%s-%s.%s", field, strings.ToLower(ulid.Make().String()), ext)
	dst := filepath.Join(d.Dir, name)
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", name, err)
	}
	limit := d.MaxBytes
	n, err := io.Copy(f, io.LimitReader(readerWithContext(ctx, r), limit+1))
	closeErr := f.Close()
	if err == nil && n > limit {
		err = domain.Invalid("file", "%s exceeds %d bytes", filename, limit)
	}
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dst)
		return "", err
	}
	return RefPrefix + name, nil
}

// Remove deletes the file behind ref.
func (d *Disk) Remove(_ context.Context, ref string) error {
	p, err := d.Path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return fmt.Errorf("remove %s: %w", ref, err)
	}
	return nil
}

// Path resolves ref to a file inside Dir, rejecting anything that escapes it.
func (d *Disk) Path(ref string) (string, error) {
	name, ok := refName(ref)
	if !ok {
		return "", errors.New("invalid attachment reference " + ref)
	}
	return filepath.Join(d.Dir, name), nil
}

// ValidRef reports whether ref has the exact form Save returns: RefPrefix
// followed by a single file name.
func ValidRef(ref string) bool {
	name, ok := refName(ref)
	return ok && ref == RefPrefix+name
}

func refName(ref string) (string, bool) {
	cleaned := strings.TrimPrefix(path.Clean("/"+ref), "/")
	if !strings.HasPrefix(cleaned, RefPrefix) {
		return "", false
	}
	name := strings.TrimPrefix(cleaned, RefPrefix)
	if name == "" || strings.ContainsAny(name, "/\\") {
		return "", false
	}
	return name, true
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}
