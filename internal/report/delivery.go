package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// maxNameAttempts bounds the suffixed names tried when a report name is taken.
const maxNameAttempts = 100

// LocalFileHandle describes a delivered report file.
type LocalFileHandle struct {
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
	Size int    `json:"size"`
}

// Delivery hands decoded PDF bytes to the user.
type Delivery interface {
	Deliver(ctx context.Context, name string, data []byte) (*LocalFileHandle, error)
}

// DirectoryDelivery writes reports into a local directory without overwriting.
// When the name is taken it tries name_1.pdf, name_2.pdf and so on.
type DirectoryDelivery struct {
	Dir string
}

func (d DirectoryDelivery) Deliver(ctx context.Context, name string, data []byte) (*LocalFileHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	f, name, err := createExclusive(d.Dir, name)
	if err != nil {
		return nil, err
	}
	path := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close %s: %w", path, err)
	}
	return &LocalFileHandle{Name: name, Path: path, Size: len(data)}, nil
}

func createExclusive(dir, name string) (*os.File, string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := name
	for i := 1; ; i++ {
		path := filepath.Join(dir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, candidate, nil
		}
		if !errors.Is(err, os.ErrExist) || i >= maxNameAttempts {
			return nil, "", fmt.Errorf("open %s: %w", path, err)
		}
		candidate = stem + "_" + strconv.Itoa(i) + ext
	}
}
