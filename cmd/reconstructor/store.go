package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"reconstructor/internal/blob"
)

// artifacts opens the blob store. The filesystem driver defaults to the
// working directory so local paths can be passed as keys.
func (a *app) artifacts(ctx context.Context) (blob.Store, error) {
	driver := blob.Driver(a.v.GetString("blob_driver"))
	switch driver {
	case "", blob.DriverFilesystem:
		root := a.v.GetString("blob_fs_root")
		if root == "" {
			root = "."
		}
		return blob.NewFilesystem(root)
	case blob.DriverMemory:
		return blob.NewMemory(), nil
	default:
		return blob.Open(ctx)
	}
}

// artifactKey maps a command line path onto a key for the filesystem
// driver. Other drivers take keys verbatim.
func (a *app) artifactKey(p string) (string, error) {
	driver := blob.Driver(a.v.GetString("blob_driver"))
	if driver != "" && driver != blob.DriverFilesystem {
		return p, nil
	}
	if p == "" || !filepath.IsAbs(p) {
		return filepath.ToSlash(filepath.Clean(p)), nil
	}
	root := a.v.GetString("blob_fs_root")
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absRoot, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the artifact root %s; set RECONSTRUCTOR_BLOB_FS_ROOT", p, absRoot)
	}
	return filepath.ToSlash(rel), nil
}
