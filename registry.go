// registry.go: per-host-identity record of wrapped configuration files
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package mcpguard

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
)

// Registry records which configuration files a given host instance has
// wrapped, as one symlink per wrapped file under a directory namespaced by
// host identity. Records persist across process restarts; teardown consumes
// them to restore exactly the files this instance owns, independent of any
// other concurrently installed instance.
//
// Link files are named by a hash of the normalized target path, which avoids
// collisions and overlength names regardless of how deep the target lives.
type Registry struct {
	root   string
	logger Logger
}

// DefaultRegistryRoot returns the fixed on-disk registry root.
func DefaultRegistryRoot() string {
	return filepath.Join(xdg.DataHome, "mcpguard", "wrapped")
}

// NewRegistry creates a registry rooted at root. An empty root selects
// DefaultRegistryRoot.
func NewRegistry(root string, logger any) *Registry {
	if root == "" {
		root = DefaultRegistryRoot()
	}
	return &Registry{root: root, logger: NewLogger(logger)}
}

// Add records filePath as wrapped by hostIdentity. Adding an already
// recorded file is a no-op.
func (r *Registry) Add(hostIdentity, filePath string) error {
	dir, err := r.identityDir(hostIdentity)
	if err != nil {
		return err
	}
	target, err := normalizePath(filePath)
	if err != nil {
		return NewRegistryError("cannot normalize path", err)
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return NewRegistryError("cannot create registry directory", err)
	}

	link := filepath.Join(dir, linkNameFor(target))
	if err := os.Symlink(target, link); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil
		}
		return NewRegistryError("cannot create registry link", err)
	}
	r.logger.Debug("Registry record added", "host", hostIdentity, "path", target)
	return nil
}

// List resolves every record under hostIdentity and returns the deduplicated
// target paths. Orphaned records whose target no longer exists are silently
// pruned as they are encountered.
func (r *Registry) List(hostIdentity string) ([]string, error) {
	dir, err := r.identityDir(hostIdentity)
	if err != nil {
		return nil, err
	}

	records, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, NewRegistryError("cannot read registry directory", err)
	}

	seen := make(map[string]bool, len(records))
	paths := make([]string, 0, len(records))
	for _, record := range records {
		link := filepath.Join(dir, record.Name())
		target, err := os.Readlink(link)
		if err != nil {
			r.pruneRecord(link, "unreadable registry record")
			continue
		}
		if _, err := os.Stat(target); err != nil {
			r.pruneRecord(link, "registry record target missing")
			continue
		}
		if seen[target] {
			continue
		}
		seen[target] = true
		paths = append(paths, target)
	}
	return paths, nil
}

// Remove deletes the record for filePath under hostIdentity. Removing a
// record that does not exist is a no-op.
func (r *Registry) Remove(hostIdentity, filePath string) error {
	dir, err := r.identityDir(hostIdentity)
	if err != nil {
		return err
	}
	target, err := normalizePath(filePath)
	if err != nil {
		return NewRegistryError("cannot normalize path", err)
	}

	link := filepath.Join(dir, linkNameFor(target))
	if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
		return NewRegistryError("cannot remove registry link", err)
	}
	r.logger.Debug("Registry record removed", "host", hostIdentity, "path", target)
	return nil
}

func (r *Registry) identityDir(hostIdentity string) (string, error) {
	if hostIdentity == "" ||
		strings.ContainsAny(hostIdentity, `/\`) ||
		hostIdentity == "." || hostIdentity == ".." {
		return "", NewRegistryIdentityError(hostIdentity)
	}
	return filepath.Join(r.root, hostIdentity), nil
}

func (r *Registry) pruneRecord(link, reason string) {
	if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
		r.logger.Warn("Failed to prune registry record", "link", link, "error", err)
		return
	}
	r.logger.Debug("Pruned registry record", "link", link, "reason", reason)
}

func normalizePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

func linkNameFor(normalizedPath string) string {
	sum := sha256.Sum256([]byte(normalizedPath))
	return hex.EncodeToString(sum[:])
}
