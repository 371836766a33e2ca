// Package probe collects local tamper evidence: root tooling files,
// root-management packages, insecure build properties, kernel root
// implant paths, and artifact integrity mismatches. Collection is
// best effort and never fails; anything unreadable is simply absent
// from the evidence.
package probe

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"

	"shieldd/internal/config"
	"shieldd/internal/logging"
)

// buildTagsProp is the property whose value is matched against the
// configured test-key tags.
const buildTagsProp = "ro.build.tags"

// Evidence is the raw outcome of one collection pass. Slices hold the
// matched table entries in the order the tables list them.
type Evidence struct {
	// Files are root tooling paths found on disk.
	Files []string

	// Packages are root-management package identifiers found installed.
	Packages []string

	// Properties are dangerous key=value pairs found in property files.
	Properties []string

	// KernelRoot reports whether any kernel root implant path exists.
	KernelRoot bool

	// CertMismatch reports a signing certificate fingerprint mismatch.
	CertMismatch bool

	// ChecksumMismatch reports a running-binary checksum mismatch.
	ChecksumMismatch bool
}

// Clean reports whether the pass found nothing at all.
func (e *Evidence) Clean() bool {
	return len(e.Files) == 0 && len(e.Packages) == 0 && len(e.Properties) == 0 &&
		!e.KernelRoot && !e.CertMismatch && !e.ChecksumMismatch
}

// Collector runs the configured probes against the filesystem.
type Collector struct {
	cfg config.ProbesConfig
	log *logging.Logger

	// Root, when non-empty, is prepended to every probed path.
	// Tests point it at a fixture tree.
	Root string

	// binaryPath overrides os.Executable for the checksum probe.
	binaryPath string
}

// NewCollector returns a collector over the given probe tables.
func NewCollector(cfg config.ProbesConfig, log *logging.Logger) *Collector {
	return &Collector{cfg: cfg, log: log.WithComponent("probe")}
}

// Collect runs all probes and returns the combined evidence. A
// cancelled context stops between probe groups and returns what was
// gathered so far.
func (c *Collector) Collect(ctx context.Context) *Evidence {
	ev := &Evidence{}

	for _, group := range []func(*Evidence){
		c.probeRootFiles,
		c.probeKernelRoot,
		c.probePackages,
		c.probeProperties,
		c.probeCertificate,
		c.probeBinaryChecksum,
	} {
		if ctx.Err() != nil {
			c.log.Warn("collection cancelled", "partial", !ev.Clean())
			return ev
		}
		group(ev)
	}

	if !ev.Clean() {
		c.log.Info("evidence collected",
			"files", len(ev.Files),
			"packages", len(ev.Packages),
			"properties", len(ev.Properties),
			"kernel_root", ev.KernelRoot,
			"cert_mismatch", ev.CertMismatch,
			"checksum_mismatch", ev.ChecksumMismatch)
	}

	return ev
}

func (c *Collector) resolve(path string) string {
	if c.Root == "" {
		return path
	}
	return filepath.Join(c.Root, path)
}

func (c *Collector) probeRootFiles(ev *Evidence) {
	for _, path := range c.cfg.RootFilePaths {
		if _, err := os.Lstat(c.resolve(path)); err == nil {
			ev.Files = append(ev.Files, path)
		}
	}
}

func (c *Collector) probeKernelRoot(ev *Evidence) {
	for _, path := range c.cfg.KernelRootPaths {
		if _, err := os.Lstat(c.resolve(path)); err == nil {
			ev.KernelRoot = true
			return
		}
	}
}

// probePackages looks for a per-package directory under each of the
// configured package roots.
func (c *Collector) probePackages(ev *Evidence) {
	for _, pkg := range c.cfg.RootPackages {
		for _, dir := range c.cfg.PackageDirs {
			if _, err := os.Lstat(c.resolve(filepath.Join(dir, pkg))); err == nil {
				ev.Packages = append(ev.Packages, pkg)
				break
			}
		}
	}
}

func (c *Collector) probeProperties(ev *Evidence) {
	dangerous := make(map[string]string, len(c.cfg.DangerousProps))
	for _, entry := range c.cfg.DangerousProps {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		dangerous[key] = value
	}

	seen := make(map[string]bool)
	for _, path := range c.cfg.BuildPropPaths {
		props, err := parsePropFile(c.resolve(path))
		if err != nil {
			continue
		}

		for key, value := range props {
			finding := ""
			if want, ok := dangerous[key]; ok && value == want {
				finding = key + "=" + value
			} else if key == buildTagsProp && c.matchesTestKeys(value) {
				finding = key + "=" + value
			}
			if finding != "" && !seen[finding] {
				seen[finding] = true
				ev.Properties = append(ev.Properties, finding)
			}
		}
	}
}

func (c *Collector) matchesTestKeys(tags string) bool {
	for _, tag := range c.cfg.TestKeyTags {
		if strings.Contains(tags, tag) {
			return true
		}
	}
	return false
}

func (c *Collector) probeCertificate(ev *Evidence) {
	if c.cfg.CertPath == "" || c.cfg.ExpectedCertSHA256 == "" {
		return
	}

	digest, err := fileSHA256(c.resolve(c.cfg.CertPath))
	if err != nil {
		// A certificate that should exist but cannot be read is
		// itself a tamper signal.
		c.log.Warn("certificate unreadable", "path", c.cfg.CertPath, "error", err)
		ev.CertMismatch = true
		return
	}

	ev.CertMismatch = !strings.EqualFold(digest, c.cfg.ExpectedCertSHA256)
}

func (c *Collector) probeBinaryChecksum(ev *Evidence) {
	if c.cfg.ExpectedBinarySHA256 == "" {
		return
	}

	path := c.binaryPath
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			c.log.Warn("executable path unavailable", "error", err)
			return
		}
		path = exe
	}

	digest, err := fileSHA256(path)
	if err != nil {
		c.log.Warn("binary unreadable", "path", path, "error", err)
		ev.ChecksumMismatch = true
		return
	}

	ev.ChecksumMismatch = !strings.EqualFold(digest, c.cfg.ExpectedBinarySHA256)
}

// parsePropFile reads a key=value property file, skipping comments and
// malformed lines.
func parsePropFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	props := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		props[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return props, nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
