// Package cargo is the default, real (if minimal) implementation of the
// agent's workspace-builder collaborator: it fetches a package's source
// (crates.io tarball or git checkout, grounded on
// original_source/rustwide/src/crates/{cratesio,git}.rs's two fetch paths)
// into a scratch directory and builds the rustup/cargo commands the
// sandbox executor runs. Toolchain installation itself is left to rustup
// running on PATH -- this package only shells out to it.
package cargo

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rust-lang/crater/internal/agent"
	"github.com/rust-lang/crater/internal/api"
	"github.com/rust-lang/crater/internal/sandbox"
)

const cratesIORoot = "https://static.crates.io/crates"

// Builder prepares a job's workspace under a per-process scratch root and
// builds cargo invocations scoped to the job's toolchain.
type Builder struct {
	ScratchRoot string
	HTTPClient  *http.Client
}

func New(scratchRoot string) *Builder {
	return &Builder{ScratchRoot: scratchRoot, HTTPClient: &http.Client{}}
}

var _ agent.WorkspaceBuilder = (*Builder)(nil)

func (b *Builder) Prepare(ctx context.Context, pkg api.PackageRef, toolchain api.Toolchain) (sandbox.Workspace, sandbox.CommandBuilder, error) {
	dir, err := os.MkdirTemp(b.ScratchRoot, "crater-job-*")
	if err != nil {
		return sandbox.Workspace{}, nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	if pkg.IsGit() {
		if err := b.fetchGit(ctx, pkg, dir); err != nil {
			os.RemoveAll(dir)
			return sandbox.Workspace{}, nil, err
		}
	} else {
		if err := b.fetchCratesIO(ctx, pkg, dir); err != nil {
			os.RemoveAll(dir)
			return sandbox.Workspace{}, nil, err
		}
	}
	ws := sandbox.Workspace{Dir: dir, Toolchain: toolchain}
	return ws, &commandBuilder{toolchainArg(toolchain)}, nil
}

func (b *Builder) Cleanup(ws sandbox.Workspace) {
	os.RemoveAll(ws.Dir)
}

// fetchCratesIO downloads and extracts the .crate tarball for a
// registry-hosted package, per spec.md §3's registry PackageRef variant.
func (b *Builder) fetchCratesIO(ctx context.Context, pkg api.PackageRef, dir string) error {
	url := fmt.Sprintf("%s/%s/%s-%s.crate", cratesIORoot, pkg.Registry, pkg.Registry, pkg.Version)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := b.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching %s: unexpected status %s", url, resp.Status)
	}
	return extractCrateTarball(resp.Body, dir)
}

// extractCrateTarball unpacks a gzip'd tarball whose entries are all
// rooted at a single "<name>-<version>/" prefix, stripping that prefix so
// dir itself becomes the crate root.
func extractCrateTarball(r io.Reader, dir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to open crate tarball: %w", err)
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read crate tarball: %w", err)
		}
		name := stripFirstComponent(hdr.Name)
		if name == "" {
			continue
		}
		target := filepath.Join(dir, filepath.FromSlash(name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
	}
}

func stripFirstComponent(name string) string {
	for i, c := range name {
		if c == '/' {
			return name[i+1:]
		}
	}
	return ""
}

// fetchGit clones a git-hosted package at the requested SHA, per spec.md
// §3's git PackageRef variant.
func (b *Builder) fetchGit(ctx context.Context, pkg api.PackageRef, dir string) error {
	clone := exec.CommandContext(ctx, "git", "clone", "--quiet", pkg.Git, dir)
	if out, err := clone.CombinedOutput(); err != nil {
		return fmt.Errorf("git clone %s failed: %w: %s", pkg.Git, err, out)
	}
	if pkg.SHA == "" {
		return nil
	}
	checkout := exec.CommandContext(ctx, "git", "-C", dir, "checkout", "--quiet", pkg.SHA)
	if out, err := checkout.CombinedOutput(); err != nil {
		return fmt.Errorf("git checkout %s failed: %w: %s", pkg.SHA, err, out)
	}
	return nil
}

// toolchainArg resolves a Toolchain reference to the rustup toolchain name
// passed to `rustup run <name> cargo`. CI toolchains and try-builds are identified by
// their commit/PR reference directly; rustup's own artifact resolution for
// those is out of scope here (spec.md §1's "toolchain installation" is a
// separate collaborator run before the agent ever calls Prepare).
func toolchainArg(tc api.Toolchain) string {
	if tc.Dist != "" {
		return tc.Dist
	}
	return tc.CI
}

type commandBuilder struct {
	toolchain string
}

func (c *commandBuilder) BuildCommand(ctx context.Context, ws sandbox.Workspace) (*exec.Cmd, error) {
	return c.cargo(ctx, ws, "build", "--locked")
}

func (c *commandBuilder) TestCommand(ctx context.Context, ws sandbox.Workspace) (*exec.Cmd, error) {
	return c.cargo(ctx, ws, "test", "--locked")
}

func (c *commandBuilder) cargo(ctx context.Context, ws sandbox.Workspace, args ...string) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, "rustup", append([]string{"run", c.toolchain, "cargo"}, args...)...)
	cmd.Dir = ws.Dir
	return cmd, nil
}
