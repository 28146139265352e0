// Package runtime links the taintflow engine into a monitored module.
//
// A rewritten program imports the public taint package and calls
// taint.Init at the start of main. For that import to resolve, the
// monitored module's go.mod must require the engine module; during
// development it is also redirected to a local checkout with a replace
// directive.
package runtime

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/modfile"

	"github.com/kolkov/taintflow/taint"
)

// ModulePath is the module containing the engine runtime.
const ModulePath = "github.com/kolkov/taintflow"

// PackagePath returns the import path rewritten programs use.
func PackagePath() string {
	return ModulePath + "/taint"
}

// InitCode returns the statements inserted at the start of main.
//
// Example output:
//
//	if _, err := taint.Init(); err != nil {
//		panic(err)
//	}
//	defer taint.Fini()
func InitCode() string {
	return `if _, err := taint.Init(); err != nil {
	panic(err)
}
defer taint.Fini()`
}

// runtimeMarker identifies a taintflow checkout.
var runtimeMarker = filepath.Join("internal", "taint", "engine")

// FindProjectRoot finds a taintflow checkout: first by walking up from
// start, then next to the running executable.
//
// The marker is the engine package directory, not a go.mod: any go.mod
// would match the monitored project itself.
func FindProjectRoot(start string) (string, error) {
	for dir := start; ; {
		if isDir(filepath.Join(dir, runtimeMarker)) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		for _, c := range []string{exeDir, filepath.Dir(exeDir), filepath.Dir(filepath.Dir(exeDir))} {
			if isDir(filepath.Join(c, runtimeMarker)) {
				return c, nil
			}
		}
	}
	return "", fmt.Errorf("could not find taintflow project root from %s", start)
}

// FindGoMod walks up from start to the nearest go.mod and returns its path,
// or "" when there is none.
func FindGoMod(start string) string {
	for dir := start; ; {
		p := filepath.Join(dir, "go.mod")
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// LinkOptions controls Link.
type LinkOptions struct {
	// Version is the required engine version. Empty means the running
	// engine's version.
	Version string

	// Local, when set, adds a replace directive pointing the engine module
	// at this directory.
	Local string

	// DryRun computes the new go.mod without writing it.
	DryRun bool
}

// LinkResult describes what Link did.
type LinkResult struct {
	GoMod   string // path of the edited go.mod
	Module  string // module path of the monitored module
	Changed bool   // whether the file content changed
	Content []byte // formatted go.mod after the edit
}

// Link adds the engine requirement to the go.mod governing dir.
func Link(dir string, opts LinkOptions) (*LinkResult, error) {
	path := FindGoMod(dir)
	if path == "" {
		return nil, fmt.Errorf("no go.mod found in %s or any parent directory", dir)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read go.mod: %w", err)
	}
	f, err := modfile.Parse(path, data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse go.mod: %w", err)
	}
	if f.Module == nil {
		return nil, fmt.Errorf("%s has no module directive", path)
	}
	if f.Module.Mod.Path == ModulePath {
		return nil, fmt.Errorf("%s is the taintflow module itself", path)
	}

	version := opts.Version
	if version == "" {
		version = "v" + taint.Version
	}
	if err := f.AddRequire(ModulePath, version); err != nil {
		return nil, fmt.Errorf("failed to add require: %w", err)
	}
	if opts.Local != "" {
		local, err := filepath.Abs(opts.Local)
		if err != nil {
			return nil, err
		}
		if err := f.AddReplace(ModulePath, "", local, ""); err != nil {
			return nil, fmt.Errorf("failed to add replace: %w", err)
		}
	}
	f.Cleanup()

	out, err := f.Format()
	if err != nil {
		return nil, fmt.Errorf("failed to format go.mod: %w", err)
	}
	res := &LinkResult{
		GoMod:   path,
		Module:  f.Module.Mod.Path,
		Changed: !bytes.Equal(data, out),
		Content: out,
	}
	if res.Changed && !opts.DryRun {
		if err := os.WriteFile(path, out, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write go.mod: %w", err)
		}
	}
	return res, nil
}

// Overlay writes a go.mod for building rewritten sources in tempDir and
// returns its path. It requires the engine from root and carries over the
// replace directives of the go.mod governing sourceDir, with relative
// paths made absolute.
func Overlay(tempDir, sourceDir, root string) (string, error) {
	f := new(modfile.File)
	if err := f.AddModuleStmt("instrumented"); err != nil {
		return "", err
	}
	if err := f.AddGoStmt("1.25"); err != nil {
		return "", err
	}
	if err := f.AddRequire(ModulePath, "v0.0.0"); err != nil {
		return "", err
	}
	if err := f.AddReplace(ModulePath, "", root, ""); err != nil {
		return "", err
	}

	if sourceDir != "" {
		if orig := FindGoMod(sourceDir); orig != "" {
			reps, err := Replaces(orig)
			if err != nil {
				return "", err
			}
			for _, r := range reps {
				if r.Old.Path == ModulePath {
					continue
				}
				if err := f.AddReplace(r.Old.Path, r.Old.Version, r.New.Path, r.New.Version); err != nil {
					return "", err
				}
			}
		}
	}
	f.Cleanup()

	out, err := f.Format()
	if err != nil {
		return "", err
	}
	path := filepath.Join(tempDir, "go.mod.overlay")
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return "", fmt.Errorf("failed to create go.mod overlay: %w", err)
	}
	return path, nil
}

// Replaces returns the replace directives of a go.mod with local paths made
// absolute relative to the file's directory.
func Replaces(goModPath string) ([]*modfile.Replace, error) {
	data, err := os.ReadFile(goModPath)
	if err != nil {
		return nil, err
	}
	f, err := modfile.Parse(goModPath, data, nil)
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(goModPath)
	for _, r := range f.Replace {
		if r.New.Version == "" && isLocalPath(r.New.Path) && !filepath.IsAbs(r.New.Path) {
			if abs, err := filepath.Abs(filepath.Join(base, r.New.Path)); err == nil {
				r.New.Path = abs
			}
		}
	}
	return f.Replace, nil
}

// isLocalPath reports whether a replacement path is a filesystem path
// rather than a module path.
func isLocalPath(path string) bool {
	if strings.HasPrefix(path, "./") || strings.HasPrefix(path, "../") {
		return true
	}
	if filepath.IsAbs(path) {
		return true
	}
	// Windows drive letter.
	if len(path) >= 2 && path[1] == ':' {
		return true
	}
	return strings.ContainsAny(path, `/\`) && !strings.Contains(path, ".")
}

func isDir(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}
