// Package version derives the build's version descriptor from source
// control: the build number is the commit count reachable from HEAD, the
// commit field the abbreviated HEAD hash. Version-control failure is
// tolerated and degrades to a zeroed descriptor, since versioning is
// cosmetic; the degradation is logged so a misconfigured environment stays
// visible.
package version

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/openviewer/build-plane/internal/logging"
)

const shortHashLen = 10

// Descriptor is derived once per build and persisted to a JSON artifact for
// later stages that need stamping.
type Descriptor struct {
	Version string `json:"version"`
	Build   int    `json:"build"`
	Commit  string `json:"commit"`
}

// Resolve computes the descriptor for the repository containing repoPath.
// versionPrefix is the configured prefix (e.g. "4.2."); the build number is
// appended to form the full version string.
func Resolve(repoPath, versionPrefix string, log *logging.Logger) Descriptor {
	build, commit, err := headInfo(repoPath)
	if err != nil {
		log.Warnf("version lookup failed, using unversioned descriptor: %v", err)
		return Descriptor{Version: versionPrefix + "0"}
	}
	return Descriptor{
		Version: versionPrefix + strconv.Itoa(build),
		Build:   build,
		Commit:  commit,
	}
}

func headInfo(repoPath string) (int, string, error) {
	repo, err := git.PlainOpenWithOptions(repoPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return 0, "", fmt.Errorf("open repository: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return 0, "", fmt.Errorf("resolve HEAD: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return 0, "", fmt.Errorf("walk history: %w", err)
	}
	defer iter.Close()

	count := 0
	if err := iter.ForEach(func(*object.Commit) error {
		count++
		return nil
	}); err != nil {
		return 0, "", fmt.Errorf("count commits: %w", err)
	}

	return count, head.Hash().String()[:shortHashLen], nil
}

// Write persists the descriptor as version.json under dir.
func Write(d Descriptor, dir string) error {
	bs, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "version.json"), append(bs, '\n'), 0o644)
}

// Read loads a previously persisted descriptor.
func Read(dir string) (Descriptor, error) {
	var d Descriptor
	bs, err := os.ReadFile(filepath.Join(dir, "version.json"))
	if err != nil {
		return d, err
	}
	if err := json.Unmarshal(bs, &d); err != nil {
		return d, fmt.Errorf("failed to parse version artifact: %w", err)
	}
	return d, nil
}
