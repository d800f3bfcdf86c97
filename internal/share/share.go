package share

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/airlookjs/mediainfo/pkg/logger"
)

var log = logger.Get("Shares")

// Share is a configured storage location. A logical path supplied by a
// client is rewritten to a file beneath Mount using the first of the
// Matches which captures a non-empty fragment of the path.
type Share struct {
	Name    string
	Mount   string
	Cached  bool
	Matches []*regexp.Regexp
}

// Match is the outcome of a successful Resolve: the share which owns
// the file, and the absolute path to the file on disk.
type Match struct {
	Share *Share
	Path  string
}

// New constructs a Share, compiling each of the patterns. Every pattern
// must contain exactly one capture group, and the mount must be an
// absolute path.
func New(name string, mount string, cached bool, patterns []string) (*Share, error) {
	if name == "" {
		return nil, errors.New("share name must not be empty")
	}
	if !filepath.IsAbs(mount) {
		return nil, fmt.Errorf("share %s: mount '%s' is not an absolute path", name, mount)
	}
	if len(patterns) == 0 {
		return nil, fmt.Errorf("share %s: at least one match pattern is required", name)
	}

	matches := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("share %s: match '%s' is not a valid regular expression: %w", name, p, err)
		}
		if re.NumSubexp() != 1 {
			return nil, fmt.Errorf("share %s: match '%s' must contain exactly one capture group (found %d)", name, p, re.NumSubexp())
		}

		matches = append(matches, re)
	}

	return &Share{Name: name, Mount: filepath.Clean(mount), Cached: cached, Matches: matches}, nil
}

// Candidates applies the share's matches to the logical path in order and
// returns the candidate file path beneath the mount for every match whose capture group
// is non-empty. Captures which would escape the mount are dropped.
func (share *Share) Candidates(logicalPath string) []string {
	out := make([]string, 0, 1)
	for _, re := range share.Matches {
		groups := re.FindStringSubmatch(logicalPath)
		if len(groups) < 2 || groups[1] == "" {
			log.Emit(logger.VERBOSE, "-> %s not matching %s\n", re, logicalPath)
			continue
		}

		candidate := filepath.Join(share.Mount, groups[1])
		if !share.contains(candidate) {
			log.Emit(logger.WARNING, "-> capture '%s' escapes mount of share %s, ignoring\n", groups[1], share.Name)
			continue
		}

		log.Emit(logger.DEBUG, "-> %s matched %s, candidate %s\n", re, logicalPath, candidate)
		out = append(out, candidate)
	}

	return out
}

// Available reports whether the mount of this share can currently be
// accessed as a directory.
func (share *Share) Available() error {
	info, err := os.Stat(share.Mount)
	if err != nil {
		return fmt.Errorf("%s storage share at %s could not be accessed: %w", share.Name, share.Mount, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s storage share at %s is not a directory", share.Name, share.Mount)
	}

	return nil
}

func (share *Share) String() string {
	return fmt.Sprintf("Share{name=%s mount=%s cached=%v matches=%d}", share.Name, share.Mount, share.Cached, len(share.Matches))
}

func (share *Share) contains(path string) bool {
	rel, err := filepath.Rel(share.Mount, path)
	if err != nil {
		return false
	}

	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Resolve finds the file referenced by the logical path. Shares are tried
// in the order given, and within a share the matches are tried in order;
// the first candidate which exists on disk wins and no further shares or
// matches are consulted.
func Resolve(shares []*Share, logicalPath string) (Match, bool) {
	for _, share := range shares {
		log.Emit(logger.DEBUG, "Checking share %s for matches\n", share.Name)
		for _, candidate := range share.Candidates(logicalPath) {
			if _, err := os.Stat(candidate); err != nil {
				log.Emit(logger.INFO, "File not found: %s\n", candidate)
				continue
			}

			return Match{Share: share, Path: candidate}, true
		}
	}

	return Match{}, false
}
