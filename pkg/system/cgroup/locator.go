package cgroup

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog"
)

const (
	// DefaultRoot is the canonical cgroup filesystem mount point.
	DefaultRoot = "/sys/fs/cgroup"

	// DefaultSelfCgroup is the per-process controller list file.
	DefaultSelfCgroup = "/proc/self/cgroup"

	// controllersFile marks a unified (v2) hierarchy root.
	controllersFile = "cgroup.controllers"
)

// mount is one v1 hierarchy: the directory segment it is mounted under
// (possibly a comma-joined controller list, e.g. "cpu,cpuacct") and the
// process's relative path inside it.
type mount struct {
	segment string
	relPath string
}

// LocatorConfig overrides the Locator's file locations; zero values mean
// defaults. Tests point Root/SelfCgroup at fixture trees.
type LocatorConfig struct {
	Root       string
	SelfCgroup string
	Logger     *zerolog.Logger
}

// Locator detects the cgroup hierarchy version and resolves controller
// file paths. Detection runs once and is cached on the instance; callers
// that need a fresh view construct a fresh Locator.
type Locator struct {
	root     string
	selfPath string
	log      zerolog.Logger

	detected  bool
	version   Version
	detectErr error
	mounts    map[string]mount // v1: controller name -> hierarchy
	unified   string           // v2: relative path of this process
}

// NewLocator builds a Locator. On non-Linux hosts it fails with
// ErrUnsupportedPlatform: asking for cgroup facts elsewhere is a caller
// bug, not a condition to paper over.
func NewLocator(cfg *LocatorConfig) (*Locator, error) {
	if runtime.GOOS != "linux" {
		return nil, ErrUnsupportedPlatform
	}
	l := &Locator{
		root:     DefaultRoot,
		selfPath: DefaultSelfCgroup,
		log:      zerolog.Nop(),
	}
	if cfg != nil {
		if cfg.Root != "" {
			l.root = cfg.Root
		}
		if cfg.SelfCgroup != "" {
			l.selfPath = cfg.SelfCgroup
		}
		if cfg.Logger != nil {
			l.log = *cfg.Logger
		}
	}
	return l, nil
}

// Version reports the detected hierarchy version, computing it on first
// call: a readable unified marker file means V2, else a readable
// per-process controller list means V1, else None. A marker that exists
// but cannot be opened fails detection outright: silently demoting the
// version would report wrong-hierarchy limits on a misconfigured host.
func (l *Locator) Version() (Version, error) {
	if !l.detected {
		l.detect()
	}
	return l.version, l.detectErr
}

func (l *Locator) detect() {
	l.detected = true
	l.mounts = make(map[string]mount)
	l.version = None

	ok, err := l.probe(filepath.Join(l.root, controllersFile))
	switch {
	case err != nil:
		l.detectErr = fmt.Errorf("cgroup: version detection: %w", err)
		return
	case ok:
		l.version = V2
	default:
		ok, err = l.probe(l.selfPath)
		switch {
		case err != nil:
			l.detectErr = fmt.Errorf("cgroup: version detection: %w", err)
			return
		case !ok:
			return
		}
		l.version = V1
	}

	if err := l.parseSelfCgroup(); err != nil {
		// Detection stands; per-file resolution will report not-found.
		l.log.Debug().Err(err).Str("path", l.selfPath).Msg("cgroup: self cgroup unreadable")
	}
	l.log.Debug().Stringer("version", l.version).Msg("cgroup: detected hierarchy")
}

// parseSelfCgroup walks every hierarchy line of the per-process file.
// Line grammar: <hierarchy-id>:<controller-list>:<relative-path>. The v2
// entry has id 0 and an empty controller list; v1 entries may name several
// comma-joined controllers on one line.
func (l *Locator) parseSelfCgroup() error {
	f, err := os.Open(l.selfPath)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 {
			l.log.Debug().Str("line", line).Msg("cgroup: skipping malformed self cgroup line")
			continue
		}
		id, ctls, rel := parts[0], parts[1], parts[2]
		if id == "0" && ctls == "" {
			l.unified = rel
			continue
		}
		for _, ctl := range strings.Split(ctls, ",") {
			if ctl == "" {
				continue
			}
			l.mounts[ctl] = mount{segment: ctls, relPath: rel}
		}
	}
	return sc.Err()
}

// Resolve composes the absolute path of a controller file and verifies it
// is readable. The controller argument is ignored on v2 (single unified
// hierarchy). Failure is scoped to the requested file: the caller treats
// ErrNotFound as "this one field is unavailable", not as a fatal error
// for the accounting pass.
func (l *Locator) Resolve(controller, file string) (string, error) {
	v, err := l.Version()
	if err != nil {
		return "", err
	}
	switch v {
	case V2:
		if l.unified == "" {
			return "", fmt.Errorf("%w: no unified path for %s", ErrNotFound, file)
		}
		p := filepath.Join(l.root, l.unified, file)
		if !l.readable(p) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return p, nil

	case V1:
		if m, ok := l.mounts[controller]; ok {
			p := filepath.Join(l.root, m.segment, m.relPath, file)
			if !l.readable(p) {
				return "", fmt.Errorf("%w: %s", ErrNotFound, p)
			}
			return p, nil
		}
		// No mapping for this controller: naive guess under its plain name.
		p := filepath.Join(l.root, controller, file)
		if !l.readable(p) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return p, nil

	default:
		return "", ErrNoCgroup
	}
}

// probe reports whether path can be opened. Missing is an ordinary false;
// any other failure (typically permission) is returned so detection can
// fail instead of guessing.
func (l *Locator) probe(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	_ = f.Close()
	return true, nil
}

func (l *Locator) readable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			// Present but unreadable signals misconfiguration; keep a trace
			// even though the field degrades to absent.
			l.log.Debug().Err(err).Str("path", path).Msg("cgroup: path not readable")
		}
		return false
	}
	_ = f.Close()
	return true
}
