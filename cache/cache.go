// Package cache persists where a structure was found so the next run can skip discovery. Every
// entry handed out has just been re-resolved and re-validated against the live process.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"memlocate/layout"
	"memlocate/pointerchain"
	"memlocate/process"
	"memlocate/signature"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// Version of the on-disk format. Files written under another version are ignored.
const Version = 1

// ErrInvalid is returned when an entry no longer resolves to a valid structure.
var ErrInvalid = errors.New("cache entry invalid")

// Entry is replaced wholesale on every save.
type Entry struct {
	Version    int                          `json:"version"`
	Layout     string                       `json:"layout"`
	LayoutHash uint64                       `json:"layout_hash"`
	CreatedAt  time.Time                    `json:"created_at"`
	Identity   process.Identity             `json:"identity"`
	Address    process.ProcessMemoryAddress `json:"address"`
	Chain      *pointerchain.Descriptor     `json:"chain,omitempty"`
	Signature  signature.Signature          `json:"signature"`
}

// Cache is one JSON file bound to one layout.
type Cache struct {
	path   string
	layout *layout.Layout
	log    *logger.Logger
}

func New(path string, l *layout.Layout) *Cache {
	return &Cache{
		path:   path,
		layout: l,
		log:    logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "cache")),
	}
}

func (c *Cache) Path() string {
	return c.path
}

// Load reads the entry. Missing, corrupt and mismatched files are a miss: nil, nil.
func (c *Cache) Load() (*Entry, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache %s: %w", c.path, err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		c.log.Warn("Ignoring unreadable cache ", c.path, ": ", err)
		return nil, nil
	}
	if e.Version != Version {
		c.log.Warn("Ignoring cache version ", e.Version)
		return nil, nil
	}
	if e.LayoutHash != c.layout.Hash() {
		c.log.Infoln("Cache was written for another layout", e.Layout)
		return nil, nil
	}
	return &e, nil
}

// Save atomically replaces the file with e, stamped with the format version and layout hash.
func (c *Cache) Save(e *Entry) error {
	e.Version = Version
	e.Layout = c.layout.Name
	e.LayoutHash = c.layout.Hash()

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	// Atomic write: create temp file, write, sync, rename
	tmp, err := os.CreateTemp(dir, filepath.Base(c.path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp cache file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("failed to move cache file into place: %w", err)
	}

	c.log.Infoln("Saved", e.Address.ToString(), "to", c.path)
	return nil
}

// Invalidate deletes the file. A missing file is not an error.
func (c *Cache) Invalidate() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete cache %s: %w", c.path, err)
	}
	return nil
}

// Target is the live process an entry is checked against.
type Target struct {
	Proc     process.Process
	Identity process.Identity
}

// Resolve derives the entry's address in target and validates the structure there. In the
// instance that wrote the entry the literal address is tried first; in a later run the pointer
// chain is. Errors wrap ErrInvalid, except process.ErrProcessLost which is returned as is.
func (c *Cache) Resolve(e *Entry, t Target) (layout.Candidate, error) {
	if e.Identity.Exe != "" && t.Identity.Exe != "" && !e.Identity.SameProgram(t.Identity) {
		return layout.Candidate{}, fmt.Errorf("%w: written for %s, target is %s", ErrInvalid, e.Identity.Exe, t.Identity.Exe)
	}

	literal := func() (process.ProcessMemoryAddress, error) {
		if e.Address == 0 {
			return 0, errors.New("no literal address")
		}
		return e.Address, nil
	}
	chain := func() (process.ProcessMemoryAddress, error) {
		if e.Chain == nil {
			return 0, errors.New("no pointer chain")
		}
		img, err := t.Proc.MainImage()
		if err != nil {
			return 0, err
		}
		return e.Chain.Resolve(t.Proc, img.Base)
	}

	order := []func() (process.ProcessMemoryAddress, error){chain, literal}
	if e.Identity.SameInstance(t.Identity) {
		order = []func() (process.ProcessMemoryAddress, error){literal, chain}
	}

	var errs []error
	for _, resolve := range order {
		addr, err := resolve()
		if err == nil {
			var cand layout.Candidate
			if cand, err = c.layout.Validate(t.Proc, addr); err == nil {
				return cand, nil
			}
		}
		if errors.Is(err, process.ErrProcessLost) {
			return layout.Candidate{}, err
		}
		if aerr := t.Proc.Alive(); aerr != nil {
			return layout.Candidate{}, aerr
		}
		errs = append(errs, err)
	}
	return layout.Candidate{}, fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// Confirm resolves e and returns the structure it points at. A stale entry is deleted and reported
// as an ErrInvalid-wrapping error; a lost process leaves the file alone.
func (c *Cache) Confirm(e *Entry, t Target) (layout.Candidate, error) {
	cand, err := c.Resolve(e, t)
	if err != nil {
		c.drop(err)
		return layout.Candidate{}, err
	}
	return cand, nil
}

// Revalidate reports whether e still resolves to a valid structure. A failing entry is deleted,
// unless the failure was the process going away.
func (c *Cache) Revalidate(e *Entry, t Target) bool {
	_, err := c.Confirm(e, t)
	return err == nil
}

func (c *Cache) drop(err error) {
	if errors.Is(err, process.ErrProcessLost) {
		return
	}
	c.log.Warn("Invalidating cache: ", err)
	if derr := c.Invalidate(); derr != nil {
		c.log.Warn(derr)
	}
}

// LoadValid returns the cached entry and the structure it resolves to, or nil on a miss. A
// stale entry is deleted and reported as a miss. Only process.ErrProcessLost and I/O failures
// are errors.
func (c *Cache) LoadValid(t Target) (*Entry, layout.Candidate, error) {
	e, err := c.Load()
	if err != nil || e == nil {
		return nil, layout.Candidate{}, err
	}

	cand, err := c.Confirm(e, t)
	if err != nil {
		if errors.Is(err, process.ErrProcessLost) {
			return nil, layout.Candidate{}, err
		}
		return nil, layout.Candidate{}, nil
	}

	c.log.Infoln("Cache hit at", cand.Address.ToString())
	return e, cand, nil
}
