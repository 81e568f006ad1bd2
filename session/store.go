package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/scopeserve/internal/tsv"
	"github.com/hupe1980/scopeserve/persistence"
)

// File names inside the store directory.
const (
	TimeoutsFile  = "UUID_Timeouts.tsv"
	PermanentFile = "Permanent_Session_IDs.txt"
	ORCIDFile     = "ORCID_IDs.txt"
	auditPrefix   = "UUID_Log_"
)

var (
	// ErrNotFound is returned for session ids the store does not know.
	ErrNotFound = errors.New("session: not found")
	// ErrUnauthorized is returned for writes under a read-only session.
	ErrUnauthorized = errors.New("session: read-only session")
)

// Info is the result of resolving a session.
type Info struct {
	ID   string
	Mode Mode
	// Remaining is the TTL left at the time of contact. Zero for permanent
	// sessions.
	Remaining time.Duration
	Permanent bool
	// Created is set when a new id was registered, including replacements
	// for unparsable candidates.
	Created bool
	Active  bool
	// SessionsLimitReached is set when the session could not take an active
	// slot.
	SessionsLimitReached bool
}

// Binding links an external identity to sessions.
type Binding struct {
	ORCID    string
	Name     string
	Sessions []string
}

// Stats is a snapshot of the store's sets.
type Stats struct {
	Known     int
	Permanent int
	Active    int
}

// Store is the session record. All methods are safe for concurrent use; every
// mutation holds a single lock.
type Store struct {
	dir  string
	opts Options
	log  *slog.Logger

	mu        sync.Mutex
	lastSeen  map[string]time.Time
	permanent map[string]Mode
	active    map[string]time.Time
	orcids    map[string]*Binding
}

// Open loads the store persisted in dir, creating dir if needed. A store
// without permanent sessions gets one.
func Open(dir string, opts Options) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	opts = opts.withDefaults(dir)
	s := &Store{
		dir:       dir,
		opts:      opts,
		log:       opts.Logger.With("component", "session"),
		lastSeen:  make(map[string]time.Time),
		permanent: make(map[string]Mode),
		active:    make(map[string]time.Time),
		orcids:    make(map[string]*Binding),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	if len(s.permanent) == 0 {
		id := uuid.NewString()
		s.permanent[id] = ModeReadWrite
		if err := s.savePermanent(); err != nil {
			return nil, err
		}
		s.log.Info("permanent session created", "id", id)
	}
	return s, nil
}

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

func readFile(path string, fn func(line int, fields []string) error) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	return tsv.Scan(f, fn)
}

func (s *Store) load() error {
	err := readFile(s.path(TimeoutsFile), func(line int, fields []string) error {
		if len(fields) < 2 {
			s.log.Warn("skipping timeout line", "line", line)
			return nil
		}
		sec, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil {
			s.log.Warn("skipping timeout line", "line", line, "error", err)
			return nil
		}
		id, ok := canonicalID(fields[0])
		if !ok {
			s.log.Warn("skipping timeout line with invalid id", "line", line, "id", fields[0])
			return nil
		}
		s.lastSeen[id] = fromEpoch(sec)
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: %s: %w", TimeoutsFile, err)
	}

	err = readFile(s.path(PermanentFile), func(_ int, fields []string) error {
		mode := ModeReadWrite
		if len(fields) > 1 {
			mode = parseMode(strings.TrimSpace(fields[1]))
		}
		s.permanent[strings.TrimSpace(fields[0])] = mode
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: %s: %w", PermanentFile, err)
	}

	err = readFile(s.path(ORCIDFile), func(line int, fields []string) error {
		if len(fields) < 2 {
			s.log.Warn("skipping orcid line", "line", line)
			return nil
		}
		b := &Binding{ORCID: strings.TrimSpace(fields[0])}
		for _, id := range strings.Split(fields[1], ",") {
			if id = strings.TrimSpace(id); id != "" {
				b.Sessions = append(b.Sessions, id)
			}
		}
		if len(fields) > 2 {
			b.Name = fields[2]
		}
		s.orcids[b.ORCID] = b
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: %s: %w", ORCIDFile, err)
	}
	return nil
}

// canonicalID returns the canonical form of a session id read from disk.
func canonicalID(raw string) (string, bool) {
	u, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	return u.String(), true
}

// privateDir returns the private directory of id in area. It refuses ids
// that are not a single path element, so a sweep never removes an area root
// or anything outside it.
func (s *Store) privateDir(area, id string) (string, bool) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || filepath.Base(id) != id {
		return "", false
	}
	return filepath.Join(s.opts.DataRoot, area, id), true
}

func toEpoch(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixNano())/1e9, 'f', 6, 64)
}

func fromEpoch(sec float64) time.Time {
	whole := int64(sec)
	return time.Unix(whole, int64((sec-float64(whole))*1e9))
}

// Issue mints and logs a fresh read-write session.
func (s *Store) Issue(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	id := uuid.NewString()
	s.lastSeen[id] = now
	s.audit(now, "", id, "created", s.opts.TTL)
	s.log.InfoContext(ctx, "session issued", "id", id)
	return id, s.saveTimeouts()
}

// Resolve runs the expiry sweep, validates candidate, refreshes its last
// contact, runs admission control and reports the session's state. An
// unparsable candidate is silently replaced by a fresh id; an expired one is
// registered again after its directories were removed.
func (s *Store) Resolve(ctx context.Context, candidate, clientIP string, interactions int) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	s.sweepLocked(ctx, now)
	info := Info{ID: strings.TrimSpace(candidate)}

	if mode, ok := s.permanent[info.ID]; ok {
		info.Mode = mode
		info.Permanent = true
		s.audit(now, clientIP, info.ID, "reconnected", 0)
	} else {
		if u, err := uuid.Parse(info.ID); err == nil {
			info.ID = u.String()
		} else {
			s.log.DebugContext(ctx, "replacing invalid session id", "candidate", candidate)
			info.ID = uuid.NewString()
		}
		info.Mode = ModeReadWrite
		if last, ok := s.lastSeen[info.ID]; ok && now.Sub(last) <= s.opts.TTL {
			info.Remaining = s.opts.TTL - now.Sub(last)
			s.audit(now, clientIP, info.ID, "reconnected", info.Remaining)
		} else {
			info.Created = true
			info.Remaining = s.opts.TTL
			s.audit(now, clientIP, info.ID, "created", info.Remaining)
		}
		s.lastSeen[info.ID] = now
	}

	s.admitLocked(now, &info, interactions)

	if err := s.saveTimeouts(); err != nil {
		return info, err
	}
	return info, nil
}

func (s *Store) admitLocked(now time.Time, info *Info, interactions int) {
	for id, seen := range s.active {
		if now.Sub(seen) > s.opts.ActiveTTL {
			delete(s.active, id)
		}
	}
	_, active := s.active[info.ID]
	if active || (len(s.active) < s.opts.MaxActive && interactions > s.opts.MinInteractions) {
		s.active[info.ID] = now
		info.Active = true
		return
	}
	info.SessionsLimitReached = true
}

// Sweep removes every expired non-permanent session and its private
// directories. It returns the removed ids.
func (s *Store) Sweep(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.sweepLocked(ctx, s.opts.Now())
	if len(removed) == 0 {
		return nil, nil
	}
	return removed, s.saveTimeouts()
}

func (s *Store) sweepLocked(ctx context.Context, now time.Time) []string {
	var removed []string
	for id, last := range s.lastSeen {
		if now.Sub(last) <= s.opts.TTL {
			continue
		}
		if _, ok := s.permanent[id]; ok {
			continue
		}
		delete(s.lastSeen, id)
		delete(s.active, id)
		removed = append(removed, id)
		for _, area := range s.opts.Areas {
			dir, ok := s.privateDir(area, id)
			if !ok {
				s.log.WarnContext(ctx, "refusing to remove directory of invalid session id", "id", id, "area", area)
				continue
			}
			if err := os.RemoveAll(dir); err != nil {
				s.log.WarnContext(ctx, "removing session directory failed", "dir", dir, "error", err)
			}
		}
	}
	if len(removed) == 0 {
		return nil
	}
	slices.Sort(removed)

	pruned := false
	for _, b := range s.orcids {
		before := len(b.Sessions)
		b.Sessions = slices.DeleteFunc(b.Sessions, func(id string) bool {
			_, gone := slices.BinarySearch(removed, id)
			return gone
		})
		pruned = pruned || len(b.Sessions) != before
	}
	if pruned {
		if err := s.saveORCIDs(); err != nil {
			s.log.WarnContext(ctx, "saving orcid bindings failed", "error", err)
		}
	}
	s.log.InfoContext(ctx, "sessions expired", "count", len(removed))
	return removed
}

// Touch refreshes the last contact of a known session.
func (s *Store) Touch(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.permanent[id]; ok {
		return true
	}
	if _, ok := s.lastSeen[id]; !ok {
		return false
	}
	s.lastSeen[id] = s.opts.Now()
	return true
}

// Mode returns the access mode of a known session.
func (s *Store) Mode(id string) (Mode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modeLocked(id)
}

func (s *Store) modeLocked(id string) (Mode, bool) {
	if mode, ok := s.permanent[id]; ok {
		return mode, true
	}
	if _, ok := s.lastSeen[id]; ok {
		return ModeReadWrite, true
	}
	return "", false
}

// IsPermanent reports whether id never expires.
func (s *Store) IsPermanent(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.permanent[id]
	return ok
}

// Authorize checks that id may read, or write when write is set.
func (s *Store) Authorize(id string, write bool) error {
	mode, ok := s.Mode(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if write && !mode.CanWrite() {
		return fmt.Errorf("%w: %s", ErrUnauthorized, id)
	}
	return nil
}

// SetPermanent marks id as a permanent session with the given mode.
func (s *Store) SetPermanent(id string, mode Mode) error {
	if strings.ContainsAny(id, "\t\n") || id == "" {
		return fmt.Errorf("session: invalid id %q", id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permanent[id] = mode
	delete(s.lastSeen, id)
	if err := s.savePermanent(); err != nil {
		return err
	}
	return s.saveTimeouts()
}

// Permanent returns the permanent session ids, sorted.
func (s *Store) Permanent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.permanent))
	for id := range s.permanent {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// BindORCID links sessionID to an ORCID identity.
func (s *Store) BindORCID(orcid, name, sessionID string) error {
	if orcid == "" || strings.ContainsAny(orcid+name, "\t\n") {
		return fmt.Errorf("session: invalid orcid binding %q", orcid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.modeLocked(sessionID); !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	b, ok := s.orcids[orcid]
	if !ok {
		b = &Binding{ORCID: orcid}
		s.orcids[orcid] = b
	}
	if name != "" {
		b.Name = name
	}
	if !slices.Contains(b.Sessions, sessionID) {
		b.Sessions = append(b.Sessions, sessionID)
	}
	return s.saveORCIDs()
}

// ORCID returns the binding of an identity.
func (s *Store) ORCID(orcid string) (Binding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.orcids[orcid]
	if !ok {
		return Binding{}, false
	}
	return Binding{ORCID: b.ORCID, Name: b.Name, Sessions: slices.Clone(b.Sessions)}, true
}

// Stats returns the sizes of the session sets.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Known: len(s.lastSeen), Permanent: len(s.permanent), Active: len(s.active)}
}

// Flush rewrites every side file.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.saveTimeouts(), s.savePermanent(), s.saveORCIDs())
}

// Close flushes the store.
func (s *Store) Close() error { return s.Flush() }

func (s *Store) save(name string, fn func(w *tsv.Writer)) error {
	err := persistence.SaveToFile(s.path(name), 0o644, func(w io.Writer) error {
		tw := tsv.NewWriter(w)
		fn(tw)
		return tw.Flush()
	})
	if err != nil {
		return fmt.Errorf("session: save %s: %w", name, err)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (s *Store) saveTimeouts() error {
	return s.save(TimeoutsFile, func(w *tsv.Writer) {
		for _, id := range sortedKeys(s.lastSeen) {
			w.Write(id, toEpoch(s.lastSeen[id]))
		}
	})
}

func (s *Store) savePermanent() error {
	return s.save(PermanentFile, func(w *tsv.Writer) {
		for _, id := range sortedKeys(s.permanent) {
			w.Write(id, string(s.permanent[id]))
		}
	})
}

func (s *Store) saveORCIDs() error {
	return s.save(ORCIDFile, func(w *tsv.Writer) {
		for _, orcid := range sortedKeys(s.orcids) {
			b := s.orcids[orcid]
			w.Write(b.ORCID, strings.Join(b.Sessions, ","), b.Name)
		}
	})
}

// audit appends one line to the day's audit log. Failures are logged.
func (s *Store) audit(now time.Time, clientIP, id, event string, remaining time.Duration) {
	name := auditPrefix + now.UTC().Format("2006-01-02") + ".txt"
	f, err := os.OpenFile(s.path(name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.log.Warn("audit log unavailable", "file", name, "error", err)
		return
	}
	defer f.Close()

	w := tsv.NewWriter(f)
	fields := []string{now.UTC().Format(time.RFC3339), clientIP, id, event}
	if event == "reconnected" && remaining > 0 {
		fields = append(fields, remaining.Round(time.Second).String())
	}
	w.Write(fields...)
	if err := w.Flush(); err != nil {
		s.log.Warn("audit log write failed", "file", name, "error", err)
	}
}
