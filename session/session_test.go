package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func openStore(t *testing.T, mutate func(*Options)) (*Store, *fakeClock, string) {
	t.Helper()
	dir := t.TempDir()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts := DefaultOptions()
	opts.Now = clock.Now
	if mutate != nil {
		mutate(&opts)
	}
	s, err := Open(dir, opts)
	require.NoError(t, err)
	return s, clock, dir
}

func TestOpen_CreatesPermanentSession(t *testing.T) {
	s, _, dir := openStore(t, nil)

	perm := s.Permanent()
	require.Len(t, perm, 1)
	assert.True(t, s.IsPermanent(perm[0]))

	data, err := os.ReadFile(filepath.Join(dir, PermanentFile))
	require.NoError(t, err)
	assert.Equal(t, perm[0]+"\trw\n", string(data))

	// Reopening keeps the same permanent session.
	s2, err := Open(dir, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, perm, s2.Permanent())
}

func TestResolve_InvalidIDIsReplaced(t *testing.T) {
	s, _, _ := openStore(t, nil)
	ctx := context.Background()

	for _, candidate := range []string{"", "not-a-uuid", "../../etc"} {
		info, err := s.Resolve(ctx, candidate, "10.0.0.1", 0)
		require.NoError(t, err)
		_, perr := uuid.Parse(info.ID)
		assert.NoError(t, perr)
		assert.NotEqual(t, candidate, info.ID)
		assert.True(t, info.Created)
		assert.Equal(t, ModeReadWrite, info.Mode)
	}
}

func TestResolve_Reconnect(t *testing.T) {
	s, clock, _ := openStore(t, nil)
	ctx := context.Background()

	id, err := s.Issue(ctx)
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)
	info, err := s.Resolve(ctx, strings.ToUpper(id), "10.0.0.1", 0)
	require.NoError(t, err)
	assert.Equal(t, id, info.ID)
	assert.False(t, info.Created)
	assert.Equal(t, 4*24*time.Hour, info.Remaining)

	// The contact refreshed the TTL.
	clock.Advance(4*24*time.Hour + time.Hour)
	info, err = s.Resolve(ctx, id, "10.0.0.1", 0)
	require.NoError(t, err)
	assert.False(t, info.Created)
}

func TestResolve_ExpirySweep(t *testing.T) {
	s, clock, dir := openStore(t, nil)
	ctx := context.Background()

	old, err := s.Issue(ctx)
	require.NoError(t, err)
	for _, area := range DefaultAreas {
		p := filepath.Join(dir, area, old)
		require.NoError(t, os.MkdirAll(p, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(p, "upload.loom"), []byte("x"), 0o644))
	}
	perm := s.Permanent()[0]

	clock.Advance(5*24*time.Hour + time.Second)
	other, err := s.Resolve(ctx, "", "10.0.0.2", 0)
	require.NoError(t, err)

	_, known := s.Mode(old)
	assert.False(t, known)
	for _, area := range DefaultAreas {
		_, err := os.Stat(filepath.Join(dir, area, old))
		assert.True(t, os.IsNotExist(err), area)
	}
	assert.True(t, s.IsPermanent(perm))

	_, known = s.Mode(other.ID)
	assert.True(t, known)
}

func TestResolve_ExpiredCandidateIsRecreated(t *testing.T) {
	s, clock, dir := openStore(t, nil)
	ctx := context.Background()

	id, err := s.Issue(ctx)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, DefaultAreas[0], id), 0o755))

	clock.Advance(6 * 24 * time.Hour)
	info, err := s.Resolve(ctx, id, "10.0.0.1", 0)
	require.NoError(t, err)
	assert.Equal(t, id, info.ID)
	assert.True(t, info.Created)

	_, err = os.Stat(filepath.Join(dir, DefaultAreas[0], id))
	assert.True(t, os.IsNotExist(err))
}

func TestResolve_PermanentNeverExpires(t *testing.T) {
	s, clock, _ := openStore(t, nil)
	ctx := context.Background()
	perm := s.Permanent()[0]

	clock.Advance(365 * 24 * time.Hour)
	info, err := s.Resolve(ctx, perm, "10.0.0.1", 0)
	require.NoError(t, err)
	assert.Equal(t, perm, info.ID)
	assert.True(t, info.Permanent)
	assert.False(t, info.Created)

	removed, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, removed)
	assert.True(t, s.IsPermanent(perm))
}

func TestResolve_AdmissionCap(t *testing.T) {
	s, clock, _ := openStore(t, func(o *Options) {
		o.MaxActive = 2
	})
	ctx := context.Background()

	var infos []Info
	for range 3 {
		info, err := s.Resolve(ctx, "", "10.0.0.1", 10)
		require.NoError(t, err)
		infos = append(infos, info)
	}
	assert.False(t, infos[0].SessionsLimitReached)
	assert.False(t, infos[1].SessionsLimitReached)
	assert.True(t, infos[2].SessionsLimitReached)
	assert.Equal(t, 2, s.Stats().Active)

	// An active session stays admitted.
	again, err := s.Resolve(ctx, infos[0].ID, "10.0.0.1", 0)
	require.NoError(t, err)
	assert.True(t, again.Active)

	// The third keeps its id and is admitted once slots time out.
	clock.Advance(11 * time.Minute)
	third, err := s.Resolve(ctx, infos[2].ID, "10.0.0.1", 10)
	require.NoError(t, err)
	assert.Equal(t, infos[2].ID, third.ID)
	assert.False(t, third.SessionsLimitReached)
}

func TestResolve_MinInteractions(t *testing.T) {
	s, _, _ := openStore(t, nil)

	info, err := s.Resolve(context.Background(), "", "10.0.0.1", 5)
	require.NoError(t, err)
	assert.False(t, info.Active)
	assert.True(t, info.SessionsLimitReached)

	info, err = s.Resolve(context.Background(), info.ID, "10.0.0.1", 6)
	require.NoError(t, err)
	assert.True(t, info.Active)
}

func TestPersistence(t *testing.T) {
	s, clock, dir := openStore(t, nil)
	ctx := context.Background()

	id, err := s.Issue(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SetPermanent("viewer", ModeReadOnly))
	require.NoError(t, s.BindORCID("0000-0001-2345-6789", "Jane Doe", id))
	require.NoError(t, s.Close())

	reopened, err := Open(dir, Options{Now: clock.Now})
	require.NoError(t, err)
	mode, ok := reopened.Mode(id)
	require.True(t, ok)
	assert.Equal(t, ModeReadWrite, mode)

	mode, ok = reopened.Mode("viewer")
	require.True(t, ok)
	assert.Equal(t, ModeReadOnly, mode)

	b, ok := reopened.ORCID("0000-0001-2345-6789")
	require.True(t, ok)
	assert.Equal(t, "Jane Doe", b.Name)
	assert.Equal(t, []string{id}, b.Sessions)

	timeouts, err := os.ReadFile(filepath.Join(dir, TimeoutsFile))
	require.NoError(t, err)
	assert.Contains(t, string(timeouts), id+"\t1709294400.000000")
}

func TestOpen_ToleratesBadLines(t *testing.T) {
	dir := t.TempDir()
	valid := uuid.NewString()
	lines := "a\nb\tnope\nc\t12.5\n" + valid + "\t12.5\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, TimeoutsFile), []byte(lines), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, PermanentFile), []byte("p1\np2\tro\n"), 0o644))

	s, err := Open(dir, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, Stats{Known: 1, Permanent: 2}, s.Stats())

	mode, _ := s.Mode("p1")
	assert.Equal(t, ModeReadWrite, mode)
	mode, _ = s.Mode("p2")
	assert.Equal(t, ModeReadOnly, mode)
}

func TestSweep_IgnoresInvalidStoredIDs(t *testing.T) {
	dir := t.TempDir()
	expired := uuid.NewString()
	lines := strings.Join([]string{
		" \t1577836800.0",
		"\t1577836800.0",
		"..\t1577836800.0",
		"../outside\t1577836800.0",
		expired + "\t1577836800.0",
	}, "\n") + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, TimeoutsFile), []byte(lines), 0o644))

	global := filepath.Join(dir, "my-looms", "global.loom")
	require.NoError(t, os.MkdirAll(filepath.Dir(global), 0o755))
	require.NoError(t, os.WriteFile(global, []byte("x"), 0o644))
	outside := filepath.Join(filepath.Dir(dir), "outside")
	private := filepath.Join(dir, "my-looms", expired)
	require.NoError(t, os.MkdirAll(private, 0o755))

	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts := DefaultOptions()
	opts.Now = clock.Now
	s, err := Open(dir, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Stats().Known)

	removed, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{expired}, removed)

	_, err = os.Stat(global)
	assert.NoError(t, err, "global datasets must survive a sweep")
	_, err = os.Stat(private)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(outside)
	assert.True(t, os.IsNotExist(err))
}

func TestPrivateDir(t *testing.T) {
	s, _, dir := openStore(t, nil)
	id := uuid.NewString()

	got, ok := s.privateDir("my-looms", id)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "my-looms", id), got)

	for _, bad := range []string{"", ".", "..", "../x", "a/b", `a\b`} {
		_, ok := s.privateDir("my-looms", bad)
		assert.False(t, ok, bad)
	}
}

func TestAuthorize(t *testing.T) {
	s, _, _ := openStore(t, nil)
	ctx := context.Background()

	id, err := s.Issue(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SetPermanent("viewer", ModeReadOnly))

	assert.NoError(t, s.Authorize(id, true))
	assert.NoError(t, s.Authorize("viewer", false))
	assert.ErrorIs(t, s.Authorize("viewer", true), ErrUnauthorized)
	assert.ErrorIs(t, s.Authorize(uuid.NewString(), false), ErrNotFound)
}

func TestBindORCID_UnknownSession(t *testing.T) {
	s, _, _ := openStore(t, nil)
	assert.ErrorIs(t, s.BindORCID("0000", "x", uuid.NewString()), ErrNotFound)
	assert.Error(t, s.BindORCID("", "x", s.Permanent()[0]))
}

func TestSweep_PrunesORCIDBindings(t *testing.T) {
	s, clock, _ := openStore(t, nil)
	ctx := context.Background()

	id, err := s.Issue(ctx)
	require.NoError(t, err)
	require.NoError(t, s.BindORCID("0000", "A", id))
	require.NoError(t, s.BindORCID("0000", "", s.Permanent()[0]))

	clock.Advance(6 * 24 * time.Hour)
	removed, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, removed)

	b, ok := s.ORCID("0000")
	require.True(t, ok)
	assert.Equal(t, "A", b.Name)
	assert.Equal(t, []string{s.Permanent()[0]}, b.Sessions)
}

func TestTouch(t *testing.T) {
	s, clock, _ := openStore(t, nil)
	ctx := context.Background()

	id, err := s.Issue(ctx)
	require.NoError(t, err)
	clock.Advance(4 * 24 * time.Hour)
	assert.True(t, s.Touch(id))
	clock.Advance(4 * 24 * time.Hour)

	removed, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, removed)
	assert.False(t, s.Touch(uuid.NewString()))
}

func TestAuditLog(t *testing.T) {
	s, _, dir := openStore(t, nil)
	ctx := context.Background()

	id, err := s.Issue(ctx)
	require.NoError(t, err)
	_, err = s.Resolve(ctx, id, "192.168.1.9", 0)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "UUID_Log_2024-03-01.txt"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "2024-03-01T12:00:00Z\t\t"+id+"\tcreated", lines[0])
	assert.Equal(t, "2024-03-01T12:00:00Z\t192.168.1.9\t"+id+"\treconnected\t120h0m0s", lines[1])
}

func TestResolve_Concurrent(t *testing.T) {
	s, _, _ := openStore(t, func(o *Options) { o.MaxActive = 3 })
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			info, err := s.Resolve(ctx, "", "10.0.0.1", 100)
			assert.NoError(t, err)
			if info.Active {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, admitted)
}
