package registry_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waabox/gamedeck/internal/cancel"
	"github.com/waabox/gamedeck/internal/domain"
	"github.com/waabox/gamedeck/internal/process"
	"github.com/waabox/gamedeck/internal/registry"
)

func newRegistry() *registry.Registry {
	return registry.New(nil, 200*time.Millisecond)
}

func TestCreate_GeneratesUUID(t *testing.T) {
	r := newRegistry()

	d, err := r.Create(domain.FamilyFactorio, "/srv/factorio", nil, "")

	require.NoError(t, err)
	_, err = uuid.Parse(d.ID())
	assert.NoError(t, err)
	assert.Equal(t, domain.FamilyFactorio, d.Family())
	assert.Equal(t, "/srv/factorio", d.TargetDir())
	assert.False(t, d.StartTime().IsZero())
}

func TestCreate_RejectsDuplicateSuggestedID(t *testing.T) {
	r := newRegistry()
	_, err := r.Create(domain.FamilyMinecraft, "/a", nil, "survival")
	require.NoError(t, err)

	_, err = r.Create(domain.FamilyMinecraft, "/b", nil, "survival")

	assert.True(t, errors.Is(err, domain.ErrAlreadyExists))
	assert.Equal(t, 1, r.Len())
}

func TestList_OrdersByStartTime(t *testing.T) {
	r := newRegistry()
	first, _ := r.Create(domain.FamilyMinecraft, "/a", nil, "first")
	time.Sleep(2 * time.Millisecond)
	second, _ := r.Create(domain.FamilyMrpack, "/b", nil, "second")
	second.SetStage("download")

	list := r.List()

	require.Len(t, list, 2)
	assert.Equal(t, first.ID(), list[0].ID)
	assert.Equal(t, second.ID(), list[1].ID)
	assert.Equal(t, domain.FamilyMrpack, list[1].Family)
	assert.Equal(t, "/b", list[1].TargetDir)
	assert.Equal(t, "download", list[1].Stage)
}

func TestCancel_UnknownIDChangesNothing(t *testing.T) {
	r := newRegistry()
	d, _ := r.Create(domain.FamilyMinecraft, "/a", nil, "known")

	assert.False(t, r.Cancel("unknown"))
	assert.Equal(t, 1, r.Len())
	assert.False(t, d.Token().Cancelled())
}

func TestCancel_FinishedPipelineIsLeftToItsFinalizer(t *testing.T) {
	r := newRegistry()
	d, _ := r.Create(domain.FamilyMinecraft, "/a", nil, "")
	dir := t.TempDir()
	d.TrackTempDir(dir)

	require.True(t, r.Cancel(d.ID()))
	assert.True(t, d.Token().Cancelled())
	d.Finish()
	time.Sleep(400 * time.Millisecond)

	assert.Equal(t, 1, r.Len())
	assert.DirExists(t, dir)

	r.Finalize(d)
	assert.Zero(t, r.Len())
	assert.NoDirExists(t, dir)
}

func TestCancel_StuckPipelineIsForcedDown(t *testing.T) {
	r := newRegistry()
	d, _ := r.Create(domain.FamilyMinecraft, "/a", nil, "")
	dir := filepath.Join(t.TempDir(), "work")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	d.TrackTempDir(dir)

	// The process runs under its own token so only the registry can stop it.
	started := make(chan *process.Handle, 1)
	go process.NewSupervisor(time.Second).Run(cancel.New(context.Background()), process.Command{
		Path: "/bin/sh",
		Args: []string{"-c", "trap '' TERM; while true; do sleep 0.1; done"},
		OnStart: func(h *process.Handle) {
			d.TrackProcess(h)
			started <- h
		},
	})
	h := <-started

	require.True(t, r.Cancel(d.ID()))

	assert.Eventually(t, func() bool { return r.Len() == 0 }, 3*time.Second, 20*time.Millisecond)
	assert.True(t, h.Exited())
	assert.NoDirExists(t, dir)
}

func TestCancelAll(t *testing.T) {
	r := newRegistry()
	a, _ := r.Create(domain.FamilyMinecraft, "/a", nil, "")
	b, _ := r.Create(domain.FamilyFactorio, "/b", nil, "")

	assert.Equal(t, 2, r.CancelAll())
	assert.True(t, a.Token().Cancelled())
	assert.True(t, b.Token().Cancelled())
	a.Finish()
	b.Finish()
}

func TestCleanup_IsIdempotent(t *testing.T) {
	r := newRegistry()
	d, _ := r.Create(domain.FamilyTModLoader, "/a", nil, "")
	first := t.TempDir()
	second := t.TempDir()
	d.TrackTempDir(first)
	d.TrackTempDir(second)

	r.Finalize(d)
	r.Finalize(d)

	assert.NoDirExists(t, first)
	assert.NoDirExists(t, second)
	_, ok := r.Get(d.ID())
	assert.False(t, ok)
}

func TestReport_StampsDeploymentAndTime(t *testing.T) {
	var mu sync.Mutex
	var events []domain.ProgressEvent
	r := newRegistry()
	d, _ := r.Create(domain.FamilyMinecraft, "/a", func(e domain.ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}, "with-sink")

	d.Report("downloading", domain.LevelInfo)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, "with-sink", events[0].DeploymentID)
	assert.Equal(t, "downloading", events[0].Message)
	assert.Equal(t, domain.LevelInfo, events[0].Level)
	assert.False(t, events[0].Time.IsZero())
}

func TestFinalize_LeavesReusedIDAlone(t *testing.T) {
	r := newRegistry()
	first, _ := r.Create(domain.FamilyMinecraft, "/a", nil, "x")
	firstDir := t.TempDir()
	first.TrackTempDir(firstDir)

	require.True(t, r.Cancel("x"))
	require.Eventually(t, func() bool { return r.Len() == 0 }, 3*time.Second, 10*time.Millisecond)

	second, err := r.Create(domain.FamilyMinecraft, "/a", nil, "x")
	require.NoError(t, err)
	secondDir := t.TempDir()
	second.TrackTempDir(secondDir)

	first.Finish()
	r.Finalize(first)

	got, ok := r.Get("x")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.DirExists(t, secondDir)
	assert.NoDirExists(t, firstDir)
	assert.False(t, second.Token().Cancelled())
}
