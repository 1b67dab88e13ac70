package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waabox/gamedeck/internal/domain"
	"github.com/waabox/gamedeck/internal/pipeline"
	"github.com/waabox/gamedeck/internal/process"
)

func staticResolver(url, version, name string) domain.Resolver {
	return domain.ResolverFunc(func(context.Context, domain.Family, string) (domain.Download, error) {
		return domain.Download{URL: url, Version: version, FileName: name}, nil
	})
}

func TestFactorio_ExtractsAndLocatesBinary(t *testing.T) {
	srv := serveFiles(t, map[string][]byte{
		"/factorio.tar.xz": tarXzBytes(t, []file{
			{name: "factorio/bin/x64/factorio", body: "elf", mode: 0o644},
			{name: "factorio/data/base/info.json", body: "{}"},
		}),
	})
	env := newEnv(t, staticResolver(srv.URL+"/factorio.tar.xz", "1.1.110", ""))
	d := newDeployment(t)

	details, err := pipeline.NewFactorio(env).Run(d, pipeline.Request{Selector: "stable"})

	require.NoError(t, err)
	exe := filepath.Join(d.target, "bin", "x64", "factorio")
	assert.Equal(t, exe, details.Executable)
	assert.Equal(t, "1.1.110", details.Version)
	info, err := os.Stat(exe)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o100)
	assert.FileExists(t, filepath.Join(d.target, "data", "base", "info.json"))
	assert.NoFileExists(t, filepath.Join(d.target, "factorio.tar.xz"))
	requireEmptyDir(t, env.TempRoot)
	assert.Len(t, d.temps, 1)
	assert.Contains(t, filepath.Base(d.temps[0]), "gamedeck-factorio-")
	assert.NotContains(t, d.stages, pipeline.StageGate)
	assert.Equal(t, pipeline.StageCleanup, d.stages[len(d.stages)-1])
}

func TestFactorio_RelocationConflictFails(t *testing.T) {
	srv := serveFiles(t, map[string][]byte{
		"/factorio.tar.xz": tarXzBytes(t, []file{
			{name: "factorio/bin/x64/factorio", body: "elf"},
			{name: "factorio/data/base/info.json", body: "{}"},
		}),
	})
	env := newEnv(t, staticResolver(srv.URL+"/factorio.tar.xz", "1.1.110", ""))
	d := newDeployment(t)
	require.NoError(t, os.MkdirAll(d.target, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(d.target, "bin"), []byte("in the way"), 0o644))

	_, err := pipeline.NewFactorio(env).Run(d, pipeline.Request{})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrMoveFailed))
	assert.NoDirExists(t, filepath.Join(d.target, "data"))
	assert.Contains(t, d.stages, pipeline.StageRelocate)
}

func TestTModLoader_MarksScriptsExecutable(t *testing.T) {
	srv := serveFiles(t, map[string][]byte{
		"/tModLoader.zip": zipBytes(t, []file{
			{name: "start-tModLoaderServer.sh", body: "#!/bin/sh\n"},
			{name: "LaunchUtils/ScriptCaller.sh", body: "#!/bin/sh\n"},
			{name: "tModLoader.dll", body: "dll"},
		}),
	})
	env := newEnv(t, staticResolver(srv.URL+"/tModLoader.zip", "v2024.05.3.0", ""))
	d := newDeployment(t)

	details, err := pipeline.NewTModLoader(env).Run(d, pipeline.Request{})

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(d.target, "start-tModLoaderServer.sh"), details.Executable)
	for _, p := range []string{"start-tModLoaderServer.sh", filepath.Join("LaunchUtils", "ScriptCaller.sh")} {
		info, err := os.Stat(filepath.Join(d.target, p))
		require.NoError(t, err)
		assert.NotZero(t, info.Mode().Perm()&0o100, p)
	}
	assert.Contains(t, d.stages, pipeline.StageGate)
	requireEmptyDir(t, env.TempRoot)
}

func TestTModLoader_GateStopsAtWorldPicker(t *testing.T) {
	script := "#!/bin/sh\n" +
		"[ \"$1\" = -nosteam ] || exit 7\n" +
		"echo 'Installing dotnet runtime'\n" +
		"echo 'Choose World:'\n" +
		"trap 'exit 0' TERM\n" +
		"while true; do sleep 0.1; done\n"
	srv := serveFiles(t, map[string][]byte{
		"/tModLoader.zip": zipBytes(t, []file{
			{name: "start-tModLoaderServer.sh", body: script},
			{name: "tModLoader.dll", body: "dll"},
		}),
	})
	env := newEnv(t, staticResolver(srv.URL+"/tModLoader.zip", "v2024.05.3.0", ""))
	d := newDeployment(t)

	details, err := pipeline.NewTModLoader(env).Run(d, pipeline.Request{})

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(d.target, "start-tModLoaderServer.sh"), details.Executable)
	require.Len(t, d.procs, 1)
	assert.True(t, d.procs[0].Exited())
	assert.Contains(t, d.messages, "Choose World:")
	assert.Contains(t, d.messages, "first-run prompt reached (Choose World:), server stopped")
	requireEmptyDir(t, env.TempRoot)
}

func TestBundle_MissingExecutableFails(t *testing.T) {
	srv := serveFiles(t, map[string][]byte{
		"/broken.zip": zipBytes(t, []file{{name: "readme.txt", body: "nothing"}}),
	})
	env := newEnv(t, staticResolver(srv.URL+"/broken.zip", "1", ""))
	d := newDeployment(t)

	_, err := pipeline.NewTModLoader(env).Run(d, pipeline.Request{})

	assert.True(t, errors.Is(err, domain.ErrExtractionFailed))
	assert.NoDirExists(t, d.target)
}

func TestBundle_GateStopsAtLicensePrompt(t *testing.T) {
	srv := serveFiles(t, map[string][]byte{
		"/fake.zip": zipBytes(t, []file{{
			name: "server.jar",
			body: "#!/bin/sh\necho 'eula: please agree'\ntrap 'exit 0' TERM\nwhile true; do sleep 0.1; done\n",
			mode: 0o755,
		}}),
	})
	env := newEnv(t, staticResolver(srv.URL+"/fake.zip", "1.0", ""))
	p := pipeline.NewBundle(env, pipeline.BundleSpec{
		Family:      "fake",
		Executables: []string{"server.jar"},
		Gate: func(root, exe string) process.Command {
			return process.Command{Path: "/bin/sh", Args: []string{exe}, Dir: root}
		},
	})
	d := newDeployment(t)

	details, err := p.Run(d, pipeline.Request{})

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(d.target, "server.jar"), details.Executable)
	assert.FileExists(t, details.Executable)
	require.Len(t, d.procs, 1)
	assert.True(t, d.procs[0].Exited())
	assert.Contains(t, d.messages, "eula: please agree")
	assert.Contains(t, d.stages, pipeline.StageGate)
	requireEmptyDir(t, env.TempRoot)
}
