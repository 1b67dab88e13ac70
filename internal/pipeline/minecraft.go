package pipeline

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/waabox/gamedeck/internal/domain"
	"github.com/waabox/gamedeck/internal/process"
)

// Minecraft installs vanilla, Forge, NeoForge, Fabric or Quilt servers from
// a single jar. Installer jars are run with --installServer before the
// first run.
type Minecraft struct {
	env *Env
}

// NewMinecraft creates the minecraft pipeline.
func NewMinecraft(env *Env) *Minecraft {
	return &Minecraft{env: env}
}

// Family returns domain.FamilyMinecraft.
func (m *Minecraft) Family() domain.Family {
	return domain.FamilyMinecraft
}

// Run provisions a server jar into the deployment's target directory.
// The "java" option overrides the configured runtime.
func (m *Minecraft) Run(d Deployment, req Request) (domain.Details, error) {
	s := newStages(m.env, d, m.Family())
	var details domain.Details

	var dl domain.Download
	if err := s.step(StageResolve, func() (err error) {
		dl, err = s.resolve(m.Family(), req.Selector)
		return err
	}); err != nil {
		return details, err
	}
	details.Version = dl.Version
	details.LoaderType = loaderFromJar(dl.FileName)

	var java string
	if err := s.step(StageCheck, func() (err error) {
		java, err = m.checkJava(s, req, dl.Version)
		return err
	}); err != nil {
		return details, err
	}

	var work string
	if err := s.step(StageWorkdir, func() (err error) {
		work, err = s.workdir()
		return err
	}); err != nil {
		return details, err
	}

	var jar string
	if err := s.step(StageDownload, func() (err error) {
		jar, err = s.fetch(dl, work)
		return err
	}); err != nil {
		return details, err
	}

	exe, err := m.installAndGate(s, java, work, jar)
	if err != nil {
		return details, err
	}

	if err := s.step(StageRelocate, func() (err error) {
		details.SkippedFiles, err = s.relocate(work, d.TargetDir())
		return err
	}); err != nil {
		return details, err
	}
	details.Executable = inTarget(work, d.TargetDir(), exe)

	s.cleanup(work)
	return details, nil
}

// installAndGate runs the installer stage when jar is an installer, then
// the first-run gate. It returns the launch file left in dir.
func (m *Minecraft) installAndGate(s *stages, java, dir, jar string) (string, error) {
	launch := jar
	if isInstaller(jar) {
		if err := s.step(StageInstall, func() error {
			err := s.install(process.Command{
				Path: java,
				Args: []string{"-jar", filepath.Base(jar), "--installServer"},
				Dir:  dir,
			})
			if err != nil {
				return err
			}
			os.Remove(jar)
			os.Remove(jar + ".log")
			return nil
		}); err != nil {
			return "", err
		}
		found, err := launchFile(dir)
		if err != nil {
			return "", err
		}
		launch = found
	}

	if err := s.step(StageGate, func() error {
		return s.gate(launchCommand(java, dir, launch))
	}); err != nil {
		return "", err
	}
	return launch, nil
}

func isInstaller(jar string) bool {
	name := strings.ToLower(filepath.Base(jar))
	return strings.HasPrefix(name, "forge-") || strings.HasPrefix(name, "neoforge-")
}

func loaderFromJar(name string) string {
	name = strings.ToLower(name)
	for _, l := range []string{"neoforge", "forge", "fabric", "quilt"} {
		if strings.HasPrefix(name, l+"-") || strings.HasPrefix(name, l+"_") {
			return l
		}
	}
	return "vanilla"
}

// launchFile picks what an installer produced: the platform run script, or
// the server jar for installers that predate run scripts.
func launchFile(dir string) (string, error) {
	scripts := []string{"run.sh", "run.bat"}
	if runtime.GOOS == "windows" {
		scripts = []string{"run.bat", "run.sh"}
	}
	if p, ok := probe(dir, scripts); ok {
		return p, nil
	}

	jars, err := filepath.Glob(filepath.Join(dir, "*.jar"))
	if err != nil || len(jars) == 0 {
		return "", fmt.Errorf("%w: installer produced no run script or server jar", domain.ErrExtractionFailed)
	}
	sort.Strings(jars)
	for _, j := range jars {
		name := strings.ToLower(filepath.Base(j))
		if strings.Contains(name, "server") || strings.Contains(name, "forge") {
			return j, nil
		}
	}
	return jars[0], nil
}

func launchCommand(java, dir, launch string) process.Command {
	switch strings.ToLower(filepath.Ext(launch)) {
	case ".sh":
		makeExecutable(launch)
		return process.Command{Path: "/bin/sh", Args: []string{filepath.Base(launch), "nogui"}, Dir: dir}
	case ".bat":
		return process.Command{Path: "cmd", Args: []string{"/c", filepath.Base(launch), "nogui"}, Dir: dir}
	default:
		return process.Command{Path: java, Args: []string{"-jar", filepath.Base(launch), "nogui"}, Dir: dir}
	}
}

// checkJava locates the runtime and verifies it is new enough for version.
func (m *Minecraft) checkJava(s *stages, req Request, version string) (string, error) {
	candidate := req.Option("java", m.env.JavaPath)
	if candidate == "" {
		candidate = "java"
	}
	java, err := exec.LookPath(candidate)
	if err != nil {
		return "", fmt.Errorf("%w: java runtime %q not found: %v", domain.ErrMissingPrerequisite, candidate, err)
	}

	required := RequiredJava(version)
	if required == 0 {
		return java, nil
	}
	found, err := javaMajor(s, java)
	if err != nil {
		return "", err
	}
	if found == 0 {
		s.warn("could not determine java version of %s", java)
		return java, nil
	}
	if found < required {
		return "", fmt.Errorf("%w: minecraft %s requires java %d, %s is java %d",
			domain.ErrMissingPrerequisite, version, required, java, found)
	}
	s.info("using java %d", found)
	return java, nil
}

var (
	mcVersionPattern   = regexp.MustCompile(`^(\d+\.\d+(?:\.\d+)?)`)
	javaVersionPattern = regexp.MustCompile(`version "(\d+)(?:\.(\d+))?`)
)

var javaRequirements = []struct {
	constraint string
	major      int
}{
	{">= 1.20.5", 21},
	{">= 1.18", 17},
	{">= 1.17", 16},
	{">= 1.0", 8},
}

// RequiredJava returns the minimum Java major for a Minecraft version, or
// zero when the version is not a release number.
func RequiredJava(version string) int {
	match := mcVersionPattern.FindStringSubmatch(version)
	if match == nil {
		return 0
	}
	v, err := semver.NewVersion(match[1])
	if err != nil {
		return 0
	}
	for _, r := range javaRequirements {
		c, err := semver.NewConstraint(r.constraint)
		if err != nil {
			continue
		}
		if c.Check(v) {
			return r.major
		}
	}
	return 0
}

// javaMajor runs java -version and parses the major version. Zero means the
// output was not recognised.
func javaMajor(s *stages, java string) (int, error) {
	var major int
	_, err := s.env.supervisor().Run(s.d.Token(), process.Command{
		Path: java,
		Args: []string{"-version"},
		OnStart: func(h *process.Handle) {
			s.d.TrackProcess(h)
		},
		OnLine: func(line string) {
			if major == 0 {
				major = parseJavaMajor(line)
			}
		},
		HardTimeout: s.env.supervisor().Grace() * 2,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: running %s -version: %w", domain.ErrMissingPrerequisite, java, err)
	}
	return major, nil
}

func parseJavaMajor(line string) int {
	m := javaVersionPattern.FindStringSubmatch(line)
	if m == nil {
		return 0
	}
	major, _ := strconv.Atoi(m[1])
	if major == 1 && m[2] != "" {
		major, _ = strconv.Atoi(m[2])
	}
	return major
}
