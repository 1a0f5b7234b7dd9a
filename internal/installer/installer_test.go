package installer

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/klauspost/compress/gzip"
	digest "github.com/opencontainers/go-digest"

	"github.com/open-edge-platform/formula-installer/internal/config"
	"github.com/open-edge-platform/formula-installer/internal/descriptor"
	"github.com/open-edge-platform/formula-installer/internal/installenv"
	_ "github.com/open-edge-platform/formula-installer/internal/provider/gitsrc"
	_ "github.com/open-edge-platform/formula-installer/internal/provider/httpsrc"
)

const geeknoteScript = `#!/bin/sh
echo "geeknote PYTHONPATH=$PYTHONPATH"
if [ "$1" = "--fail" ]; then
	exit 3
fi
exit 0
`

type tarFile struct {
	name string
	body string
	mode int64
}

func tarGz(t *testing.T, files []tarFile) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for _, f := range files {
		hdr := &tar.Header{Name: f.name, Mode: f.mode, Size: int64(len(f.body)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(f.body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

var (
	sourceFiles = []tarFile{
		{name: "geeknote-3.0.7/setup.py", body: "from setuptools import setup\n", mode: 0644},
		{name: "geeknote-3.0.7/bin/geeknote", body: geeknoteScript, mode: 0755},
		{name: "geeknote-3.0.7/completion/bash_completion/_geeknote", body: "complete -F _geeknote geeknote\n", mode: 0644},
		{name: "geeknote-3.0.7/completion/zsh_completion/_geeknote", body: "#compdef geeknote\n", mode: 0644},
	}
	thriftFiles = []tarFile{
		{name: "thrift-0.20.0/setup.py", body: "# thrift\n", mode: 0644},
	}
	soupFiles = []tarFile{
		{name: "beautifulsoup4-4.12.3/setup.py", body: "# bs4\n", mode: 0644},
	}
)

// fixture serves the geeknote archives over HTTP and builds processors
// rooted in a temporary directory.
type fixture struct {
	t     *testing.T
	srv   *httptest.Server
	files map[string][]byte
	root  string
	cfg   *config.GlobalConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t: t,
		files: map[string][]byte{
			"/geeknote-3.0.7.tar.gz":        tarGz(t, sourceFiles),
			"/thrift-0.20.0.tar.gz":         tarGz(t, thriftFiles),
			"/beautifulsoup4-4.12.3.tar.gz": tarGz(t, soupFiles),
		},
		root: t.TempDir(),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := f.files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	}))
	t.Cleanup(f.srv.Close)

	cfg := config.DefaultGlobalConfig()
	cfg.CacheDir = filepath.Join(f.root, "cache")
	cfg.Cellar = filepath.Join(f.root, "Cellar")
	cfg.TempDir = filepath.Join(f.root, "tmp")
	cfg.Workers = 2
	cfg.Progress = config.ProgressNever
	f.cfg = cfg
	return f
}

func (f *fixture) processor() *Processor {
	f.t.Helper()
	p, err := NewProcessor(f.cfg, nil)
	if err != nil {
		f.t.Fatalf("NewProcessor failed: %v", err)
	}
	return p
}

func (f *fixture) url(path string) string {
	return f.srv.URL + path
}

func (f *fixture) sum(path string) string {
	return digest.FromBytes(f.files[path]).Encoded()
}

// descriptor returns a geeknote descriptor pinned to the served archives.
// The checksums are taken when it is built, so flipping served bytes later
// simulates a tampered download.
func (f *fixture) descriptor() *descriptor.PackageDescriptor {
	return &descriptor.PackageDescriptor{
		Name:    "geeknote",
		Version: "3.0.7",
		URL:     f.url("/geeknote-3.0.7.tar.gz"),
		SHA256:  f.sum("/geeknote-3.0.7.tar.gz"),
		Resources: []descriptor.DependencyResource{
			{Name: "thrift", URL: f.url("/thrift-0.20.0.tar.gz"), SHA256: f.sum("/thrift-0.20.0.tar.gz")},
			{Name: "beautifulsoup4", URL: f.url("/beautifulsoup4-4.12.3.tar.gz"), SHA256: f.sum("/beautifulsoup4-4.12.3.tar.gz")},
		},
		Install: descriptor.InstallSpec{
			Env:              map[string]string{"PYTHONPATH": "${VENDOR}/lib"},
			ResourceCommands: []string{`echo "$RESOURCE" > .staged`},
			Commands:         []string{`echo installed > "$PREFIX/lib/marker"`},
			Files:            []descriptor.FileMapping{{From: "bin/geeknote", To: "libexec/bin/geeknote", Mode: "0755"}},
			Wrappers:         []string{"geeknote"},
		},
		Assets: []descriptor.Asset{
			{Kind: descriptor.AssetBashCompletion, From: "completion/bash_completion/_geeknote", As: "geeknote"},
			{Kind: descriptor.AssetZshCompletion, From: "completion/zsh_completion/_geeknote"},
		},
		Test: &descriptor.TestSpec{Command: "geeknote --help"},
	}
}

func (f *fixture) flip(path string) {
	data := append([]byte(nil), f.files[path]...)
	data[len(data)/2] ^= 0x01
	f.files[path] = data
}

func checkShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

// snapshot maps every path below root to its mode and content. The install
// receipt differs per install and is left out.
func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		if rel == installenv.ReceiptFile {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entry := info.Mode().String()
		if d.Type().IsRegular() {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			entry += " " + string(data)
		}
		out[rel] = entry
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestInstall(t *testing.T) {
	checkShell(t)
	f := newFixture(t)
	p := f.processor()
	d := f.descriptor()

	res, err := p.Install(context.Background(), d, Options{})
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if res.Partial() {
		t.Fatalf("unexpected partial install: %v", res.Err())
	}
	wantPrefix := filepath.Join(f.cfg.Cellar, "geeknote", "3.0.7")
	if res.Prefix != wantPrefix {
		t.Errorf("prefix %s, want %s", res.Prefix, wantPrefix)
	}

	for _, rel := range []string{
		"vendor/thrift/setup.py",
		"vendor/beautifulsoup4/setup.py",
		"libexec/bin/geeknote",
		"bin/geeknote",
		"lib/marker",
		"share/bash-completion/completions/geeknote",
		"share/zsh/site-functions/_geeknote",
		installenv.ReceiptFile,
	} {
		if _, err := os.Stat(filepath.Join(res.Prefix, rel)); err != nil {
			t.Errorf("missing %s: %v", rel, err)
		}
	}
	staged, err := os.ReadFile(filepath.Join(res.Prefix, "vendor", "thrift", ".staged"))
	if err != nil || strings.TrimSpace(string(staged)) != "thrift" {
		t.Errorf("resource command did not run in the resource: %q, %v", staged, err)
	}

	resolved, err := filepath.EvalSymlinks(res.Prefix)
	if err != nil {
		t.Fatal(err)
	}
	out, err := exec.Command(filepath.Join(res.Prefix, "bin", "geeknote")).CombinedOutput()
	if err != nil {
		t.Fatalf("wrapper failed: %v: %s", err, out)
	}
	if want := "PYTHONPATH=" + filepath.Join(resolved, "vendor", "lib"); !strings.Contains(string(out), want) {
		t.Errorf("wrapper output %q does not contain %q", out, want)
	}

	r, err := ReadReceipt(res.Prefix)
	if err != nil {
		t.Fatal(err)
	}
	if r.Source.Digest != "sha256:"+d.SHA256 || len(r.Resources) != 2 || len(r.Assets) != 2 {
		t.Errorf("unexpected receipt %+v", r)
	}
	if r.Resources[0].Name != "beautifulsoup4" {
		t.Errorf("resources not recorded in name order: %+v", r.Resources)
	}

	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(res.Prefix), "*.staging-*"))
	if len(leftovers) != 0 || installenv.New(res.Prefix).StagingDir() != "" {
		t.Errorf("staging left behind: %v", leftovers)
	}
	if _, err := os.Stat(installenv.New(res.Prefix).LockPath()); !os.IsNotExist(err) {
		t.Error("lock file left behind")
	}
}

func TestInstallIsIdempotent(t *testing.T) {
	checkShell(t)
	f := newFixture(t)
	p := f.processor()
	d := f.descriptor()

	first, err := p.Install(context.Background(), d, Options{})
	if err != nil {
		t.Fatal(err)
	}
	before := snapshot(t, first.Prefix)

	again, err := p.Install(context.Background(), d, Options{Force: true})
	if err != nil {
		t.Fatalf("reinstall failed: %v", err)
	}
	if again.AlreadyInstalled {
		t.Error("forced reinstall must not be skipped")
	}
	after := snapshot(t, again.Prefix)
	if len(before) != len(after) {
		t.Fatalf("tree changed size: %d vs %d entries", len(before), len(after))
	}
	for k, v := range before {
		if after[k] != v {
			t.Errorf("%s differs after reinstall", k)
		}
	}

	fresh, err := p.Install(context.Background(), d, Options{Prefix: filepath.Join(f.root, "fresh")})
	if err != nil {
		t.Fatal(err)
	}
	other := snapshot(t, fresh.Prefix)
	for k, v := range before {
		if other[k] != v {
			t.Errorf("%s differs between prefixes", k)
		}
	}
}

func TestInstallSkipsCurrentInstall(t *testing.T) {
	checkShell(t)
	f := newFixture(t)
	p := f.processor()
	d := f.descriptor()

	first, err := p.Install(context.Background(), d, Options{})
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.Install(context.Background(), d, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.AlreadyInstalled || res.Receipt.InstallID != first.Receipt.InstallID {
		t.Errorf("expected the current install to be kept, got %+v", res)
	}
	if !p.IsInstalled(d) {
		t.Error("IsInstalled reports false")
	}
}

func TestInstallSourceMismatchLeavesPrefixUntouched(t *testing.T) {
	f := newFixture(t)
	p := f.processor()
	d := f.descriptor()
	f.flip("/geeknote-3.0.7.tar.gz")

	_, err := p.Install(context.Background(), d, Options{})
	var ierr *IntegrityError
	if !errors.As(err, &ierr) {
		t.Fatalf("expected *IntegrityError, got %v", err)
	}
	if ierr.Name != "geeknote" {
		t.Errorf("error blames %s", ierr.Name)
	}
	if _, err := os.Stat(f.cfg.Cellar); !os.IsNotExist(err) {
		t.Error("cellar must not be created before verification succeeds")
	}
}

func TestInstallResourceMismatch(t *testing.T) {
	f := newFixture(t)
	p := f.processor()
	d := f.descriptor()
	f.flip("/thrift-0.20.0.tar.gz")

	_, err := p.Install(context.Background(), d, Options{})
	var ierr *IntegrityError
	if !errors.As(err, &ierr) {
		t.Fatalf("expected *IntegrityError, got %v", err)
	}
	if ierr.Name != "thrift" {
		t.Errorf("error blames %s, want thrift", ierr.Name)
	}
	if _, err := os.Stat(f.cfg.Cellar); !os.IsNotExist(err) {
		t.Error("cellar must not be created before verification succeeds")
	}
}

func TestInstallMismatchKeepsPreviousInstall(t *testing.T) {
	checkShell(t)
	f := newFixture(t)
	p := f.processor()
	d := f.descriptor()

	first, err := p.Install(context.Background(), d, Options{})
	if err != nil {
		t.Fatal(err)
	}
	before := snapshot(t, first.Prefix)

	f.files["/geeknote-3.0.8.tar.gz"] = []byte("truncated")
	broken := f.descriptor()
	broken.URL = f.url("/geeknote-3.0.8.tar.gz")
	if _, err := p.Install(context.Background(), broken, Options{Force: true}); err == nil {
		t.Fatal("expected integrity failure")
	}
	after := snapshot(t, first.Prefix)
	for k, v := range before {
		if after[k] != v {
			t.Errorf("%s changed by a failed install", k)
		}
	}
}

func TestInstallFetchError(t *testing.T) {
	f := newFixture(t)
	p := f.processor()
	d := f.descriptor()
	d.Resources[0].URL = f.url("/missing.tar.gz")

	_, err := p.Install(context.Background(), d, Options{})
	var ferr *FetchError
	if !errors.As(err, &ferr) {
		t.Fatalf("expected *FetchError, got %v", err)
	}
	if ferr.Name != "thrift" {
		t.Errorf("error blames %s, want thrift", ferr.Name)
	}
	var ierr *IntegrityError
	if errors.As(err, &ierr) {
		t.Error("a missing download is not an integrity failure")
	}
}

func TestInstallCommandFailureDiscardsStaging(t *testing.T) {
	checkShell(t)
	f := newFixture(t)
	p := f.processor()
	d := f.descriptor()
	d.Install.Commands = append(d.Install.Commands, "exit 7")

	_, err := p.Install(context.Background(), d, Options{})
	var ierr *InstallError
	if !errors.As(err, &ierr) {
		t.Fatalf("expected *InstallError, got %v", err)
	}
	if _, err := os.Stat(f.cfg.Cellar); err == nil {
		entries, _ := os.ReadDir(f.cfg.Cellar)
		if len(entries) != 0 {
			t.Errorf("failed install left %d entries in the cellar", len(entries))
		}
	}
}

func TestInstallMissingWrappedExecutable(t *testing.T) {
	checkShell(t)
	f := newFixture(t)
	p := f.processor()
	d := f.descriptor()
	d.Install.Wrappers = append(d.Install.Wrappers, "geeknote-sync")

	_, err := p.Install(context.Background(), d, Options{})
	var ierr *InstallError
	if !errors.As(err, &ierr) || ierr.Step != "wrapper geeknote-sync" {
		t.Fatalf("expected wrapper InstallError, got %v", err)
	}
}

func TestInstallLockedPrefix(t *testing.T) {
	f := newFixture(t)
	p := f.processor()
	d := f.descriptor()

	prefix, err := p.Prefix(d, Options{})
	if err != nil {
		t.Fatal(err)
	}
	target := installenv.New(prefix)
	if err := target.Lock(); err != nil {
		t.Fatal(err)
	}
	defer target.Unlock()

	_, err = p.Install(context.Background(), d, Options{})
	if !errors.Is(err, installenv.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	var ierr *InstallError
	if !errors.As(err, &ierr) {
		t.Errorf("expected *InstallError, got %T", err)
	}
	if target.Exists() {
		t.Error("locked install must not commit")
	}
}

func TestInstallWithoutResources(t *testing.T) {
	checkShell(t)
	f := newFixture(t)
	p := f.processor()
	d := f.descriptor()
	d.Resources = nil

	vendor := filepath.Join(f.root, "isolated", "vendor")
	if err := p.StageDependencies(context.Background(), d, vendor); err != nil {
		t.Fatalf("StageDependencies failed: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(vendor)); !os.IsNotExist(err) {
		t.Error("staging no resources must not touch the filesystem")
	}

	res, err := p.Install(context.Background(), d, Options{})
	if err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(filepath.Join(res.Prefix, installenv.VendorDir))
	if err != nil || len(entries) != 0 {
		t.Errorf("expected an empty vendor directory, got %d entries (%v)", len(entries), err)
	}
	if len(res.Receipt.Resources) != 0 {
		t.Errorf("unexpected resources in receipt: %+v", res.Receipt.Resources)
	}
}

func TestInstallMissingAssetDirectory(t *testing.T) {
	checkShell(t)
	f := newFixture(t)
	f.cfg.Completions.Bash = filepath.Join(f.root, "no", "such", "dir")
	p := f.processor()
	d := f.descriptor()

	res, err := p.Install(context.Background(), d, Options{})
	if err != nil {
		t.Fatalf("asset failures must not fail the install: %v", err)
	}
	if res.AssetErr == nil || !res.Partial() {
		t.Fatal("expected the asset failure to be reported")
	}
	if len(res.AssetErr.Failures) != 1 || res.AssetErr.Failures[0].Asset.Kind != descriptor.AssetBashCompletion {
		t.Errorf("unexpected failures %+v", res.AssetErr.Failures)
	}
	if _, err := os.Stat(f.cfg.Completions.Bash); !os.IsNotExist(err) {
		t.Error("asset destination directories must not be created")
	}
	if res.VerifyErr != nil {
		t.Errorf("smoke test should pass: %v", res.VerifyErr)
	}
	if _, err := exec.Command(filepath.Join(res.Prefix, "bin", "geeknote")).CombinedOutput(); err != nil {
		t.Errorf("binary must stay installed: %v", err)
	}
	r, err := ReadReceipt(res.Prefix)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Assets) != 1 || len(r.Warnings) == 0 {
		t.Errorf("receipt does not record the partial assets: %+v", r)
	}
}

func TestInstallExternalAssetDirectory(t *testing.T) {
	checkShell(t)
	f := newFixture(t)
	f.cfg.Completions.Zsh = filepath.Join(f.root, "site-functions")
	if err := os.Mkdir(f.cfg.Completions.Zsh, 0755); err != nil {
		t.Fatal(err)
	}
	p := f.processor()
	d := f.descriptor()

	res, err := p.Install(context.Background(), d, Options{})
	if err != nil || res.Partial() {
		t.Fatalf("Install failed: %v %v", err, res.Err())
	}
	external := filepath.Join(f.cfg.Completions.Zsh, "_geeknote")
	if _, err := os.Stat(external); err != nil {
		t.Fatalf("completion not copied: %v", err)
	}

	if err := p.Uninstall(d, ""); err != nil {
		t.Fatalf("Uninstall failed: %v", err)
	}
	if _, err := os.Stat(external); !os.IsNotExist(err) {
		t.Error("external completion survived uninstall")
	}
	if _, err := os.Stat(res.Prefix); !os.IsNotExist(err) {
		t.Error("prefix survived uninstall")
	}
	if p.IsInstalled(d) {
		t.Error("IsInstalled reports true after uninstall")
	}
	if err := p.Uninstall(d, ""); err == nil {
		t.Error("uninstalling twice should fail")
	}
}

func TestInstallSmokeTestFailure(t *testing.T) {
	checkShell(t)
	f := newFixture(t)
	p := f.processor()
	d := f.descriptor()
	d.Test.Command = "geeknote --fail"

	res, err := p.Install(context.Background(), d, Options{})
	if err != nil {
		t.Fatalf("verification failures must not fail the install: %v", err)
	}
	if res.VerifyErr == nil || res.VerifyErr.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %+v", res.VerifyErr)
	}
	if !installenv.New(res.Prefix).Exists() {
		t.Error("a failed smoke test must not roll back")
	}

	code, err := p.Test(context.Background(), d, "")
	if code != 3 || err == nil {
		t.Errorf("Test returned %d, %v", code, err)
	}
	d.Test.Command = "geeknote --help"
	if code, err := p.Test(context.Background(), d, res.Prefix); code != 0 || err != nil {
		t.Errorf("Test returned %d, %v", code, err)
	}

	skipped, err := p.Install(context.Background(), d, Options{Force: true, SkipTest: true})
	if err != nil || skipped.VerifyErr != nil {
		t.Errorf("skipped test still ran: %v %v", err, skipped.VerifyErr)
	}
}

func TestTestNotInstalled(t *testing.T) {
	f := newFixture(t)
	p := f.processor()
	code, err := p.Test(context.Background(), f.descriptor(), "")
	if err == nil || code == 0 {
		t.Errorf("expected failure for a missing install, got %d", code)
	}
}

func TestInstallMissingDependsOn(t *testing.T) {
	f := newFixture(t)
	p := f.processor()
	d := f.descriptor()
	d.DependsOn = []string{"definitely-not-a-real-command-4711"}

	_, err := p.Install(context.Background(), d, Options{})
	var ierr *InstallError
	if !errors.As(err, &ierr) || ierr.Step != "depends_on" {
		t.Fatalf("expected depends_on InstallError, got %v", err)
	}
	if !strings.Contains(err.Error(), "definitely-not-a-real-command-4711") {
		t.Errorf("error does not name the command: %v", err)
	}
}

func TestFetchOnly(t *testing.T) {
	f := newFixture(t)
	p := f.processor()
	d := f.descriptor()

	results, err := p.FetchOnly(context.Background(), d)
	if err != nil {
		t.Fatalf("FetchOnly failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for _, r := range results {
		if _, err := os.Stat(r.Path); err != nil {
			t.Errorf("%s not cached: %v", r.Name, err)
		}
	}
	if _, err := os.Stat(f.cfg.Cellar); !os.IsNotExist(err) {
		t.Error("fetching must not install")
	}
}

// headRepo creates a git repository holding the geeknote sources.
func headRepo(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range sourceFiles {
		rel := strings.TrimPrefix(f.name, "geeknote-3.0.7/")
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(f.body), os.FileMode(f.mode)); err != nil {
			t.Fatal(err)
		}
		if _, err := wt.Add(rel); err != nil {
			t.Fatal(err)
		}
	}
	hash, err := wt.Commit("import", &git.CommitOptions{
		Author: &object.Signature{Name: "dev", Email: "dev@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatal(err)
	}
	return dir, hash.String()
}

func TestInstallHead(t *testing.T) {
	checkShell(t)
	f := newFixture(t)
	p := f.processor()
	repo, commit := headRepo(t)
	d := f.descriptor()
	d.Head = &descriptor.HeadRef{URL: repo}

	res, err := p.Install(context.Background(), d, Options{Head: true})
	if err != nil {
		t.Fatalf("head install failed: %v", err)
	}
	if filepath.Base(res.Prefix) != HeadVersion {
		t.Errorf("head installed into %s", res.Prefix)
	}
	if res.Receipt.Source.Commit != commit || res.Receipt.Version != HeadVersion {
		t.Errorf("unexpected receipt source %+v", res.Receipt.Source)
	}
	if _, err := os.Stat(filepath.Join(res.Prefix, "vendor", "thrift", "setup.py")); err != nil {
		t.Errorf("resources not staged for head: %v", err)
	}

	again, err := p.Install(context.Background(), d, Options{Head: true})
	if err != nil {
		t.Fatal(err)
	}
	if again.AlreadyInstalled {
		t.Error("head installs are never current")
	}
}

func TestInstallHeadOnlyDescriptor(t *testing.T) {
	f := newFixture(t)
	p := f.processor()
	d := f.descriptor()
	d.URL, d.SHA256 = "", ""
	d.Head = &descriptor.HeadRef{URL: filepath.Join(f.root, "no-such-repo")}

	prefix, err := p.Prefix(d, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(prefix) != HeadVersion {
		t.Errorf("descriptor without source must install head, got %s", prefix)
	}
	_, err = p.Install(context.Background(), d, Options{})
	var ferr *FetchError
	if !errors.As(err, &ferr) {
		t.Fatalf("expected *FetchError for an unreachable head, got %v", err)
	}
}

func TestResolveWithoutSource(t *testing.T) {
	f := newFixture(t)
	d := f.descriptor()
	d.URL, d.SHA256 = "", ""
	_, err := f.processor().Resolve(context.Background(), d)
	var ferr *FetchError
	if !errors.As(err, &ferr) {
		t.Errorf("expected *FetchError, got %v", err)
	}
}
