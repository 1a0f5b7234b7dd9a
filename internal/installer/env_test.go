package installer

import (
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestStepEnv(t *testing.T) {
	t.Setenv("FORMULA_TEST_HOME", "/home/dev")
	declared := map[string]string{
		"PYTHONPATH": "${VENDOR}/lib/python",
		"CONFIG":     "$FORMULA_TEST_HOME/.geeknote",
	}

	got := stepEnv("/opt/geeknote", "/tmp/src", declared, "RESOURCE=thrift")
	want := []string{
		"LIBEXEC=/opt/geeknote/libexec",
		"PREFIX=/opt/geeknote",
		"SOURCE=/tmp/src",
		"VENDOR=/opt/geeknote/vendor",
		"CONFIG=/home/dev/.geeknote",
		"PYTHONPATH=/opt/geeknote/vendor/lib/python",
		"RESOURCE=thrift",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("stepEnv:\n got %v\nwant %v", got, want)
	}
}

func TestShellValue(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "plain", want: `"plain"`},
		{in: "${VENDOR}/lib", want: `"${VENDOR}/lib"`},
		{in: "$HOME/x:$VENDOR", want: `"${HOME}/x:${VENDOR}"`},
		{in: `say "hi"`, want: `"say \"hi\""`},
		{in: "back\\slash `cmd`", want: "\"back\\\\slash \\`cmd\\`\""},
		{in: "", want: `""`},
	}
	for _, tt := range tests {
		if got := shellValue(tt.in); got != tt.want {
			t.Errorf("shellValue(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestShellValueEvaluatesInShell(t *testing.T) {
	checkShell(t)
	in := "${VENDOR}/lib \"quoted\" `not run` \\ $"
	script := "VENDOR=/v\nX=" + shellValue(in) + "\nprintf %s \"$X\""
	out, err := exec.Command("sh", "-c", script).Output()
	if err != nil {
		t.Fatal(err)
	}
	if want := "/v/lib \"quoted\" `not run` \\ $"; string(out) != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestWrapperScript(t *testing.T) {
	script := string(wrapperScript("geeknote", map[string]string{
		"PYTHONPATH": "${VENDOR}/lib",
		"GEEKNOTE":   "1",
	}))
	if !strings.HasPrefix(script, "#!/bin/sh\n") {
		t.Errorf("missing shebang:\n%s", script)
	}
	exportA := strings.Index(script, "export GEEKNOTE=\"1\"")
	exportB := strings.Index(script, "export PYTHONPATH=\"${VENDOR}/lib\"")
	if exportA < 0 || exportB < 0 || exportA > exportB {
		t.Errorf("exports missing or unsorted:\n%s", script)
	}
	if !strings.HasSuffix(script, "exec \"$LIBEXEC/bin/geeknote\" \"$@\"\n") {
		t.Errorf("wrapper does not exec the tool:\n%s", script)
	}
}

func TestWrapperScriptIsRelocatable(t *testing.T) {
	checkShell(t)
	root := t.TempDir()
	for _, dir := range []string{"bin", "libexec/bin"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			t.Fatal(err)
		}
	}
	tool := "#!/bin/sh\nprintf '%s|%s' \"$PYTHONPATH\" \"$1\"\n"
	if err := os.WriteFile(filepath.Join(root, "libexec", "bin", "geeknote"), []byte(tool), 0755); err != nil {
		t.Fatal(err)
	}
	shim := wrapperScript("geeknote", map[string]string{"PYTHONPATH": "${VENDOR}/lib"})
	if err := os.WriteFile(filepath.Join(root, "bin", "geeknote"), shim, 0755); err != nil {
		t.Fatal(err)
	}

	moved := filepath.Join(t.TempDir(), "moved")
	if err := os.Rename(root, moved); err != nil {
		t.Fatal(err)
	}
	resolved, err := filepath.EvalSymlinks(moved)
	if err != nil {
		t.Fatal(err)
	}
	out, err := exec.Command(filepath.Join(moved, "bin", "geeknote"), "sync").Output()
	if err != nil {
		t.Fatalf("wrapper failed: %v", err)
	}
	if want := filepath.Join(resolved, "vendor", "lib") + "|sync"; string(out) != want {
		t.Errorf("got %q, want %q", out, want)
	}
}
