package installer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/open-edge-platform/formula-installer/internal/installenv"
)

// Placeholders available to install commands and install.env values.
const (
	EnvPrefix   = "PREFIX"
	EnvVendor   = "VENDOR"
	EnvLibexec  = "LIBEXEC"
	EnvSource   = "SOURCE"
	EnvResource = "RESOURCE"
)

// stepEnv builds the KEY=VALUE list for commands that populate root.
// declared values may reference the placeholders and the process
// environment.
func stepEnv(root, sourceDir string, declared map[string]string, extra ...string) []string {
	vars := map[string]string{
		EnvPrefix:  root,
		EnvVendor:  installenv.VendorPrefix(root),
		EnvLibexec: filepath.Join(root, installenv.LibexecDir),
		EnvSource:  sourceDir,
	}
	lookup := func(name string) string {
		if v, ok := vars[name]; ok {
			return v
		}
		return os.Getenv(name)
	}

	env := make([]string, 0, len(vars)+len(declared)+len(extra))
	for _, k := range sortedKeys(vars) {
		env = append(env, k+"="+vars[k])
	}
	for _, k := range sortedKeys(declared) {
		env = append(env, k+"="+os.Expand(declared[k], lookup))
	}
	return append(env, extra...)
}

// wrapperScript returns a shim that exports the declared environment and
// runs libexec/bin/<tool>. The prefix is derived from the script location
// so a committed prefix can be moved as a whole.
func wrapperScript(tool string, declared map[string]string) []byte {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("# generated by formula-installer, do not edit\n")
	b.WriteString(`PREFIX="$(cd "$(dirname "$0")/.." && pwd -P)"` + "\n")
	fmt.Fprintf(&b, "%s=\"$%s/%s\"\n", EnvVendor, EnvPrefix, installenv.VendorDir)
	fmt.Fprintf(&b, "%s=\"$%s/%s\"\n", EnvLibexec, EnvPrefix, installenv.LibexecDir)
	for _, k := range sortedKeys(declared) {
		fmt.Fprintf(&b, "export %s=%s\n", k, shellValue(declared[k]))
	}
	fmt.Fprintf(&b, "exec \"$%s/bin/%s\" \"$@\"\n", EnvLibexec, tool)
	return []byte(b.String())
}

// shellValue double-quotes v for sh. Variable references stay live and are
// expanded when the script runs; everything else is literal.
func shellValue(v string) string {
	const mark = "\x00"
	marked := os.Expand(v, func(name string) string {
		return mark + name + mark
	})

	var b strings.Builder
	b.WriteByte('"')
	for i, part := range strings.Split(marked, mark) {
		if i%2 == 1 {
			b.WriteString("${" + part + "}")
			continue
		}
		for _, r := range part {
			switch r {
			case '"', '\\', '$', '`':
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
