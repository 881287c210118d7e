package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// stdin is where "-" reads from; replaceable in tests.
var stdin io.Reader = os.Stdin

// readSnapshot concatenates Terraform sources into one snapshot. Directories
// contribute their *.tf and *.tf.json files (not recursive); "-" reads stdin.
// Each file is preceded by a "# file:" marker so findings can name it; blank
// files are skipped and an input with no content is an error.
func readSnapshot(paths []string) (string, []string, error) {
	var files []string
	for _, p := range paths {
		if p == "-" {
			files = append(files, p)
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			return "", nil, fmt.Errorf("read %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		found, err := terraformFiles(p)
		if err != nil {
			return "", nil, err
		}
		if len(found) == 0 {
			return "", nil, fmt.Errorf("no Terraform files in %s", p)
		}
		files = append(files, found...)
	}

	var sb strings.Builder
	var used []string
	for _, f := range files {
		var data []byte
		var err error
		if f == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(f)
		}
		if err != nil {
			return "", nil, fmt.Errorf("read %s: %w", f, err)
		}
		// Blank files add no marker so an all-blank input stays empty.
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "# file: %s\n", f)
		sb.Write(data)
		if data[len(data)-1] != '\n' {
			sb.WriteByte('\n')
		}
		used = append(used, f)
	}
	if len(used) == 0 {
		return "", nil, fmt.Errorf("no Terraform source in %s", strings.Join(paths, ", "))
	}
	return sb.String(), used, nil
}

func terraformFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, ".tf") || strings.HasSuffix(name, ".tf.json")) {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}

// readOptionalFile returns the contents of path, or "" when path is empty.
func readOptionalFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	snapshot, _, err := readSnapshot([]string{path})
	return snapshot, err
}

// readPlainFile returns a file's raw contents, or "" when path is empty.
func readPlainFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}
