package zutil

import (
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestGetPathInfo(t *testing.T) {
	fullPath, parentDir, err := GetPathInfo(filepath.Join("sub", "file.zl"))
	if err != nil {
		t.Fatalf("GetPathInfo failed: %v", err)
	}
	if !filepath.IsAbs(fullPath) {
		t.Errorf("fullPath %q is not absolute", fullPath)
	}
	if !strings.HasSuffix(fullPath, filepath.Join("sub", "file.zl")) {
		t.Errorf("fullPath %q does not end with the input path", fullPath)
	}
	if parentDir != filepath.Dir(fullPath) {
		t.Errorf("parentDir = %q, want %q", parentDir, filepath.Dir(fullPath))
	}
}

func TestOutputPath(t *testing.T) {
	if got := OutputPath("src/app.zl", "out/custom.c", "c"); got != "out/custom.c" {
		t.Errorf("explicit path not honored: %q", got)
	}
	if got := OutputPath("src/app.zl", "", "c"); got != "src/app.c" {
		t.Errorf("OutputPath c = %q, want src/app.c", got)
	}
	if got := OutputPath("app", "", "c"); got != "app.c" {
		t.Errorf("OutputPath without extension = %q, want app.c", got)
	}

	want := "src/app"
	if runtime.GOOS == "windows" {
		want += ".exe"
	}
	if got := OutputPath("src/app.zl", "", "exe"); got != want {
		t.Errorf("OutputPath exe = %q, want %q", got, want)
	}
}
