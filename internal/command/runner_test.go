package command

import (
	"context"
	"runtime"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	args, err := Parse(`spleeter separate -p "spleeter:2stems" -o {output} {input}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []string{"spleeter", "separate", "-p", "spleeter:2stems", "-o", "{output}", "{input}"}
	if strings.Join(args, "|") != strings.Join(want, "|") {
		t.Fatalf("args = %v, want %v", args, want)
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := Parse("   "); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestExpand(t *testing.T) {
	args := Expand([]string{"-o", "{output}", "{input}", "plain"}, map[string]string{
		"input":  "/tmp/run/song.mp3",
		"output": "/tmp/run/separated",
	})
	if args[1] != "/tmp/run/separated" || args[2] != "/tmp/run/song.mp3" || args[3] != "plain" {
		t.Fatalf("unexpected expansion: %v", args)
	}
}

func TestExecRunnerExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	res, err := ExecRunner{}.Run(context.Background(), "sh", "-c", "echo boom >&2; exit 3")
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if res.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", res.ExitCode)
	}
	if !strings.Contains(res.Stderr, "boom") {
		t.Fatalf("stderr = %q", res.Stderr)
	}

	log := NewLog("sh", []string{"-c", "exit 3"}, res)
	if log.ExitCode != 3 || log.Command != "sh" {
		t.Fatalf("unexpected log: %+v", log)
	}
}

func TestExecRunnerSuccess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	res, err := ExecRunner{}.Run(context.Background(), "sh", "-c", "printf ok")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Stdout != "ok" || res.ExitCode != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}
