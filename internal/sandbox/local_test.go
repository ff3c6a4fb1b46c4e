package sandbox

import (
	"context"
	"testing"
	"time"
)

func newTestSandbox(t *testing.T) *Local {
	t.Helper()
	inst, err := NewLocal(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}
	return inst
}

func TestMountAndRead(t *testing.T) {
	inst := newTestSandbox(t)

	err := inst.Mount(map[string]string{
		"/index.html":   "<html></html>",
		"/src/main.js":  "console.log(1)",
		"/src/app/x.js": "x",
	})
	if err != nil {
		t.Fatalf("Mount failed: %v", err)
	}

	content, err := inst.FS().ReadFile("/src/main.js")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if content != "console.log(1)" {
		t.Errorf("content = %q", content)
	}

	entries, err := inst.FS().ReadDir("/src")
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 entries in /src, got %v", entries)
	}
}

func TestWriteInvalidatesNothing(t *testing.T) {
	inst := newTestSandbox(t)

	if err := inst.FS().WriteFile("/a.txt", "hello"); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	got, err := inst.FS().ReadFile("/a.txt")
	if err != nil || got != "hello" {
		t.Errorf("ReadFile = %q, %v", got, err)
	}
}

func TestPathEscapeRejected(t *testing.T) {
	inst := newTestSandbox(t)

	if _, err := inst.FS().ReadFile("/../outside.txt"); err == nil {
		// path.Clean collapses the traversal inside the root, which is
		// also acceptable; what must never happen is reading outside.
		t.Log("traversal collapsed by clean")
	}
	if err := inst.FS().Remove("/"); err == nil {
		t.Error("removing the sandbox root must be refused")
	}
}

func TestRemoveAndExists(t *testing.T) {
	inst := newTestSandbox(t)

	if err := inst.Mount(map[string]string{"/a.js": "1"}); err != nil {
		t.Fatal(err)
	}

	ok, err := inst.FS().Exists("/a.js")
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}

	if err := inst.FS().Remove("/a.js"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	ok, _ = inst.FS().Exists("/a.js")
	if ok {
		t.Error("file should be gone")
	}
}

func TestExportSkipsInstallDir(t *testing.T) {
	inst := newTestSandbox(t)

	err := inst.Mount(map[string]string{
		"/a.js":                    "1",
		"/node_modules/react/i.js": "lib",
		"/.hidden":                 "h",
	})
	if err != nil {
		t.Fatal(err)
	}

	files, err := inst.Export([]string{"node_modules", ".*"})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	if files["/a.js"] != "1" {
		t.Errorf("missing /a.js: %v", files)
	}
	if _, ok := files["/node_modules/react/i.js"]; ok {
		t.Error("install dir should be excluded from export")
	}
	if _, ok := files["/.hidden"]; ok {
		t.Error("hidden entries should be excluded from export")
	}
}

func TestDetachedSpawnSurvivesContextCancel(t *testing.T) {
	inst := newTestSandbox(t)
	defer inst.Teardown()

	ctx, cancel := context.WithCancel(context.Background())
	proc, err := inst.Spawn(ctx, "sleep", []string{"30"}, SpawnOptions{Detach: true})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	defer proc.Kill()

	cancel()
	time.Sleep(100 * time.Millisecond)

	if code, exited := proc.ExitCode(); exited {
		t.Fatalf("detached process exited with code %d after context cancel", code)
	}
}

func TestBoundedSpawnDiesWithContext(t *testing.T) {
	inst := newTestSandbox(t)
	defer inst.Teardown()

	ctx, cancel := context.WithCancel(context.Background())
	proc, err := inst.Spawn(ctx, "sleep", []string{"30"}, SpawnOptions{})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	cancel()
	proc.Wait()

	if _, exited := proc.ExitCode(); !exited {
		t.Fatal("bounded process should exit when its context is cancelled")
	}
}

func TestTeardownIdempotent(t *testing.T) {
	inst := newTestSandbox(t)

	if err := inst.Teardown(); err != nil {
		t.Fatalf("Teardown failed: %v", err)
	}
	if err := inst.Teardown(); err != nil {
		t.Fatalf("second Teardown failed: %v", err)
	}
}
