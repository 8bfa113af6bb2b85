package runtime

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "echoes input" }
func (echoTool) Execute(_ context.Context, _ *RunContext, input string) (string, error) {
	return input, nil
}

func TestRegistryInvoke(t *testing.T) {
	r := NewRegistry(echoTool{})

	out, err := r.Invoke(context.Background(), nil, "echo", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if out != "hello" {
		t.Errorf("expected hello, got %q", out)
	}

	_, err = r.Invoke(context.Background(), nil, "missing", "x")
	if !errors.Is(err, ErrUnknownTool) {
		t.Errorf("expected ErrUnknownTool, got %v", err)
	}
}

func TestRegistryInfosSorted(t *testing.T) {
	r := NewRegistry(&funcTool{name: "zeta"}, &funcTool{name: "alpha"}, echoTool{})
	infos := r.Infos()
	if len(infos) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(infos))
	}
	if infos[0].Name != "alpha" || infos[2].Name != "zeta" {
		t.Errorf("expected sorted tools, got %+v", infos)
	}
}

func TestRunContextResolve(t *testing.T) {
	rc := NewRunContext("run", "/work", false)

	got, err := rc.Resolve("app/index.html")
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join("/work", "app", "index.html") {
		t.Errorf("unexpected path %s", got)
	}

	for _, bad := range []string{"", "/etc/passwd", "../outside", "app/../../x", ".."} {
		if _, err := rc.Resolve(bad); err == nil {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}

func TestRunContextProject(t *testing.T) {
	rc := NewRunContext("run", "/work", true)
	rc.RecordFile("notes.txt")
	if name, _, _ := rc.Project(); name != "" {
		t.Errorf("expected top-level file not to name a project, got %q", name)
	}

	rc.RecordDir("todo-app/css")
	rc.RecordFile("todo-app/index.html")
	rc.RecordFile("todo-app/index.html")

	name, path, files := rc.Project()
	if name != "todo-app" {
		t.Errorf("expected todo-app, got %q", name)
	}
	if path != filepath.Join("/work", "todo-app") {
		t.Errorf("unexpected project path %s", path)
	}
	if len(files) != 2 {
		t.Errorf("expected 2 distinct files, got %v", files)
	}
	if len(rc.Created()) != 4 {
		t.Errorf("expected 4 created entries, got %v", rc.Created())
	}
}
