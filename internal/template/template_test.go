package template

import (
	"testing"
)

func sampleTemplate() *Template {
	return &Template{
		ID:   "react-starter",
		Name: "React Starter",
		Files: Dir(map[string]*FileNode{
			"index.html": File("<html></html>"),
			"src": Dir(map[string]*FileNode{
				"main.jsx":  File("render()"),
				"App.jsx":   File("export default App"),
				"assets":    Dir(nil),
			}),
		}),
		Dependencies: map[string]string{"react": "^18.2.0"},
		RunCommand:   "npm run dev",
		EntryFile:    "/src/App.jsx",
	}
}

func TestFlatten(t *testing.T) {
	files := sampleTemplate().Flatten()

	want := map[string]string{
		"/index.html":   "<html></html>",
		"/src/main.jsx": "render()",
		"/src/App.jsx":  "export default App",
	}
	if len(files) != len(want) {
		t.Fatalf("flattened %d paths, want %d: %v", len(files), len(want), files)
	}
	for p, content := range want {
		if files[p] != content {
			t.Errorf("files[%q] = %q, want %q", p, files[p], content)
		}
	}
}

func TestFlattenEmptyTree(t *testing.T) {
	tmpl := &Template{ID: "empty", RunCommand: "true"}
	if files := tmpl.Flatten(); len(files) != 0 {
		t.Errorf("expected empty map, got %v", files)
	}
}

func TestTreeFromMapRoundTrip(t *testing.T) {
	original := sampleTemplate().Flatten()

	tree, err := TreeFromMap(original)
	if err != nil {
		t.Fatalf("TreeFromMap failed: %v", err)
	}

	rebuilt := (&Template{Files: tree}).Flatten()
	if len(rebuilt) != len(original) {
		t.Fatalf("round trip changed path count: %v vs %v", rebuilt, original)
	}
	for p, content := range original {
		if rebuilt[p] != content {
			t.Errorf("round trip lost %q", p)
		}
	}
}

func TestTreeFromMapRejectsRelativePath(t *testing.T) {
	if _, err := TreeFromMap(map[string]string{"a.js": "1"}); err == nil {
		t.Error("expected error for relative path")
	}
}

func TestTreeFromMapRejectsFileDirConflict(t *testing.T) {
	_, err := TreeFromMap(map[string]string{
		"/src":        "i am a file",
		"/src/app.js": "1",
	})
	if err == nil {
		t.Error("expected error for file/directory conflict")
	}
}

func TestParseJSON(t *testing.T) {
	manifest := `{
		"id": "vanilla",
		"name": "Vanilla",
		"files": {
			"index.html": "<h1>hi</h1>",
			"src": {"main.js": "console.log(1)"}
		},
		"dependencies": {"vite": "^5.0.0"},
		"runCommand": "npm run dev"
	}`

	tmpl, err := ParseJSON([]byte(manifest))
	if err != nil {
		t.Fatalf("ParseJSON failed: %v", err)
	}
	if tmpl.ID != "vanilla" {
		t.Errorf("id = %q", tmpl.ID)
	}

	files := tmpl.Flatten()
	if files["/index.html"] != "<h1>hi</h1>" {
		t.Errorf("missing /index.html: %v", files)
	}
	if files["/src/main.js"] != "console.log(1)" {
		t.Errorf("missing /src/main.js: %v", files)
	}
}

func TestParseYAML(t *testing.T) {
	manifest := `
id: vanilla
name: Vanilla
files:
  index.html: "<h1>hi</h1>"
  src:
    main.js: "console.log(1)"
runCommand: npm run dev
`
	tmpl, err := ParseYAML([]byte(manifest))
	if err != nil {
		t.Fatalf("ParseYAML failed: %v", err)
	}

	files := tmpl.Flatten()
	if files["/src/main.js"] != "console.log(1)" {
		t.Errorf("missing /src/main.js: %v", files)
	}
}

func TestParseRejectsMissingRunCommand(t *testing.T) {
	if _, err := ParseJSON([]byte(`{"id": "x"}`)); err == nil {
		t.Error("expected validation error for missing runCommand")
	}
}
