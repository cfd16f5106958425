package template

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func TestLoadParsesYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.yaml")
	writeFile(t, path, "Resources:\n  Fn:\n    Type: AWS::Lambda::Function\n")
	tpl, err := Load(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tpl.Source != path {
		t.Fatalf("source mismatch, got %s", tpl.Source)
	}
	if tpl.Dir != dir {
		t.Fatalf("dir mismatch, got %s", tpl.Dir)
	}
	resources := MapValue(tpl.Root(), "Resources")
	if resources == nil {
		t.Fatalf("expected Resources mapping")
	}
	if MapValue(resources, "Fn") == nil {
		t.Fatalf("expected Fn resource")
	}
}

func TestLoadReadsStdin(t *testing.T) {
	tpl, err := Load("-", strings.NewReader("Resources: {}\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tpl.Source != StdinName {
		t.Fatalf("expected %s source, got %s", StdinName, tpl.Source)
	}
	if tpl.Dir != "" {
		t.Fatalf("stdin templates should resolve against the working directory, got %s", tpl.Dir)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "couldn't read template") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseRejectsInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("Resources: ["), "bad.yaml", "")
	if err == nil {
		t.Fatalf("expected parse error")
	}
	if !strings.Contains(err.Error(), "invalid template") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseRejectsEmptyDocument(t *testing.T) {
	if _, err := Parse(nil, "empty.yaml", ""); err == nil {
		t.Fatalf("expected error for empty document")
	}
}

func TestParseAcceptsJSON(t *testing.T) {
	raw := `{"Resources": {"Fn": {"Type": "AWS::Lambda::Function"}}}`
	tpl, err := Parse([]byte(raw), "app.json", "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	resources := MapValue(tpl.Root(), "Resources")
	if resources == nil || MapValue(resources, "Fn") == nil {
		t.Fatalf("expected Fn resource in JSON template")
	}
}

func TestRootNilForNonMapping(t *testing.T) {
	tpl, err := Parse([]byte("- a\n- b\n"), "list.yaml", "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tpl.Root() != nil {
		t.Fatalf("expected nil root for sequence document")
	}
}

func TestBytesPreservesResourceOrder(t *testing.T) {
	raw := "Resources:\n  Zed:\n    Type: AWS::SNS::Topic\n  Alpha:\n    Type: AWS::SQS::Queue\n"
	tpl, err := Parse([]byte(raw), "ordered.yaml", "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out, err := tpl.Bytes()
	if err != nil {
		t.Fatalf("bytes: %v", err)
	}
	if strings.Index(string(out), "Zed") > strings.Index(string(out), "Alpha") {
		t.Fatalf("expected document order to survive serialization:\n%s", out)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	tpl, err := Parse([]byte("Resources:\n  Fn:\n    Type: AWS::Lambda::Function\n"), "app.yaml", "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	clone, err := tpl.Clone()
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	fn := MapValue(MapValue(clone.Root(), "Resources"), "Fn")
	typ := MapValue(fn, "Type")
	*typ = yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "AWS::Serverless::Function"}
	origType := MapValue(MapValue(MapValue(tpl.Root(), "Resources"), "Fn"), "Type")
	if origType.Value != "AWS::Lambda::Function" {
		t.Fatalf("mutating the clone leaked into the original: %s", origType.Value)
	}
}
