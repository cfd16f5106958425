package assets

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/stackctl/internal/template"
)

func loadTemplate(t *testing.T, path string) *template.Template {
	t.Helper()
	tpl, err := template.Load(path, nil)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	return tpl
}

func TestPackageNoReferences(t *testing.T) {
	tpl, err := template.Parse([]byte("Resources:\n  Queue:\n    Type: AWS::SQS::Queue\n"), "app.yaml", "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	p := NewPackager(nil, 4, nil)
	out, records, err := p.Package(context.Background(), tpl)
	if err != nil {
		t.Fatalf("package: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no uploads, got %v", records)
	}
	if out == tpl {
		t.Fatalf("expected a fresh copy, got the input template")
	}
}

func TestPackageRequiresBucketForReferences(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "fn.js"), "exports.x = 1")
	writeFile(t, filepath.Join(dir, "app.yaml"), "Resources:\n  Fn:\n    Type: AWS::Lambda::Function\n    Properties:\n      Code: fn.js\n")
	p := NewPackager(nil, 4, nil)
	_, _, err := p.Package(context.Background(), loadTemplate(t, filepath.Join(dir, "app.yaml")))
	if err == nil || !strings.Contains(err.Error(), "s3 bucket is required") {
		t.Fatalf("expected bucket requirement error, got %v", err)
	}
}

func TestPackageUploadsArchivesAndRewrites(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "api", "index.js"), "exports.api = 1")
	writeFile(t, filepath.Join(dir, "worker.js"), "exports.worker = 1")
	writeFile(t, filepath.Join(dir, "app.yaml"), `Resources:
  Api:
    Type: AWS::Serverless::Function
    Properties:
      CodeUri: ./api
  Worker:
    Type: AWS::Lambda::Function
    Properties:
      Code: worker.js
`)
	api := newFakeS3()
	store := NewStore(api, "artifacts", "assets", "eu-west-1", nil)
	p := NewPackager(store, 4, nil)

	out, records, err := p.Package(context.Background(), loadTemplate(t, filepath.Join(dir, "app.yaml")))
	if err != nil {
		t.Fatalf("package: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 uploads, got %d", len(records))
	}
	if api.putCount() != 2 {
		t.Fatalf("expected 2 puts, got %d", api.putCount())
	}

	resources := template.MapValue(out.Root(), "Resources")
	apiCode := template.MapValue(template.MapValue(template.MapValue(resources, "Api"), "Properties"), "CodeUri")
	if template.MapValue(apiCode, "Bucket") == nil || template.MapValue(apiCode, "Key") == nil {
		t.Fatalf("serverless CodeUri should become a Bucket/Key mapping")
	}
	workerCode := template.MapValue(template.MapValue(template.MapValue(resources, "Worker"), "Properties"), "Code")
	bucketNode := template.MapValue(workerCode, "S3Bucket")
	keyNode := template.MapValue(workerCode, "S3Key")
	if bucketNode == nil || keyNode == nil {
		t.Fatalf("lambda Code should become an S3Bucket/S3Key mapping")
	}
	if bucketNode.Value != "artifacts" {
		t.Fatalf("unexpected bucket %s", bucketNode.Value)
	}
	if !strings.HasPrefix(keyNode.Value, "assets/") || !strings.HasSuffix(keyNode.Value, ExtZip) {
		t.Fatalf("unexpected key %s", keyNode.Value)
	}
}

func TestPackageSharesIdenticalContent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "fn.js"), "exports.x = 1")
	writeFile(t, filepath.Join(dir, "app.yaml"), `Resources:
  One:
    Type: AWS::Lambda::Function
    Properties:
      Code: fn.js
  Two:
    Type: AWS::Lambda::Function
    Properties:
      Code: ./fn.js
`)
	api := newFakeS3()
	store := NewStore(api, "artifacts", "", "eu-west-1", nil)
	p := NewPackager(store, 4, nil)

	out, records, err := p.Package(context.Background(), loadTemplate(t, filepath.Join(dir, "app.yaml")))
	if err != nil {
		t.Fatalf("package: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("identical content should upload once, got %d records", len(records))
	}
	if api.putCount() != 1 {
		t.Fatalf("expected a single put, got %d", api.putCount())
	}
	resources := template.MapValue(out.Root(), "Resources")
	oneKey := template.MapValue(template.MapValue(template.MapValue(template.MapValue(resources, "One"), "Properties"), "Code"), "S3Key")
	twoKey := template.MapValue(template.MapValue(template.MapValue(template.MapValue(resources, "Two"), "Properties"), "Code"), "S3Key")
	if oneKey == nil || twoKey == nil || oneKey.Value != twoKey.Value {
		t.Fatalf("both references should share one key")
	}
}

func TestPackageSkipsUploadWhenObjectExists(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "fn.js"), "exports.x = 1")
	writeFile(t, filepath.Join(dir, "app.yaml"), "Resources:\n  Fn:\n    Type: AWS::Lambda::Function\n    Properties:\n      Code: fn.js\n")

	raw, err := ZipPath(filepath.Join(dir, "fn.js"))
	if err != nil {
		t.Fatalf("zip: %v", err)
	}
	api := newFakeS3()
	api.objects[Digest(raw)+ExtZip] = raw

	store := NewStore(api, "artifacts", "", "eu-west-1", nil)
	p := NewPackager(store, 4, nil)
	_, records, err := p.Package(context.Background(), loadTemplate(t, filepath.Join(dir, "app.yaml")))
	if err != nil {
		t.Fatalf("package: %v", err)
	}
	if len(records) != 1 || !records[0].Existed {
		t.Fatalf("expected one existing record, got %+v", records)
	}
	if api.putCount() != 0 {
		t.Fatalf("existing object should only be probed, got %d puts", api.putCount())
	}
}

func TestPackageFailsBeforeAnyUpload(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "good.js"), "exports.x = 1")
	writeFile(t, filepath.Join(dir, "app.yaml"), `Resources:
  Good:
    Type: AWS::Lambda::Function
    Properties:
      Code: good.js
  Bad:
    Type: AWS::Lambda::Function
    Properties:
      Code: missing.js
`)
	api := newFakeS3()
	store := NewStore(api, "artifacts", "", "eu-west-1", nil)
	p := NewPackager(store, 4, nil)

	_, _, err := p.Package(context.Background(), loadTemplate(t, filepath.Join(dir, "app.yaml")))
	var pe *PathError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PathError, got %v", err)
	}
	if !pe.Missing || pe.LogicalID != "Bad" || pe.Path != "missing.js" {
		t.Fatalf("unexpected path error: %+v", pe)
	}
	if api.headCount() != 0 || api.putCount() != 0 {
		t.Fatalf("validation failure must abort before any store call, got %d heads %d puts", api.headCount(), api.putCount())
	}
}

func TestPackageNestedTemplate(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "fn.js"), "exports.x = 1")
	writeFile(t, filepath.Join(dir, "child.yaml"), "Resources:\n  Fn:\n    Type: AWS::Lambda::Function\n    Properties:\n      Code: fn.js\n")
	writeFile(t, filepath.Join(dir, "parent.yaml"), `Resources:
  Child:
    Type: AWS::CloudFormation::Stack
    Properties:
      TemplateURL: child.yaml
Outputs:
  Done:
    Value: true
`)
	api := newFakeS3()
	store := NewStore(api, "artifacts", "", "eu-west-1", nil)
	p := NewPackager(store, 4, nil)

	out, records, err := p.Package(context.Background(), loadTemplate(t, filepath.Join(dir, "parent.yaml")))
	if err != nil {
		t.Fatalf("package: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected zip and template uploads, got %d", len(records))
	}
	if !strings.HasSuffix(records[0].Key, ExtZip) || !strings.HasSuffix(records[1].Key, ExtTemplate) {
		t.Fatalf("expected child payloads before the nested template, got %v", records)
	}

	templateURL := template.MapValue(template.MapValue(template.MapValue(template.MapValue(out.Root(), "Resources"), "Child"), "Properties"), "TemplateURL")
	if templateURL == nil || templateURL.Value != records[1].URL {
		t.Fatalf("parent should point at the uploaded child template")
	}

	childRaw := api.object(records[1].Key)
	if childRaw == nil {
		t.Fatalf("child template was not uploaded")
	}
	child, err := template.Parse(childRaw, "uploaded-child", "")
	if err != nil {
		t.Fatalf("uploaded child should parse: %v", err)
	}
	code := template.MapValue(template.MapValue(template.MapValue(template.MapValue(child.Root(), "Resources"), "Fn"), "Properties"), "Code")
	keyNode := template.MapValue(code, "S3Key")
	if keyNode == nil || keyNode.Value != records[0].Key {
		t.Fatalf("uploaded child should reference the uploaded zip, got %v", code)
	}
}

func TestPackageNestedTemplateCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), "Resources:\n  B:\n    Type: AWS::CloudFormation::Stack\n    Properties:\n      TemplateURL: b.yaml\n")
	writeFile(t, filepath.Join(dir, "b.yaml"), "Resources:\n  A:\n    Type: AWS::CloudFormation::Stack\n    Properties:\n      TemplateURL: a.yaml\n")
	store := NewStore(newFakeS3(), "artifacts", "", "eu-west-1", nil)
	p := NewPackager(store, 4, nil)

	_, _, err := p.Package(context.Background(), loadTemplate(t, filepath.Join(dir, "a.yaml")))
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestPackageHonorsCancellation(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "fn.js"), "exports.x = 1")
	writeFile(t, filepath.Join(dir, "app.yaml"), "Resources:\n  Fn:\n    Type: AWS::Lambda::Function\n    Properties:\n      Code: fn.js\n")
	api := newFakeS3()
	store := NewStore(api, "artifacts", "", "eu-west-1", nil)
	p := NewPackager(store, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := p.Package(ctx, loadTemplate(t, filepath.Join(dir, "app.yaml")))
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	if api.putCount() != 0 {
		t.Fatalf("cancelled run should not upload, got %d puts", api.putCount())
	}
}
