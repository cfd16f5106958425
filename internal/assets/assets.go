// Package assets implements template packaging: locating local asset
// references, archiving them deterministically, uploading the archives into a
// content-addressed S3 layout, and rewriting the template to point at the
// uploaded objects.
package assets

import (
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/example/stackctl/internal/template"
)

// Strategy selects how a referenced path is turned into an uploadable payload.
type Strategy int

const (
	// StrategyZip archives the file or directory into a deterministic zip.
	StrategyZip Strategy = iota
	// StrategyTemplate packages the path as a nested template, recursively.
	StrategyTemplate
)

// RewriteShape selects the node written back in place of the local path.
type RewriteShape int

const (
	// RewriteURL replaces the path with the object's HTTPS URL.
	RewriteURL RewriteShape = iota
	// RewriteS3BucketKey replaces the path with an {S3Bucket, S3Key} mapping.
	RewriteS3BucketKey
	// RewriteBucketKey replaces the path with a {Bucket, Key} mapping.
	RewriteBucketKey
)

// Rule describes one packageable resource property.
type Rule struct {
	ResourceType string
	Property     string
	Strategy     Strategy
	Rewrite      RewriteShape
}

// Rules is the packageable-property table. Resource properties not listed
// here are never touched.
var Rules = []Rule{
	{ResourceType: "AWS::CloudFormation::Stack", Property: "TemplateURL", Strategy: StrategyTemplate, Rewrite: RewriteURL},
	{ResourceType: "AWS::Lambda::Function", Property: "Code", Strategy: StrategyZip, Rewrite: RewriteS3BucketKey},
	{ResourceType: "AWS::Serverless::Function", Property: "CodeUri", Strategy: StrategyZip, Rewrite: RewriteBucketKey},
}

// Target is one local asset reference found in a template.
type Target struct {
	LogicalID string
	Rule      Rule
	Path      string // as written in the template
	Absolute  string // resolved against the template directory

	node *yaml.Node
}

// Scan walks the template's Resources mapping in document order and returns
// every property that references a local path. A property matches when its
// resource type and name appear in Rules, the value is a plain string
// scalar, and the string carries no URL scheme.
func Scan(tpl *template.Template) []Target {
	resources := template.MapValue(tpl.Root(), "Resources")
	if resources == nil || resources.Kind != yaml.MappingNode {
		return nil
	}
	var targets []Target
	for i := 0; i+1 < len(resources.Content); i += 2 {
		logicalID := resources.Content[i].Value
		resource := resources.Content[i+1]
		typeNode := template.MapValue(resource, "Type")
		if typeNode == nil || typeNode.Kind != yaml.ScalarNode {
			continue
		}
		props := template.MapValue(resource, "Properties")
		for _, rule := range Rules {
			if rule.ResourceType != typeNode.Value {
				continue
			}
			value := template.MapValue(props, rule.Property)
			if value == nil || !isLocalRef(value) {
				continue
			}
			targets = append(targets, Target{
				LogicalID: logicalID,
				Rule:      rule,
				Path:      value.Value,
				Absolute:  resolvePath(tpl.Dir, value.Value),
				node:      value,
			})
		}
	}
	return targets
}

func isLocalRef(n *yaml.Node) bool {
	if n.Kind != yaml.ScalarNode {
		return false
	}
	if n.Tag != "" && n.Tag != "!!str" {
		return false
	}
	return n.Value != "" && !strings.Contains(n.Value, "://")
}

func resolvePath(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
