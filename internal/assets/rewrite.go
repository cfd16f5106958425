package assets

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/example/stackctl/internal/template"
)

// Rewrite returns a copy of tpl with every local asset reference replaced by
// its upload record. records must line up one-to-one with the scan order of
// tpl; Rewrite fails rather than guess when they do not. Nodes outside the
// matched references are left untouched.
func Rewrite(tpl *template.Template, records []UploadRecord) (*template.Template, error) {
	out, err := tpl.Clone()
	if err != nil {
		return nil, err
	}
	targets := Scan(out)
	if len(targets) != len(records) {
		return nil, fmt.Errorf("rewrite mismatch for template %s: %d asset references but %d upload records", tpl.Source, len(targets), len(records))
	}
	for i, target := range targets {
		replaceNode(target.node, target.Rule.Rewrite, records[i])
	}
	return out, nil
}

func replaceNode(n *yaml.Node, shape RewriteShape, rec UploadRecord) {
	switch shape {
	case RewriteS3BucketKey:
		*n = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map", Content: []*yaml.Node{
			strNode("S3Bucket"), strNode(rec.Bucket),
			strNode("S3Key"), strNode(rec.Key),
		}}
	case RewriteBucketKey:
		*n = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map", Content: []*yaml.Node{
			strNode("Bucket"), strNode(rec.Bucket),
			strNode("Key"), strNode(rec.Key),
		}}
	default:
		*n = yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: rec.URL}
	}
}

func strNode(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}
