package assets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/example/stackctl/internal/template"
)

// PathError reports an asset path that failed local validation. The whole
// reference tree is validated before any upload starts, so a PathError means
// nothing was mutated.
type PathError struct {
	LogicalID string
	Property  string
	Path      string
	Missing   bool
	Err       error
}

func (e *PathError) Error() string {
	if e.Missing {
		return fmt.Sprintf("resource %s property %s references %s, which does not exist", e.LogicalID, e.Property, e.Path)
	}
	return fmt.Sprintf("resource %s property %s references %s, which can't be read: %v", e.LogicalID, e.Property, e.Path, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

// Packager runs the packaging pipeline against one template.
type Packager struct {
	store *Store
	limit int64
	log   *zap.Logger
}

// NewPackager wires a store and an upload concurrency bound. The store may
// be nil when the template is known to reference nothing; Package reports an
// error if references turn up anyway.
func NewPackager(store *Store, concurrency int, log *zap.Logger) *Packager {
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Packager{store: store, limit: int64(concurrency), log: log}
}

// payload is one distinct object to upload, shared by every reference whose
// content digests to the same key.
type payload struct {
	raw    []byte
	digest string
	ext    string
	rec    UploadRecord
}

// planner accumulates payloads across a template and its nested templates.
type planner struct {
	pkg      *Packager
	payloads map[string]*payload
	order    []string
	visiting map[string]bool
}

// Package uploads every local asset referenced by tpl and returns the
// rewritten template plus one record per distinct stored object in first-use
// order. The input template is not modified; a template with no references
// comes back as an untouched copy with no records.
func (p *Packager) Package(ctx context.Context, tpl *template.Template) (*template.Template, []UploadRecord, error) {
	pl := &planner{pkg: p, payloads: map[string]*payload{}, visiting: map[string]bool{}}
	records, err := pl.plan(tpl)
	if err != nil {
		return nil, nil, err
	}
	if len(pl.order) == 0 {
		out, err := tpl.Clone()
		if err != nil {
			return nil, nil, err
		}
		return out, nil, nil
	}
	if err := p.upload(ctx, pl); err != nil {
		return nil, nil, err
	}
	out, err := Rewrite(tpl, records)
	if err != nil {
		return nil, nil, err
	}
	uploads := make([]UploadRecord, 0, len(pl.order))
	for _, key := range pl.order {
		uploads = append(uploads, pl.payloads[key].rec)
	}
	return out, uploads, nil
}

// plan walks one template's targets, building their payloads and records.
// Every filesystem touch and child parse happens here, before any upload.
func (pl *planner) plan(tpl *template.Template) ([]UploadRecord, error) {
	targets := Scan(tpl)
	if len(targets) == 0 {
		return nil, nil
	}
	if pl.pkg.store == nil {
		return nil, fmt.Errorf("template %s references local assets; an s3 bucket is required", tpl.Source)
	}
	records := make([]UploadRecord, 0, len(targets))
	for _, target := range targets {
		raw, ext, err := pl.payloadFor(target)
		if err != nil {
			return nil, err
		}
		digest := Digest(raw)
		key := pl.pkg.store.ObjectKey(digest, ext)
		if _, ok := pl.payloads[key]; !ok {
			pl.payloads[key] = &payload{raw: raw, digest: digest, ext: ext}
			pl.order = append(pl.order, key)
		}
		records = append(records, UploadRecord{
			Bucket: pl.pkg.store.bucket,
			Key:    key,
			URL:    pl.pkg.store.ObjectURL(key),
			Size:   int64(len(raw)),
		})
	}
	return records, nil
}

func (pl *planner) payloadFor(target Target) ([]byte, string, error) {
	if _, err := os.Stat(target.Absolute); err != nil {
		return nil, "", pathErrorFor(target, err)
	}
	switch target.Rule.Strategy {
	case StrategyTemplate:
		if pl.visiting[target.Absolute] {
			return nil, "", fmt.Errorf("nested template cycle involving %s", target.Path)
		}
		pl.visiting[target.Absolute] = true
		defer delete(pl.visiting, target.Absolute)

		child, err := template.Load(target.Absolute, nil)
		if err != nil {
			return nil, "", fmt.Errorf("resource %s property %s: %w", target.LogicalID, target.Rule.Property, err)
		}
		childRecords, err := pl.plan(child)
		if err != nil {
			return nil, "", err
		}
		rewritten, err := Rewrite(child, childRecords)
		if err != nil {
			return nil, "", err
		}
		raw, err := rewritten.Bytes()
		if err != nil {
			return nil, "", err
		}
		return raw, ExtTemplate, nil
	default:
		raw, err := ZipPath(target.Absolute)
		if err != nil {
			return nil, "", pathErrorFor(target, err)
		}
		return raw, ExtZip, nil
	}
}

// upload pushes each distinct payload once, bounded by the concurrency
// limit. The first failure cancels the rest.
func (p *Packager) upload(ctx context.Context, pl *planner) error {
	p.log.Debug("uploading assets", zap.Int("objects", len(pl.order)))
	g, ctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(p.limit)
	for _, key := range pl.order {
		item := pl.payloads[key]
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			rec, err := p.store.Put(ctx, item.raw, item.digest, item.ext)
			if err != nil {
				return err
			}
			item.rec = rec
			return nil
		})
	}
	return g.Wait()
}

func pathErrorFor(target Target, err error) error {
	return &PathError{
		LogicalID: target.LogicalID,
		Property:  target.Rule.Property,
		Path:      target.Path,
		Missing:   errors.Is(err, fs.ErrNotExist),
		Err:       err,
	}
}
