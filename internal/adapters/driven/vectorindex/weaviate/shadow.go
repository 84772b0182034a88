package weaviate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
)

// Ensure Shadow implements the interface.
var _ driven.ShadowIndex = (*Shadow)(nil)

// pointerClass holds the single object naming the live class.
func pointerClass(base string) string {
	return base + "Active"
}

func pointerID(base string) string {
	return uuid.NewSHA1(keyNamespace, []byte("active:"+base)).String()
}

// generationClass names a rebuilt class. Weaviate class names start with
// an upper-case letter and continue with letters, digits or underscores.
func generationClass(base string, at time.Time) string {
	return base + "Gen" + strconv.FormatInt(at.UnixNano(), 36)
}

// activeClass reads the live class from the pointer object, falling back
// to the base class. classes is the current schema.
func (idx *Index) activeClass(ctx context.Context, classes map[string]bool) (string, error) {
	if !classes[pointerClass(idx.base)] {
		return idx.base, nil
	}
	objects, err := idx.client.Data().ObjectsGetter().
		WithClassName(pointerClass(idx.base)).
		WithID(pointerID(idx.base)).
		Do(ctx)
	if err != nil {
		if isNotFound(err) {
			return idx.base, nil
		}
		return "", fmt.Errorf("%w: read active class: %v", domain.ErrVectorIndexUnavailable, err)
	}
	if len(objects) == 0 {
		return idx.base, nil
	}
	props, _ := objects[0].Properties.(map[string]interface{})
	name, _ := props["className"].(string)
	if name == "" {
		return idx.base, nil
	}
	return name, nil
}

// setActive points the live class at class with a single object write.
func (idx *Index) setActive(ctx context.Context, class string, classes map[string]bool) error {
	pc := pointerClass(idx.base)
	if !classes[pc] {
		def := &models.Class{
			Class:      pc,
			Vectorizer: "none",
			Properties: []*models.Property{{Name: "className", DataType: []string{"text"}}},
		}
		if err := idx.client.Schema().ClassCreator().WithClass(def).Do(ctx); err != nil {
			return fmt.Errorf("create %s class: %w", pc, err)
		}
	}

	id := pointerID(idx.base)
	exists, err := idx.client.Data().Checker().WithClassName(pc).WithID(id).Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: read active class: %v", domain.ErrVectorIndexUnavailable, err)
	}
	props := map[string]interface{}{"className": class}
	if exists {
		err = idx.client.Data().Updater().WithClassName(pc).WithID(id).WithProperties(props).Do(ctx)
	} else {
		_, err = idx.client.Data().Creator().WithClassName(pc).WithID(id).WithProperties(props).Do(ctx)
	}
	if err != nil {
		return fmt.Errorf("set active class: %w", err)
	}
	return nil
}

func (idx *Index) deleteClass(ctx context.Context, class string) error {
	if err := idx.client.Schema().ClassDeleter().WithClassName(class).Do(ctx); err != nil && !isNotFound(err) {
		return fmt.Errorf("delete %s class: %w", class, err)
	}
	return nil
}

// Shadow is a rebuild written to a new generation class. Promote repoints
// the live class at it; the previous class is dropped by the returned
// cleanup once it is no longer served.
type Shadow struct {
	*Index
}

// NewShadow creates an empty generation class for a rebuild.
func NewShadow(ctx context.Context, cfg Config) (*Shadow, error) {
	idx, err := connect(cfg)
	if err != nil {
		return nil, err
	}
	idx.class = generationClass(idx.base, time.Now())
	if err := idx.createClass(ctx); err != nil {
		return nil, err
	}
	return &Shadow{Index: idx}, nil
}

// Promote makes the shadow's class the live one.
func (s *Shadow) Promote(ctx context.Context) (func(context.Context) error, error) {
	classes, err := s.classes(ctx)
	if err != nil {
		return nil, err
	}
	prev, err := s.activeClass(ctx, classes)
	if err != nil {
		return nil, err
	}
	if err := s.setActive(ctx, s.class, classes); err != nil {
		return nil, err
	}
	if prev == s.class {
		return nil, nil
	}
	return func(ctx context.Context) error {
		return s.deleteClass(ctx, prev)
	}, nil
}

// Discard drops the shadow's class.
func (s *Shadow) Discard(ctx context.Context) error {
	return s.deleteClass(ctx, s.class)
}
