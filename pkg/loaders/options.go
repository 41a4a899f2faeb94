package loaders

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/mitchellh/mapstructure"

	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/core"
	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/storage"
)

// decodeOptions decodes caller options into a loader's option struct. Keys
// are matched against "option" tags; unknown keys are an error.
func decodeOptions(format core.Format, options core.Options, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "option",
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToSliceHookFunc(","),
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(map[string]any(options)); err != nil {
		return fmt.Errorf("invalid %s options: %w", format, err)
	}
	return nil
}

// base holds what every loader keeps from its configuration.
type base struct {
	path    string
	storage core.Storage
	alloc   memory.Allocator
}

func newBase(config core.LoaderConfig) (base, error) {
	if config.Path == "" {
		return base{}, fmt.Errorf("path is required for %s loader", config.Type)
	}
	st := config.Storage
	if st == nil {
		st = storage.NewResolver()
	}
	return base{path: config.Path, storage: st, alloc: memory.NewGoAllocator()}, nil
}

func (b base) open(ctx context.Context, compression string) (core.Blob, error) {
	blob, err := b.storage.Open(ctx, b.path, compression)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", b.path, err)
	}
	return blob, nil
}
