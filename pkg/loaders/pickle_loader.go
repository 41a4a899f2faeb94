package loaders

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/nlpodyssey/gopickle/pickle"
	"github.com/nlpodyssey/gopickle/types"
	"go.uber.org/zap"

	"github.com/ajshedivy/kubeflow-ppc64le-components/logger"
	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/core"
	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/tabular"
)

// ErrUnsupportedPickle is returned for pickles that hold neither a pandas
// DataFrame nor plain Python containers.
var ErrUnsupportedPickle = errors.New("unsupported pickle payload")

type pickleOptions struct {
	Compression string `option:"compression"`
}

// PickleLoader loads pickled pandas DataFrames with numpy int, uint, float,
// bool and object columns, and tables made of plain Python containers: a
// list of dicts, a dict of lists, a {"columns", "data"} dict or a list of rows.
type PickleLoader struct {
	base
	opts pickleOptions
}

// NewPickleLoader creates a new pickle loader.
func NewPickleLoader(config core.LoaderConfig) (core.Loader, error) {
	logger.GetLogger().Debug("pickle loader options",
		zap.String("path", config.Path),
		zap.Any("options", map[string]any(config.Options)))

	b, err := newBase(config)
	if err != nil {
		return nil, err
	}

	var opts pickleOptions
	if err := decodeOptions(config.Type, config.Options, &opts); err != nil {
		return nil, err
	}
	return &PickleLoader{base: b, opts: opts}, nil
}

// Load unpickles the payload and builds one column per key.
func (l *PickleLoader) Load(ctx context.Context) (arrow.Record, error) {
	blob, err := l.open(ctx, l.opts.Compression)
	if err != nil {
		return nil, err
	}
	defer blob.Close()

	u := pickle.NewUnpickler(blob)
	u.FindClass = findPandasClass
	payload, err := u.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to unpickle: %w", err)
	}

	var columns []tabular.Column
	if frame, ok := payload.(*dataFrame); ok {
		columns, err = frame.columns()
	} else {
		columns, err = pickleColumns(payload)
	}
	if err != nil {
		return nil, err
	}
	return tabular.Build(columns, l.alloc)
}

type pyMapping interface {
	Keys() []interface{}
	Get(key interface{}) (interface{}, bool)
	Len() int
}

type pySequence interface {
	Get(i int) interface{}
	Len() int
}

func sequenceItems(seq pySequence) []any {
	items := make([]any, seq.Len())
	for i := range items {
		items[i] = seq.Get(i)
	}
	return items
}

func asSequence(v any) ([]any, bool) {
	switch v := v.(type) {
	case *types.List:
		return sequenceItems(v), true
	case *types.Tuple:
		return sequenceItems(v), true
	}
	return nil, false
}

func keyName(k any) string {
	if s, ok := k.(string); ok {
		return s
	}
	return tabular.FormatValue(toGo(k))
}

func pickleColumns(payload any) ([]tabular.Column, error) {
	if m, ok := payload.(pyMapping); ok {
		if _, hasColumns := m.Get("columns"); hasColumns {
			if _, hasData := m.Get("data"); hasData {
				return pickleSplit(m)
			}
		}
		return pickleDictOfColumns(m)
	}

	rows, ok := asSequence(payload)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedPickle, payload)
	}
	if len(rows) > 0 {
		if _, isMapping := rows[0].(pyMapping); isMapping {
			return pickleRecords(rows)
		}
	}
	return pickleRows(rows, nil)
}

func pickleRecords(rows []any) ([]tabular.Column, error) {
	var names []string
	index := make(map[string]int)
	maps := make([]pyMapping, len(rows))
	for i, row := range rows {
		m, ok := row.(pyMapping)
		if !ok {
			return nil, fmt.Errorf("%w: record %d is %T, expected a dict", ErrUnsupportedPickle, i, row)
		}
		maps[i] = m
		for _, k := range m.Keys() {
			name := keyName(k)
			if _, seen := index[name]; !seen {
				index[name] = len(names)
				names = append(names, name)
			}
		}
	}

	columns := make([]tabular.Column, len(names))
	for c, name := range names {
		columns[c] = tabular.Column{Name: name, Values: make([]any, len(rows))}
	}
	for i, m := range maps {
		for _, k := range m.Keys() {
			v, _ := m.Get(k)
			columns[index[keyName(k)]].Values[i] = toGo(v)
		}
	}
	return columns, nil
}

func pickleRows(rows []any, names []string) ([]tabular.Column, error) {
	width := len(names)
	lists := make([][]any, len(rows))
	for i, row := range rows {
		items, ok := asSequence(row)
		if !ok {
			return nil, fmt.Errorf("%w: row %d is %T, expected a list or tuple", ErrUnsupportedPickle, i, row)
		}
		if names != nil && len(items) > len(names) {
			return nil, fmt.Errorf("row %d has %d values for %d columns", i, len(items), len(names))
		}
		lists[i] = items
		width = max(width, len(items))
	}

	columns := make([]tabular.Column, width)
	for c := range columns {
		name := strconv.Itoa(c)
		if names != nil {
			name = names[c]
		}
		values := make([]any, len(rows))
		for i, items := range lists {
			if c < len(items) {
				values[i] = toGo(items[c])
			}
		}
		columns[c] = tabular.Column{Name: name, Values: values}
	}
	return columns, nil
}

func pickleSplit(m pyMapping) ([]tabular.Column, error) {
	rawNames, _ := m.Get("columns")
	rawData, _ := m.Get("data")
	nameItems, ok := asSequence(rawNames)
	if !ok {
		return nil, fmt.Errorf("%w: columns is %T, expected a list", ErrUnsupportedPickle, rawNames)
	}
	rows, ok := asSequence(rawData)
	if !ok {
		return nil, fmt.Errorf("%w: data is %T, expected a list", ErrUnsupportedPickle, rawData)
	}
	names := make([]string, len(nameItems))
	for i, n := range nameItems {
		names[i] = keyName(n)
	}
	return pickleRows(rows, names)
}

// pickleDictOfColumns reads {column: [values]} and {column: {label: value}}.
func pickleDictOfColumns(m pyMapping) ([]tabular.Column, error) {
	var (
		labels    []any
		seenLabel = make(map[string]bool)
	)
	for _, k := range m.Keys() {
		v, _ := m.Get(k)
		if inner, ok := v.(pyMapping); ok {
			for _, label := range inner.Keys() {
				if name := keyName(label); !seenLabel[name] {
					seenLabel[name] = true
					labels = append(labels, label)
				}
			}
		}
	}

	columns := make([]tabular.Column, 0, m.Len())
	for _, k := range m.Keys() {
		v, _ := m.Get(k)
		col := tabular.Column{Name: keyName(k)}
		if inner, ok := v.(pyMapping); ok {
			col.Values = make([]any, len(labels))
			for i, label := range labels {
				cell, _ := inner.Get(label)
				col.Values[i] = toGo(cell)
			}
		} else if items, ok := asSequence(v); ok {
			col.Values = make([]any, len(items))
			for i, item := range items {
				col.Values[i] = toGo(item)
			}
		} else {
			return nil, fmt.Errorf("%w: column %q is %T, expected a list or dict", ErrUnsupportedPickle, col.Name, v)
		}
		columns = append(columns, col)
	}
	return columns, nil
}

// toGo converts unpickled containers to plain Go values.
func toGo(v any) any {
	if items, ok := asSequence(v); ok {
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = toGo(item)
		}
		return out
	}
	if m, ok := v.(pyMapping); ok {
		out := make(map[string]any, m.Len())
		for _, k := range m.Keys() {
			val, _ := m.Get(k)
			out[keyName(k)] = toGo(val)
		}
		return out
	}
	return v
}
