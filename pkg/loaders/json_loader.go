package loaders

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/goccy/go-json"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/core"
	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/tabular"
)

// JSON orients, named after the layouts pandas writes.
const (
	orientAuto    = "auto"
	orientRecords = "records"
	orientColumns = "columns"
	orientIndex   = "index"
	orientSplit   = "split"
	orientValues  = "values"
)

type jsonOptions struct {
	Orient      string `option:"orient"`
	Lines       bool   `option:"lines"`
	JSONPath    string `option:"json_path"`
	Compression string `option:"compression"`
}

// JSONLoader loads JSON documents and JSON Lines files.
type JSONLoader struct {
	base
	opts     jsonOptions
	selector jp.Expr
}

// NewJSONLoader creates a new JSON loader.
func NewJSONLoader(config core.LoaderConfig) (core.Loader, error) {
	b, err := newBase(config)
	if err != nil {
		return nil, err
	}

	opts := jsonOptions{Orient: orientAuto}
	if err := decodeOptions(config.Type, config.Options, &opts); err != nil {
		return nil, err
	}
	opts.Orient = strings.ToLower(opts.Orient)
	switch opts.Orient {
	case "":
		opts.Orient = orientAuto
	case orientAuto, orientRecords, orientColumns, orientIndex, orientSplit, orientValues:
	default:
		return nil, fmt.Errorf("unsupported orient %q", opts.Orient)
	}
	if opts.Lines && opts.Orient != orientAuto && opts.Orient != orientRecords {
		return nil, errors.New("lines requires the records orient")
	}

	l := &JSONLoader{base: b, opts: opts}
	if opts.JSONPath != "" {
		if l.selector, err = jp.ParseString(opts.JSONPath); err != nil {
			return nil, fmt.Errorf("invalid json_path %q: %w", opts.JSONPath, err)
		}
	}
	return l, nil
}

// Load parses the document and builds one column per key.
func (l *JSONLoader) Load(ctx context.Context) (arrow.Record, error) {
	blob, err := l.open(ctx, l.opts.Compression)
	if err != nil {
		return nil, err
	}
	defer blob.Close()

	data, err := io.ReadAll(blob)
	if err != nil {
		return nil, fmt.Errorf("failed to read JSON: %w", err)
	}

	// JSON Lines rows sit one level below the list they are collected into.
	base := 0
	if l.opts.Lines {
		base = 1
	}
	ranks, err := keyRanks(data, base)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	var doc any
	if l.opts.Lines {
		doc, err = parseLines(ctx, data)
	} else {
		doc, err = oj.Parse(data)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	depth := 0
	if l.selector != nil {
		doc, depth = l.selectPath(doc)
	}

	columns, err := toColumns(doc, l.opts.Orient, ranks, depth)
	if err != nil {
		return nil, err
	}
	return tabular.Build(columns, l.alloc)
}

// selectPath applies the JSONPath; a single list result is used as is.
// It also returns the nesting depth of the value handed to the orient.
func (l *JSONLoader) selectPath(doc any) (any, int) {
	results := l.selector.Get(doc)
	var depth int
	if locs := l.selector.Locate(doc, 1); len(locs) > 0 {
		depth = pathDepth(locs[0])
	}
	if len(results) == 1 {
		if list, ok := results[0].([]any); ok {
			return list, depth
		}
	}
	// the matches are gathered into a list one level above them
	return results, depth - 1
}

// pathDepth counts the containers a normalized path descends into.
func pathDepth(x jp.Expr) int {
	depth := 0
	for _, f := range x {
		switch f.(type) {
		case jp.Child, jp.Nth:
			depth++
		}
	}
	return depth
}

func parseLines(ctx context.Context, data []byte) ([]any, error) {
	var rows []any
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), len(data)+1)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := oj.Parse(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, v)
	}
	return rows, scanner.Err()
}

// keyOrder holds, per nesting depth of the enclosing object, the order in
// which keys first appear. Depth 0 is the top-level value.
type keyOrder map[int]map[string]int

func (o keyOrder) at(depth int) map[string]int {
	return o[depth]
}

// keyRanks records the order in which object keys first appear in the
// document, so columns come out in file order. Keys of nested values are
// ranked separately from the keys of the objects that hold them. base is
// added to every depth.
func keyRanks(data []byte, base int) (keyOrder, error) {
	type frame struct {
		object    bool
		expectKey bool
	}

	ranks := make(keyOrder)
	var stack []frame
	valueDone := func() {
		if n := len(stack); n > 0 && stack[n-1].object {
			stack[n-1].expectKey = true
		}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return ranks, nil
		}
		if err != nil {
			return nil, err
		}

		switch v := tok.(type) {
		case json.Delim:
			switch v {
			case '{':
				valueDone()
				stack = append(stack, frame{object: true, expectKey: true})
			case '[':
				valueDone()
				stack = append(stack, frame{})
			default:
				stack = stack[:len(stack)-1]
			}
		case string:
			if n := len(stack); n > 0 && stack[n-1].object && stack[n-1].expectKey {
				stack[n-1].expectKey = false
				level := ranks[base+n-1]
				if level == nil {
					level = make(map[string]int)
					ranks[base+n-1] = level
				}
				if _, seen := level[v]; !seen {
					level[v] = len(level)
				}
				continue
			}
			valueDone()
		default:
			valueDone()
		}
	}
}

// orderedKeys sorts keys by first appearance in the document.
func orderedKeys(keys []string, ranks map[string]int) []string {
	sort.SliceStable(keys, func(i, j int) bool {
		ri, iok := ranks[keys[i]]
		rj, jok := ranks[keys[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		}
		return keys[i] < keys[j]
	})
	return keys
}

func mapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// toColumns converts doc, found at the given nesting depth, into columns.
func toColumns(doc any, orient string, ranks keyOrder, depth int) ([]tabular.Column, error) {
	if orient == orientAuto {
		orient = detectOrient(doc)
	}

	switch orient {
	case orientRecords:
		rows, ok := doc.([]any)
		if !ok {
			return nil, fmt.Errorf("records orient expects a list, got %T", doc)
		}
		return recordsToColumns(rows, ranks.at(depth+1))
	case orientValues:
		rows, ok := doc.([]any)
		if !ok {
			return nil, fmt.Errorf("values orient expects a list, got %T", doc)
		}
		return valuesToColumns(rows, nil)
	case orientSplit:
		obj, ok := doc.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("split orient expects an object, got %T", doc)
		}
		return splitToColumns(obj)
	case orientColumns:
		obj, ok := doc.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("columns orient expects an object, got %T", doc)
		}
		return columnsToColumns(obj, ranks.at(depth), ranks.at(depth+1))
	case orientIndex:
		obj, ok := doc.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("index orient expects an object, got %T", doc)
		}
		return indexToColumns(obj, ranks.at(depth), ranks.at(depth+1))
	}
	return nil, fmt.Errorf("unsupported orient %q", orient)
}

func detectOrient(doc any) string {
	switch v := doc.(type) {
	case []any:
		for _, row := range v {
			if _, ok := row.(map[string]any); !ok && row != nil {
				return orientValues
			}
		}
		return orientRecords
	case map[string]any:
		_, hasColumns := v["columns"]
		_, hasData := v["data"]
		if hasColumns && hasData {
			return orientSplit
		}
	}
	return orientColumns
}

func recordsToColumns(rows []any, ranks map[string]int) ([]tabular.Column, error) {
	seen := make(map[string]bool)
	var names []string
	for i, row := range rows {
		if row == nil {
			continue
		}
		obj, ok := row.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("record %d: expected an object, got %T", i, row)
		}
		for k := range obj {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	names = orderedKeys(names, ranks)

	columns := make([]tabular.Column, len(names))
	for c, name := range names {
		values := make([]any, len(rows))
		for i, row := range rows {
			if obj, ok := row.(map[string]any); ok {
				values[i] = obj[name]
			}
		}
		columns[c] = tabular.Column{Name: name, Values: values}
	}
	return columns, nil
}

// valuesToColumns names columns 0..n-1 unless names are given. Short rows
// are padded with nulls.
func valuesToColumns(rows []any, names []string) ([]tabular.Column, error) {
	width := len(names)
	lists := make([][]any, len(rows))
	for i, row := range rows {
		list, ok := row.([]any)
		if !ok && row != nil {
			return nil, fmt.Errorf("row %d: expected a list, got %T", i, row)
		}
		if names != nil && len(list) > len(names) {
			return nil, fmt.Errorf("row %d has %d values for %d columns", i, len(list), len(names))
		}
		lists[i] = list
		width = max(width, len(list))
	}

	columns := make([]tabular.Column, width)
	for c := range columns {
		name := strconv.Itoa(c)
		if names != nil {
			name = names[c]
		}
		values := make([]any, len(rows))
		for i, list := range lists {
			if c < len(list) {
				values[i] = list[c]
			}
		}
		columns[c] = tabular.Column{Name: name, Values: values}
	}
	return columns, nil
}

func splitToColumns(obj map[string]any) ([]tabular.Column, error) {
	rawNames, ok := obj["columns"].([]any)
	if !ok {
		return nil, fmt.Errorf("split orient: columns must be a list, got %T", obj["columns"])
	}
	rows, ok := obj["data"].([]any)
	if !ok {
		return nil, fmt.Errorf("split orient: data must be a list, got %T", obj["data"])
	}
	names := make([]string, len(rawNames))
	for i, n := range rawNames {
		names[i] = tabular.FormatValue(n)
	}
	return valuesToColumns(rows, names)
}

// columnsToColumns reads {column: {row label: value}} or {column: [values]}.
func columnsToColumns(obj map[string]any, nameRanks, labelRanks map[string]int) ([]tabular.Column, error) {
	names := orderedKeys(mapKeys(obj), nameRanks)

	var labels []string
	seen := make(map[string]bool)
	for _, name := range names {
		if inner, ok := obj[name].(map[string]any); ok {
			for label := range inner {
				if !seen[label] {
					seen[label] = true
					labels = append(labels, label)
				}
			}
		}
	}
	labels = orderedKeys(labels, labelRanks)

	columns := make([]tabular.Column, len(names))
	for c, name := range names {
		switch v := obj[name].(type) {
		case map[string]any:
			values := make([]any, len(labels))
			for i, label := range labels {
				values[i] = v[label]
			}
			columns[c] = tabular.Column{Name: name, Values: values}
		case []any:
			columns[c] = tabular.Column{Name: name, Values: v}
		default:
			return nil, fmt.Errorf("column %q: expected an object or list, got %T", name, v)
		}
	}
	return columns, nil
}

// indexToColumns reads {row label: {column: value}}.
func indexToColumns(obj map[string]any, labelRanks, nameRanks map[string]int) ([]tabular.Column, error) {
	labels := orderedKeys(mapKeys(obj), labelRanks)
	rows := make([]any, len(labels))
	for i, label := range labels {
		row, ok := obj[label].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("row %q: expected an object, got %T", label, obj[label])
		}
		rows[i] = row
	}
	return recordsToColumns(rows, nameRanks)
}
