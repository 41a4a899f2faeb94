package loaders

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/nlpodyssey/gopickle/types"

	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/tabular"
)

// findPandasClass resolves the numpy and pandas globals a pickled DataFrame
// refers to. Any other class is rejected.
func findPandasClass(module, name string) (interface{}, error) {
	numpy := module == "numpy" || strings.HasPrefix(module, "numpy.")
	switch {
	case numpy && name == "ndarray":
		return ndarrayClass{}, nil
	case numpy && name == "dtype":
		return dtypeClass{}, nil
	case numpy && name == "_reconstruct":
		return reconstructFunc{}, nil
	case numpy && name == "_frombuffer":
		return frombufferFunc{}, nil
	case module == "builtins" && name == "slice", module == "__builtin__" && name == "slice":
		return sliceFunc{}, nil
	case strings.HasPrefix(module, "pandas.core.indexes.") && name == "_new_Index":
		return newIndexFunc{}, nil
	case strings.HasPrefix(module, "pandas.core.indexes.") && strings.HasSuffix(name, "Index"):
		return indexClass{name: name}, nil
	case module == "pandas.core.frame" && name == "DataFrame":
		return frameClass{}, nil
	case strings.HasPrefix(module, "pandas.core.internals") && name == "BlockManager":
		return managerClass{}, nil
	}
	return nil, fmt.Errorf("%w: pickled %s.%s objects", ErrUnsupportedPickle, module, name)
}

type ndarrayClass struct{}

type dtypeClass struct{}

// npDtype is a numpy dtype reduced to its kind, item size and byte order.
type npDtype struct {
	kind      byte
	size      int
	bigEndian bool
}

// Call builds a dtype from its type string, e.g. "f8", "<i4" or "O8".
func (dtypeClass) Call(args ...interface{}) (interface{}, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: dtype without a type string", ErrUnsupportedPickle)
	}
	code, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("%w: dtype type string is %T", ErrUnsupportedPickle, args[0])
	}
	dt := &npDtype{}
	if code != "" && strings.ContainsRune("<>|=", rune(code[0])) {
		dt.bigEndian = code[0] == '>'
		code = code[1:]
	}
	if code == "" {
		return nil, fmt.Errorf("%w: empty dtype", ErrUnsupportedPickle)
	}
	dt.kind = code[0]
	if len(code) > 1 {
		size, err := strconv.Atoi(code[1:])
		if err != nil {
			return nil, fmt.Errorf("%w: dtype %q", ErrUnsupportedPickle, args[0])
		}
		dt.size = size
	}
	return dt, nil
}

// PySetState reads the byte order from (version, byteorder, ...).
func (dt *npDtype) PySetState(state interface{}) error {
	tuple, ok := state.(*types.Tuple)
	if !ok || tuple.Len() < 2 {
		return fmt.Errorf("%w: dtype state %T", ErrUnsupportedPickle, state)
	}
	if order, ok := tuple.Get(1).(string); ok {
		dt.bigEndian = order == ">"
	}
	return nil
}

func (dt *npDtype) String() string {
	return fmt.Sprintf("%c%d", dt.kind, dt.size)
}

// ndarray holds either raw little- or big-endian bytes or, for object
// arrays, the element list in C order.
type ndarray struct {
	dtype   *npDtype
	shape   []int
	fortran bool
	raw     []byte
	objects []any
}

type reconstructFunc struct{}

// Call mirrors numpy's _reconstruct(ndarray, (0,), b"b"); the data arrives
// through PySetState.
func (reconstructFunc) Call(args ...interface{}) (interface{}, error) {
	return &ndarray{}, nil
}

// PySetState reads (version, shape, dtype, is_fortran, data).
func (a *ndarray) PySetState(state interface{}) error {
	tuple, ok := state.(*types.Tuple)
	if !ok || tuple.Len() < 5 {
		return fmt.Errorf("%w: ndarray state %T", ErrUnsupportedPickle, state)
	}
	items := []interface{}(*tuple)
	shape, err := pyShape(items[1])
	if err != nil {
		return err
	}
	dt, ok := items[2].(*npDtype)
	if !ok {
		return fmt.Errorf("%w: ndarray dtype %T", ErrUnsupportedPickle, items[2])
	}
	fortran, _ := items[3].(bool)

	a.shape, a.dtype, a.fortran = shape, dt, fortran
	switch data := items[4].(type) {
	case []byte:
		a.raw = data
	case *types.ByteArray:
		a.raw = []byte(*data)
	case string:
		a.raw = []byte(data)
	case *types.List:
		a.objects = sequenceItems(data)
	default:
		return fmt.Errorf("%w: ndarray data %T", ErrUnsupportedPickle, data)
	}
	return nil
}

type frombufferFunc struct{}

// Call mirrors numpy's _frombuffer(buffer, dtype, shape, order), used for
// contiguous arrays from protocol 5 on.
func (frombufferFunc) Call(args ...interface{}) (interface{}, error) {
	if len(args) != 4 {
		return nil, fmt.Errorf("%w: _frombuffer takes 4 arguments, got %d", ErrUnsupportedPickle, len(args))
	}
	a := &ndarray{}
	switch buf := args[0].(type) {
	case []byte:
		a.raw = buf
	case *types.ByteArray:
		a.raw = []byte(*buf)
	default:
		return nil, fmt.Errorf("%w: _frombuffer buffer %T", ErrUnsupportedPickle, buf)
	}
	dt, ok := args[1].(*npDtype)
	if !ok {
		return nil, fmt.Errorf("%w: _frombuffer dtype %T", ErrUnsupportedPickle, args[1])
	}
	shape, err := pyShape(args[2])
	if err != nil {
		return nil, err
	}
	order, _ := args[3].(string)
	a.dtype, a.shape, a.fortran = dt, shape, order == "F"
	return a, nil
}

func pyShape(v any) ([]int, error) {
	items, ok := asSequence(v)
	if !ok {
		return nil, fmt.Errorf("%w: shape %T", ErrUnsupportedPickle, v)
	}
	shape := make([]int, len(items))
	for i, item := range items {
		n, ok := pyInt(item)
		if !ok {
			return nil, fmt.Errorf("%w: shape entry %T", ErrUnsupportedPickle, item)
		}
		shape[i] = n
	}
	return shape, nil
}

func pyInt(v any) (int, bool) {
	switch v := v.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case *big.Int:
		if v.IsInt64() {
			return int(v.Int64()), true
		}
	}
	return 0, false
}

func (a *ndarray) len() int {
	n := 1
	for _, d := range a.shape {
		n *= d
	}
	return n
}

// values returns the elements in C order. Float NaN and None become nil.
func (a *ndarray) values() ([]any, error) {
	n := a.len()
	if a.objects != nil {
		if len(a.objects) != n {
			return nil, fmt.Errorf("%w: %d objects for shape %v", ErrUnsupportedPickle, len(a.objects), a.shape)
		}
		out := make([]any, n)
		for i, v := range a.objects {
			if f, ok := v.(float64); ok && math.IsNaN(f) {
				continue
			}
			out[i] = toGo(v)
		}
		return out, nil
	}

	dt := a.dtype
	if dt.kind == 'O' {
		return nil, fmt.Errorf("%w: object array without an element list", ErrUnsupportedPickle)
	}
	if dt.size <= 0 || len(a.raw) != n*dt.size {
		return nil, fmt.Errorf("%w: %d bytes for %d elements of %s", ErrUnsupportedPickle, len(a.raw), n, dt)
	}
	var order binary.ByteOrder = binary.LittleEndian
	if dt.bigEndian {
		order = binary.BigEndian
	}

	out := make([]any, n)
	for i := range out {
		cell := a.raw[i*dt.size : (i+1)*dt.size]
		v, err := decodeScalar(dt, order, cell)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	if a.fortran && len(a.shape) == 2 {
		out = fortranToC(out, a.shape[0], a.shape[1])
	} else if a.fortran && len(a.shape) > 2 {
		return nil, fmt.Errorf("%w: Fortran-ordered array of shape %v", ErrUnsupportedPickle, a.shape)
	}
	return out, nil
}

func decodeScalar(dt *npDtype, order binary.ByteOrder, cell []byte) (any, error) {
	switch {
	case dt.kind == 'b' && dt.size == 1:
		return cell[0] != 0, nil
	case dt.kind == 'i' && dt.size == 1:
		return int64(int8(cell[0])), nil
	case dt.kind == 'i' && dt.size == 2:
		return int64(int16(order.Uint16(cell))), nil
	case dt.kind == 'i' && dt.size == 4:
		return int64(int32(order.Uint32(cell))), nil
	case dt.kind == 'i' && dt.size == 8:
		return int64(order.Uint64(cell)), nil
	case dt.kind == 'u' && dt.size == 1:
		return int64(cell[0]), nil
	case dt.kind == 'u' && dt.size == 2:
		return int64(order.Uint16(cell)), nil
	case dt.kind == 'u' && dt.size == 4:
		return int64(order.Uint32(cell)), nil
	case dt.kind == 'u' && dt.size == 8:
		return order.Uint64(cell), nil
	case dt.kind == 'f' && dt.size == 4:
		f := float64(math.Float32frombits(order.Uint32(cell)))
		if math.IsNaN(f) {
			return nil, nil
		}
		return f, nil
	case dt.kind == 'f' && dt.size == 8:
		f := math.Float64frombits(order.Uint64(cell))
		if math.IsNaN(f) {
			return nil, nil
		}
		return f, nil
	}
	return nil, fmt.Errorf("%w: numpy dtype %s", ErrUnsupportedPickle, dt)
}

// fortranToC reorders a rows x cols column-major slice to row-major.
func fortranToC(values []any, rows, cols int) []any {
	out := make([]any, len(values))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[i*cols+j] = values[j*rows+i]
		}
	}
	return out
}

// pySlice is a Python slice object with nil for omitted bounds.
type pySlice struct {
	start, stop, step any
}

type sliceFunc struct{}

func (sliceFunc) Call(args ...interface{}) (interface{}, error) {
	s := &pySlice{}
	switch len(args) {
	case 1:
		s.stop = args[0]
	case 2:
		s.start, s.stop = args[0], args[1]
	case 3:
		s.start, s.stop, s.step = args[0], args[1], args[2]
	default:
		return nil, fmt.Errorf("%w: slice with %d arguments", ErrUnsupportedPickle, len(args))
	}
	return s, nil
}

func (s *pySlice) indices() ([]int, error) {
	start, step := 0, 1
	if s.start != nil {
		start, _ = pyInt(s.start)
	}
	if s.step != nil {
		step, _ = pyInt(s.step)
	}
	stop, ok := pyInt(s.stop)
	if !ok || step <= 0 {
		return nil, fmt.Errorf("%w: block placement slice(%v, %v, %v)", ErrUnsupportedPickle, s.start, s.stop, s.step)
	}
	var out []int
	for i := start; i < stop; i += step {
		out = append(out, i)
	}
	return out, nil
}

// indexClass is a pandas Index subclass such as Index or RangeIndex.
type indexClass struct {
	name string
}

// pdIndex is an axis of a frame: explicit labels or a range.
type pdIndex struct {
	labels []any
}

type newIndexFunc struct{}

// Call mirrors pandas' _new_Index(cls, d).
func (newIndexFunc) Call(args ...interface{}) (interface{}, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: _new_Index takes 2 arguments, got %d", ErrUnsupportedPickle, len(args))
	}
	cls, ok := args[0].(indexClass)
	if !ok {
		return nil, fmt.Errorf("%w: index class %T", ErrUnsupportedPickle, args[0])
	}
	d, ok := args[1].(pyMapping)
	if !ok {
		return nil, fmt.Errorf("%w: index state %T", ErrUnsupportedPickle, args[1])
	}

	if cls.name == "RangeIndex" {
		r := &pySlice{start: 0, step: 1}
		r.start, _ = d.Get("start")
		r.stop, _ = d.Get("stop")
		if step, ok := d.Get("step"); ok {
			r.step = step
		}
		positions, err := r.indices()
		if err != nil {
			return nil, err
		}
		labels := make([]any, len(positions))
		for i, p := range positions {
			labels[i] = int64(p)
		}
		return &pdIndex{labels: labels}, nil
	}

	data, _ := d.Get("data")
	arr, ok := data.(*ndarray)
	if !ok {
		return nil, fmt.Errorf("%w: %s data %T", ErrUnsupportedPickle, cls.name, data)
	}
	labels, err := arr.values()
	if err != nil {
		return nil, err
	}
	return &pdIndex{labels: labels}, nil
}

type frameClass struct{}

// dataFrame is an unpickled pandas.DataFrame.
type dataFrame struct {
	mgr *blockManager
}

func (frameClass) PyNew(args ...interface{}) (interface{}, error) {
	return &dataFrame{}, nil
}

// PySetState reads the NDFrame state dict; only _mgr carries data.
func (f *dataFrame) PySetState(state interface{}) error {
	d, ok := state.(pyMapping)
	if !ok {
		return fmt.Errorf("%w: DataFrame state %T", ErrUnsupportedPickle, state)
	}
	raw, _ := d.Get("_mgr")
	mgr, ok := raw.(*blockManager)
	if !ok {
		return fmt.Errorf("%w: DataFrame manager %T", ErrUnsupportedPickle, raw)
	}
	f.mgr = mgr
	return nil
}

type managerClass struct{}

// block is a 2D array of one dtype and the frame columns its rows fill.
type block struct {
	values    *ndarray
	positions []int
}

type blockManager struct {
	axes   []*pdIndex
	blocks []block
}

func (managerClass) PyNew(args ...interface{}) (interface{}, error) {
	return &blockManager{}, nil
}

// PySetState reads (axes, block values, block items, extra state), taking
// block placements from the "0.14.1" extra state.
func (m *blockManager) PySetState(state interface{}) error {
	tuple, ok := state.(*types.Tuple)
	if !ok || tuple.Len() < 4 {
		return fmt.Errorf("%w: BlockManager state %T", ErrUnsupportedPickle, state)
	}
	extra, ok := tuple.Get(3).(pyMapping)
	if !ok {
		return fmt.Errorf("%w: BlockManager extra state %T", ErrUnsupportedPickle, tuple.Get(3))
	}
	rawCurrent, _ := extra.Get("0.14.1")
	current, ok := rawCurrent.(pyMapping)
	if !ok {
		return fmt.Errorf("%w: BlockManager state without block placements", ErrUnsupportedPickle)
	}

	rawAxes, _ := current.Get("axes")
	axes, ok := asSequence(rawAxes)
	if !ok || len(axes) != 2 {
		return fmt.Errorf("%w: BlockManager axes %T", ErrUnsupportedPickle, rawAxes)
	}
	for _, ax := range axes {
		idx, ok := ax.(*pdIndex)
		if !ok {
			return fmt.Errorf("%w: axis %T", ErrUnsupportedPickle, ax)
		}
		m.axes = append(m.axes, idx)
	}

	rawBlocks, _ := current.Get("blocks")
	blocks, ok := asSequence(rawBlocks)
	if !ok {
		return fmt.Errorf("%w: BlockManager blocks %T", ErrUnsupportedPickle, rawBlocks)
	}
	for i, raw := range blocks {
		b, ok := raw.(pyMapping)
		if !ok {
			return fmt.Errorf("%w: block %d is %T", ErrUnsupportedPickle, i, raw)
		}
		rawValues, _ := b.Get("values")
		values, ok := rawValues.(*ndarray)
		if !ok {
			return fmt.Errorf("%w: block %d values %T", ErrUnsupportedPickle, i, rawValues)
		}
		rawLocs, _ := b.Get("mgr_locs")
		positions, err := placement(rawLocs)
		if err != nil {
			return err
		}
		m.blocks = append(m.blocks, block{values: values, positions: positions})
	}
	return nil
}

func placement(v any) ([]int, error) {
	switch v := v.(type) {
	case *pySlice:
		return v.indices()
	case *ndarray:
		values, err := v.values()
		if err != nil {
			return nil, err
		}
		out := make([]int, len(values))
		for i, p := range values {
			n, ok := p.(int64)
			if !ok {
				return nil, fmt.Errorf("%w: block placement %T", ErrUnsupportedPickle, p)
			}
			out[i] = int(n)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: block placement %T", ErrUnsupportedPickle, v)
}

// columns lays the blocks out as frame columns. The row index is dropped.
func (f *dataFrame) columns() ([]tabular.Column, error) {
	if f.mgr == nil || len(f.mgr.axes) != 2 {
		return nil, fmt.Errorf("%w: DataFrame without a block manager", ErrUnsupportedPickle)
	}
	names := f.mgr.axes[0].labels
	rows := len(f.mgr.axes[1].labels)

	columns := make([]tabular.Column, len(names))
	filled := make([]bool, len(names))
	for _, b := range f.mgr.blocks {
		values, err := b.values.values()
		if err != nil {
			return nil, err
		}
		if len(b.positions)*rows != len(values) {
			return nil, fmt.Errorf("%w: block of %d values for %d columns of %d rows",
				ErrUnsupportedPickle, len(values), len(b.positions), rows)
		}
		for r, pos := range b.positions {
			if pos < 0 || pos >= len(names) {
				return nil, fmt.Errorf("%w: block placement %d out of range", ErrUnsupportedPickle, pos)
			}
			columns[pos] = tabular.Column{Name: keyName(names[pos]), Values: values[r*rows : (r+1)*rows]}
			filled[pos] = true
		}
	}
	for i, ok := range filled {
		if !ok {
			return nil, fmt.Errorf("%w: column %v has no block", ErrUnsupportedPickle, names[i])
		}
	}
	return columns, nil
}
