package hfdataset

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/goccy/go-json"
)

const dataFileName = "data-00000-of-00001.arrow"

// MarshalJSON writes the declaration as it was read, or the typed fields when
// the feature was built in code.
func (f Feature) MarshalJSON() ([]byte, error) {
	if len(f.Raw) > 0 {
		return f.Raw, nil
	}
	type plain Feature
	return json.Marshal(plain(f))
}

// Save writes rec to dir in the save_to_disk layout, as a single data file.
// Columns missing from features get a declaration inferred from their type.
func Save(dir string, rec arrow.Record, features Features) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create dataset directory: %w", err)
	}

	declared := make(Features, rec.NumCols())
	for _, field := range rec.Schema().Fields() {
		if f, ok := features[field.Name]; ok {
			declared[field.Name] = f
		} else {
			declared[field.Name] = inferFeature(field)
		}
	}

	if err := writeStream(filepath.Join(dir, dataFileName), rec); err != nil {
		return err
	}

	featuresJSON, err := json.Marshal(declared)
	if err != nil {
		return fmt.Errorf("failed to encode features: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, infoFile), map[string]any{
		"features": json.RawMessage(featuresJSON),
	}); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, stateFile), map[string]any{
		"_data_files": []map[string]string{{"filename": dataFileName}},
		"_split":      nil,
	})
}

// SaveDict writes each split to its own directory under dir and records the
// split names in dataset_dict.json.
func SaveDict(dir string, splits map[string]arrow.Record, features Features) error {
	names := make([]string, 0, len(splits))
	for name, rec := range splits {
		if err := Save(filepath.Join(dir, name), rec, features); err != nil {
			return fmt.Errorf("split %q: %w", name, err)
		}
		names = append(names, name)
	}
	return writeJSON(filepath.Join(dir, datasetDictFile), datasetDict{Splits: names})
}

func writeStream(path string, rec arrow.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create data file: %w", err)
	}
	defer f.Close()

	w := ipc.NewWriter(f, ipc.WithSchema(rec.Schema()))
	if err := w.Write(rec); err != nil {
		w.Close()
		return fmt.Errorf("failed to write data file: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data file: %w", err)
	}
	return f.Close()
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, data, 0o644)
}
