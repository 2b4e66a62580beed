package merge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/ethpandaops/reportoor/pkg/result"
	"github.com/mitchellh/mapstructure"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Source is one persisted result list, typically one worker's file.
type Source struct {
	// Name identifies the source in errors (file path or object key).
	Name string
	Data []byte
}

// Attempt is a decoded record together with the attempt history it
// already carries, if it is the output of an earlier merge.
type Attempt struct {
	Record  result.Record
	History []result.Status
}

// history returns the statuses this attempt contributes to its group.
func (a *Attempt) history() []result.Status {
	n := len(a.History)
	if n > 0 && a.History[n-1] == a.Record.Status {
		return a.History
	}

	return []result.Status{a.Record.Status}
}

// MalformedSourceError reports a source that is not valid JSON or does not
// have one of the accepted shapes.
type MalformedSourceError struct {
	Source string
	Err    error
}

func (e *MalformedSourceError) Error() string {
	return fmt.Sprintf("could not parse %s: %v", e.Source, e.Err)
}

func (e *MalformedSourceError) Unwrap() error {
	return e.Err
}

// ReadSource reads a source from a file.
func ReadSource(path string) (Source, error) {
	data, err := os.ReadFile(path) //nolint:gosec // paths come from the caller
	if err != nil {
		return Source{}, fmt.Errorf("reading %s: %w", path, err)
	}

	return Source{Name: path, Data: data}, nil
}

// DirSources reads every *.json file in dir, ordered by file name. A
// missing directory yields no sources. Paths listed in skip are ignored.
func DirSources(dir string, skip ...string) ([]Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Source{}, nil
		}

		return nil, fmt.Errorf("reading source directory: %w", err)
	}

	skipped := make(map[string]struct{}, len(skip))

	for _, p := range skip {
		if abs, err := filepath.Abs(p); err == nil {
			skipped[abs] = struct{}{}
		}
	}

	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		names = append(names, entry.Name())
	}

	sort.Strings(names)

	sources := make([]Source, 0, len(names))

	for _, name := range names {
		path := filepath.Join(dir, name)

		if abs, err := filepath.Abs(path); err == nil {
			if _, ok := skipped[abs]; ok {
				continue
			}
		}

		src, err := ReadSource(path)
		if err != nil {
			return nil, err
		}

		sources = append(sources, src)
	}

	return sources, nil
}

// Decode parses a source into its attempts, in stored order. Any parse,
// shape or field error is returned as a *MalformedSourceError.
func Decode(src Source) ([]Attempt, error) {
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(src.Data))
	if err != nil {
		return nil, &MalformedSourceError{Source: src.Name, Err: err}
	}

	if err := schema.Validate(doc); err != nil {
		return nil, &MalformedSourceError{Source: src.Name, Err: err}
	}

	var items []any

	switch v := doc.(type) {
	case []any:
		items = v
	case map[string]any:
		items, _ = v["results"].([]any)
	}

	attempts := make([]Attempt, 0, len(items))

	for i, item := range items {
		attempt, err := decodeAttempt(item)
		if err != nil {
			return nil, &MalformedSourceError{
				Source: src.Name,
				Err:    fmt.Errorf("record %d: %w", i, err),
			}
		}

		attempts = append(attempts, attempt)
	}

	return attempts, nil
}

// storedAttempt mirrors a persisted record including the fields written
// by a previous merge.
type storedAttempt struct {
	result.Record `mapstructure:",squash"`

	Attempts []result.Status `mapstructure:"flaky_attempts"`
}

func decodeAttempt(item any) (Attempt, error) {
	var stored storedAttempt

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(joinListHook, integralNumberHook),
		WeaklyTypedInput: true,
		Result:           &stored,
	})
	if err != nil {
		return Attempt{}, err
	}

	if err := dec.Decode(item); err != nil {
		return Attempt{}, err
	}

	return Attempt{
		Record:  stored.Record.Normalized(),
		History: stored.Attempts,
	}, nil
}

var errUnsupportedList = errors.New("unsupported list element")

// joinListHook turns list values bound for text fields (captured log lines)
// into newline separated text.
func joinListHook(from, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.String || from.Kind() != reflect.Slice {
		return data, nil
	}

	list, ok := data.([]any)
	if !ok {
		return data, nil
	}

	lines := make([]string, 0, len(list))

	for _, v := range list {
		switch v.(type) {
		case map[string]any, []any:
			return nil, errUnsupportedList
		}

		lines = append(lines, fmt.Sprint(v))
	}

	return strings.Join(lines, "\n"), nil
}

// integralNumberHook accepts integral numbers written with a fraction
// ("3.0") for integer fields.
func integralNumberHook(_, to reflect.Type, data any) (any, error) {
	n, ok := data.(json.Number)
	if !ok {
		return data, nil
	}

	switch to.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
	default:
		return data, nil
	}

	if _, err := n.Int64(); err == nil {
		return data, nil
	}

	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) {
		return data, nil
	}

	return int64(f), nil
}
