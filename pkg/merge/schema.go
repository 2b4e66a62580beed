package merge

import (
	"bytes"
	_ "embed"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaURL = "https://ethpandaops.io/reportoor/worker-results.schema.json"

//go:embed worker-results.schema.json
var schemaData []byte

var (
	workerSchema *jsonschema.Schema
	compileOnce  sync.Once
	compileErr   error
)

// compileSchema compiles the embedded worker results schema once.
func compileSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaData))
		if err != nil {
			compileErr = fmt.Errorf("unmarshal worker results schema: %w", err)

			return
		}

		compiler := jsonschema.NewCompiler()

		if err := compiler.AddResource(schemaURL, doc); err != nil {
			compileErr = fmt.Errorf("add worker results schema: %w", err)

			return
		}

		workerSchema, err = compiler.Compile(schemaURL)
		if err != nil {
			compileErr = fmt.Errorf("compile worker results schema: %w", err)
		}
	})

	return workerSchema, compileErr
}
