// Package validate checks registration payloads against the registry's JSON Schema.
package validate

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/ans-project/ans/pkg/protocol"
)

//go:embed registration.schema.json
var registrationSchema []byte

var (
	compiledSchema *gojsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
)

func getSchema() (*gojsonschema.Schema, error) {
	compileOnce.Do(func() {
		loader := gojsonschema.NewBytesLoader(registrationSchema)
		compiledSchema, compileErr = gojsonschema.NewSchema(loader)
	})
	return compiledSchema, compileErr
}

// ValidateRegistrationJSON validates raw JSON bytes against the registration
// schema. It returns the list of violations and an error only if the schema
// itself cannot be used.
func ValidateRegistrationJSON(jsonData []byte) ([]string, error) {
	schema, err := getSchema()
	if err != nil {
		return nil, fmt.Errorf("compiling registration schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("validating registration: %w", err)
	}

	if result.Valid() {
		return nil, nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, e.String())
	}
	return errs, nil
}

// ValidateRegistration validates a decoded registration.
func ValidateRegistration(reg *protocol.SignedRegistration) ([]string, error) {
	data, err := json.Marshal(reg)
	if err != nil {
		return nil, fmt.Errorf("marshal registration: %w", err)
	}
	return ValidateRegistrationJSON(data)
}
