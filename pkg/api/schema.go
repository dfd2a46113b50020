package api

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	decideSchema   = mustCompile("decide.json")
	feedbackSchema = mustCompile("feedback.json")
)

func mustCompile(name string) *jsonschema.Schema {
	data, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		panic(err)
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(name, bytes.NewReader(data)); err != nil {
		panic(err)
	}
	return c.MustCompile(name)
}

// maxBodyBytes caps ingress request bodies.
const maxBodyBytes = 1 << 20

// decodeValidated reads the body, checks it against the schema, and only
// then decodes it into dst. Schema failures surface as invalid_input
// before any typed decoding happens.
func decodeValidated(w http.ResponseWriter, r *http.Request, schema *jsonschema.Schema, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %v", contracts.ErrInvalidInput, err)
	}
	var loose any
	if err := json.Unmarshal(data, &loose); err != nil {
		return fmt.Errorf("%w: malformed json: %v", contracts.ErrInvalidInput, err)
	}
	if err := schema.Validate(loose); err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrInvalidInput, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrInvalidInput, err)
	}
	return nil
}
