package analyzer

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/pario-ai/kotoba/pkg/lazy"
	"github.com/pario-ai/kotoba/pkg/models"
)

// Response schemas sent with identification and extraction calls. Analysis
// results vary by type and are only constrained by the prompt.
var (
	identifySchema = lazy.New(func() json.RawMessage { return reflectSchema(&models.IdentifyResult{}) })
	extractSchema  = lazy.New(func() json.RawMessage { return reflectSchema(&models.ExtractResult{}) })
)

func reflectSchema(v any) json.RawMessage {
	r := &jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := r.Reflect(v)
	schema.Version = ""

	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("marshal response schema: %v", err))
	}
	return data
}
