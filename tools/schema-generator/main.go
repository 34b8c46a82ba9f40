// Command schema-generator regenerates the embedded JSON schema in the
// config package from the Go types. Run via go:generate in config/types.go.
package main

import (
	"encoding/json"
	"log"
	"os"

	"github.com/grovetools/cosync/config"
	"github.com/invopop/jsonschema"
)

func main() {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		ExpandedStruct:            true,
		FieldNameTag:              "yaml",
	}

	schema := r.Reflect(&config.Config{})
	schema.Title = "Cosync Configuration"
	schema.Description = "Schema for cosync.yml."

	// Every field is optional; defaults fill the gaps.
	schema.Required = nil

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		log.Fatalf("Error marshaling schema: %v", err)
	}

	if err := os.WriteFile("config/cosync.embedded.schema.json", data, 0644); err != nil {
		log.Fatalf("Error writing schema file: %v", err)
	}

	log.Printf("Successfully generated config schema")
}
