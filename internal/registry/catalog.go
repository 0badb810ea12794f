package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Catalog is the normalised form of a registry answer that nests its models
// under a "data" envelope.
type Catalog struct {
	Models  []json.RawMessage `json:"models"`
	Total   int               `json:"total"`
	Filters json.RawMessage   `json:"filters"`
}

var defaultFilters = json.RawMessage(`{"providers":[],"authors":[],"capabilities":[]}`)

// registryDocument covers both shapes the registry has been seen to return.
type registryDocument struct {
	Data *struct {
		Models  json.RawMessage `json:"models"`
		Total   int             `json:"total"`
		Filters json.RawMessage `json:"filters"`
	} `json:"data"`
	Models json.RawMessage `json:"models"`
}

// normalize turns a registry body into the document served to clients.
// A nested {data:{models}} answer is flattened with defaults for total and
// filters; a top-level {models} answer is passed through untouched.
func normalize(body []byte) (json.RawMessage, error) {
	var doc registryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decoding registry response: %w", err)
	}

	if doc.Data != nil && present(doc.Data.Models) {
		var models []json.RawMessage
		if err := json.Unmarshal(doc.Data.Models, &models); err != nil {
			return nil, fmt.Errorf("%w: models is not a list", ErrUnexpectedShape)
		}

		catalog := Catalog{
			Models:  models,
			Total:   doc.Data.Total,
			Filters: doc.Data.Filters,
		}
		if catalog.Total == 0 {
			catalog.Total = len(models)
		}
		if !present(catalog.Filters) {
			catalog.Filters = defaultFilters
		}

		out, err := json.Marshal(catalog)
		if err != nil {
			return nil, fmt.Errorf("encoding catalog: %w", err)
		}
		return out, nil
	}

	if present(doc.Models) {
		return json.RawMessage(bytes.TrimSpace(body)), nil
	}

	return nil, ErrUnexpectedShape
}

// present reports whether a raw field was set to something other than null.
func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}
