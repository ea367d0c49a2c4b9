package embed

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Aman-CERP/amanvec/internal/errors"
)

// Kind identifies an embedding backend family.
type Kind string

const (
	// KindOllama uses the Ollama HTTP API for embeddings.
	KindOllama Kind = "ollama"

	// KindStatic uses deterministic hash-based embeddings (no network).
	KindStatic Kind = "static"
)

// Argument keys recognized by backend constructors. Unknown keys are
// preserved in container metadata but ignored here.
const (
	ArgModel     = "model"
	ArgEndpoint  = "endpoint"
	ArgBatchSize = "batch_size"
)

// New constructs an embedder for the given kind and arguments.
// Unknown kinds fail with ErrCodeUnknownBackend; the engine never
// branches on kind strings itself.
func New(ctx context.Context, kind Kind, arguments map[string]string) (Embedder, error) {
	switch kind {
	case KindOllama:
		cfg := DefaultOllamaConfig()
		if model := arguments[ArgModel]; model != "" {
			cfg.Model = model
		}
		if endpoint := arguments[ArgEndpoint]; endpoint != "" {
			cfg.Host = endpoint
		}
		if bs := arguments[ArgBatchSize]; bs != "" {
			n, err := strconv.Atoi(bs)
			if err != nil {
				return nil, errors.ValidationError(
					fmt.Sprintf("invalid batch_size %q", bs), err)
			}
			cfg.BatchSize = n
		}
		return NewOllamaEmbedder(ctx, cfg)

	case KindStatic:
		return NewStaticEmbedder(), nil

	default:
		return nil, errors.New(errors.ErrCodeUnknownBackend,
			fmt.Sprintf("unknown embedding backend %q", kind), nil).
			WithSuggestion(`supported backends: "ollama", "static"`)
	}
}

// ParseURI parses a backend specification of the form
//
//	<kind>://model/<name>
//
// e.g. "ollama://model/nomic-embed-text", into a kind plus arguments.
// Overrides are merged on top of URI-derived arguments.
func ParseURI(uri string, overrides map[string]string) (Kind, map[string]string, error) {
	kindStr, rest, found := strings.Cut(uri, "://")
	if !found || kindStr == "" {
		return "", nil, errors.ValidationError(
			fmt.Sprintf("invalid embedding URI %q: expected <kind>://model/<name>", uri), nil)
	}

	arguments := make(map[string]string)
	if rest != "" {
		prefix, model, found := strings.Cut(rest, "/")
		if !found || prefix != "model" || model == "" {
			return "", nil, errors.ValidationError(
				fmt.Sprintf("invalid embedding URI %q: expected <kind>://model/<name>", uri), nil)
		}
		arguments[ArgModel] = model
	}

	for k, v := range overrides {
		arguments[k] = v
	}

	return Kind(kindStr), arguments, nil
}

// FromURI parses a backend specification and constructs the embedder.
func FromURI(ctx context.Context, uri string, overrides map[string]string) (Embedder, Kind, map[string]string, error) {
	kind, arguments, err := ParseURI(uri, overrides)
	if err != nil {
		return nil, "", nil, err
	}
	embedder, err := New(ctx, kind, arguments)
	if err != nil {
		return nil, "", nil, err
	}
	return embedder, kind, arguments, nil
}
