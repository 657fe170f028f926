package embedding

import (
	"context"
	"errors"
	"math"

	"github.com/m-mizutani/goerr/v2"

	"transcript-rag/internal/config"
)

var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Embedder turns text into unit-length vectors. The same model must be used
// for loading and querying.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Dimension() int
}

// New builds the embedder selected by cfg.Provider.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIEmbedder(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Dimension), nil
	case "onnx":
		return NewONNXEmbedder(ONNXConfig{
			ModelPath:     cfg.ONNXModelPath,
			TokenizerPath: cfg.TokenizerPath,
			SharedLibPath: cfg.ONNXSharedLibPath,
			Dimension:     cfg.Dimension,
			ModelName:     cfg.Model,
		})
	default:
		return nil, goerr.New("unknown embedding provider", goerr.V("provider", cfg.Provider))
	}
}

// EmbedOne is a convenience for single texts such as questions.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, goerr.New("unexpected embedding count", goerr.V("count", len(vecs)))
	}
	return vecs[0], nil
}

// Normalize scales v to unit length in place. Zero vectors are left as is.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

func checkDimension(vecs [][]float32, want int) error {
	if want <= 0 {
		return nil
	}
	for i, v := range vecs {
		if len(v) != want {
			return goerr.Wrap(ErrDimensionMismatch, "unexpected vector size",
				goerr.V("index", i), goerr.V("got", len(v)), goerr.V("want", want))
		}
	}
	return nil
}
