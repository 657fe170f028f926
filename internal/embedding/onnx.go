package embedding

import (
	"context"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
)

const maxSequenceLength = 256

type ONNXConfig struct {
	ModelPath     string
	TokenizerPath string
	SharedLibPath string
	Dimension     int
	ModelName     string
}

// ONNXEmbedder runs a sentence-transformers model (all-MiniLM-L6-v2) locally:
// mean pooling over last_hidden_state, then L2 normalization.
type ONNXEmbedder struct {
	tok     *tokenizer.Tokenizer
	session *ort.DynamicAdvancedSession
	cfg     ONNXConfig

	mu sync.Mutex
}

func NewONNXEmbedder(cfg ONNXConfig) (*ONNXEmbedder, error) {
	tok, err := pretrained.FromFile(cfg.TokenizerPath)
	if err != nil {
		return nil, goerr.Wrap(err, "load tokenizer failed", goerr.V("path", cfg.TokenizerPath))
	}

	if cfg.SharedLibPath != "" {
		ort.SetSharedLibraryPath(cfg.SharedLibPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, goerr.Wrap(err, "initialize onnx environment failed")
		}
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, goerr.Wrap(err, "create session options failed")
	}
	defer opts.Destroy()
	if err := opts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		return nil, goerr.Wrap(err, "set graph optimization failed")
	}

	session, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		opts,
	)
	if err != nil {
		return nil, goerr.Wrap(err, "create onnx session failed", goerr.V("path", cfg.ModelPath))
	}

	if cfg.ModelName == "" {
		cfg.ModelName = "all-MiniLM-L6-v2"
	}
	return &ONNXEmbedder{tok: tok, session: session, cfg: cfg}, nil
}

func (e *ONNXEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inputs := make([]tokenizer.EncodeInput, len(texts))
	for i, t := range texts {
		inputs[i] = tokenizer.NewSingleEncodeInput(tokenizer.NewInputSequence(t))
	}
	encodings, err := e.tok.EncodeBatch(inputs, true)
	if err != nil {
		return nil, goerr.Wrap(err, "tokenization failed")
	}

	seqLen := 0
	for _, enc := range encodings {
		if l := len(enc.GetIds()); l > seqLen {
			seqLen = l
		}
	}
	if seqLen > maxSequenceLength {
		seqLen = maxSequenceLength
	}
	if seqLen == 0 {
		return nil, goerr.New("tokenizer produced no tokens")
	}

	batch := len(encodings)
	inputIDs := make([]int64, batch*seqLen)
	attention := make([]int64, batch*seqLen)
	tokenTypes := make([]int64, batch*seqLen)
	for i, enc := range encodings {
		ids := enc.GetIds()
		mask := enc.GetAttentionMask()
		for j := 0; j < seqLen && j < len(ids); j++ {
			inputIDs[i*seqLen+j] = int64(ids[j])
			attention[i*seqLen+j] = int64(mask[j])
		}
	}

	shape := ort.NewShape(int64(batch), int64(seqLen))
	idsTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, goerr.Wrap(err, "create input_ids tensor failed")
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor(shape, attention)
	if err != nil {
		return nil, goerr.Wrap(err, "create attention_mask tensor failed")
	}
	defer maskTensor.Destroy()
	typeTensor, err := ort.NewTensor(shape, tokenTypes)
	if err != nil {
		return nil, goerr.Wrap(err, "create token_type_ids tensor failed")
	}
	defer typeTensor.Destroy()

	outputs := make([]ort.Value, 1)
	e.mu.Lock()
	err = e.session.Run([]ort.Value{idsTensor, maskTensor, typeTensor}, outputs)
	e.mu.Unlock()
	if err != nil {
		return nil, goerr.Wrap(err, "onnx inference failed")
	}
	defer outputs[0].Destroy()

	hidden, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, goerr.New("output tensor is not float32")
	}
	outShape := hidden.GetShape()
	if len(outShape) != 3 {
		return nil, goerr.New("unexpected output rank", goerr.V("shape", outShape))
	}

	vecs := MeanPool(hidden.GetData(), attention, batch, int(outShape[1]), int(outShape[2]))
	for _, v := range vecs {
		Normalize(v)
	}
	if err := checkDimension(vecs, e.cfg.Dimension); err != nil {
		return nil, err
	}
	return vecs, nil
}

// MeanPool averages token vectors weighted by the attention mask. hidden is
// laid out as [batch, seqLen, dim].
func MeanPool(hidden []float32, mask []int64, batch, seqLen, dim int) [][]float32 {
	vecs := make([][]float32, batch)
	for b := 0; b < batch; b++ {
		v := make([]float32, dim)
		var count float32
		for s := 0; s < seqLen; s++ {
			if mask[b*seqLen+s] == 0 {
				continue
			}
			count++
			offset := (b*seqLen + s) * dim
			for d := 0; d < dim; d++ {
				v[d] += hidden[offset+d]
			}
		}
		if count > 0 {
			for d := range v {
				v[d] /= count
			}
		}
		vecs[b] = v
	}
	return vecs
}

func (e *ONNXEmbedder) Model() string {
	return e.cfg.ModelName
}

func (e *ONNXEmbedder) Dimension() int {
	return e.cfg.Dimension
}

func (e *ONNXEmbedder) Close() error {
	if e.session != nil {
		if err := e.session.Destroy(); err != nil {
			return goerr.Wrap(err, "destroy onnx session failed")
		}
	}
	return nil
}
