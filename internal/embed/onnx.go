package embed

import (
	"context"
	"fmt"
	"sync"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXConfig locates a local sentence-transformer model. Both paths must
// point to files on disk; nothing is downloaded.
type ONNXConfig struct {
	ModelPath     string `yaml:"model_path"`
	TokenizerPath string `yaml:"tokenizer_path"`
	MaxTokens     int    `yaml:"max_tokens"` // default 256
	LibraryPath   string `yaml:"library_path,omitempty"`
}

// ONNXEmbedder runs a MiniLM-class encoder locally through onnxruntime,
// mean-pooling the last hidden state under the attention mask. Safe for
// concurrent use; the session is serialized with a mutex.
type ONNXEmbedder struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	tk      *tokenizer.Tokenizer
	maxTok  int
	dims    int
}

var _ Embedder = (*ONNXEmbedder)(nil)

var ortInitOnce sync.Once
var ortInitErr error

// NewONNXEmbedder loads the tokenizer and model session. Errors here are
// configuration errors; callers fall back to the hash embedder or fail fast.
func NewONNXEmbedder(cfg ONNXConfig) (*ONNXEmbedder, error) {
	if cfg.ModelPath == "" || cfg.TokenizerPath == "" {
		return nil, fmt.Errorf("onnx embedder needs model_path and tokenizer_path")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}

	ortInitOnce.Do(func() {
		if cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.LibraryPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("initializing onnxruntime: %w", ortInitErr)
	}

	tk, err := pretrained.FromFile(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer %s: %w", cfg.TokenizerPath, err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"}, nil)
	if err != nil {
		return nil, fmt.Errorf("loading onnx model %s: %w", cfg.ModelPath, err)
	}

	return &ONNXEmbedder{session: session, tk: tk, maxTok: cfg.MaxTokens}, nil
}

// Dimensions returns the hidden size once at least one embedding has been
// produced, 0 before.
func (o *ONNXEmbedder) Dimensions() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dims
}

// Embed encodes text and mean-pools the encoder output.
func (o *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	enc, err := o.tk.EncodeSingle(text, true)
	if err != nil {
		return nil, fmt.Errorf("tokenizing: %w", err)
	}
	n := len(enc.Ids)
	if n == 0 {
		return nil, fmt.Errorf("tokenizer produced no tokens")
	}
	if n > o.maxTok {
		n = o.maxTok
	}

	ids := make([]int64, n)
	mask := make([]int64, n)
	types := make([]int64, n)
	for i := 0; i < n; i++ {
		ids[i] = int64(enc.Ids[i])
		mask[i] = int64(enc.AttentionMask[i])
	}

	shape := ort.NewShape(1, int64(n))
	idsTensor, err := ort.NewTensor(shape, ids)
	if err != nil {
		return nil, fmt.Errorf("building input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor(shape, mask)
	if err != nil {
		return nil, fmt.Errorf("building attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()
	typesTensor, err := ort.NewTensor(shape, types)
	if err != nil {
		return nil, fmt.Errorf("building token_type_ids tensor: %w", err)
	}
	defer typesTensor.Destroy()

	o.mu.Lock()
	defer o.mu.Unlock()

	outputs := []ort.Value{nil}
	if err := o.session.Run([]ort.Value{idsTensor, maskTensor, typesTensor}, outputs); err != nil {
		return nil, fmt.Errorf("running onnx session: %w", err)
	}
	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type %T", outputs[0])
	}
	defer out.Destroy()

	dims := out.GetShape()
	if len(dims) != 3 || dims[0] != 1 || int(dims[1]) < n {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}
	hidden := int(dims[2])
	data := out.GetData()

	// Mean pooling over unmasked positions.
	vec := make([]float32, hidden)
	var count float32
	for i := 0; i < n; i++ {
		if mask[i] == 0 {
			continue
		}
		count++
		row := data[i*hidden : (i+1)*hidden]
		for j, v := range row {
			vec[j] += v
		}
	}
	if count > 0 {
		for j := range vec {
			vec[j] /= count
		}
	}
	normalize(vec)
	o.dims = hidden
	return vec, nil
}

// Close releases the onnxruntime session.
func (o *ONNXEmbedder) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session != nil {
		o.session.Destroy()
		o.session = nil
	}
	return nil
}
