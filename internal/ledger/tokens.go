package ledger

import (
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// The embedded BPE tables keep tokenizer setup off the network.
func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

var (
	encMu    sync.Mutex
	encCache = map[string]*tiktoken.Tiktoken{}
)

// EstimateTokens counts text with the model's tokenizer, falling back to
// cl100k_base. When no encoding can be loaded the estimate is 0.
func EstimateTokens(model, text string) int64 {
	enc := encodingFor(model)
	if enc == nil {
		return 0
	}
	return int64(len(enc.Encode(text, nil, nil)))
}

func encodingFor(model string) *tiktoken.Tiktoken {
	encMu.Lock()
	defer encMu.Unlock()
	if enc, ok := encCache[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			enc = nil
		}
	}
	encCache[model] = enc
	return enc
}
