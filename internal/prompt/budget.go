package prompt

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"forgemind/internal/logging"
)

var (
	encOnce sync.Once
	encoder *tiktoken.Tiktoken
)

// CountTokens counts tokens with the cl100k_base BPE when available. The
// encoding is fetched lazily; if it cannot be loaded (offline run), counting
// falls back to the ceil(chars/4) estimate.
func CountTokens(text string) int {
	encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			logging.PromptWarn("Token encoding unavailable, using chars/4 estimate: %v", err)
			return
		}
		encoder = enc
	})
	if encoder == nil {
		return EstimateTokens(text)
	}
	return len(encoder.Encode(text, nil, nil))
}

// EstimateTokens is the cheap ceil(chars/4) approximation.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
