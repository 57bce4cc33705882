package assistant

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// estimateCharsPerToken is the fallback ratio when no codec is available.
const estimateCharsPerToken = 4

// TokenCounter measures prompt size for budget enforcement.
type TokenCounter interface {
	CountText(model, text string) int
}

// Counter counts tokens with tiktoken, caching codecs per encoding. When a
// model has no known codec it falls back to a character-ratio estimate, so
// callers always get a usable number.
type Counter struct {
	cacheMu    sync.RWMutex
	codecCache map[tokenizer.Encoding]tokenizer.Codec
}

// NewCounter creates a token counter.
func NewCounter() *Counter {
	return &Counter{
		codecCache: make(map[tokenizer.Encoding]tokenizer.Codec),
	}
}

// CountText returns the token count of text for model.
func (c *Counter) CountText(model, text string) int {
	codec, err := c.getCodec(model)
	if err != nil {
		return estimate(text)
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return estimate(text)
	}
	return len(ids)
}

func (c *Counter) getCodec(model string) (tokenizer.Codec, error) {
	codec, err := tokenizer.ForModel(tokenizer.Model(model))
	if err == nil {
		return codec, nil
	}

	encoding := modelToEncoding(model)

	c.cacheMu.RLock()
	if cached, ok := c.codecCache[encoding]; ok {
		c.cacheMu.RUnlock()
		return cached, nil
	}
	c.cacheMu.RUnlock()

	codec, err = tokenizer.Get(encoding)
	if err != nil {
		return nil, err
	}

	c.cacheMu.Lock()
	c.codecCache[encoding] = codec
	c.cacheMu.Unlock()

	return codec, nil
}

// modelToEncoding maps model families to their encoding for fallback.
// GPT-4o and newer use o200k_base; GPT-4 and GPT-3.5 use cl100k_base.
func modelToEncoding(model string) tokenizer.Encoding {
	model = strings.ToLower(model)

	switch {
	case strings.HasPrefix(model, "gpt-4o"), strings.HasPrefix(model, "gpt-5"),
		strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return tokenizer.O200kBase
	case strings.HasPrefix(model, "gpt-4"), strings.HasPrefix(model, "gpt-3.5"):
		return tokenizer.Cl100kBase
	default:
		return tokenizer.O200kBase
	}
}

func estimate(text string) int {
	return len(text)/estimateCharsPerToken + 1
}
