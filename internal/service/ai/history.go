package ai

import (
	"log"
	"sync"

	"github.com/cloudwego/eino/schema"
	"github.com/pkoukk/tiktoken-go"
)

const historyEncoding = "cl100k_base"

// historyTrimmer bounds the history sent with each prompt. History is always
// a sequence of user/assistant pairs and is trimmed a whole pair at a time
// from the oldest end.
type historyTrimmer struct {
	limit     int
	maxTokens int

	once  sync.Once
	count func(string) int
}

func newHistoryTrimmer(limit, maxTokens int) *historyTrimmer {
	return &historyTrimmer{limit: limit, maxTokens: maxTokens}
}

// Trim returns the suffix of history that fits both the message limit and
// the token budget. Zero disables either bound.
func (t *historyTrimmer) Trim(history []*schema.Message) []*schema.Message {
	if t == nil {
		return history
	}

	if t.limit > 0 && len(history) > t.limit {
		start := len(history) - t.limit
		if start%2 != 0 {
			start++
		}
		history = history[start:]
	}

	if t.maxTokens <= 0 || len(history) == 0 {
		return history
	}

	count := t.counter()
	if count == nil {
		return history
	}

	total := 0
	for _, msg := range history {
		total += count(msg.Content)
	}

	for len(history) >= 2 && total > t.maxTokens {
		total -= count(history[0].Content) + count(history[1].Content)
		history = history[2:]
	}
	return history
}

func (t *historyTrimmer) counter() func(string) int {
	t.once.Do(func() {
		if t.count != nil {
			return
		}
		enc, err := tiktoken.GetEncoding(historyEncoding)
		if err != nil {
			log.Printf("[ai] token counting disabled, failed to load %s: %v", historyEncoding, err)
			return
		}
		t.count = func(text string) int {
			return len(enc.Encode(text, nil, nil))
		}
	})
	return t.count
}
