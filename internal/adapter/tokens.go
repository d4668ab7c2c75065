package adapter

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// Streamed OpenAI replies carry no usage block, so token counts are
// reconstructed locally with the cl100k_base encoding. The encoder loads
// lazily; when it is unavailable the counters degrade to rune counts rather
// than fail the log mapping.

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
)

func tokenEncoder() *tiktoken.Tiktoken {
	encoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			log.Warn().Err(err).Msg("token encoder unavailable, falling back to rune counts")
			return
		}
		encoder = enc
	})
	return encoder
}

func countTokens(s string) int {
	if enc := tokenEncoder(); enc != nil {
		return len(enc.Encode(s, nil, nil))
	}
	return utf8.RuneCountInString(s)
}

// countRequestTokens estimates the prompt tokens of a chat completion
// request: per-message overhead plus the encoded content, functions and
// tools.
func countRequestTokens(rawBody []byte) int {
	const (
		tokensPerMessage = 3
		tokensPerName    = 1
	)
	count := 0

	gjson.GetBytes(rawBody, "messages").ForEach(func(_, msg gjson.Result) bool {
		count += tokensPerMessage
		msg.ForEach(func(key, value gjson.Result) bool {
			if value.IsArray() {
				value.ForEach(func(_, part gjson.Result) bool {
					if part.Get("type").String() == "text" {
						count += countTokens(part.Get("text").String())
					}
					return true
				})
			} else {
				count += countTokens(value.String())
			}
			if key.String() == "name" {
				count += tokensPerName
			}
			return true
		})
		return true
	})

	for _, field := range []string{"functions", "tools"} {
		gjson.GetBytes(rawBody, field).ForEach(func(_, item gjson.Result) bool {
			count += countTokens(item.Raw)
			return true
		})
	}
	if fc := gjson.GetBytes(rawBody, "function_call"); fc.Exists() {
		if fc.IsObject() {
			count += countTokens(fc.Raw)
		} else {
			count += countTokens(fc.String())
		}
	}
	if tc := gjson.GetBytes(rawBody, "tool_choice"); tc.Exists() {
		count += countTokens(tc.Raw)
	}

	count += 3
	return count
}
