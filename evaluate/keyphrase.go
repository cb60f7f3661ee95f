// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

// Package evaluate scores a model on held-out data and renders its
// predictions as keyphrases.
package evaluate

import (
	"strings"

	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/vocab"
)

// Phrases cuts a one2seq id sequence into keyphrases. Decoding stops at the
// first </s> or <pad>; <sep> separates phrases and empty phrases are
// dropped. Ids beyond the vocabulary are resolved through oov.
func Phrases(v *vocab.Vocab, ids []int, oov []string) []string {
	var (
		phrases []string
		cur     []int
	)
	flush := func() {
		if len(cur) > 0 {
			phrases = append(phrases, strings.Join(v.Decode(cur, oov), " "))
		}
		cur = cur[:0]
	}
	for _, id := range ids {
		if id == v.EOSID() || id == v.PadID() {
			break
		}
		if id == v.SepID() {
			flush()
			continue
		}
		cur = append(cur, id)
	}
	flush()
	return phrases
}

// sourceText renders the unpadded extended source ids.
func sourceText(v *vocab.Vocab, ids []int, n int, oov []string) string {
	return strings.Join(v.Decode(ids[:n], oov), " ")
}
