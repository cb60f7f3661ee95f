// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

// Package vocab maps tokens to integer ids and back. The special markers
// always occupy the first ids so that models can rely on them being inside
// the fixed vocabulary.
package vocab

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/pkg/errors"
)

// Special tokens.
const (
	PadWord = "<pad>"
	BOSWord = "<s>"
	EOSWord = "</s>"
	UnkWord = "<unk>"
	SepWord = "<sep>"
)

var specials = []string{PadWord, BOSWord, EOSWord, UnkWord, SepWord}

// Vocab is an immutable token <-> id mapping.
type Vocab struct {
	tokens []string
	ids    map[string]int
}

// New builds a vocabulary from tokens. Special markers are placed first and
// duplicates are dropped.
func New(tokens []string) *Vocab {
	v := &Vocab{ids: make(map[string]int, len(tokens)+len(specials))}
	for _, tok := range append(append([]string(nil), specials...), tokens...) {
		if _, ok := v.ids[tok]; ok {
			continue
		}
		v.ids[tok] = len(v.tokens)
		v.tokens = append(v.tokens, tok)
	}
	return v
}

// Build counts token frequencies and keeps the maxSize most frequent ones
// (ties broken alphabetically), specials included in the budget.
func Build(counts map[string]int, maxSize int) *Vocab {
	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	v := New(nil)
	for _, w := range words {
		if maxSize > 0 && v.Size() >= maxSize {
			break
		}
		if _, ok := v.ids[w]; !ok {
			v.ids[w] = len(v.tokens)
			v.tokens = append(v.tokens, w)
		}
	}
	return v
}

// Size returns the number of tokens including specials.
func (v *Vocab) Size() int { return len(v.tokens) }

// ID returns the id of tok, or the <unk> id when tok is unknown.
func (v *Vocab) ID(tok string) int {
	if id, ok := v.ids[tok]; ok {
		return id
	}
	return v.UnkID()
}

// Contains reports whether tok is in the vocabulary.
func (v *Vocab) Contains(tok string) bool {
	_, ok := v.ids[tok]
	return ok
}

// Token returns the token for id, or <unk> for ids outside the vocabulary.
func (v *Vocab) Token(id int) string {
	if id < 0 || id >= len(v.tokens) {
		return UnkWord
	}
	return v.tokens[id]
}

// Decode maps ids to tokens. Ids at or beyond Size() index into oov, the
// per-example out-of-vocabulary list of the copy mechanism.
func (v *Vocab) Decode(ids []int, oov []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id >= v.Size() && id-v.Size() < len(oov) {
			out = append(out, oov[id-v.Size()])
			continue
		}
		out = append(out, v.Token(id))
	}
	return out
}

func (v *Vocab) PadID() int { return v.ids[PadWord] }
func (v *Vocab) BOSID() int { return v.ids[BOSWord] }
func (v *Vocab) EOSID() int { return v.ids[EOSWord] }
func (v *Vocab) UnkID() int { return v.ids[UnkWord] }
func (v *Vocab) SepID() int { return v.ids[SepWord] }

// Save writes the token list as a JSON array.
func (v *Vocab) Save(path string) error {
	b, err := json.Marshal(v.tokens)
	if err != nil {
		return errors.Wrap(err, "encode vocab")
	}
	return errors.Wrapf(os.WriteFile(path, b, 0o644), "write vocab %s", path)
}

// Load reads a vocabulary written by Save.
func Load(path string) (*Vocab, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read vocab %s", path)
	}
	var tokens []string
	if err := json.Unmarshal(b, &tokens); err != nil {
		return nil, errors.Wrapf(err, "decode vocab %s", path)
	}
	for i, s := range specials {
		if i >= len(tokens) || tokens[i] != s {
			return nil, errors.Errorf("vocab %s: expected %q at id %d", path, s, i)
		}
	}
	return New(tokens), nil
}
