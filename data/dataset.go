// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package data

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/vocab"
)

// Record is one JSONL line: a source document and its keyphrases.
type Record struct {
	Src string   `json:"src"`
	Trg []string `json:"trg"`
}

// Example is a tokenized record.
type Example struct {
	Src []string
	Trg [][]string
}

// Encoded is an example mapped to ids, ready for collation. TrgSeq is the
// one2seq target: keyphrases joined by <sep>, without <s> or </s>.
type Encoded struct {
	Src       []int
	SrcExt    []int
	OOV       []string
	TrgSeq    []int
	TrgSeqExt []int
}

// Tokenize lower-cases s and splits it on whitespace.
func Tokenize(s string) []string { return strings.Fields(strings.ToLower(s)) }

// ReadJSONL parses one Record per non-empty line.
func ReadJSONL(r io.Reader) ([]Example, error) {
	var out []Example
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		ex := Example{Src: Tokenize(rec.Src)}
		for _, kp := range rec.Trg {
			if toks := Tokenize(kp); len(toks) > 0 {
				ex.Trg = append(ex.Trg, toks)
			}
		}
		out = append(out, ex)
	}
	return out, errors.Wrap(sc.Err(), "scan jsonl")
}

// ReadJSONLFile opens path and parses it with ReadJSONL.
func ReadJSONLFile(path string) ([]Example, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	ex, err := ReadJSONL(f)
	return ex, errors.Wrapf(err, "read %s", path)
}

// CountTokens returns token frequencies over sources and targets.
func CountTokens(examples []Example) map[string]int {
	counts := make(map[string]int)
	for _, ex := range examples {
		for _, tok := range ex.Src {
			counts[tok]++
		}
		for _, kp := range ex.Trg {
			for _, tok := range kp {
				counts[tok]++
			}
		}
	}
	return counts
}

// Encode maps an example to ids. Source tokens outside v get an extended
// id V+k, where k indexes the example's OOV list; target tokens that are
// source OOVs reuse that id in the extended view and become <unk> in the
// plain view. maxSrcLen <= 0 keeps the whole source.
func Encode(ex Example, v *vocab.Vocab, maxSrcLen int) Encoded {
	src := ex.Src
	if maxSrcLen > 0 && len(src) > maxSrcLen {
		src = src[:maxSrcLen]
	}
	enc := Encoded{}
	oovIndex := make(map[string]int)
	for _, tok := range src {
		if v.Contains(tok) {
			id := v.ID(tok)
			enc.Src = append(enc.Src, id)
			enc.SrcExt = append(enc.SrcExt, id)
			continue
		}
		k, ok := oovIndex[tok]
		if !ok {
			k = len(enc.OOV)
			oovIndex[tok] = k
			enc.OOV = append(enc.OOV, tok)
		}
		enc.Src = append(enc.Src, v.UnkID())
		enc.SrcExt = append(enc.SrcExt, v.Size()+k)
	}
	for i, kp := range ex.Trg {
		if i > 0 {
			enc.TrgSeq = append(enc.TrgSeq, v.SepID())
			enc.TrgSeqExt = append(enc.TrgSeqExt, v.SepID())
		}
		for _, tok := range kp {
			id := v.ID(tok)
			enc.TrgSeq = append(enc.TrgSeq, id)
			if k, ok := oovIndex[tok]; ok && !v.Contains(tok) {
				enc.TrgSeqExt = append(enc.TrgSeqExt, v.Size()+k)
			} else {
				enc.TrgSeqExt = append(enc.TrgSeqExt, id)
			}
		}
	}
	return enc
}

// Collate pads encoded examples into one Batch.
//
//	Trg           = <s> seq <pad>...
//	TrgTarget     = seq </s> <pad>...
//	TrgCopyTarget = seqExt </s> <pad>...
func Collate(examples []Encoded, v *vocab.Vocab) *Batch {
	s, t := 0, 0
	for _, ex := range examples {
		if len(ex.Src) > s {
			s = len(ex.Src)
		}
		if len(ex.TrgSeq)+1 > t {
			t = len(ex.TrgSeq) + 1
		}
	}
	pad := v.PadID()
	b := &Batch{}
	for _, ex := range examples {
		b.Src = append(b.Src, padTo(ex.Src, s, pad))
		b.SrcExt = append(b.SrcExt, padTo(ex.SrcExt, s, pad))
		b.SrcLen = append(b.SrcLen, len(ex.Src))
		b.OOVLists = append(b.OOVLists, append([]string(nil), ex.OOV...))
		b.Trg = append(b.Trg, padTo(append([]int{v.BOSID()}, ex.TrgSeq...), t, pad))
		b.TrgTarget = append(b.TrgTarget, padTo(append(append([]int(nil), ex.TrgSeq...), v.EOSID()), t, pad))
		b.TrgCopyTarget = append(b.TrgCopyTarget, padTo(append(append([]int(nil), ex.TrgSeqExt...), v.EOSID()), t, pad))
	}
	return b
}

func padTo(ids []int, n, pad int) []int {
	out := make([]int, n)
	copy(out, ids)
	for i := len(ids); i < n; i++ {
		out[i] = pad
	}
	return out
}
