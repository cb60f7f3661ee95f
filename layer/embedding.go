// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package layer

import (
	"fmt"
	"math/rand"

	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/tensor"
)

// Embedding maps vocabulary ids to rows of a [V, E] table. Source and target
// sides share one table, so nothing is cached per call and Backward takes the
// ids again.
type Embedding struct {
	weight    *tensor.Tensor
	vocabSize int
	embedDim  int
}

// NewEmbedding draws the table from N(0, 1/E).
func NewEmbedding(vocabSize, embedDim int, rng *rand.Rand) *Embedding {
	std := tensor.Sqrt(1.0 / float32(embedDim))
	return &Embedding{
		weight:    tensor.RandnWithStd(tensor.NewShape(vocabSize, embedDim), std, rng),
		vocabSize: vocabSize,
		embedDim:  embedDim,
	}
}

// Lookup turns a padded id matrix [B][T] into a [B, T, E] tensor. An id
// outside the table panics; models check ids before calling.
func (e *Embedding) Lookup(ids [][]int) *tensor.Tensor {
	batch, seqLen := len(ids), 0
	if batch > 0 {
		seqLen = len(ids[0])
	}
	output := tensor.New(tensor.NewShape(batch, seqLen, e.embedDim))
	out, w := output.DataPtr(), e.weight.DataPtr()
	for b, row := range ids {
		for s, tid := range row {
			if tid < 0 || tid >= e.vocabSize {
				panic(fmt.Sprintf("layer: id %d outside embedding table of %d rows", tid, e.vocabSize))
			}
			copy(out[(b*seqLen+s)*e.embedDim:], w[tid*e.embedDim:(tid+1)*e.embedDim])
		}
	}
	return output
}

// Backward adds each [B, T, E] gradient row onto the table row of its id, so
// a repeated id collects every occurrence.
func (e *Embedding) Backward(ids [][]int, gradOutput *tensor.Tensor) {
	g := gradOutput.DataPtr()
	wGrad := e.weight.GradPtr()
	seqLen := gradOutput.Shape().At(1)
	for b, row := range ids {
		for s, tid := range row {
			gOff := (b*seqLen + s) * e.embedDim
			tensor.Axpy(1, g[gOff:gOff+e.embedDim], wGrad[tid*e.embedDim:(tid+1)*e.embedDim])
		}
	}
}

func (e *Embedding) Parameters() []*tensor.Tensor { return []*tensor.Tensor{e.weight} }

func (e *Embedding) VocabSize() int { return e.vocabSize }

func (e *Embedding) EmbedDim() int { return e.embedDim }
