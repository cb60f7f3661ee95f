// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package model

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/data"
	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/layer"
	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/tensor"
	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/train"
)

// Seq2Seq is an attentional encoder-decoder with a copy mechanism.
//
//	enc_s  = tanh(W_e emb(x_s) + b_e)
//	src    = mean_{s < len} enc_s
//	h_t    = tanh(W_x emb(y_t) + b_x + W_s src + W_h h_{t-1})
//	a_t    = softmax_{s < len}(h_t . enc_s)
//	o_t    = tanh(W_o [h_t; sum_s a_ts enc_s] + b_o)
//	logp_t = log_softmax([W_v o_t + b_v; copy_t])
//	r_t    = tanh(W_r emb(y_t) + b_r + W_q h_t)
//
// In extended mode copy_t[j] = logsumexp of the attention scores over the
// source positions holding OOV slot j, or -Inf when the example has none.
// The target-encoding MLP and the bilinear scorer of the contrastive loss
// belong to the model so that they are optimized and checkpointed with it.
type Seq2Seq struct {
	cfg           Config
	emb           *layer.Embedding
	encIn         *layer.Linear
	decIn         *layer.Linear
	decSrc        *layer.Linear
	wRec          *tensor.Tensor // [H, H]
	out           *layer.Linear
	proj          *layer.Linear
	trgEmb        *layer.Linear
	trgHid        *layer.Linear
	targetEncoder *layer.MLP
	scorer        *layer.Bilinear

	last *forwardCache
}

// forwardCache keeps the activations Backward needs.
type forwardCache struct {
	batch      *data.Batch
	enc        *tensor.Tensor // [B, S, H]
	h          *tensor.Tensor // [B, T, H]
	scores     *tensor.Tensor // [B, T, S] raw attention scores
	attn       *tensor.Tensor // [B, T, S]
	o          *tensor.Tensor // [B, T, H]
	copyLogits *tensor.Tensor // [B, T, K], nil when K = 0
	logp       *tensor.Tensor // [B, T, V+K]
	r          *tensor.Tensor // [B, T, H]
}

// New creates a model with weights drawn from cfg.Seed.
func New(cfg Config) *Seq2Seq {
	rng := rand.New(rand.NewSource(cfg.Seed))
	e, h := cfg.EmbSize, cfg.HiddenSize
	return &Seq2Seq{
		cfg:           cfg,
		emb:           layer.NewEmbedding(cfg.VocabSize, e, rng),
		encIn:         layer.NewLinear(e, h, true, rng),
		decIn:         layer.NewLinear(e, h, true, rng),
		decSrc:        layer.NewLinear(h, h, false, rng),
		wRec:          tensor.RandnWithStd(tensor.NewShape(h, h), tensor.Sqrt(1/float32(h)), rng),
		out:           layer.NewLinear(2*h, h, true, rng),
		proj:          layer.NewLinear(h, cfg.VocabSize, true, rng),
		trgEmb:        layer.NewLinear(e, h, true, rng),
		trgHid:        layer.NewLinear(h, h, false, rng),
		targetEncoder: layer.NewMLP([]int{h, h, cfg.TargetEncoderSize}, rng),
		scorer:        layer.NewBilinear(h, cfg.TargetEncoderSize, rng),
	}
}

// Config returns the model's configuration.
func (m *Seq2Seq) Config() Config { return m.cfg }

// TargetEncoder returns the target-encoding MLP.
func (m *Seq2Seq) TargetEncoder() train.Projector { return m.targetEncoder }

// Scorer returns the bilinear source/target scorer.
func (m *Seq2Seq) Scorer() train.Scorer { return m.scorer }

// Parameters returns all trainable tensors in a fixed order.
func (m *Seq2Seq) Parameters() []*tensor.Tensor {
	return tensor.ConcatParams(
		m.emb.Parameters(),
		m.encIn.Parameters(),
		m.decIn.Parameters(),
		m.decSrc.Parameters(),
		[]*tensor.Tensor{m.wRec},
		m.out.Parameters(),
		m.proj.Parameters(),
		m.trgEmb.Parameters(),
		m.trgHid.Parameters(),
		m.targetEncoder.Parameters(),
		m.scorer.Parameters(),
	)
}

// Forward runs the teacher-forced decoder over b.Trg.
func (m *Seq2Seq) Forward(b *data.Batch) (*train.Output, error) {
	if err := m.checkIDs(b); err != nil {
		return nil, err
	}
	mode := b.Mode(m.cfg.CopyAttention)
	n, srcSteps, steps := b.Size(), b.SrcSeqLen(), b.TrgSeqLen()
	hid, v, k := m.cfg.HiddenSize, m.cfg.VocabSize, mode.OOVCount

	enc, srcRepr := m.encode(b.Src, b.SrcLen)
	trgEmb := m.emb.Lookup(b.Trg)
	h := m.decIn.Forward(trgEmb)
	srcProj := m.decSrc.Forward(srcRepr)
	for i := 0; i < n; i++ {
		for t := 0; t < steps; t++ {
			row := h.Vec(i, t)
			tensor.Axpy(1, srcProj.Vec(i), row)
			var prev []float32
			if t > 0 {
				prev = h.Vec(i, t-1)
			}
			m.recur(row, prev)
		}
	}

	c := &forwardCache{
		batch:  b,
		enc:    enc,
		h:      h,
		scores: tensor.New(tensor.NewShape(n, steps, srcSteps)),
		attn:   tensor.New(tensor.NewShape(n, steps, srcSteps)),
		logp:   tensor.New(tensor.NewShape(n, steps, v+k)),
	}
	cat := tensor.New(tensor.NewShape(n, steps, 2*hid))
	for i := 0; i < n; i++ {
		for t := 0; t < steps; t++ {
			hv, cv := h.Vec(i, t), cat.Vec(i, t)
			copy(cv[:hid], hv)
			attend(hv, enc, i, b.SrcLen[i], c.scores.Vec(i, t), c.attn.Vec(i, t), cv[hid:])
		}
	}
	c.o = m.out.Forward(cat)
	c.o.TanhInPlace()
	logits := m.proj.Forward(c.o)
	if k > 0 {
		c.copyLogits = tensor.New(tensor.NewShape(n, steps, k))
	}
	row := make([]float32, v+k)
	for i := 0; i < n; i++ {
		for t := 0; t < steps; t++ {
			copy(row[:v], logits.Vec(i, t))
			if k > 0 {
				cl := c.copyLogits.Vec(i, t)
				copyScores(c.scores.Vec(i, t), b.SrcExt[i], b.SrcLen[i], v, cl)
				copy(row[v:], cl)
			}
			tensor.LogSoftmaxInto(c.logp.Vec(i, t), row)
		}
	}

	c.r = m.trgEmb.Forward(trgEmb)
	c.r.AddInPlace(m.trgHid.Forward(h))
	c.r.TanhInPlace()

	m.last = c
	return &train.Output{
		LogProbs:   c.logp,
		Hidden:     h,
		Attention:  c.attn,
		SourceRepr: srcRepr,
		TargetRepr: c.r,
		Vocab:      mode,
	}, nil
}

// Backward accumulates parameter gradients for the last Forward.
func (m *Seq2Seq) Backward(g *train.OutputGrad) error {
	c := m.last
	if c == nil {
		return errors.New("backward called before forward")
	}
	b := c.batch
	n, steps := b.Size(), b.TrgSeqLen()
	hid, v := m.cfg.HiddenSize, m.cfg.VocabSize

	dh := tensor.New(c.h.Shape())
	dEnc := tensor.New(c.enc.Shape())
	dScores := tensor.New(c.scores.Shape())
	var dTrgEmb *tensor.Tensor
	if g.Hidden != nil {
		dh.AddInPlace(g.Hidden)
	}

	if g.TargetRepr != nil {
		dr := tanhGrad(g.TargetRepr, c.r)
		dTrgEmb = m.trgEmb.Backward(dr)
		dh.AddInPlace(m.trgHid.Backward(dr))
	}

	if g.LogProbs != nil {
		dLogits := tensor.New(tensor.NewShape(n, steps, v))
		width := c.logp.Shape().At(-1)
		dz := make([]float32, width)
		for i := 0; i < n; i++ {
			for t := 0; t < steps; t++ {
				// log_softmax: dz = g - softmax * sum(g)
				gr, lp := g.LogProbs.Vec(i, t), c.logp.Vec(i, t)
				sum := float32(0)
				for _, x := range gr {
					sum += x
				}
				for j := range dz {
					dz[j] = gr[j] - tensor.Exp(lp[j])*sum
				}
				copy(dLogits.Vec(i, t), dz[:v])
				if c.copyLogits != nil {
					copyScoresBackward(dz[v:], c.copyLogits.Vec(i, t), c.scores.Vec(i, t),
						b.SrcExt[i], b.SrcLen[i], v, dScores.Vec(i, t))
				}
			}
		}
		dCat := m.out.Backward(tanhGrad(m.proj.Backward(dLogits), c.o))
		for i := 0; i < n; i++ {
			for t := 0; t < steps; t++ {
				dc := dCat.Vec(i, t)
				tensor.Axpy(1, dc[:hid], dh.Vec(i, t))
				attendBackward(dc[hid:], c.enc, dEnc, i, b.SrcLen[i], c.attn.Vec(i, t), dScores.Vec(i, t))
			}
		}
	}

	// scores[t, s] = h_t . enc_s
	for i := 0; i < n; i++ {
		for t := 0; t < steps; t++ {
			ds := dScores.Vec(i, t)
			for s := 0; s < b.SrcLen[i]; s++ {
				if ds[s] == 0 {
					continue
				}
				tensor.Axpy(ds[s], c.enc.Vec(i, s), dh.Vec(i, t))
				tensor.Axpy(ds[s], c.h.Vec(i, t), dEnc.Vec(i, s))
			}
		}
	}

	// Backpropagation through time over the recurrence.
	dPre := tensor.New(c.h.Shape())
	dRec := m.wRec.GradPtr()
	carry := make([]float32, hid)
	for i := 0; i < n; i++ {
		for j := range carry {
			carry[j] = 0
		}
		for t := steps - 1; t >= 0; t-- {
			hv, dp := c.h.Vec(i, t), dPre.Vec(i, t)
			dht := dh.Vec(i, t)
			for j := range dp {
				dp[j] = (dht[j] + carry[j]) * (1 - hv[j]*hv[j])
				carry[j] = 0
			}
			if t == 0 {
				continue
			}
			prev := c.h.Vec(i, t-1)
			for r := 0; r < hid; r++ {
				tensor.Axpy(dp[r], m.wRec.Vec(r), carry)
				tensor.Axpy(dp[r], prev, dRec[r*hid:(r+1)*hid])
			}
		}
	}
	dDecEmb := m.decIn.Backward(dPre)
	if dTrgEmb == nil {
		dTrgEmb = dDecEmb
	} else {
		dTrgEmb.AddInPlace(dDecEmb)
	}
	dSrcProj := tensor.New(tensor.NewShape(n, hid))
	for i := 0; i < n; i++ {
		for t := 0; t < steps; t++ {
			tensor.Axpy(1, dPre.Vec(i, t), dSrcProj.Vec(i))
		}
	}
	dSrcRepr := m.decSrc.Backward(dSrcProj)
	for i := 0; i < n; i++ {
		if l := b.SrcLen[i]; l > 0 {
			for s := 0; s < l; s++ {
				tensor.Axpy(1/float32(l), dSrcRepr.Vec(i), dEnc.Vec(i, s))
			}
		}
	}
	m.emb.Backward(b.Src, m.encIn.Backward(tanhGrad(dEnc, c.enc)))
	m.emb.Backward(b.Trg, dTrgEmb)
	return nil
}

// encode returns the encoder states [B, S, H] and the length-masked mean
// source representation [B, H].
func (m *Seq2Seq) encode(src [][]int, srcLen []int) (*tensor.Tensor, *tensor.Tensor) {
	enc := m.encIn.Forward(m.emb.Lookup(src))
	enc.TanhInPlace()
	repr := tensor.New(tensor.NewShape(len(src), m.cfg.HiddenSize))
	for i, l := range srcLen {
		for s := 0; s < l; s++ {
			tensor.Axpy(1/float32(l), enc.Vec(i, s), repr.Vec(i))
		}
	}
	return enc, repr
}

// recur adds W_h h_{t-1} to the pre-activation row and applies tanh.
func (m *Seq2Seq) recur(row, prev []float32) {
	if prev != nil {
		for r := range row {
			row[r] += tensor.Dot(m.wRec.Vec(r), prev)
		}
	}
	for r, x := range row {
		row[r] = tensor.Tanh(x)
	}
}

func (m *Seq2Seq) checkIDs(b *data.Batch) error {
	if err := b.Validate(); err != nil {
		return err
	}
	v := m.cfg.VocabSize
	for _, part := range []struct {
		name string
		rows [][]int
	}{{"src", b.Src}, {"trg", b.Trg}} {
		for i, row := range part.rows {
			for _, id := range row {
				if id < 0 || id >= v {
					return errors.Wrapf(data.ErrShapeMismatch, "example %d: %s id %d outside vocabulary of %d", i, part.name, id, v)
				}
			}
		}
	}
	return nil
}

func tanhGrad(grad, out *tensor.Tensor) *tensor.Tensor {
	return tensor.FromSliceNoCopy(layer.TanhBackward(grad.DataPtr(), out.DataPtr()), out.Shape())
}
