// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package train

import "github.com/yashkhem1/seq2seq-keyphrase-pytorch/tensor"

// AdamConfig holds optimizer hyperparameters.
type AdamConfig struct {
	LR          float32 // peak learning rate
	Beta1       float32 // first moment decay
	Beta2       float32 // second moment decay
	Eps         float32 // numerical stability
	WeightDecay float32 // decoupled weight decay; 0 gives plain Adam
	WarmupSteps int     // linear warmup length; 0 disables warmup
	TotalSteps  int     // cosine horizon; <= WarmupSteps keeps the rate constant
}

// DefaultAdamConfig returns standard Adam hyperparameters.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LR:    1e-3,
		Beta1: 0.9,
		Beta2: 0.999,
		Eps:   1e-8,
	}
}

// Adam keeps first and second moments for every parameter tensor.
type Adam struct {
	params []*tensor.Tensor
	config AdamConfig
	step   int
	m, v   [][]float32
}

// NewAdam creates an optimizer with zeroed moments.
func NewAdam(params []*tensor.Tensor, cfg AdamConfig) *Adam {
	a := &Adam{params: params, config: cfg}
	for _, p := range params {
		a.m = append(a.m, make([]float32, p.Len()))
		a.v = append(a.v, make([]float32, p.Len()))
	}
	return a
}

// LR computes the learning rate of the current step.
//
//	warmup:  lr = peak_lr * step / warmup_steps
//	cosine:  lr = min_lr + 0.5*(peak_lr - min_lr)*(1 + cos(pi * progress))
//	min_lr = 0.1 * peak_lr
func (a *Adam) LR() float32 {
	c := a.config
	if c.WarmupSteps > 0 && a.step < c.WarmupSteps {
		return c.LR * float32(a.step) / float32(c.WarmupSteps)
	}
	if c.TotalSteps <= c.WarmupSteps {
		return c.LR
	}
	progress := float32(a.step-c.WarmupSteps) / float32(c.TotalSteps-c.WarmupSteps)
	if progress > 1.0 {
		progress = 1.0
	}
	minLR := c.LR * 0.1
	return minLR + 0.5*(c.LR-minLR)*(1.0+tensor.Cos(3.1415927*progress))
}

// StepCount returns the number of updates applied.
func (a *Adam) StepCount() int { return a.step }

// SetStepCount restores the schedule position after a resume.
func (a *Adam) SetStepCount(step int) { a.step = step }

// Step applies one update with the accumulated gradients.
//
//	m = beta1 * m + (1 - beta1) * g
//	v = beta2 * v + (1 - beta2) * g^2
//	w -= lr * (m_hat / (sqrt(v_hat) + eps) + weight_decay * w)
//
// Parameters whose Grad is nil received no gradient and are left alone.
func (a *Adam) Step() {
	a.step++
	c := a.config
	lr := a.LR()
	mCorr := 1.0 / (1 - tensor.Pow(c.Beta1, float32(a.step)))
	vCorr := 1.0 / (1 - tensor.Pow(c.Beta2, float32(a.step)))
	for i, p := range a.params {
		if p.Grad == nil {
			continue
		}
		w, m, v := p.DataPtr(), a.m[i], a.v[i]
		for j, g := range p.Grad {
			m[j] = c.Beta1*m[j] + (1-c.Beta1)*g
			v[j] = c.Beta2*v[j] + (1-c.Beta2)*g*g
			w[j] -= lr * (m[j]*mCorr/(tensor.Sqrt(v[j]*vCorr)+c.Eps) + c.WeightDecay*w[j])
		}
	}
}

// ZeroGrad clears every parameter gradient.
func (a *Adam) ZeroGrad() {
	for _, p := range a.params {
		p.ZeroGrad()
	}
}
