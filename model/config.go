// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

// Package model provides the reference copy-enabled sequence-to-sequence
// keyphrase generator trained by package train.
package model

// Config holds the model dimensions.
type Config struct {
	VocabSize         int   // fixed vocabulary size V, specials included
	EmbSize           int   // word embedding size (150)
	HiddenSize        int   // encoder and decoder state size (300)
	TargetEncoderSize int   // output size of the target-encoding MLP (64)
	CopyAttention     bool  // extend the output space with source OOV slots
	Seed              int64 // weight initialization seed
}

// Default returns the full-size configuration for a vocabulary of size v.
func Default(v int) Config {
	return Config{
		VocabSize:         v,
		EmbSize:           150,
		HiddenSize:        300,
		TargetEncoderSize: 64,
		CopyAttention:     true,
	}
}

// Tiny returns a minimal configuration for tests.
func Tiny(v int) Config {
	return Config{
		VocabSize:         v,
		EmbSize:           6,
		HiddenSize:        5,
		TargetEncoderSize: 4,
		CopyAttention:     true,
		Seed:              1,
	}
}

// TotalParams counts every trainable scalar.
//
//	embedding + encoder + decoder (input, source, recurrence) + output
//	+ vocabulary projection + target representation + target MLP + bilinear
func (c Config) TotalParams() int {
	e, h, v, d := c.EmbSize, c.HiddenSize, c.VocabSize, c.TargetEncoderSize
	emb := v * e
	enc := e*h + h
	dec := e*h + h + h*h + h*h
	out := 2*h*h + h
	proj := h*v + v
	trg := e*h + h + h*h
	mlp := h*h + h + h*d + d
	bil := h*d + 1
	return emb + enc + dec + out + proj + trg + mlp + bil
}
