// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package vocab

import (
	"path/filepath"
	"testing"
)

func TestSpecialsComeFirst(t *testing.T) {
	v := New([]string{"deep", "learning", "<sep>"})
	if v.PadID() != 0 || v.BOSID() != 1 || v.EOSID() != 2 || v.UnkID() != 3 || v.SepID() != 4 {
		t.Fatalf("unexpected special ids")
	}
	if v.Size() != 7 {
		t.Fatalf("expected 7 tokens, got %d", v.Size())
	}
	if v.ID("missing") != v.UnkID() {
		t.Errorf("unknown tokens should map to <unk>")
	}
}

func TestBuildKeepsMostFrequent(t *testing.T) {
	v := Build(map[string]int{"a": 5, "b": 1, "c": 3}, 7)
	if !v.Contains("a") || !v.Contains("c") || v.Contains("b") {
		t.Fatalf("expected a and c only, got %v", v.tokens)
	}
}

func TestDecodeUsesOOVList(t *testing.T) {
	v := New([]string{"graph"})
	got := v.Decode([]int{5, v.Size(), v.Size() + 1}, []string{"xyzzy", "plugh"})
	want := []string{"graph", "xyzzy", "plugh"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("decode %v, want %v", got, want)
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.json")
	v := New([]string{"neural", "network"})
	if err := v.Save(path); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID("network") != v.ID("network") || got.Size() != v.Size() {
		t.Fatalf("round trip changed the mapping")
	}
}
