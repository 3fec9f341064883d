package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"memlocate/pointerchain"
	"memlocate/signature"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeResult(t *testing.T, r findResult) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(r))
	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	return got
}

func TestFindResultOmitsMissingChain(t *testing.T) {
	got := decodeResult(t, newFindResult(0x1000, map[string]int64{"field_a": 1500}, nil, signature.Signature{}))

	assert.NotContains(t, got, "chain")
	assert.NotContains(t, got, "signature")
	assert.Equal(t, "0x1000", got["address"])
}

func TestFindResultKeepsChainAndSignature(t *testing.T) {
	chain := &pointerchain.Descriptor{ModuleOffset: 0x100, PointerSize: 8}
	sig := signature.Signature{Samples: []signature.Sample{{Offset: 0x10, Bytes: signature.Hex{0xca, 0xfe}}}, Digest: 1}

	got := decodeResult(t, newFindResult(0x1000, nil, chain, sig))

	assert.Contains(t, got, "chain")
	require.Contains(t, got, "signature")
	samples := got["signature"].(map[string]any)["samples"].([]any)
	assert.Len(t, samples, 1)
}
