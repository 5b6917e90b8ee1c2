// Copyright 2025 Certen Protocol

package receipts

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleLatticeReceipt() LatticeReceipt {
	return LatticeReceipt{
		Version:     1,
		LatticeID:   "lat-abc123",
		GroupID:     "grp-def456",
		Dim:         3,
		LambdaG:     "1",
		LambdaC:     "0.5",
		LambdaQ:     "2",
		EdgeHash:    "deadbeef",
		DeltaHTotal: "0.125",
		CGIters:     7,
		FinalResid:  "0.0000001",
		FileSHA256:  "filehash",
		ModelSHA256: "modelhash",
	}
}

func TestLatticeReceipt_SealThenVerify(t *testing.T) {
	r := sampleLatticeReceipt()
	_, err := r.Seal()
	require.NoError(t, err)
	require.NotEmpty(t, r.StateSig)

	ok, err := r.VerifyStateSig()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLatticeReceipt_TamperDetected(t *testing.T) {
	r := sampleLatticeReceipt()
	_, err := r.Seal()
	require.NoError(t, err)

	r.DeltaHTotal = "9.999"
	ok, err := r.VerifyStateSig()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLatticeReceipt_SealDeterministic(t *testing.T) {
	a := sampleLatticeReceipt()
	b := sampleLatticeReceipt()
	_, err := a.Seal()
	require.NoError(t, err)
	_, err = b.Seal()
	require.NoError(t, err)
	require.Equal(t, a.StateSig, b.StateSig)
}

func TestBuildDBReceipt_OrderIndependent(t *testing.T) {
	a := sampleLatticeReceipt()
	a.LatticeID = "lat-aaa"
	_, err := a.Seal()
	require.NoError(t, err)

	b := sampleLatticeReceipt()
	b.LatticeID = "lat-bbb"
	b.EdgeHash = "otherhash"
	_, err = b.Seal()
	require.NoError(t, err)

	configHash := "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"

	r1, err := BuildDBReceipt([]LatticeReceipt{a, b}, configHash)
	require.NoError(t, err)
	r2, err := BuildDBReceipt([]LatticeReceipt{b, a}, configHash)
	require.NoError(t, err)

	require.Equal(t, r1.DBRoot, r2.DBRoot)
	require.Equal(t, 2, r1.LatticeCount)
}

func TestBuildDBReceipt_RejectsInvalidConfigHash(t *testing.T) {
	_, err := BuildDBReceipt(nil, "not-hex")
	require.Error(t, err)
}

func TestBuildDBReceipt_RejectsUnsealedLattice(t *testing.T) {
	r := sampleLatticeReceipt() // StateSig never set
	configHash := "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
	_, err := BuildDBReceipt([]LatticeReceipt{r}, configHash)
	require.Error(t, err)
}

func TestCompositeReceipt_SealSortsLatticeIDs(t *testing.T) {
	c := &CompositeReceipt{
		DBRoot:      "root",
		LatticeIDs:  []string{"lat-c", "lat-a", "lat-b"},
		DeltaHTotal: "0.1",
		FinalResid:  "0.0001",
		Epsilon:     "0.01",
		Tau:         "0.01",
		ModelSHA256: "modelhash",
	}
	_, err := c.Seal()
	require.NoError(t, err)
	require.Equal(t, []string{"lat-a", "lat-b", "lat-c"}, c.LatticeIDs)

	ok, err := c.VerifyStateSig()
	require.NoError(t, err)
	require.True(t, ok)
}
