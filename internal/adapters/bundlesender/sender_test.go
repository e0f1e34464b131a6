package bundlesender

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kalebmora/ringrouter/internal/application/instructions"
)

func countTag(frames []Frame, tag byte) int {
	n := 0
	for _, f := range frames {
		if f.Tag == tag {
			n++
		}
	}
	return n
}

func TestCalculateTip_ZeroBpsUsesComputeOrProfitFraction(t *testing.T) {
	s := New(Config{TipBps: 0}, zap.NewNop(), nil)

	// compute*4.5 = 900, profit*0.65 = 6500 -> min is compute branch.
	assert.Equal(t, uint64(900), s.CalculateTip(10_000, 200))

	// compute*4.5 = 45000, profit*0.65 = 650 -> min is profit branch.
	assert.Equal(t, uint64(650), s.CalculateTip(1_000, 10_000))
}

func TestCalculateTip_BpsModeCapsAtMaxTip(t *testing.T) {
	s := New(Config{TipBps: 5000, MaxTip: 100}, zap.NewNop(), nil) // 50%

	assert.Equal(t, uint64(50), s.CalculateTip(100, 1000))
	assert.Equal(t, uint64(100), s.CalculateTip(1_000_000, 1000))
}

func TestJitoTipAccounts_HasEightDistinctEntries(t *testing.T) {
	seen := make(map[string]struct{}, len(jitoTipAccounts))
	for _, a := range jitoTipAccounts {
		seen[a] = struct{}{}
	}
	assert.Len(t, seen, 8)
}

func TestNextJitoURL_RoundRobins(t *testing.T) {
	s := New(Config{JitoURLs: []string{"a", "b", "c"}}, zap.NewNop(), nil)
	assert.Equal(t, "a", s.nextJitoURL())
	assert.Equal(t, "b", s.nextJitoURL())
	assert.Equal(t, "c", s.nextJitoURL())
	assert.Equal(t, "a", s.nextJitoURL())
}

func threeHopPlan() instructions.Plan {
	composite := instructions.Instruction(nil)
	composite = append(composite, []byte("hop-a")...)
	composite = append(composite, []byte("hop-b")...)
	composite = append(composite, []byte("hop-c")...)
	return instructions.Plan{
		Setup:          []instructions.Instruction{[]byte("create-ata-1"), []byte("create-ata-2")},
		Swap:           composite, // caller under test builds this via instructions.Build in production
		Cleanup:        []instructions.Instruction{[]byte("close-wsol")},
		ComputeUnitEst: 300_000,
	}
}

func TestBuildTx1_ContainsExactlyOneSwapFrameRegardlessOfHopCount(t *testing.T) {
	s := New(Config{ComputeUnitPriceMicroLamports: 1000}, zap.NewNop(), nil)
	plan := threeHopPlan()

	tx1, err := s.buildTx1(plan, 320_000, 5_000, "memo")
	require.NoError(t, err)

	frames, err := DecodeFrames(tx1)
	require.NoError(t, err)

	assert.Equal(t, 1, countTag(frames, tagSwap), "Tx1 must contain exactly one swap instruction")
	assert.Equal(t, 2, countTag(frames, tagSetup))
	assert.Equal(t, 1, countTag(frames, tagCleanup))
	assert.Equal(t, 1, countTag(frames, tagComputeBudget))
	assert.Equal(t, 1, countTag(frames, tagMemo))
}

func TestBuildTx1_TransferAmountsMatchTipAndRentMargins(t *testing.T) {
	s := New(Config{}, zap.NewNop(), nil)
	plan := threeHopPlan()

	tx1, err := s.buildTx1(plan, 100_000, 7_000, "")
	require.NoError(t, err)

	frames, err := DecodeFrames(tx1)
	require.NoError(t, err)

	var transfers []uint64
	for _, f := range frames {
		if f.Tag == tagTransfer {
			transfers = append(transfers, binary.LittleEndian.Uint64(f.Payload))
		}
	}
	require.Len(t, transfers, 2)
	assert.Equal(t, uint64(7_000+TipTransferMargin), transfers[0])
	assert.Equal(t, uint64(RentExemptLamports+SetupFeeMargin), transfers[1])
}

func TestBuildTx2_ClosesAtaAndForwardsTipAndRent(t *testing.T) {
	s := New(Config{}, zap.NewNop(), nil)

	tx2, err := s.buildTx2(9_000, jitoTipAccounts[0])
	require.NoError(t, err)

	frames, err := DecodeFrames(tx2)
	require.NoError(t, err)

	assert.Equal(t, 1, countTag(frames, tagCloseATA))
	assert.Equal(t, 1, countTag(frames, tagTipTransfer))

	for _, f := range frames {
		switch f.Tag {
		case tagTipTransfer:
			account := string(f.Payload[:len(f.Payload)-8])
			amount := binary.LittleEndian.Uint64(f.Payload[len(f.Payload)-8:])
			assert.Equal(t, jitoTipAccounts[0], account)
			assert.Equal(t, uint64(9_000), amount)
		case tagTransfer:
			assert.Equal(t, uint64(RentExemptLamports*2+TipTransferMargin), binary.LittleEndian.Uint64(f.Payload))
		}
	}
}

func TestCalculateTip_NeverExceedsProfit(t *testing.T) {
	s := New(Config{TipBps: 0}, zap.NewNop(), nil)
	for _, profit := range []uint64{0, 1, 100, 1_000_000} {
		tip := s.CalculateTip(profit, 200_000)
		assert.LessOrEqual(t, tip, profit, "a zero-bps tip must never exceed the route's own profit")
	}
}
