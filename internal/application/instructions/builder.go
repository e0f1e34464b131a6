// Package instructions turns a priced Route into the raw instruction
// groups a bundle sender assembles into transactions. It does not touch
// the network; account-existence checks read from an already-populated
// chain store.
package instructions

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/kalebmora/ringrouter/internal/domain"
	"github.com/kalebmora/ringrouter/internal/ports"
)

// Instruction is an opaque, already-serialized program instruction. The
// concrete encoding is owned by each DEX plugin; this package only
// sequences and estimates compute for them.
type Instruction []byte

// SetupInstruction is a setup instruction tagged with the account it
// brings into existence (e.g. an associated token account), so Build can
// skip it when the chain store already shows that account as present.
type SetupInstruction struct {
	Instruction
	Target domain.Mint
}

// SwapPlan is what one route step contributes to the final instruction
// sequence: its setup instructions, the swap instruction itself, and any
// cleanup instructions (closing transient accounts the swap opened).
type SwapPlan struct {
	Setup       []SetupInstruction
	Swap        Instruction
	Cleanup     []Instruction
	ComputeUnit uint32
}

// DexInstructionBuilder is implemented by a DEX plugin to turn one
// RouteStep into a SwapPlan.
type DexInstructionBuilder interface {
	BuildSwap(ctx context.Context, step domain.RouteStep) (SwapPlan, error)
}

// Plan is the fully sequenced instruction set for one Route, before the
// bundle sender wraps it with compute budget, tip, and fee instructions.
// Per spec, the route's per-step swaps are merged into a single
// composite swap instruction whose account list aggregates every step,
// rather than kept as one instruction per hop.
type Plan struct {
	Setup          []Instruction
	Swap           Instruction
	Cleanup        []Instruction
	ComputeUnitEst uint32
}

// Build sequences every route step's setup, swap, and cleanup
// instructions into one Plan, filtering setup instructions whose target
// account the chain store already shows as existing and merging every
// step's swap instruction into a single composite one.
func Build(ctx context.Context, route *domain.Route, builders map[string]DexInstructionBuilder, store ports.ChainStore) (Plan, error) {
	var plan Plan
	swaps := make([]Instruction, 0, len(route.Steps))

	for _, step := range route.Steps {
		builder, ok := builders[step.Edge.Dex.Name()]
		if !ok {
			return Plan{}, fmt.Errorf("instructions.Build: no instruction builder registered for dex %q", step.Edge.Dex.Name())
		}
		swapPlan, err := builder.BuildSwap(ctx, step)
		if err != nil {
			return Plan{}, fmt.Errorf("instructions.Build: dex %q: %w", step.Edge.Dex.Name(), err)
		}
		for _, setup := range swapPlan.Setup {
			if _, exists := store.Account(setup.Target); exists {
				continue
			}
			plan.Setup = append(plan.Setup, setup.Instruction)
		}
		swaps = append(swaps, swapPlan.Swap)
		plan.Cleanup = append(plan.Cleanup, swapPlan.Cleanup...)
		plan.ComputeUnitEst += swapPlan.ComputeUnit
	}

	plan.Swap = mergeComposite(swaps)
	return plan, nil
}

// mergeComposite concatenates every step's swap instruction into one
// length-prefixed blob so a single instruction's account list can
// aggregate every hop, matching spec §4.F's "one possibly-composite swap
// instruction" requirement. Each segment is framed with a 4-byte
// little-endian length so the instruction builder on the relay side
// (and tests) can split it back into its constituent per-step payloads.
func mergeComposite(swaps []Instruction) Instruction {
	var total int
	for _, s := range swaps {
		total += 4 + len(s)
	}
	out := make(Instruction, 0, total)
	for _, s := range swaps {
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
		out = append(out, lenBuf[:]...)
		out = append(out, s...)
	}
	return out
}

// SplitComposite reverses mergeComposite, returning the constituent
// per-step swap instructions a composite swap instruction was built
// from. Exposed for the bundle sender and tests to verify instruction
// counts without re-deriving the framing.
func SplitComposite(composite Instruction) ([]Instruction, error) {
	var out []Instruction
	buf := []byte(composite)
	for len(buf) > 0 {
		if len(buf) < 4 {
			return nil, fmt.Errorf("instructions.SplitComposite: truncated length prefix")
		}
		n := binary.LittleEndian.Uint32(buf[:4])
		buf = buf[4:]
		if uint32(len(buf)) < n {
			return nil, fmt.Errorf("instructions.SplitComposite: truncated segment")
		}
		out = append(out, Instruction(buf[:n]))
		buf = buf[n:]
	}
	return out, nil
}
