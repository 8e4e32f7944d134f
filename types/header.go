package types

import (
	"github.com/Maxnflaxl/beam/common"
)

// HdrInfo is the short form of a block header exposed to contracts.
type HdrInfo struct {
	Height    Height
	Timestamp Timestamp
	Hash      common.Hash
}

// HdrFull is the complete block header exposed to contracts.
type HdrFull struct {
	HdrInfo
	Prev       common.Hash
	ChainWork  common.Hash
	Kernels    common.Hash
	Definition common.Hash
}

// ChainOracle supplies chain state to host calls. Implementations must
// answer deterministically for a fixed execution point.
type ChainOracle interface {
	// Height returns the height the current transaction executes at.
	Height() Height

	// HeaderAt returns the header at the given height, or false if the
	// height is above the current one.
	HeaderAt(h Height) (*HdrFull, bool)

	// RulesCfg returns the active rules configuration hash at the given
	// height and the height of the next scheduled fork.
	RulesCfg(h Height) (common.Hash, Height)
}

// FixedOracle is a ChainOracle over a static header slice, used by
// tooling and tests.
type FixedOracle struct {
	Headers []HdrFull
	Rules   common.Hash
	Fork    Height
}

func (o *FixedOracle) Height() Height {
	if len(o.Headers) == 0 {
		return 0
	}
	return o.Headers[len(o.Headers)-1].Height
}

func (o *FixedOracle) HeaderAt(h Height) (*HdrFull, bool) {
	for i := range o.Headers {
		if o.Headers[i].Height == h {
			return &o.Headers[i], true
		}
	}
	return nil, false
}

func (o *FixedOracle) RulesCfg(h Height) (common.Hash, Height) {
	return o.Rules, o.Fork
}
