package redemption

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// proxyResolver discovers and caches the Gnosis-Safe-style proxy wallet
// that co-signs redemptions on behalf of the signer, per the §4.I
// proxy-wallet discovery algorithm: compute the deterministic address,
// verify it is deployed and the signer is an owner with threshold 1,
// falling back to a configured known-good address, and cache the result
// for the process lifetime.
type proxyResolver struct {
	chain           chainReader
	abis            contractABIs
	factoryAddress  common.Address
	knownProxy      common.Address
	hasKnownProxy   bool
	resolved        bool
	proxyAddress    common.Address
	hasProxy        bool
}

func newProxyResolver(chain chainReader, abis contractABIs, knownProxy string) *proxyResolver {
	r := &proxyResolver{
		chain:          chain,
		abis:           abis,
		factoryAddress: common.HexToAddress(ProxyFactoryAddress),
	}
	if knownProxy != "" {
		r.knownProxy = common.HexToAddress(knownProxy)
		r.hasKnownProxy = true
	}
	return r
}

// Resolve returns the verified proxy address, or ok=false if the signer
// should redeem directly. The result is cached after the first call.
func (r *proxyResolver) Resolve(ctx context.Context, signer common.Address) (common.Address, bool) {
	if r.resolved {
		return r.proxyAddress, r.hasProxy
	}
	r.resolved = true

	if candidate, ok := r.computeProxyAddress(ctx, signer); ok && r.verifyProxy(ctx, candidate, signer) {
		r.proxyAddress = candidate
		r.hasProxy = true
		return r.proxyAddress, true
	}

	if r.hasKnownProxy {
		code, err := r.chain.CodeAt(ctx, r.knownProxy, nil)
		if err == nil && len(code) > 0 && r.verifyProxy(ctx, r.knownProxy, signer) {
			r.proxyAddress = r.knownProxy
			r.hasProxy = true
			return r.proxyAddress, true
		}
	}

	return common.Address{}, false
}

func (r *proxyResolver) computeProxyAddress(ctx context.Context, signer common.Address) (common.Address, bool) {
	data, err := r.abis.computeProxyAddress.Pack("computeProxyAddress", signer)
	if err != nil {
		return common.Address{}, false
	}
	out, err := r.call(ctx, r.factoryAddress, data)
	if err != nil || len(out) == 0 {
		return common.Address{}, false
	}
	vals, err := r.abis.computeProxyAddress.Unpack("computeProxyAddress", out)
	if err != nil || len(vals) != 1 {
		return common.Address{}, false
	}
	addr, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, false
	}
	return addr, true
}

// verifyProxy checks the candidate has deployed code, the signer is
// among its owners, and its threshold is exactly 1 — the only
// configuration this engine's single-signature eth_sign path can
// co-sign for.
func (r *proxyResolver) verifyProxy(ctx context.Context, candidate, signer common.Address) bool {
	code, err := r.chain.CodeAt(ctx, candidate, nil)
	if err != nil || len(code) == 0 {
		return false
	}

	thresholdData, err := r.abis.safeReads.Pack("getThreshold")
	if err != nil {
		return false
	}
	thresholdOut, err := r.call(ctx, candidate, thresholdData)
	if err != nil {
		return false
	}
	thresholdVals, err := r.abis.safeReads.Unpack("getThreshold", thresholdOut)
	if err != nil || len(thresholdVals) != 1 {
		return false
	}
	threshold, ok := thresholdVals[0].(*big.Int)
	if !ok || threshold.Cmp(big.NewInt(1)) != 0 {
		return false
	}

	ownersData, err := r.abis.safeReads.Pack("getOwners")
	if err != nil {
		return false
	}
	ownersOut, err := r.call(ctx, candidate, ownersData)
	if err != nil {
		return false
	}
	ownersVals, err := r.abis.safeReads.Unpack("getOwners", ownersOut)
	if err != nil || len(ownersVals) != 1 {
		return false
	}
	owners, ok := ownersVals[0].([]common.Address)
	if !ok {
		return false
	}
	for _, o := range owners {
		if o == signer {
			return true
		}
	}
	return false
}

func (r *proxyResolver) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	msg := ethereum.CallMsg{To: &to, Data: data}
	out, err := r.chain.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", to.Hex(), err)
	}
	return out, nil
}
