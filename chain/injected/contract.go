// SPDX-License-Identifier: Apache-2.0

package injected

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"perun.network/provenance-backend/chain"
)

// SupplyChainABI is the ABI of the supply-chain contract deployed on
// Ethereum-like networks.
const SupplyChainABI = `[
 {"type":"function","name":"createProduct","stateMutability":"nonpayable","outputs":[],"inputs":[
  {"name":"productId","type":"string"},{"name":"batchId","type":"string"},
  {"name":"harvestDate","type":"uint256"},{"name":"location","type":"string"}]},
 {"type":"function","name":"addCheckpoint","stateMutability":"nonpayable","outputs":[],"inputs":[
  {"name":"productId","type":"string"},{"name":"stage","type":"string"},{"name":"data","type":"string"}]},
 {"type":"function","name":"verifyCheckpoint","stateMutability":"nonpayable","outputs":[],"inputs":[
  {"name":"productId","type":"string"},{"name":"checkpointId","type":"uint256"}]},
 {"type":"function","name":"createBatch","stateMutability":"nonpayable","outputs":[],"inputs":[
  {"name":"batchId","type":"string"},{"name":"productIds","type":"string[]"}]},
 {"type":"function","name":"transferBatch","stateMutability":"nonpayable","outputs":[],"inputs":[
  {"name":"productId","type":"string"},{"name":"newOwner","type":"address"}]},
 {"type":"function","name":"assignRole","stateMutability":"nonpayable","outputs":[],"inputs":[
  {"name":"account","type":"address"},{"name":"role","type":"string"}]}
]`

var supplyChain = mustParseABI(SupplyChainABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("invalid supply-chain ABI: " + err.Error())
	}
	return parsed
}

// pack encodes the call data of call.
func pack(call chain.Call) ([]byte, error) {
	if err := call.Validate(); err != nil {
		return nil, err
	}
	if call.Function == chain.CreateBatch {
		ids := make([]string, 0, len(call.Args)-1)
		for _, a := range call.Args[1:] {
			ids = append(ids, a.Str)
		}
		return supplyChain.Pack(call.Function.MethodName(), call.Args[0].Str, ids)
	}

	args := make([]any, len(call.Args))
	for i, a := range call.Args {
		switch a.Type {
		case chain.ArgString:
			args[i] = a.Str
		case chain.ArgUint:
			args[i] = new(big.Int).SetUint64(a.Uint)
		case chain.ArgAddress:
			if !common.IsHexAddress(a.Str) {
				return nil, errors.Errorf("argument %d: invalid address %q", i, a.Str)
			}
			args[i] = common.HexToAddress(a.Str)
		}
	}
	return supplyChain.Pack(call.Function.MethodName(), args...)
}
