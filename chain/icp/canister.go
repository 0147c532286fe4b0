package icp

import (
	"github.com/aviate-labs/agent-go"
	"github.com/aviate-labs/agent-go/candid/idl"
	"github.com/aviate-labs/agent-go/principal"
)

// Agent is a client for the "supply_chain" canister.
type Agent struct {
	a          *agent.Agent
	canisterId principal.Principal
}

// NewAgent creates a new agent for the "supply_chain" canister.
func NewAgent(canisterId principal.Principal, config agent.Config) (*Agent, error) {
	a, err := agent.New(config)
	if err != nil {
		return nil, err
	}
	return &Agent{
		a:          a,
		canisterId: canisterId,
	}, nil
}

func (a Agent) call(method string, args []any) (*Receipt, error) {
	raw, err := idl.Marshal(args)
	if err != nil {
		return nil, err
	}
	var r0 Receipt
	if err := a.a.Call(
		a.canisterId,
		method,
		raw,
		[]any{&r0},
	); err != nil {
		return nil, err
	}
	return &r0, nil
}

// CreateProduct calls the "create_product" method on the "supply_chain" canister.
func (a Agent) CreateProduct(productId ProductId, batchId BatchId, harvestDate Timestamp, location string) (*Receipt, error) {
	return a.call("create_product", []any{productId, batchId, harvestDate, location})
}

// AddCheckpoint calls the "add_checkpoint" method on the "supply_chain" canister.
func (a Agent) AddCheckpoint(productId ProductId, stage string, data string) (*Receipt, error) {
	return a.call("add_checkpoint", []any{productId, stage, data})
}

// VerifyCheckpoint calls the "verify_checkpoint" method on the "supply_chain" canister.
func (a Agent) VerifyCheckpoint(productId ProductId, checkpointId uint64) (*Receipt, error) {
	return a.call("verify_checkpoint", []any{productId, checkpointId})
}

// CreateBatch calls the "create_batch" method on the "supply_chain" canister.
func (a Agent) CreateBatch(batchId BatchId, productIds []ProductId) (*Receipt, error) {
	return a.call("create_batch", []any{batchId, productIds})
}

// TransferBatch calls the "transfer_batch" method on the "supply_chain" canister.
func (a Agent) TransferBatch(productId ProductId, newOwner principal.Principal) (*Receipt, error) {
	return a.call("transfer_batch", []any{productId, newOwner})
}

// AssignRole calls the "assign_role" method on the "supply_chain" canister.
func (a Agent) AssignRole(account principal.Principal, role Role) (*Receipt, error) {
	return a.call("assign_role", []any{account, role})
}

type BatchId = string

type ProductId = string

type Role = string

type Timestamp = uint64

type TxId = string

type Receipt = struct {
	TxId  TxId    `ic:"tx_id"`
	Error *string `ic:"error"`
}
