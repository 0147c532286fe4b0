// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"perun.network/provenance-backend/chain"
)

// Stage is the supply-chain phase a checkpoint represents.
type Stage string

const (
	Farm       Stage = "farm"
	Processing Stage = "processing"
	Transport  Stage = "transport"
	Retail     Stage = "retail"
	Verified   Stage = "verified"
)

// Stages lists all stages in their natural order.
var Stages = []Stage{Farm, Processing, Transport, Retail, Verified}

var stageAliases = map[string]Stage{
	"farmer":      Farm,
	"processor":   Processing,
	"transporter": Transport,
	"retailer":    Retail,
	"regulator":   Verified,
}

// ParseStage parses a stage name. The role names of the stakeholders
// (farmer, processor, transporter, retailer, regulator) are accepted too.
func ParseStage(s string) (Stage, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if st := Stage(s); st.Valid() {
		return st, nil
	}
	if st, ok := stageAliases[s]; ok {
		return st, nil
	}
	return "", errors.Errorf("unknown stage %q", s)
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	for _, known := range Stages {
		if s == known {
			return true
		}
	}
	return false
}

// Status is the lifecycle state of a checkpoint.
type Status uint8

const (
	Draft Status = iota
	Submitted
	Confirmed
	Failed
)

var statusNames = [...]string{"draft", "submitted", "confirmed", "failed"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(data []byte) error {
	for i, n := range statusNames {
		if n == string(data) {
			*s = Status(i)
			return nil
		}
	}
	return errors.Errorf("unknown checkpoint status %q", data)
}

// Payload is the structured data of a checkpoint. Which fields are used
// depends on the stage and the contract function.
type Payload struct {
	Name             string            `json:"name,omitempty"`
	BatchID          string            `json:"batchId,omitempty"`
	Location         string            `json:"location,omitempty"`
	HarvestDate      int64             `json:"harvestDate,omitempty"` // unix seconds
	Temperature      string            `json:"temperature,omitempty"`
	NewOwner         string            `json:"newOwner,omitempty"`
	VerifiedSequence *uint64           `json:"verifiedSequence,omitempty"`
	Notes            string            `json:"notes,omitempty"`
	Attributes       map[string]string `json:"attributes,omitempty"`
}

func (p Payload) clone() Payload {
	if p.VerifiedSequence != nil {
		seq := *p.VerifiedSequence
		p.VerifiedSequence = &seq
	}
	if p.Attributes != nil {
		attrs := make(map[string]string, len(p.Attributes))
		for k, v := range p.Attributes {
			attrs[k] = v
		}
		p.Attributes = attrs
	}
	return p
}

// Checkpoint is one sequence-numbered provenance event of a product.
type Checkpoint struct {
	ProductID   string         `json:"productId"`
	Sequence    uint64         `json:"sequenceNumber"`
	Stage       Stage          `json:"stage"`
	Function    chain.Function `json:"function"`
	Payload     Payload        `json:"payload"`
	SubmittedBy string         `json:"submittedBy,omitempty"`
	Backend     chain.Kind     `json:"backend"`
	TxRef       string         `json:"txRef,omitempty"`
	Status      Status         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
}

func (c Checkpoint) clone() Checkpoint {
	c.Payload = c.Payload.clone()
	return c
}

// Call builds the contract call that records c on chain.
func (c Checkpoint) Call(contract chain.Contract) (chain.Call, error) {
	id := chain.StringArg(c.ProductID)
	switch c.Function {
	case chain.CreateProduct:
		harvest := c.Payload.HarvestDate
		if harvest == 0 {
			harvest = c.Timestamp.Unix()
		}
		if harvest < 0 {
			return chain.Call{}, errors.New("harvest date before 1970")
		}
		return contract.NewCall(c.Function, id,
			chain.StringArg(c.Payload.BatchID),
			chain.UintArg(uint64(harvest)),
			chain.StringArg(c.Payload.Location)), nil
	case chain.AddCheckpoint:
		data, err := json.Marshal(c.Payload)
		if err != nil {
			return chain.Call{}, errors.WithMessage(err, "encoding payload")
		}
		return contract.NewCall(c.Function, id, chain.StringArg(string(c.Stage)), chain.StringArg(string(data))), nil
	case chain.TransferBatch:
		return contract.NewCall(c.Function, id, chain.AddressArg(c.Payload.NewOwner)), nil
	case chain.VerifyCheckpoint:
		if c.Payload.VerifiedSequence == nil {
			return chain.Call{}, errors.New("verification without checkpoint reference")
		}
		return contract.NewCall(c.Function, id, chain.UintArg(*c.Payload.VerifiedSequence)), nil
	}
	return chain.Call{}, errors.Errorf("checkpoint function %q is not recorded by the ledger", c.Function)
}

// Product is the projection of a product's confirmed checkpoints.
type Product struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Origin          string     `json:"origin"`
	CurrentLocation string     `json:"currentLocation"`
	Owner           string     `json:"owner"`
	Blockchain      chain.Kind `json:"blockchain"`
	CreatedAt       time.Time  `json:"timestamp"`
	Stage           Stage      `json:"stage"`
	Verified        bool       `json:"verified"`
	TransactionHash string     `json:"transactionHash,omitempty"`
	CheckpointCount int        `json:"checkpointCount"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}
