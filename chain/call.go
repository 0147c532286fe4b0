// SPDX-License-Identifier: Apache-2.0

package chain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Function is the name of a supply-chain contract entry point.
type Function string

// Entry points of the supply-chain contract.
const (
	CreateProduct    Function = "create-product"
	AddCheckpoint    Function = "add-checkpoint"
	VerifyCheckpoint Function = "verify-checkpoint"
	CreateBatch      Function = "create-batch"
	TransferBatch    Function = "transfer-batch"
	AssignRole       Function = "assign-role"
)

// Functions lists every known entry point.
var Functions = []Function{
	CreateProduct, AddCheckpoint, VerifyCheckpoint, CreateBatch, TransferBatch, AssignRole,
}

// Valid reports whether f is a known entry point.
func (f Function) Valid() bool {
	for _, known := range Functions {
		if f == known {
			return true
		}
	}
	return false
}

// MethodName converts the kebab-case contract name into the camelCase form
// used by ABI-based contracts, e.g. create-product becomes createProduct.
func (f Function) MethodName() string {
	parts := strings.Split(string(f), "-")
	for i := 1; i < len(parts); i++ {
		if parts[i] != "" {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "")
}

// ArgType is the type tag of a contract argument.
type ArgType uint8

const (
	ArgString ArgType = iota
	ArgUint
	// ArgAddress is an account address of the active backend.
	ArgAddress
)

func (t ArgType) String() string {
	switch t {
	case ArgString:
		return "string"
	case ArgUint:
		return "uint"
	case ArgAddress:
		return "address"
	}
	return "unknown"
}

// Arg is a typed contract argument.
type Arg struct {
	Type ArgType
	Str  string
	Uint uint64
}

// StringArg returns a string argument.
func StringArg(s string) Arg { return Arg{Type: ArgString, Str: s} }

// UintArg returns an unsigned integer argument.
func UintArg(u uint64) Arg { return Arg{Type: ArgUint, Uint: u} }

// AddressArg returns an address argument.
func AddressArg(a string) Arg { return Arg{Type: ArgAddress, Str: a} }

func (a Arg) String() string {
	if a.Type == ArgUint {
		return "u" + strconv.FormatUint(a.Uint, 10)
	}
	return strconv.Quote(a.Str)
}

// Contract locates the supply-chain contract on a backend.
type Contract struct {
	Address string
	Name    string
}

// Call is a contract call request.
type Call struct {
	ContractAddress string
	ContractName    string
	Function        Function
	Args            []Arg
}

// NewCall builds a call of fn on contract c.
func (c Contract) NewCall(fn Function, args ...Arg) Call {
	return Call{
		ContractAddress: c.Address,
		ContractName:    c.Name,
		Function:        fn,
		Args:            args,
	}
}

// Validate checks the call against the argument layout of its entry point.
func (c Call) Validate() error {
	want, ok := signatures[c.Function]
	if !ok {
		return errors.Errorf("unknown contract function %q", c.Function)
	}
	if c.Function == CreateBatch {
		// create-batch takes the batch id followed by any number of product ids.
		if len(c.Args) < 1 {
			return errors.New("create-batch: missing batch id")
		}
		for i, a := range c.Args {
			if a.Type != ArgString {
				return errors.Errorf("create-batch: argument %d: want string, got %v", i, a.Type)
			}
		}
		return nil
	}
	if len(c.Args) != len(want) {
		return errors.Errorf("%s: want %d arguments, got %d", c.Function, len(want), len(c.Args))
	}
	for i, a := range c.Args {
		if a.Type != want[i] {
			return errors.Errorf("%s: argument %d: want %v, got %v", c.Function, i, want[i], a.Type)
		}
	}
	return nil
}

func (c Call) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s.%s::%s(%s)", c.ContractAddress, c.ContractName, c.Function, strings.Join(args, ", "))
}

var signatures = map[Function][]ArgType{
	// product id, batch id, harvest date (unix seconds), location
	CreateProduct: {ArgString, ArgString, ArgUint, ArgString},
	// product id, stage, data
	AddCheckpoint: {ArgString, ArgString, ArgString},
	// product id, checkpoint sequence number
	VerifyCheckpoint: {ArgString, ArgUint},
	CreateBatch:      {ArgString},
	// product id, new owner
	TransferBatch: {ArgString, ArgAddress},
	// account, role
	AssignRole: {ArgAddress, ArgString},
}
