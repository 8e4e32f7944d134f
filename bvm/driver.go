package bvm

import (
	"encoding/binary"

	"github.com/Maxnflaxl/beam/common"
	"github.com/Maxnflaxl/beam/log"
	"github.com/Maxnflaxl/beam/store"
	"github.com/Maxnflaxl/beam/types"
	"github.com/Maxnflaxl/beam/wasm"
)

// Status is the outcome of one driver operation.
type Status uint8

const (
	StatusOk Status = iota
	StatusHalt
	StatusOutOfGas
	StatusSignatureRejected
	StatusMalformedOutput
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusHalt:
		return "halt"
	case StatusOutOfGas:
		return "out-of-gas"
	case StatusSignatureRejected:
		return "signature-rejected"
	case StatusMalformedOutput:
		return "malformed-output"
	}
	return "unknown"
}

// InvokeResult carries everything a committed invocation staged: the
// funds commitment, the co-signer set, the variable writes, and the
// method's return words.
type InvokeResult struct {
	Status          Status
	Fault           *wasm.Fault
	ChargeConsumed  uint64
	FundsCommitment types.PubKey
	Sigs            []types.PubKey
	Writes          []store.Write
	Ret             []uint32
}

// ManagerResult is the outcome of an off-chain manager run.
type ManagerResult struct {
	Status         Status
	Fault          *wasm.Fault
	ChargeConsumed uint64
	Doc            string
	Kernels        []KernelBlueprint
}

// Driver owns the backing variable store and runs invocations against
// staged overlays, committing only on Ok.
type Driver struct {
	Vars   store.Store
	Oracle types.ChainOracle
}

func NewDriver(vars store.Store, oracle types.ChainOracle) *Driver {
	return &Driver{Vars: vars, Oracle: oracle}
}

// ContractID derives the deployment id from the module bytes and the
// constructor arguments.
func ContractID(code, args []byte) types.ContractID {
	h := make([]byte, 0, 16+len(code)+len(args))
	h = binary.LittleEndian.AppendUint64(h, uint64(len(code)))
	h = append(h, code...)
	h = binary.LittleEndian.AppendUint64(h, uint64(len(args)))
	h = append(h, args...)
	return types.ContractID(common.Sha256Hash(h))
}

// runContract steps the processor until the top-level frame returns,
// converting faults into a status.
func runContract(p *ContractProcessor) (Status, *wasm.Fault) {
	var fault *wasm.Fault
	status := func() Status {
		defer func() {
			if r := recover(); r != nil {
				f, ok := r.(*wasm.Fault)
				if !ok {
					panic(r)
				}
				fault = f
			}
		}()
		for !p.Done() {
			p.VM.RunOnce()
		}
		return StatusOk
	}()

	if fault != nil {
		if fault.Kind == wasm.FaultOutOfGas {
			return StatusOutOfGas, fault
		}
		return StatusHalt, fault
	}
	return status, nil
}

// placeArgs copies blob arguments into the linear-memory stack region
// and returns their address.
func (p *Processor) placeArgs(b []byte) uint32 {
	n := uint32(len(b))
	if n == 0 {
		return 0
	}
	if n > p.sPos-stackBase {
		wasm.Throw(wasm.FaultStack, "arguments exceed stack region")
	}
	p.sPos -= n
	copy(p.mem[p.sPos:], b)
	return p.sPos
}

func faultResult(p *ContractProcessor, status Status, fault *wasm.Fault) InvokeResult {
	p.Vars.Discard()
	return InvokeResult{
		Status:         status,
		Fault:          fault,
		ChargeConsumed: p.ChargeConsumed,
	}
}

func (d *Driver) finish(p *ContractProcessor, sig *types.Signature, msg []byte) InvokeResult {
	if len(p.Sigs) > 0 && !VerifyAggregate(msg, p.Sigs, sig) {
		return faultResult(p, StatusSignatureRejected, nil)
	}

	res := InvokeResult{
		Status:         StatusOk,
		ChargeConsumed: p.ChargeConsumed,
		Sigs:           p.Sigs,
		Writes:         p.Vars.Writes(),
		Ret:            append([]uint32(nil), p.VM.Stack[:p.VM.Sp]...),
	}
	exportPoint(res.FundsCommitment[:], p.Funds.Commitment())

	if err := p.Vars.Commit(); err != nil {
		log.Error(log.DriverMonitoring, "commit failed", "err", err)
		return faultResult(p, StatusHalt, &wasm.Fault{Kind: wasm.FaultCondition, Msg: "commit failed"})
	}
	return res
}

// Invoke runs Method_<method> of a deployed contract. args are the
// raw operand words the method's signature expects. msg is the
// transaction message any accumulated signatures must cover.
func (d *Driver) Invoke(cid types.ContractID, method uint32, args []uint32, sig *types.Signature, msg []byte, ceiling uint64) InvokeResult {
	staged := store.NewStaged(d.Vars)
	p := NewContractProcessor(staged, d.Oracle, ceiling)

	var fault *wasm.Fault
	func() {
		defer func() {
			if r := recover(); r != nil {
				f, ok := r.(*wasm.Fault)
				if !ok {
					panic(r)
				}
				fault = f
			}
		}()
		body := p.loadBody(cid)
		for _, w := range args {
			p.VM.Push(w)
		}
		p.VM.Push(0) // top-level return address, never jumped to
		p.enterFrame(cid, body, method)
	}()
	if fault != nil {
		return faultResult(p, StatusHalt, fault)
	}

	status, fault := runContract(p)
	log.Debug(log.DriverMonitoring, "invoke finished",
		"cid", cid.String(), "method", method,
		"status", status.String(), "charge", p.ChargeConsumed)
	if status != StatusOk {
		return faultResult(p, status, fault)
	}
	return d.finish(p, sig, msg)
}

// Deploy compiles nothing: code must already be a compiled image. It
// derives the contract id, stores the body and runs the constructor
// with (pArgs, nArgs).
func (d *Driver) Deploy(code, args []byte, sig *types.Signature, msg []byte, ceiling uint64) (types.ContractID, InvokeResult) {
	cid := ContractID(code, args)

	staged := store.NewStaged(d.Vars)
	p := NewContractProcessor(staged, d.Oracle, ceiling)

	var fault *wasm.Fault
	func() {
		defer func() {
			if r := recover(); r != nil {
				f, ok := r.(*wasm.Fault)
				if !ok {
					panic(r)
				}
				fault = f
			}
		}()
		vk := bodyKey(cid)
		if p.loadVar(vk) != nil {
			wasm.Throw(wasm.FaultCondition, "contract already deployed")
		}
		p.saveVar(vk, code)

		pArgs := p.placeArgs(args)
		p.VM.Push(pArgs)
		p.VM.Push(uint32(len(args)))
		p.VM.Push(0)
		p.enterFrame(cid, code, MethodCtor)
	}()
	if fault != nil {
		return cid, faultResult(p, StatusHalt, fault)
	}

	status, fault := runContract(p)
	log.Info(log.DriverMonitoring, "deploy finished",
		"cid", cid.String(), "status", status.String(), "charge", p.ChargeConsumed)
	if status != StatusOk {
		return cid, faultResult(p, status, fault)
	}
	return cid, d.finish(p, sig, msg)
}

// Destroy runs the destructor and removes the contract body. A
// contract with live references cannot be destroyed.
func (d *Driver) Destroy(cid types.ContractID, sig *types.Signature, msg []byte, ceiling uint64) InvokeResult {
	staged := store.NewStaged(d.Vars)
	p := NewContractProcessor(staged, d.Oracle, ceiling)

	var fault *wasm.Fault
	func() {
		defer func() {
			if r := recover(); r != nil {
				f, ok := r.(*wasm.Fault)
				if !ok {
					panic(r)
				}
				fault = f
			}
		}()
		refs, err := refCount(staged, cid)
		if err != nil {
			wasm.Throw(wasm.FaultCondition, "variable store unavailable")
		}
		wasm.Test(refs == 0)

		body := p.loadBody(cid)
		p.VM.Push(0) // pArgs
		p.VM.Push(0) // nArgs
		p.VM.Push(0)
		p.enterFrame(cid, body, MethodDtor)
	}()
	if fault != nil {
		return faultResult(p, StatusHalt, fault)
	}

	status, fault := runContract(p)
	if status != StatusOk {
		return faultResult(p, status, fault)
	}

	vk := bodyKey(cid)
	if err := staged.Save(vk.Bytes(), nil); err != nil {
		return faultResult(p, StatusHalt, &wasm.Fault{Kind: wasm.FaultCondition, Msg: "variable store unavailable"})
	}
	log.Info(log.DriverMonitoring, "contract destroyed", "cid", cid.String())
	return d.finish(p, sig, msg)
}

// RunManager executes a manager method off-chain against a read-only
// view of the store.
func (d *Driver) RunManager(code []byte, method uint32, args map[string]string, seed [32]byte, ceiling uint64) ManagerResult {
	p := NewManagerProcessor(d.Vars, d.Oracle, args, ceiling)
	p.Seed = seed

	var fault *wasm.Fault
	func() {
		defer func() {
			if r := recover(); r != nil {
				f, ok := r.(*wasm.Fault)
				if !ok {
					panic(r)
				}
				fault = f
			}
			if p.iter != nil {
				p.iter.Release()
			}
		}()
		img := parseImage(code)
		wasm.Test(method < uint32(len(img.methods)))
		p.VM.Code = img.code
		p.VM.Push(0)
		p.VM.Jmp(img.methods[method])
		for !p.Done() {
			p.VM.RunOnce()
		}
	}()

	res := ManagerResult{
		ChargeConsumed: p.ChargeConsumed,
		Kernels:        p.Kernels,
	}
	switch {
	case fault != nil && fault.Kind == wasm.FaultOutOfGas:
		res.Status, res.Fault = StatusOutOfGas, fault
	case fault != nil:
		res.Status, res.Fault = StatusHalt, fault
	case !p.Doc.balanced():
		res.Status = StatusMalformedOutput
	default:
		res.Status = StatusOk
		res.Doc = p.Doc.result()
	}
	return res
}
