package bvm

import (
	"encoding/binary"
	"testing"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"

	"github.com/Maxnflaxl/beam/internal/wasmbuild"
	"github.com/Maxnflaxl/beam/store"
	"github.com/Maxnflaxl/beam/types"
	"github.com/Maxnflaxl/beam/wasm"
)

const testCeiling = 1_000_000

// constI appends an i32.const instruction.
func constI(b []byte, v int64) []byte {
	return wasmbuild.S(append(b, wasmbuild.OpI32Const), v)
}

// store8At appends instructions writing one byte at a fixed address.
func store8At(b []byte, addr uint32, val byte) []byte {
	b = constI(b, int64(addr))
	b = constI(b, int64(val))
	return append(b, wasmbuild.OpI32Store8, 0, 0)
}

// embedBytes appends instructions materializing data at a fixed
// address, one store per byte.
func embedBytes(b []byte, addr uint32, data []byte) []byte {
	for i, c := range data {
		b = store8At(b, addr+uint32(i), c)
	}
	return b
}

// addEntryPoints declares the constructor and destructor every
// deployable module needs. Call after all imports are declared.
func addEntryPoints(b *wasmbuild.Builder) {
	sig := b.Type([]byte{wasmbuild.I32, wasmbuild.I32}, nil)
	b.Method(0, sig, nil, []byte{wasmbuild.OpEnd})
	b.Method(1, sig, nil, []byte{wasmbuild.OpEnd})
}

func contractImage(t *testing.T, build func(b *wasmbuild.Builder)) []byte {
	t.Helper()
	var b wasmbuild.Builder
	build(&b)
	img, err := Compile(b.Build(), KindContract)
	require.NoError(t, err)
	return img
}

func newTestDriver() (*Driver, *store.MemStore) {
	backing := store.NewMemStore()
	return NewDriver(backing, &types.FixedOracle{}), backing
}

func mustDeploy(t *testing.T, d *Driver, img []byte) types.ContractID {
	t.Helper()
	cid, res := d.Deploy(img, nil, nil, nil, testCeiling)
	require.Equal(t, StatusOk, res.Status, "deploy: %v", res.Fault)
	return cid
}

func TestDriverArithmetic(t *testing.T) {
	img := contractImage(t, func(b *wasmbuild.Builder) {
		addEntryPoints(b)
		sig := b.Type([]byte{wasmbuild.I32, wasmbuild.I32}, []byte{wasmbuild.I32})
		b.Method(2, sig, nil, []byte{
			wasmbuild.OpLocalGet, 0,
			wasmbuild.OpLocalGet, 1,
			wasmbuild.OpI32Const, 2,
			wasmbuild.OpI32Mul,
			wasmbuild.OpI32Add,
			wasmbuild.OpEnd,
		})
	})

	d, _ := newTestDriver()
	cid := mustDeploy(t, d, img)

	res := d.Invoke(cid, 2, []uint32{3, 5}, nil, nil, testCeiling)
	require.Equal(t, StatusOk, res.Status, "fault: %v", res.Fault)
	require.Equal(t, []uint32{13}, res.Ret)
	require.NotZero(t, res.ChargeConsumed)
}

func TestDriverPersistentCounter(t *testing.T) {
	img := contractImage(t, func(b *wasmbuild.Builder) {
		sigVar := b.Type([]byte{wasmbuild.I32, wasmbuild.I32, wasmbuild.I32, wasmbuild.I32}, []byte{wasmbuild.I32})
		loadVar := b.Import("LoadVar", sigVar)
		saveVar := b.Import("SaveVar", sigVar)
		addEntryPoints(b)

		// key "c" at 16, a 4-byte counter cell at 32
		var body []byte
		body = store8At(body, 16, 'c')
		body = constI(body, 16)
		body = constI(body, 1)
		body = constI(body, 32)
		body = constI(body, 4)
		body = append(body, wasmbuild.OpCall, byte(loadVar), wasmbuild.OpDrop)
		body = constI(body, 32)
		body = constI(body, 32)
		body = append(body, wasmbuild.OpI32Load8U, 0, 0)
		body = constI(body, 1)
		body = append(body, wasmbuild.OpI32Add, wasmbuild.OpI32Store8, 0, 0)
		body = constI(body, 16)
		body = constI(body, 1)
		body = constI(body, 32)
		body = constI(body, 4)
		body = append(body, wasmbuild.OpCall, byte(saveVar), wasmbuild.OpDrop, wasmbuild.OpEnd)

		b.Method(2, b.Type(nil, nil), nil, body)
	})

	d, backing := newTestDriver()
	cid := mustDeploy(t, d, img)

	for i := 0; i < 3; i++ {
		res := d.Invoke(cid, 2, nil, nil, nil, testCeiling)
		require.Equal(t, StatusOk, res.Status, "fault: %v", res.Fault)
	}

	vk := makeVarKey(cid, TagInternal, []byte("c"))
	v, err := backing.Load(vk.Bytes())
	require.NoError(t, err)
	require.Equal(t, []byte{3, 0, 0, 0}, v)
}

func fundsImage(t *testing.T) []byte {
	return contractImage(t, func(b *wasmbuild.Builder) {
		sigFunds := b.Type([]byte{wasmbuild.I32, wasmbuild.I64}, nil)
		lock := b.Import("FundsLock", sigFunds)
		unlock := b.Import("FundsUnlock", sigFunds)
		addEntryPoints(b)

		sig := b.Type([]byte{wasmbuild.I32, wasmbuild.I64}, nil)
		b.Method(2, sig, nil, []byte{
			wasmbuild.OpLocalGet, 0,
			wasmbuild.OpLocalGet, 1,
			wasmbuild.OpCall, byte(lock),
			wasmbuild.OpLocalGet, 0,
			wasmbuild.OpLocalGet, 1,
			wasmbuild.OpCall, byte(unlock),
			wasmbuild.OpEnd,
		})
		b.Method(3, sig, nil, []byte{
			wasmbuild.OpLocalGet, 0,
			wasmbuild.OpLocalGet, 1,
			wasmbuild.OpCall, byte(lock),
			wasmbuild.OpEnd,
		})
		b.Method(4, sig, nil, []byte{
			wasmbuild.OpLocalGet, 0,
			wasmbuild.OpLocalGet, 1,
			wasmbuild.OpCall, byte(unlock),
			wasmbuild.OpEnd,
		})
	})
}

func TestDriverFundsBalanced(t *testing.T) {
	d, _ := newTestDriver()
	cid := mustDeploy(t, d, fundsImage(t))

	// aid 0, amount 1_000_000 (low word, high word)
	res := d.Invoke(cid, 2, []uint32{0, 1_000_000, 0}, nil, nil, testCeiling)
	require.Equal(t, StatusOk, res.Status, "fault: %v", res.Fault)
	require.Equal(t, types.PubKey{}, res.FundsCommitment)
}

func TestDriverFundsLockOnly(t *testing.T) {
	d, _ := newTestDriver()
	cid := mustDeploy(t, d, fundsImage(t))

	res := d.Invoke(cid, 3, []uint32{0, 1_000_000, 0}, nil, nil, testCeiling)
	require.Equal(t, StatusOk, res.Status, "fault: %v", res.Fault)

	m := make(FundsChangeMap)
	m.Add(0, 1_000_000, true)
	var want types.PubKey
	exportPoint(want[:], m.Commitment())
	require.Equal(t, want, res.FundsCommitment)
	require.NotEqual(t, types.PubKey{}, res.FundsCommitment)
}

func TestDriverLockedTotalVariable(t *testing.T) {
	d, backing := newTestDriver()
	cid := mustDeploy(t, d, fundsImage(t))

	vk := makeVarKey(cid, TagLockedAmount, []byte{3, 0, 0, 0})

	res := d.Invoke(cid, 3, []uint32{3, 1_000_000, 0}, nil, nil, testCeiling)
	require.Equal(t, StatusOk, res.Status, "fault: %v", res.Fault)
	v, err := backing.Load(vk.Bytes())
	require.NoError(t, err)
	want := make([]byte, 16)
	binary.BigEndian.PutUint64(want[8:], 1_000_000)
	require.Equal(t, want, v)

	// a second lock accumulates
	res = d.Invoke(cid, 3, []uint32{3, 500, 0}, nil, nil, testCeiling)
	require.Equal(t, StatusOk, res.Status)
	v, err = backing.Load(vk.Bytes())
	require.NoError(t, err)
	binary.BigEndian.PutUint64(want[8:], 1_000_500)
	require.Equal(t, want, v)

	// unlocking the full total deletes the variable
	res = d.Invoke(cid, 4, []uint32{3, 1_000_500, 0}, nil, nil, testCeiling)
	require.Equal(t, StatusOk, res.Status, "fault: %v", res.Fault)
	v, err = backing.Load(vk.Bytes())
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestDriverUnlockUnderflowFaults(t *testing.T) {
	d, backing := newTestDriver()
	cid := mustDeploy(t, d, fundsImage(t))

	res := d.Invoke(cid, 4, []uint32{0, 1, 0}, nil, nil, testCeiling)
	require.Equal(t, StatusHalt, res.Status)

	vk := makeVarKey(cid, TagLockedAmount, []byte{0, 0, 0, 0})
	v, err := backing.Load(vk.Bytes())
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestDriverOutOfGas(t *testing.T) {
	img := contractImage(t, func(b *wasmbuild.Builder) {
		addEntryPoints(b)
		b.Method(2, b.Type(nil, nil), nil, []byte{
			wasmbuild.OpLoop, 0x40,
			wasmbuild.OpBr, 0,
			wasmbuild.OpEnd,
			wasmbuild.OpEnd,
		})
	})

	d, _ := newTestDriver()
	cid := mustDeploy(t, d, img)

	res := d.Invoke(cid, 2, nil, nil, nil, 10_000)
	require.Equal(t, StatusOutOfGas, res.Status)
	require.Equal(t, uint64(10_000), res.ChargeConsumed)
	require.Empty(t, res.Writes)
}

func TestDriverFarCall(t *testing.T) {
	callee := contractImage(t, func(b *wasmbuild.Builder) {
		sigVar := b.Type([]byte{wasmbuild.I32, wasmbuild.I32, wasmbuild.I32, wasmbuild.I32}, []byte{wasmbuild.I32})
		saveVar := b.Import("SaveVar", sigVar)
		addEntryPoints(b)

		var body []byte
		body = store8At(body, 16, 'x')
		body = store8At(body, 32, 0xAB)
		body = constI(body, 16)
		body = constI(body, 1)
		body = constI(body, 32)
		body = constI(body, 1)
		body = append(body, wasmbuild.OpCall, byte(saveVar), wasmbuild.OpDrop, wasmbuild.OpEnd)
		b.Method(2, b.Type([]byte{wasmbuild.I32, wasmbuild.I32}, nil), nil, body)
	})

	d, backing := newTestDriver()
	cidB := mustDeploy(t, d, callee)

	caller := contractImage(t, func(b *wasmbuild.Builder) {
		sigFar := b.Type([]byte{wasmbuild.I32, wasmbuild.I32, wasmbuild.I32, wasmbuild.I32}, nil)
		callFar := b.Import("CallFar", sigFar)
		addEntryPoints(b)

		var body []byte
		body = embedBytes(body, 64, cidB[:])
		body = constI(body, 64) // target id
		body = constI(body, 2)  // method
		body = constI(body, 0)  // pArgs
		body = constI(body, 0)  // nArgs
		body = append(body, wasmbuild.OpCall, byte(callFar), wasmbuild.OpEnd)
		b.Method(2, b.Type(nil, nil), nil, body)
	})
	cidA := mustDeploy(t, d, caller)

	res := d.Invoke(cidA, 2, nil, nil, nil, testCeiling)
	require.Equal(t, StatusOk, res.Status, "fault: %v", res.Fault)

	// the write landed under the callee's id, not the caller's
	vkB := makeVarKey(cidB, TagInternal, []byte("x"))
	v, err := backing.Load(vkB.Bytes())
	require.NoError(t, err)
	require.Equal(t, []byte{0xAB}, v)

	vkA := makeVarKey(cidA, TagInternal, []byte("x"))
	v, err = backing.Load(vkA.Bytes())
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestDriverAddSig(t *testing.T) {
	sk := scalarFromUint(4242)
	pk := pubKeyOf(sk)

	img := contractImage(t, func(b *wasmbuild.Builder) {
		addSig := b.Import("AddSig", b.Type([]byte{wasmbuild.I32}, nil))
		addEntryPoints(b)

		var body []byte
		body = embedBytes(body, 64, pk[:])
		body = constI(body, 64)
		body = append(body, wasmbuild.OpCall, byte(addSig), wasmbuild.OpEnd)
		b.Method(2, b.Type(nil, nil), nil, body)
	})

	d, _ := newTestDriver()
	cid := mustDeploy(t, d, img)
	msg := []byte("kernel message")

	res := d.Invoke(cid, 2, nil, nil, msg, testCeiling)
	require.Equal(t, StatusSignatureRejected, res.Status)

	sig := SignAggregate(msg, []*secp256k1.ModNScalar{sk}, scalarFromUint(99))
	res = d.Invoke(cid, 2, nil, &sig, msg, testCeiling)
	require.Equal(t, StatusOk, res.Status, "fault: %v", res.Fault)
	require.Equal(t, []types.PubKey{pk}, res.Sigs)
}

func TestDriverDeployLifecycle(t *testing.T) {
	img := contractImage(t, func(b *wasmbuild.Builder) {
		addEntryPoints(b)
	})

	d, backing := newTestDriver()
	cid := mustDeploy(t, d, img)

	bk := bodyKey(cid)
	v, err := backing.Load(bk.Bytes())
	require.NoError(t, err)
	require.Equal(t, img, v)

	_, res := d.Deploy(img, nil, nil, nil, testCeiling)
	require.Equal(t, StatusHalt, res.Status)

	res = d.Destroy(cid, nil, nil, testCeiling)
	require.Equal(t, StatusOk, res.Status, "fault: %v", res.Fault)

	bk = bodyKey(cid)
	v, err = backing.Load(bk.Bytes())
	require.NoError(t, err)
	require.Nil(t, v)

	res = d.Invoke(cid, 0, nil, nil, nil, testCeiling)
	require.Equal(t, StatusHalt, res.Status)
}

func TestDriverRefsBlockDestroy(t *testing.T) {
	target := contractImage(t, func(b *wasmbuild.Builder) {
		addEntryPoints(b)
	})

	d, _ := newTestDriver()
	cidB := mustDeploy(t, d, target)

	holder := contractImage(t, func(b *wasmbuild.Builder) {
		sigRef := b.Type([]byte{wasmbuild.I32}, nil)
		refAdd := b.Import("RefAdd", sigRef)
		refRelease := b.Import("RefRelease", sigRef)
		addEntryPoints(b)

		var add []byte
		add = embedBytes(add, 64, cidB[:])
		add = constI(add, 64)
		add = append(add, wasmbuild.OpCall, byte(refAdd), wasmbuild.OpEnd)
		b.Method(2, b.Type(nil, nil), nil, add)

		var rel []byte
		rel = embedBytes(rel, 64, cidB[:])
		rel = constI(rel, 64)
		rel = append(rel, wasmbuild.OpCall, byte(refRelease), wasmbuild.OpEnd)
		b.Method(3, b.Type(nil, nil), nil, rel)
	})
	cidA := mustDeploy(t, d, holder)

	res := d.Invoke(cidA, 2, nil, nil, nil, testCeiling)
	require.Equal(t, StatusOk, res.Status, "fault: %v", res.Fault)

	res = d.Destroy(cidB, nil, nil, testCeiling)
	require.Equal(t, StatusHalt, res.Status)

	res = d.Invoke(cidA, 3, nil, nil, nil, testCeiling)
	require.Equal(t, StatusOk, res.Status, "fault: %v", res.Fault)

	res = d.Destroy(cidB, nil, nil, testCeiling)
	require.Equal(t, StatusOk, res.Status, "fault: %v", res.Fault)
}

func TestFarCallDepthLimit(t *testing.T) {
	img := contractImage(t, func(b *wasmbuild.Builder) {
		addEntryPoints(b)
	})

	p := NewContractProcessor(store.NewStaged(store.NewMemStore()), &types.FixedOracle{}, testCeiling)
	for i := uint32(0); i < LimitFarCallDepth; i++ {
		p.frames = append(p.frames, farFrame{})
	}
	expectFault(t, wasm.FaultCallDepth, func() {
		p.enterFrame(types.ContractID{}, img, 0)
	})
}

func TestDriverAssets(t *testing.T) {
	img := contractImage(t, func(b *wasmbuild.Builder) {
		create := b.Import("AssetCreate", b.Type([]byte{wasmbuild.I32, wasmbuild.I32}, []byte{wasmbuild.I32}))
		emit := b.Import("AssetEmit", b.Type([]byte{wasmbuild.I32, wasmbuild.I64, wasmbuild.I32}, []byte{wasmbuild.I32}))
		destroy := b.Import("AssetDestroy", b.Type([]byte{wasmbuild.I32}, []byte{wasmbuild.I32}))
		addEntryPoints(b)

		var mk []byte
		mk = embedBytes(mk, 16, []byte("tok"))
		mk = constI(mk, 16)
		mk = constI(mk, 3)
		mk = append(mk, wasmbuild.OpCall, byte(create), wasmbuild.OpEnd)
		b.Method(2, b.Type(nil, []byte{wasmbuild.I32}), nil, mk)

		sigEmit := b.Type([]byte{wasmbuild.I32, wasmbuild.I64, wasmbuild.I32}, []byte{wasmbuild.I32})
		b.Method(3, sigEmit, nil, []byte{
			wasmbuild.OpLocalGet, 0,
			wasmbuild.OpLocalGet, 1,
			wasmbuild.OpLocalGet, 2,
			wasmbuild.OpCall, byte(emit),
			wasmbuild.OpEnd,
		})

		b.Method(4, b.Type([]byte{wasmbuild.I32}, []byte{wasmbuild.I32}), nil, []byte{
			wasmbuild.OpLocalGet, 0,
			wasmbuild.OpCall, byte(destroy),
			wasmbuild.OpEnd,
		})
	})

	d, _ := newTestDriver()
	cid := mustDeploy(t, d, img)

	res := d.Invoke(cid, 2, nil, nil, nil, testCeiling)
	require.Equal(t, StatusOk, res.Status, "fault: %v", res.Fault)
	require.Equal(t, []uint32{1}, res.Ret)

	// emit 500 of asset 1
	res = d.Invoke(cid, 3, []uint32{1, 500, 0, 1}, nil, nil, testCeiling)
	require.Equal(t, StatusOk, res.Status, "fault: %v", res.Fault)
	require.Equal(t, []uint32{1}, res.Ret)

	// destruction is refused while emission is outstanding
	res = d.Invoke(cid, 4, []uint32{1}, nil, nil, testCeiling)
	require.Equal(t, StatusOk, res.Status)
	require.Equal(t, []uint32{0}, res.Ret)

	// burn everything back
	res = d.Invoke(cid, 3, []uint32{1, 500, 0, 0}, nil, nil, testCeiling)
	require.Equal(t, StatusOk, res.Status, "fault: %v", res.Fault)
	require.Equal(t, []uint32{1}, res.Ret)

	res = d.Invoke(cid, 4, []uint32{1}, nil, nil, testCeiling)
	require.Equal(t, StatusOk, res.Status)
	require.Equal(t, []uint32{1}, res.Ret)

	// a second creation gets the next id
	res = d.Invoke(cid, 2, nil, nil, nil, testCeiling)
	require.Equal(t, StatusOk, res.Status)
	require.Equal(t, []uint32{2}, res.Ret)
}
