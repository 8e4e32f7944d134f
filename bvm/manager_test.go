package bvm

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Maxnflaxl/beam/internal/wasmbuild"
	"github.com/Maxnflaxl/beam/store"
	"github.com/Maxnflaxl/beam/types"
)

func managerImage(t *testing.T) []byte {
	t.Helper()
	var b wasmbuild.Builder
	addGroup := b.Import("DocAddGroup", b.Type([]byte{wasmbuild.I32}, nil))
	addNum := b.Import("DocAddNum32", b.Type([]byte{wasmbuild.I32, wasmbuild.I32}, nil))
	closeGroup := b.Import("DocCloseGroup", b.Type(nil, nil))
	getNum := b.Import("DocGetNum32", b.Type([]byte{wasmbuild.I32}, []byte{wasmbuild.I32}))

	sigV := b.Type(nil, nil)
	b.Method(0, sigV, nil, []byte{wasmbuild.OpEnd})
	b.Method(1, sigV, nil, []byte{wasmbuild.OpEnd})

	// {"res":{"n":42}}
	var doc []byte
	doc = embedBytes(doc, 16, []byte("res"))
	doc = embedBytes(doc, 24, []byte("n"))
	doc = constI(doc, 16)
	doc = append(doc, wasmbuild.OpCall, byte(addGroup))
	doc = constI(doc, 24)
	doc = constI(doc, 42)
	doc = append(doc, wasmbuild.OpCall, byte(addNum))
	doc = append(doc, wasmbuild.OpCall, byte(closeGroup), wasmbuild.OpEnd)
	b.Method(2, sigV, nil, doc)

	// opens a group and leaves it dangling
	var bad []byte
	bad = embedBytes(bad, 16, []byte("res"))
	bad = constI(bad, 16)
	bad = append(bad, wasmbuild.OpCall, byte(addGroup), wasmbuild.OpEnd)
	b.Method(3, sigV, nil, bad)

	// echoes the numeric invocation parameter "x" back as "n"
	var echo []byte
	echo = embedBytes(echo, 24, []byte("n"))
	echo = embedBytes(echo, 40, []byte("x"))
	echo = constI(echo, 24)
	echo = constI(echo, 40)
	echo = append(echo, wasmbuild.OpCall, byte(getNum))
	echo = append(echo, wasmbuild.OpCall, byte(addNum), wasmbuild.OpEnd)
	b.Method(4, sigV, nil, echo)

	img, err := Compile(b.Build(), KindManager)
	require.NoError(t, err)
	return img
}

func TestManagerDoc(t *testing.T) {
	img := managerImage(t)
	d, _ := newTestDriver()

	res := d.RunManager(img, 2, nil, [32]byte{}, testCeiling)
	require.Equal(t, StatusOk, res.Status, "fault: %v", res.Fault)
	require.Equal(t, `{"res":{"n":42}}`, res.Doc)
}

func TestManagerUnbalancedDoc(t *testing.T) {
	img := managerImage(t)
	d, _ := newTestDriver()

	res := d.RunManager(img, 3, nil, [32]byte{}, testCeiling)
	require.Equal(t, StatusMalformedOutput, res.Status)
	require.Empty(t, res.Doc)
}

func TestManagerArgs(t *testing.T) {
	img := managerImage(t)
	d, _ := newTestDriver()

	res := d.RunManager(img, 4, map[string]string{"x": "7"}, [32]byte{}, testCeiling)
	require.Equal(t, StatusOk, res.Status, "fault: %v", res.Fault)
	require.Equal(t, `{"n":7}`, res.Doc)

	// a missing parameter reads as zero
	res = d.RunManager(img, 4, nil, [32]byte{}, testCeiling)
	require.Equal(t, StatusOk, res.Status)
	require.Equal(t, `{"n":0}`, res.Doc)
}

func TestManagerVarsEnum(t *testing.T) {
	backing := store.NewMemStore()
	require.NoError(t, backing.Save([]byte("k1"), []byte{0xAA}))
	require.NoError(t, backing.Save([]byte("k2"), []byte{0xBB, 0xCC}))

	p := NewManagerProcessor(backing, &types.FixedOracle{}, nil, testCeiling)

	copy(p.mem[16:], "a")
	copy(p.mem[17:], "z")
	p.VM.Push(16)
	p.VM.Push(1)
	p.VM.Push(17)
	p.VM.Push(1)
	require.True(t, p.invokeManager(bindVarsEnum))

	next := func() uint32 {
		binary.LittleEndian.PutUint32(p.mem[48:], 32)
		binary.LittleEndian.PutUint32(p.mem[56:], 32)
		p.VM.Push(64)
		p.VM.Push(48)
		p.VM.Push(96)
		p.VM.Push(56)
		require.True(t, p.invokeManager(bindVarsMoveNext))
		return p.VM.Pop()
	}

	require.Equal(t, uint32(1), next())
	require.Equal(t, uint32(2), binary.LittleEndian.Uint32(p.mem[48:]))
	require.Equal(t, []byte("k1"), p.mem[64:66])
	require.Equal(t, uint32(1), binary.LittleEndian.Uint32(p.mem[56:]))
	require.Equal(t, byte(0xAA), p.mem[96])

	require.Equal(t, uint32(1), next())
	require.Equal(t, []byte("k2"), p.mem[64:66])
	require.Equal(t, []byte{0xBB, 0xCC}, p.mem[96:98])

	require.Equal(t, uint32(0), next())
	require.Equal(t, uint32(0), next())
}

func TestManagerGenerateKernel(t *testing.T) {
	p := NewManagerProcessor(store.NewMemStore(), &types.FixedOracle{}, nil, testCeiling)

	var cid types.ContractID
	for i := range cid {
		cid[i] = byte(i)
	}
	copy(p.mem[64:], cid[:])
	copy(p.mem[128:], []byte{1, 2, 3})

	p.VM.Push(64)  // contract id
	p.VM.Push(5)   // method
	p.VM.Push(128) // args
	p.VM.Push(3)
	p.VM.Push64(7777) // charge
	require.True(t, p.invokeManager(bindGenerateKernel))

	require.Len(t, p.Kernels, 1)
	k := p.Kernels[0]
	require.Equal(t, cid, k.Cid)
	require.Equal(t, uint32(5), k.Method)
	require.Equal(t, []byte{1, 2, 3}, k.Args)
	require.Equal(t, uint64(7777), k.Charge)
}

func TestManagerLoadVarRawKey(t *testing.T) {
	backing := store.NewMemStore()
	require.NoError(t, backing.Save([]byte("K"), []byte{7, 8}))

	p := NewManagerProcessor(backing, &types.FixedOracle{}, nil, testCeiling)
	copy(p.mem[16:], "K")
	p.VM.Push(16) // key
	p.VM.Push(1)
	p.VM.Push(32) // value out
	p.VM.Push(8)
	require.True(t, p.invokeManager(bindLoadVar))
	require.Equal(t, uint32(2), p.VM.Pop())
	require.Equal(t, []byte{7, 8}, p.mem[32:34])
}

func TestDerivePkDeterministic(t *testing.T) {
	seed := [32]byte{1, 2, 3}
	a := derivePk(seed, []byte("id-1"))
	b := derivePk(seed, []byte("id-1"))
	c := derivePk(seed, []byte("id-2"))
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.NotEqual(t, types.PubKey{}, a)
}

func TestDocWriterNesting(t *testing.T) {
	w := newDocWriter()
	w.addText("name", "vault")
	w.openArray("accounts")
	w.openGroup("")
	w.addNum64("amount", 100)
	require.True(t, w.closeGroup())
	require.False(t, w.closeGroup()) // top is the array
	require.True(t, w.closeArray())
	require.False(t, w.closeArray()) // root is not closable
	require.True(t, w.balanced())
	require.Equal(t, `{"name":"vault","accounts":[{"amount":100}]}`, w.result())
}
