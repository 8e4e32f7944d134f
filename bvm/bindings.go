package bvm

// Host binding ids, shared by the compiler (import resolution) and the
// processors (dispatch).
const (
	bindMemcpy     uint32 = 0x10
	bindMemset     uint32 = 0x11
	bindMemcmp     uint32 = 0x12
	bindMemis0     uint32 = 0x13
	bindStrlen     uint32 = 0x14
	bindStrcmp     uint32 = 0x15
	bindStackAlloc uint32 = 0x18
	bindStackFree  uint32 = 0x19
	bindHeapAlloc  uint32 = 0x1A
	bindHeapFree   uint32 = 0x1B

	bindLoadVar      uint32 = 0x20
	bindSaveVar      uint32 = 0x21
	bindCallFar      uint32 = 0x23
	bindCallDepth    uint32 = 0x24
	bindCallerCid    uint32 = 0x25
	bindHalt         uint32 = 0x28
	bindAddSig       uint32 = 0x29
	bindHashWrite    uint32 = 0x2B
	bindHashGetValue uint32 = 0x2D
	bindHashFree     uint32 = 0x2E

	bindFundsLock    uint32 = 0x30
	bindFundsUnlock  uint32 = 0x31
	bindRefAdd       uint32 = 0x32
	bindRefRelease   uint32 = 0x33
	bindAssetCreate  uint32 = 0x38
	bindAssetEmit    uint32 = 0x39
	bindAssetDestroy uint32 = 0x3A

	bindGetHeight   uint32 = 0x40
	bindGetHdrInfo  uint32 = 0x41
	bindGetHdrFull  uint32 = 0x42
	bindGetRulesCfg uint32 = 0x43

	bindHashCreateSha256    uint32 = 0x48
	bindHashCreateBlake2b   uint32 = 0x49
	bindHashCreateKeccak256 uint32 = 0x4A

	bindVarsEnum     uint32 = 0x51
	bindVarsMoveNext uint32 = 0x52
	bindVarGetProof  uint32 = 0x53
	bindDerivePk     uint32 = 0x58

	bindDocAddGroup   uint32 = 0x60
	bindDocCloseGroup uint32 = 0x61
	bindDocAddText    uint32 = 0x62
	bindDocAddNum32   uint32 = 0x63
	bindDocAddNum64   uint32 = 0x64
	bindDocAddArray   uint32 = 0x65
	bindDocCloseArray uint32 = 0x66
	bindDocAddBlob    uint32 = 0x67
	bindDocGetText    uint32 = 0x69
	bindDocGetNum32   uint32 = 0x6A
	bindDocGetNum64   uint32 = 0x6B
	bindDocGetBlob    uint32 = 0x6C

	bindGenerateKernel uint32 = 0x70

	bindSecpScalarAlloc  uint32 = 0x80
	bindSecpScalarFree   uint32 = 0x81
	bindSecpScalarImport uint32 = 0x82
	bindSecpScalarExport uint32 = 0x83
	bindSecpScalarNeg    uint32 = 0x84
	bindSecpScalarAdd    uint32 = 0x85
	bindSecpScalarMul    uint32 = 0x86
	bindSecpScalarInv    uint32 = 0x87
	bindSecpScalarSet    uint32 = 0x88

	bindSecpPointAlloc  uint32 = 0x90
	bindSecpPointFree   uint32 = 0x91
	bindSecpPointImport uint32 = 0x92
	bindSecpPointExport uint32 = 0x93
	bindSecpPointNeg    uint32 = 0x94
	bindSecpPointAdd    uint32 = 0x95
	bindSecpPointMul    uint32 = 0x96
	bindSecpPointIsZero uint32 = 0x97
	bindSecpPointMulG   uint32 = 0x98
	bindSecpPointMulJ   uint32 = 0x99
	bindSecpPointMulH   uint32 = 0x9A

	bindVerifyBeamHashIII uint32 = 0xB0
)

var commonBindings = map[string]uint32{
	"Memcpy":              bindMemcpy,
	"Memset":              bindMemset,
	"Memcmp":              bindMemcmp,
	"Memis0":              bindMemis0,
	"Strlen":              bindStrlen,
	"Strcmp":              bindStrcmp,
	"StackAlloc":          bindStackAlloc,
	"StackFree":           bindStackFree,
	"Heap_Alloc":          bindHeapAlloc,
	"Heap_Free":           bindHeapFree,
	"Halt":                bindHalt,
	"HashWrite":           bindHashWrite,
	"HashGetValue":        bindHashGetValue,
	"HashFree":            bindHashFree,
	"get_Height":          bindGetHeight,
	"get_HdrInfo":         bindGetHdrInfo,
	"get_HdrFull":         bindGetHdrFull,
	"get_RulesCfg":        bindGetRulesCfg,
	"HashCreateSha256":    bindHashCreateSha256,
	"HashCreateBlake2b":   bindHashCreateBlake2b,
	"HashCreateKeccak256": bindHashCreateKeccak256,
	"Secp_Scalar_alloc":   bindSecpScalarAlloc,
	"Secp_Scalar_free":    bindSecpScalarFree,
	"Secp_Scalar_import":  bindSecpScalarImport,
	"Secp_Scalar_export":  bindSecpScalarExport,
	"Secp_Scalar_neg":     bindSecpScalarNeg,
	"Secp_Scalar_add":     bindSecpScalarAdd,
	"Secp_Scalar_mul":     bindSecpScalarMul,
	"Secp_Scalar_inv":     bindSecpScalarInv,
	"Secp_Scalar_set":     bindSecpScalarSet,
	"Secp_Point_alloc":    bindSecpPointAlloc,
	"Secp_Point_free":     bindSecpPointFree,
	"Secp_Point_Import":   bindSecpPointImport,
	"Secp_Point_Export":   bindSecpPointExport,
	"Secp_Point_neg":      bindSecpPointNeg,
	"Secp_Point_add":      bindSecpPointAdd,
	"Secp_Point_mul":      bindSecpPointMul,
	"Secp_Point_IsZero":   bindSecpPointIsZero,
	"Secp_Point_mul_G":    bindSecpPointMulG,
	"Secp_Point_mul_J":    bindSecpPointMulJ,
	"Secp_Point_mul_H":    bindSecpPointMulH,
	"VerifyBeamHashIII":   bindVerifyBeamHashIII,
}

var contractBindings = map[string]uint32{
	"LoadVar":       bindLoadVar,
	"SaveVar":       bindSaveVar,
	"CallFar":       bindCallFar,
	"get_CallDepth": bindCallDepth,
	"get_CallerCid": bindCallerCid,
	"AddSig":        bindAddSig,
	"FundsLock":     bindFundsLock,
	"FundsUnlock":   bindFundsUnlock,
	"RefAdd":        bindRefAdd,
	"RefRelease":    bindRefRelease,
	"AssetCreate":   bindAssetCreate,
	"AssetEmit":     bindAssetEmit,
	"AssetDestroy":  bindAssetDestroy,
}

var managerBindings = map[string]uint32{
	"LoadVar":        bindLoadVar,
	"VarsEnum":       bindVarsEnum,
	"VarsMoveNext":   bindVarsMoveNext,
	"VarGetProof":    bindVarGetProof,
	"DerivePk":       bindDerivePk,
	"DocAddGroup":    bindDocAddGroup,
	"DocCloseGroup":  bindDocCloseGroup,
	"DocAddText":     bindDocAddText,
	"DocAddNum32":    bindDocAddNum32,
	"DocAddNum64":    bindDocAddNum64,
	"DocAddArray":    bindDocAddArray,
	"DocCloseArray":  bindDocCloseArray,
	"DocAddBlob":     bindDocAddBlob,
	"DocGetText":     bindDocGetText,
	"DocGetNum32":    bindDocGetNum32,
	"DocGetNum64":    bindDocGetNum64,
	"DocGetBlob":     bindDocGetBlob,
	"GenerateKernel": bindGenerateKernel,
}

func bindingByName(kind Kind, name string) (uint32, bool) {
	if id, ok := commonBindings[name]; ok {
		return id, true
	}
	var m map[string]uint32
	if kind == KindContract {
		m = contractBindings
	} else {
		m = managerBindings
	}
	id, ok := m[name]
	return id, ok
}

// bindingCharge is the fixed cost of a host call, on top of the
// per-instruction unit.
func bindingCharge(binding uint32) uint64 {
	switch binding {
	case bindLoadVar, bindSaveVar:
		return 200
	case bindCallFar:
		return 1000
	case bindAssetCreate, bindAssetEmit, bindAssetDestroy:
		return 500
	case bindAddSig:
		return 100
	case bindFundsLock, bindFundsUnlock:
		return 50
	case bindHashWrite, bindHashGetValue:
		return 20
	case bindHashCreateSha256, bindHashCreateBlake2b, bindHashCreateKeccak256:
		return 50
	case bindSecpPointMul, bindSecpPointMulG, bindSecpPointMulJ, bindSecpPointMulH:
		return 500
	case bindSecpScalarInv:
		return 200
	case bindVerifyBeamHashIII:
		return 5000
	case bindGetHdrInfo, bindGetHdrFull:
		return 100
	default:
		return 10
	}
}
