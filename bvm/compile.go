package bvm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Maxnflaxl/beam/log"
	"github.com/Maxnflaxl/beam/wasm"
)

// Kind selects the host catalog a module is compiled against.
type Kind uint8

const (
	KindContract Kind = iota
	KindManager
)

func (k Kind) String() string {
	if k == KindManager {
		return "manager"
	}
	return "contract"
}

const importModule = "env"

// methodPrefix names the public entry points: Method_0 is the
// constructor, Method_1 the destructor.
const methodPrefix = "Method_"

func publicMethodIdx(name string) (uint32, bool) {
	if !strings.HasPrefix(name, methodPrefix) {
		return 0, false
	}
	n, err := strconv.ParseUint(name[len(methodPrefix):], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// Compile parses a module, resolves its imports against the catalog of
// the given kind, rewrites the code and assembles the executable
// image. Deterministic: the same input yields the same image.
func Compile(code []byte, kind Kind) ([]byte, error) {
	var c wasm.Compiler
	if err := c.Parse(code); err != nil {
		return nil, err
	}

	for i := range c.Imports {
		im := &c.Imports[i]
		if im.Module != importModule {
			return nil, &wasm.CompileError{Reason: fmt.Sprintf("unresolved import module %q", im.Module)}
		}
		id, ok := bindingByName(kind, im.Name)
		if !ok {
			return nil, &wasm.CompileError{Reason: fmt.Sprintf("unresolved import %q", im.Name)}
		}
		im.Binding = id
	}

	if err := c.Build(); err != nil {
		return nil, err
	}

	var numMethods uint32
	byIdx := make(map[uint32]uint32)
	for _, ex := range c.Exports {
		if ex.Kind != 0 {
			continue
		}
		idx, ok := publicMethodIdx(ex.Name)
		if !ok {
			continue
		}
		if _, dup := byIdx[idx]; dup {
			return nil, &wasm.CompileError{Reason: fmt.Sprintf("duplicate method %d", idx)}
		}
		byIdx[idx] = c.FuncEntry(ex.Idx)
		if idx+1 > numMethods {
			numMethods = idx + 1
		}
	}

	if numMethods < 2 {
		return nil, &wasm.CompileError{Reason: "module must export a constructor and a destructor"}
	}
	methods := make([]uint32, numMethods)
	for i := range methods {
		entry, ok := byIdx[uint32(i)]
		if !ok {
			return nil, &wasm.CompileError{Reason: fmt.Sprintf("method table has a gap at %d", i)}
		}
		methods[i] = entry
	}

	log.Debug(log.CompilerMonitoring, "module compiled",
		"kind", kind.String(),
		"methods", numMethods,
		"code_size", len(c.Result),
	)
	return buildImage(methods, c.Result), nil
}
