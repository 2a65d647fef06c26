// Copyright (C) 2022 K2 Cyber Security Inc.

package hookengine

import (
	"encoding/binary"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/k2io/hookengine/internal/insn"
)

// ObserverHook patches a function to pass through an observer before its
// original code runs. There is no detour: the patch jumps into the hook's
// own trampoline, which snapshots the registers, calls
// observer(snapshot, context) and then continues with the function.
//
// On amd64 the observer is called with the snapshot in both RDI and RCX and
// the context in both RSI and RDX, with 32 bytes of shadow space, so either
// the System V or the Windows convention works. It must preserve vector
// registers. On 386 it is called cdecl. The snapshot layout is Registers on
// amd64 and Registers32 on 386.
type ObserverHook struct {
	patch
	observer uintptr
	// keeps the context reachable while its address is baked into code
	context unsafe.Pointer
}

// NewObserver returns an unmade observer hook for the function at target.
func NewObserver(target uintptr) *ObserverHook {
	h := &ObserverHook{}
	h.init(h, target)
	return h
}

// Make builds the instrumented trampoline into buf.
func (h *ObserverHook) Make(buf *Buffer, observer uintptr, context unsafe.Pointer) (int, error) {
	if observer == 0 {
		return 0, errors.New("nil observer")
	}
	n, err := h.make(buf, observerPrefixSize(h.mode), func(pc uintptr) ([]byte, error) {
		return observerPrefix(pc, observer, uintptr(context), h.mode)
	})
	if err != nil {
		return 0, err
	}
	h.observer, h.context = observer, context
	return n, nil
}

// Set patches the target with a jump to the instrumented trampoline.
func (h *ObserverHook) Set() error {
	return h.install(h.trampoline)
}

// Observer returns the observer the trampoline calls.
func (h *ObserverHook) Observer() uintptr { return h.observer }

const (
	observerPrefixSize32 = 20
	observerPrefixSize64 = 92
)

func observerPrefixSize(mode insn.Mode) int {
	if mode == insn.Mode32 {
		return observerPrefixSize32
	}
	return observerPrefixSize64
}

// observerPrefix emits the register-saving call sequence placed at pc.
func observerPrefix(pc, observer, context uintptr, mode insn.Mode) ([]byte, error) {
	if mode == insn.Mode32 {
		return observerPrefix32(pc, observer, context)
	}
	return observerPrefix64(observer, context), nil
}

func observerPrefix32(pc, observer, context uintptr) ([]byte, error) {
	code := make([]byte, 0, observerPrefixSize32)
	code = append(code,
		0x9C,       // pushfd
		0x60,       // pushad
		0x89, 0xE0, // mov eax, esp
		0x68, // push context
	)
	code = binary.LittleEndian.AppendUint32(code, uint32(context))
	code = append(code, 0x50) // push eax

	call := make([]byte, insn.JmpSize)
	if _, err := insn.WriteCall(call, pc+uintptr(len(code)), observer, insn.Mode32); err != nil {
		return nil, err
	}
	code = append(code, call...)
	code = append(code,
		0x83, 0xC4, 0x08, // add esp, 8
		0x61, // popad
		0x9D, // popfd
	)
	return code, nil
}

func observerPrefix64(observer, context uintptr) []byte {
	code := make([]byte, 0, observerPrefixSize64)
	code = append(code, 0x9C) // pushfq
	// push rax, rcx, rdx, rbx, rsp, rbp, rsi, rdi
	for r := byte(0); r < 8; r++ {
		code = append(code, 0x50+r)
	}
	// push r8..r15
	for r := byte(0); r < 8; r++ {
		code = append(code, 0x41, 0x50+r)
	}
	code = append(code,
		0x48, 0x89, 0xE7, // mov rdi, rsp
		0x48, 0x89, 0xF9, // mov rcx, rdi
		0x48, 0xBE, // mov rsi, context
	)
	code = binary.LittleEndian.AppendUint64(code, uint64(context))
	code = append(code,
		0x48, 0x89, 0xF2, // mov rdx, rsi
		0x48, 0x83, 0xEC, 0x20, // sub rsp, 32
		0x48, 0xB8, // mov rax, observer
	)
	code = binary.LittleEndian.AppendUint64(code, uint64(observer))
	code = append(code,
		0xFF, 0xD0, // call rax
		0x48, 0x83, 0xC4, 0x20, // add rsp, 32
	)
	// pop r15..r8
	for r := byte(7); ; r-- {
		code = append(code, 0x41, 0x58+r)
		if r == 0 {
			break
		}
	}
	code = append(code,
		0x5F, 0x5E, 0x5D, // pop rdi, rsi, rbp
		0x48, 0x83, 0xC4, 0x08, // add rsp, 8
		0x5B, 0x5A, 0x59, 0x58, // pop rbx, rdx, rcx, rax
		0x9D, // popfq
	)
	return code
}
