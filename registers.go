// Copyright (C) 2022 K2 Cyber Security Inc.

package hookengine

// Registers is the snapshot an amd64 observer receives, lowest address
// first. Rsp is the stack pointer after the flags and four registers were
// pushed; the value at entry is Rsp+40. Ret is the caller's return address.
type Registers struct {
	R15, R14, R13, R12, R11, R10, R9, R8 uint64
	Rdi, Rsi, Rbp, Rsp, Rbx, Rdx, Rcx    uint64
	Rax, Rflags, Ret                     uint64
}

// EntrySP returns the stack pointer as the hooked function saw it.
func (r *Registers) EntrySP() uint64 { return r.Rsp + 40 }

// Registers32 is the snapshot a 386 observer receives, in pushad order.
// Esp is the value at entry minus four for the pushed flags.
type Registers32 struct {
	Edi, Esi, Ebp, Esp, Ebx, Edx, Ecx, Eax uint32
	Eflags, Ret                            uint32
}

// EntrySP returns the stack pointer as the hooked function saw it.
func (r *Registers32) EntrySP() uint32 { return r.Esp + 4 }
