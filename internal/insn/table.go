// Copyright (C) 2022 K2 Cyber Security Inc.

package insn

// immKind is the size class of an immediate operand.
type immKind uint8

const (
	immNone immKind = iota
	imm8
	imm16
	immZ     // 16 bits with 0x66, otherwise 32
	immV     // immZ, or 64 bits with REX.W (mov r, imm)
	immMoffs // absolute address: 32 bits in Mode32, 64 bits in Mode64
)

// relKind is the size class of a relative branch operand.
type relKind uint8

const (
	relNone relKind = iota
	rel8            // short conditional jump, widened when relocated
	relZ            // rel32; the 16-bit form under 0x66 is refused
)

// entry describes one opcode shape. The zero value is an unsupported opcode.
type entry struct {
	ok    bool
	modrm bool
	// mem refuses the register form (mod == 3) of the ModRM operand.
	mem bool
	// noF2 and noF3 refuse a last repeat prefix the opcode has no form for.
	noF2 bool
	noF3 bool
	// noW refuses REX.W.
	noW bool
	imm immKind
	rel relKind
	// only restricts the shape to one mode when non-zero.
	only Mode
	// exact, when >= 0 in a group slot, is the whole ModRM byte required.
	exact int
	// group selects the shape by ModRM.reg.
	group *[8]entry
}

var (
	oneByte [256]entry
	twoByte [256]entry // 0F xx
)

func plain() entry {
	return entry{ok: true, exact: -1}
}

func withModRM() entry {
	return entry{ok: true, modrm: true, exact: -1}
}

func memOnly() entry {
	return entry{ok: true, modrm: true, mem: true, exact: -1}
}

func withImm(k immKind) entry {
	return entry{ok: true, imm: k, exact: -1}
}

func withModRMImm(k immKind) entry {
	return entry{ok: true, modrm: true, imm: k, exact: -1}
}

func relative(k relKind) entry {
	return entry{ok: true, rel: k, exact: -1}
}

// grouped fills the listed ModRM.reg slots of a group with e.
func grouped(e entry, regs ...int) entry {
	var g [8]entry
	for _, reg := range regs {
		g[reg] = e
	}
	return entry{ok: true, exact: -1, group: &g}
}

func set(t *[256]entry, e entry, ops ...byte) {
	for _, op := range ops {
		t[op] = e
	}
}

func span(lo, hi byte) []byte {
	ops := make([]byte, 0, int(hi-lo)+1)
	for op := int(lo); op <= int(hi); op++ {
		ops = append(ops, byte(op))
	}
	return ops
}

func init() {
	// inc/dec r32 in protected mode; REX prefixes in long mode are handled
	// by the prefix scanner before the table is consulted.
	inc := plain()
	inc.only = Mode32
	set(&oneByte, inc, span(0x40, 0x4F)...)
	// push/pop r
	set(&oneByte, plain(), span(0x50, 0x5F)...)
	// nop, cdq, ret, int3
	set(&oneByte, plain(), 0x90, 0x99, 0xC3, 0xCC)
	// ret imm16
	set(&oneByte, withImm(imm16), 0xC2)
	// or/and/cmp al, imm8; push imm8; test al, imm8; mov r8, imm8
	set(&oneByte, withImm(imm8), 0x0C, 0x24, 0x3C, 0x6A, 0xA8)
	set(&oneByte, withImm(imm8), span(0xB0, 0xB7)...)
	// or/and/cmp eax, imm32; push imm32; test eax, imm32
	set(&oneByte, withImm(immZ), 0x0D, 0x25, 0x3D, 0x68, 0xA9)
	// mov r, imm
	set(&oneByte, withImm(immV), span(0xB8, 0xBF)...)
	// mov al/eax <-> moffs
	set(&oneByte, withImm(immMoffs), span(0xA0, 0xA3)...)
	// jcc rel8
	set(&oneByte, relative(rel8), span(0x70, 0x7F)...)
	// call/jmp rel32
	set(&oneByte, relative(relZ), 0xE8, 0xE9)

	// group 1 with imm8, imul r, r/m, imm8
	set(&oneByte, withModRMImm(imm8), 0x80, 0x83, 0x6B)
	// group 1 with imm32, imul r, r/m, imm32
	set(&oneByte, withModRMImm(immZ), 0x81, 0x69)
	// add/or/and/sub/xor/cmp in both directions, test, mov
	set(&oneByte, withModRM(),
		0x00, 0x01, 0x02, 0x03,
		0x08, 0x09, 0x0A, 0x0B,
		0x20, 0x21, 0x22, 0x23,
		0x28, 0x29, 0x2A, 0x2B,
		0x30, 0x31, 0x32, 0x33,
		0x38, 0x39, 0x3A, 0x3B,
		0x84, 0x85,
		0x88, 0x89, 0x8A, 0x8B)
	// lea r, m
	oneByte[0x8D] = memOnly()

	// group 2 shifts by imm8 and by 1; /6 is undefined
	shifts := []int{0, 1, 2, 3, 4, 5, 7}
	set(&oneByte, grouped(withModRMImm(imm8), shifts...), 0xC0, 0xC1)
	set(&oneByte, grouped(withModRM(), shifts...), 0xD0, 0xD1)

	// x87 escapes, memory operands only
	all := []int{0, 1, 2, 3, 4, 5, 6, 7}
	set(&oneByte, grouped(memOnly(), all...), 0xD8, 0xDA, 0xDC, 0xDE, 0xDF)
	oneByte[0xD9] = grouped(memOnly(), 0, 2, 3, 4, 5, 6, 7)
	oneByte[0xDB] = grouped(memOnly(), 0, 1, 2, 3, 5, 7)
	oneByte[0xDD] = grouped(memOnly(), 0, 1, 2, 3, 4, 6, 7)

	// FE /0-1 inc/dec r/m8
	oneByte[0xFE] = grouped(withModRM(), 0, 1)
	// FF /0-1 inc/dec, /2 call, /4 jmp, /6 push; /3 and /5 far forms take
	// a memory operand
	ff := grouped(withModRM(), 0, 1, 2, 4, 6)
	ff.group[3] = memOnly()
	ff.group[5] = memOnly()
	oneByte[0xFF] = ff
	// movsxd r64, r/m32
	movsxd := withModRM()
	movsxd.only = Mode64
	set(&oneByte, movsxd, 0x63)

	// C6 /0 mov r/m8, imm8; C6 F8 xabort imm8
	var c6 [8]entry
	c6[0] = withModRMImm(imm8)
	c6[7] = entry{ok: true, modrm: true, imm: imm8, exact: 0xF8}
	oneByte[0xC6] = entry{ok: true, exact: -1, group: &c6}

	// C7 /0 mov r/m32, imm32; C7 F8 xbegin rel32
	var c7 [8]entry
	c7[0] = withModRMImm(immZ)
	c7[7] = entry{ok: true, modrm: true, rel: relZ, exact: 0xF8}
	oneByte[0xC7] = entry{ok: true, exact: -1, group: &c7}

	// F6 /0 test r/m8, imm8; /2-7 not/neg/mul/imul/div/idiv
	f6 := grouped(withModRM(), 2, 3, 4, 5, 6, 7)
	f6.group[0] = withModRMImm(imm8)
	oneByte[0xF6] = f6
	// F7 /0 test r/m32, imm32; /2-7 as above
	f7 := grouped(withModRM(), 2, 3, 4, 5, 6, 7)
	f7.group[0] = withModRMImm(immZ)
	oneByte[0xF7] = f7

	// jcc rel32
	set(&twoByte, relative(relZ), span(0x80, 0x8F)...)
	// movups/movss/movsd, cvt*, add*, mul*, imul, movzx/movsx
	set(&twoByte, withModRM(),
		0x10, 0x11, 0x2A, 0x2C, 0x2D, 0x58, 0x59,
		0xAF, 0xB6, 0xB7, 0xBE, 0xBF)
	// movaps/movapd, ucomis*/comis*, xorps/xorpd, pxor: no F2/F3 forms
	noRep := withModRM()
	noRep.noF2, noRep.noF3 = true, true
	set(&twoByte, noRep, 0x28, 0x29, 0x2E, 0x2F, 0x57, 0xEF)
	// movq/movdqa/movdqu
	movdq := withModRM()
	movdq.noF2 = true
	set(&twoByte, movdq, 0x6F, 0x7F)
	// setcc
	set(&twoByte, withModRM(), span(0x90, 0x9F)...)

	// 0F 1F /0 nop r/m16 or r/m32
	nop := withModRM()
	nop.noW = true
	twoByte[0x1F] = grouped(nop, 0)
}
