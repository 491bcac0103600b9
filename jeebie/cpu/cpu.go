package cpu

import (
	"github.com/valerio/go-jeebie/jeebie/addr"
	"github.com/valerio/go-jeebie/jeebie/bit"
)

// Bus is the memory-mapped interface the CPU drives. It is satisfied by
// *memory.MMU; declaring it here (rather than importing memory directly)
// keeps the cpu package free of a dependency on the bus implementation.
type Bus interface {
	Read(address uint16) uint8
	Write(address uint16, value uint8)
	Tick(cycles int)
}

// Flag is one of the four bits of the F register.
type Flag uint8

const (
	zeroFlag      Flag = 1 << 7
	subFlag       Flag = 1 << 6
	halfCarryFlag Flag = 1 << 5
	carryFlag     Flag = 1 << 4
)

// CPU emulates the Sharp LR35902, the Game Boy's CPU.
type CPU struct {
	a, b, c, d, e, h, l, f uint8
	sp, pc                 uint16

	bus Bus

	currentOpcode uint16

	interruptsEnabled bool
	eiArmed           bool // EI executed this Step; promotes to eiPending at this Step's end
	eiPending         bool // promoted by a prior Step; commits interruptsEnabled at this Step's end
	halted            bool
	haltBug           bool
	stopped           bool

	cycles uint64
}

// New creates a CPU wired to the given bus, with registers set to their
// documented DMG post-boot-ROM values.
func New(bus Bus) *CPU {
	return &CPU{
		a:  0x01,
		f:  0xB0,
		b:  0x00,
		c:  0x13,
		d:  0x00,
		e:  0xD8,
		h:  0x01,
		l:  0x4D,
		sp: 0xFFFE,
		pc: 0x0100,
		bus: bus,
	}
}

func (c *CPU) setFlag(f Flag) {
	c.f |= uint8(f)
}

func (c *CPU) resetFlag(f Flag) {
	c.f &^= uint8(f)
}

func (c *CPU) setFlagToCondition(f Flag, condition bool) {
	if condition {
		c.setFlag(f)
	} else {
		c.resetFlag(f)
	}
}

func (c *CPU) isSetFlag(f Flag) bool {
	return c.f&uint8(f) != 0
}

// flagToBit returns 1 if the flag is set, 0 otherwise.
func (c *CPU) flagToBit(f Flag) uint8 {
	if c.isSetFlag(f) {
		return 1
	}
	return 0
}

func (c *CPU) getBC() uint16 { return bit.Combine(c.b, c.c) }
func (c *CPU) setBC(v uint16) {
	c.b = bit.High(v)
	c.c = bit.Low(v)
}

func (c *CPU) getDE() uint16 { return bit.Combine(c.d, c.e) }
func (c *CPU) setDE(v uint16) {
	c.d = bit.High(v)
	c.e = bit.Low(v)
}

func (c *CPU) getHL() uint16 { return bit.Combine(c.h, c.l) }
func (c *CPU) setHL(v uint16) {
	c.h = bit.High(v)
	c.l = bit.Low(v)
}

func (c *CPU) getAF() uint16 { return bit.Combine(c.a, c.f&0xF0) }
func (c *CPU) setAF(v uint16) {
	c.a = bit.High(v)
	c.f = bit.Low(v) & 0xF0
}

// readImmediate reads the byte at pc and advances pc past it.
func (c *CPU) readImmediate() uint8 {
	value := c.bus.Read(c.pc)
	c.pc++
	return value
}

// readImmediateWord reads the 16 bit little-endian word at pc and
// advances pc past it.
func (c *CPU) readImmediateWord() uint16 {
	low := c.readImmediate()
	high := c.readImmediate()
	return bit.Combine(high, low)
}

// readSignedImmediate reads the byte at pc as a signed offset, advancing
// pc past it.
func (c *CPU) readSignedImmediate() int8 {
	return int8(c.readImmediate())
}

// handleInterrupts reports whether an interrupt is pending (IF & IE != 0)
// regardless of IME, since HALT must wake on a pending interrupt even
// when interrupts are disabled. It only services (pushes pc and jumps to
// the vector of) the highest-priority pending interrupt when IME is set.
func (c *CPU) handleInterrupts() bool {
	ifReg := c.bus.Read(addr.IF) & 0x1F
	ieReg := c.bus.Read(addr.IE) & 0x1F

	pending := ifReg & ieReg
	if pending == 0 {
		return false
	}

	if !c.interruptsEnabled {
		return true
	}

	var bitIndex uint8
	var vector uint16
	switch {
	case pending&0x01 != 0:
		bitIndex, vector = 0, 0x40
	case pending&0x02 != 0:
		bitIndex, vector = 1, 0x48
	case pending&0x04 != 0:
		bitIndex, vector = 2, 0x50
	case pending&0x08 != 0:
		bitIndex, vector = 3, 0x58
	case pending&0x10 != 0:
		bitIndex, vector = 4, 0x60
	}

	c.interruptsEnabled = false
	c.bus.Write(addr.IF, bit.Clear(bitIndex, c.bus.Read(addr.IF)))
	c.pushStack(c.pc)
	c.pc = vector
	c.cycles += 20
	c.bus.Tick(20)

	return true
}

// commitEIDelay applies the one-instruction delay of EI: IME only
// becomes true after the instruction following EI has executed. EI
// itself only arms the delay (eiArmed); the end of the Step that ran EI
// promotes the arm into eiPending, and the end of the following Step
// commits eiPending to IME. This two-stage ordering is
// what keeps IME from turning true until the instruction immediately
// after EI has fully retired.
func (c *CPU) commitEIDelay() {
	if c.eiPending {
		c.eiPending = false
		c.interruptsEnabled = true
	}
	if c.eiArmed {
		c.eiArmed = false
		c.eiPending = true
	}
}

// Step executes a single unit of CPU work: it services a pending
// interrupt if IME allows it, idles for 4 cycles if halted with nothing
// to do, or fetches and executes the next instruction. It returns the
// number of T-cycles consumed.
func (c *CPU) Step() int {
	startCycles := c.cycles

	interruptPending := c.handleInterrupts()
	if c.cycles != startCycles {
		c.commitEIDelay()
		return int(c.cycles - startCycles)
	}

	if c.halted {
		if interruptPending {
			c.halted = false
			if !c.interruptsEnabled {
				c.haltBug = true
			}
		} else {
			c.cycles += 4
			c.bus.Tick(4)
			c.commitEIDelay()
			return 4
		}
	}

	handler := Decode(c)
	isCBPrefixed := c.currentOpcode&0xFF00 == 0xCB00

	skipAdvance := c.haltBug
	c.haltBug = false

	if !skipAdvance {
		if isCBPrefixed {
			c.pc += 2
		} else {
			c.pc++
		}
	}

	cycles := handler(c)
	c.cycles += uint64(cycles)

	// CB-prefixed handlers tick the bus themselves at each memory access;
	// primary-table handlers report a lump cycle count ticked here.
	if !isCBPrefixed {
		c.bus.Tick(cycles)
	}

	c.commitEIDelay()

	return cycles
}

// Register accessors, used by disassembly and the terminal debugger view.

func (c *CPU) GetA() uint8   { return c.a }
func (c *CPU) GetF() uint8   { return c.f }
func (c *CPU) GetB() uint8   { return c.b }
func (c *CPU) GetC() uint8   { return c.c }
func (c *CPU) GetD() uint8   { return c.d }
func (c *CPU) GetE() uint8   { return c.e }
func (c *CPU) GetH() uint8   { return c.h }
func (c *CPU) GetL() uint8   { return c.l }
func (c *CPU) GetSP() uint16 { return c.sp }
func (c *CPU) GetPC() uint16 { return c.pc }

// GetFlagString renders the Z/N/H/C flags as four characters, uppercase
// when set and lowercase when clear, in that fixed order.
func (c *CPU) GetFlagString() string {
	chars := [4]byte{'z', 'n', 'h', 'c'}
	flags := [4]Flag{zeroFlag, subFlag, halfCarryFlag, carryFlag}
	out := make([]byte, 4)
	for i, f := range flags {
		if c.isSetFlag(f) {
			out[i] = chars[i] - ('a' - 'A')
		} else {
			out[i] = chars[i]
		}
	}
	return string(out)
}

// Decode peeks at the instruction located at cpu.pc without mutating it,
// recording the resolved opcode (CB-prefixed codes are folded into the
// synthetic 0xCBxx range) in cpu.currentOpcode, and returns its handler.
func Decode(cpu *CPU) Opcode {
	opByte := cpu.bus.Read(cpu.pc)

	var opcode uint16
	if opByte == 0xCB {
		second := cpu.bus.Read(cpu.pc + 1)
		opcode = 0xCB00 | uint16(second)
	} else {
		opcode = uint16(opByte)
	}

	cpu.currentOpcode = opcode
	return decode(opcode)
}
