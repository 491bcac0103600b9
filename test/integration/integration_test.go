// Package integration exercises the full emulator stack (CPU, bus, timer,
// DMA, PPU) end to end, the way the teacher's own integration suite did,
// but against small synthetic ROM images built in-test rather than
// external Blargg/acid2 binaries the retrieved pack does not include.
package integration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valerio/go-jeebie/jeebie"
	"github.com/valerio/go-jeebie/jeebie/addr"
	"github.com/valerio/go-jeebie/jeebie/memory"
)

// newROM builds a 32KiB cartridge image with a valid, NoMBC header and the
// given bytes placed starting at 0x100 (the entry point), NOP-padded
// everywhere else.
func newROM(entryCode []byte) []byte {
	data := make([]byte, 0x8000)
	copy(data[0x100:], entryCode)
	data[0x147] = 0x00 // cartridge type: ROM only
	data[0x148] = 0x00 // 32KiB, no banking
	data[0x149] = 0x00 // no external RAM

	var x uint8
	for i := 0x134; i <= 0x14C; i++ {
		x = x - data[i] - 1
	}
	data[0x14D] = x
	return data
}

func newEmulator(t *testing.T, entryCode []byte) *jeebie.Emulator {
	t.Helper()
	cart := memory.NewCartridgeWithData(newROM(entryCode))
	mmu := memory.NewWithCartridge(cart)
	return jeebie.NewWithMMU(mmu)
}

// S1 — boot state: a freshly reset system has LY=0 and a NOP at the entry
// point advances PC by one and consumes exactly one machine cycle.
func TestBootState(t *testing.T) {
	emu := newEmulator(t, []byte{0x00}) // NOP
	mmu := emu.GetMMU()

	assert.Equal(t, uint8(0), mmu.Read(addr.LY))

	cpu := emu.GetCPU()
	assert.Equal(t, uint16(0x100), cpu.GetPC())

	cycles := cpu.Step()
	assert.Equal(t, uint16(0x101), cpu.GetPC())
	assert.Equal(t, 4, cycles)
}

// S3 — timer: TAC=0x05 (enabled, source=bit 3 of div), TMA=0xFE, TIMA=0xFE.
// With the divider starting at 0, TIMA ticks every 4 machine cycles: it
// wraps after 8 cycles, reloads from TMA and raises the Timer interrupt
// (IF bit 2), then wraps again on cycle 16, so it reads 0x00 at the end.
func TestTimerOverflowRequestsInterrupt(t *testing.T) {
	// A tight loop of NOPs so stepping the CPU simply burns machine cycles
	// without perturbing timer/IF state through other opcodes.
	nops := make([]byte, 64)
	emu := newEmulator(t, nops)
	mmu := emu.GetMMU()

	mmu.Write(addr.TMA, 0xFE)
	mmu.Write(addr.TIMA, 0xFE)
	mmu.Write(addr.TAC, 0x05)

	cpu := emu.GetCPU()
	for i := 0; i < 16; i++ {
		cpu.Step()
	}

	assert.Equal(t, uint8(0x00), mmu.Read(addr.TIMA))
	assert.NotEqual(t, uint8(0), mmu.Read(addr.IF)&0x04)
}

// S4 — DMA: writing 0xC0 to 0xFF46 starts a transfer from 0xC000; after it
// completes, OAM[0..0xA0) mirrors WRAM[0xC000..0xC0A0) and DMA is inactive.
func TestDMATransferCopiesWRAMIntoOAM(t *testing.T) {
	nops := make([]byte, 200)
	emu := newEmulator(t, nops)
	mmu := emu.GetMMU()

	for i := uint16(0); i < 0xA0; i++ {
		mmu.Write(0xC000+i, uint8(i+1))
	}

	mmu.Write(addr.DMA, 0xC0)

	cpu := emu.GetCPU()
	for i := 0; i < 162; i++ {
		cpu.Step()
	}

	for i := uint16(0); i < 0xA0; i++ {
		assert.Equal(t, mmu.Read(0xC000+i), mmu.Read(0xFE00+i), "OAM byte %d", i)
	}
}

// Invariant #6: while DMA is in flight, the CPU's own OAM reads are
// blocked and return 0xFF, even though the DMA engine itself can still
// copy into OAM via its privileged internal path.
func TestOAMBlockedDuringDMA(t *testing.T) {
	nops := make([]byte, 8)
	emu := newEmulator(t, nops)
	mmu := emu.GetMMU()

	mmu.Write(0xFE00, 0x42)
	mmu.Write(addr.DMA, 0xC0)

	// DMA is active immediately after the triggering write (even during
	// its two-cycle startup latency), so the very next read sees 0xFF.
	assert.Equal(t, uint8(0xFF), mmu.Read(0xFE00))
}

// Frame/invariant properties: over many frames, LY stays below 154 and
// every line from 144 to 153 reports VBlank mode.
func TestPPUInvariantsHoldAcrossFrames(t *testing.T) {
	nops := make([]byte, 8)
	emu := newEmulator(t, nops)
	mmu := emu.GetMMU()

	mmu.Write(addr.LCDC, 0x91)
	mmu.Write(addr.BGP, 0xE4)

	for frame := 0; frame < 3; frame++ {
		for i := 0; i < 50000; i++ {
			emu.Step()

			ly := mmu.Read(addr.LY)
			assert.True(t, ly < 154, "LY out of range: %d", ly)

			stat := mmu.Read(addr.STAT)
			mode := stat & 0x03
			if ly >= 144 {
				assert.Equal(t, uint8(1), mode, "mode must be VBLANK during lines 144-153")
			}
		}
	}
}

// Algebraic law: F's low nibble is always zero, regardless of which flags
// were last written.
func TestFlagLowNibbleAlwaysZero(t *testing.T) {
	emu := newEmulator(t, []byte{0x3C, 0x3D, 0x37, 0x3F}) // INC A; DEC A; SCF; CCF
	cpu := emu.GetCPU()

	for i := 0; i < 4; i++ {
		cpu.Step()
		assert.Equal(t, uint8(0), cpu.GetF()&0x0F)
	}
}
