// Package jeebie ties the CPU, bus and PPU together into a runnable
// Game Boy emulator, and exposes the small surface the frontends
// (terminal renderer, headless runner) drive.
package jeebie

import (
	"fmt"
	"os"
	"sync"

	"log/slog"

	"github.com/valerio/go-jeebie/jeebie/cpu"
	"github.com/valerio/go-jeebie/jeebie/memory"
	"github.com/valerio/go-jeebie/jeebie/video"
)

// DebuggerState represents the current debugger mode.
type DebuggerState int

const (
	DebuggerRunning   DebuggerState = iota // normal execution
	DebuggerPaused                         // paused, waiting for commands
	DebuggerStep                           // execute one instruction then pause
	DebuggerStepFrame                      // execute one frame then pause
)

// Emulator is the root struct and entry point for running the emulation.
// Its Step drives the central cycle dispatch: the CPU executes one unit
// of work, and the bus, PPU and APU are ticked by the T-cycles it spent,
// keeping timer, DMA, rendering and sound all in lockstep with the CPU.
type Emulator struct {
	cpu *cpu.CPU
	gpu *video.GPU
	mem *memory.MMU

	debuggerState    DebuggerState
	debuggerMutex    sync.RWMutex
	stepRequested    bool
	frameRequested   bool
	instructionCount uint64
	frameCount       uint64
}

func (e *Emulator) init(mem *memory.MMU) {
	e.cpu = cpu.New(mem)
	e.gpu = video.NewGpu(mem)
	e.mem = mem
	mem.SetPPU(e.gpu)
}

// New creates a new emulator instance with no cartridge loaded.
func New() *Emulator {
	e := &Emulator{}
	e.init(memory.NewWithCartridge(memory.NewCartridge()))
	return e
}

// NewWithMMU creates a new emulator instance wired to an already-configured
// bus, letting callers (tests, alternate loaders) control cartridge
// construction themselves instead of going through NewWithFile.
func NewWithMMU(mem *memory.MMU) *Emulator {
	e := &Emulator{}
	e.init(mem)
	return e
}

// NewWithFile creates a new emulator instance and loads the ROM at path.
func NewWithFile(path string) (*Emulator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	slog.Debug("loaded ROM data", "size", len(data))

	e := &Emulator{}
	e.init(memory.NewWithCartridge(memory.NewCartridgeWithData(data)))
	return e, nil
}

// step executes a single CPU step and fans its cycle count out to the
// rest of the system: bus (timer, serial, DMA), PPU and APU.
func (e *Emulator) step() int {
	cycles := e.cpu.Step()
	e.gpu.Tick(cycles)
	e.mem.APU.Tick(cycles)
	e.instructionCount++
	return cycles
}

// Step executes a single unit of CPU work and drives the rest of the
// system (bus, PPU, APU) by the cycles it took, ignoring debugger
// pause/step state. Exported for callers (tests, alternate frontends)
// that need finer-grained control than RunUntilFrame.
func (e *Emulator) Step() int {
	return e.step()
}

// RunUntilFrame executes CPU work until a full frame has been rendered,
// honoring the debugger's current pause/step mode.
func (e *Emulator) RunUntilFrame() {
	e.debuggerMutex.RLock()
	state := e.debuggerState
	e.debuggerMutex.RUnlock()

	switch state {
	case DebuggerPaused:
		return

	case DebuggerStep:
		e.debuggerMutex.Lock()
		requested := e.stepRequested
		e.stepRequested = false
		e.debuggerMutex.Unlock()

		if !requested {
			return
		}

		oldPC := e.cpu.GetPC()
		e.step()
		slog.Debug("step executed", "pc", fmt.Sprintf("0x%04X", oldPC), "new_pc", fmt.Sprintf("0x%04X", e.cpu.GetPC()))
		e.SetDebuggerState(DebuggerPaused)
		return

	case DebuggerStepFrame:
		e.debuggerMutex.Lock()
		requested := e.frameRequested
		e.frameRequested = false
		e.debuggerMutex.Unlock()

		if !requested {
			return
		}

		e.runFrame()
		e.SetDebuggerState(DebuggerPaused)
		return

	default: // DebuggerRunning
		e.runFrame()
	}
}

// runFrame steps the CPU until the GPU reports a completed frame.
func (e *Emulator) runFrame() {
	for {
		e.step()
		if e.gpu.ConsumeFrame() {
			e.frameCount++
			if e.frameCount%60 == 0 {
				slog.Debug("frame completed", "frame", e.frameCount, "pc", fmt.Sprintf("0x%04X", e.cpu.GetPC()))
			}
			return
		}
	}
}

func (e *Emulator) GetCurrentFrame() *video.FrameBuffer {
	return e.gpu.GetFrameBuffer()
}

func (e *Emulator) HandleKeyPress(key memory.JoypadKey) {
	e.mem.HandleKeyPress(key)
}

func (e *Emulator) HandleKeyRelease(key memory.JoypadKey) {
	e.mem.HandleKeyRelease(key)
}

func (e *Emulator) GetCPU() *cpu.CPU {
	return e.cpu
}

func (e *Emulator) GetMMU() *memory.MMU {
	return e.mem
}

func (e *Emulator) GetInstructionCount() uint64 {
	return e.instructionCount
}

func (e *Emulator) GetFrameCount() uint64 {
	return e.frameCount
}

// Debugger control methods.

func (e *Emulator) SetDebuggerState(state DebuggerState) {
	e.debuggerMutex.Lock()
	defer e.debuggerMutex.Unlock()
	e.debuggerState = state
	slog.Debug("debugger state changed", "state", state)
}

func (e *Emulator) GetDebuggerState() DebuggerState {
	e.debuggerMutex.RLock()
	defer e.debuggerMutex.RUnlock()
	return e.debuggerState
}

func (e *Emulator) DebuggerPause() {
	e.SetDebuggerState(DebuggerPaused)
	slog.Info("emulator paused")
}

func (e *Emulator) DebuggerResume() {
	e.SetDebuggerState(DebuggerRunning)
	slog.Info("emulator resumed")
}

func (e *Emulator) DebuggerStepInstruction() {
	e.debuggerMutex.Lock()
	defer e.debuggerMutex.Unlock()
	e.stepRequested = true
	e.debuggerState = DebuggerStep
	slog.Info("step instruction requested")
}

func (e *Emulator) DebuggerStepFrame() {
	e.debuggerMutex.Lock()
	defer e.debuggerMutex.Unlock()
	e.frameRequested = true
	e.debuggerState = DebuggerStepFrame
	slog.Info("step frame requested")
}
