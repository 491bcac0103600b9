package render

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/valerio/go-jeebie/jeebie"
	"github.com/valerio/go-jeebie/jeebie/disasm"
	"github.com/valerio/go-jeebie/jeebie/memory"
)

const (
	width  = 160
	height = 144

	frameTime = time.Second / 60

	gameAreaWidth  = width
	gameAreaHeight = height
	registerHeight = 7
	disasmHeight   = 9
	minTermWidth   = 100
	minTermHeight  = 35
)

var shadeChars = []rune{'█', '▓', '▒', '░'}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// TerminalRenderer drives a split-screen tcell debugger view: the Game
// Boy picture on the left, CPU registers/disassembly/logs on the right.
type TerminalRenderer struct {
	screen    tcell.Screen
	emulator  *jeebie.Emulator
	running   bool
	logBuffer *LogBuffer
}

func NewTerminalRenderer(emu *jeebie.Emulator) (*TerminalRenderer, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize terminal: %w", err)
	}
	if err := screen.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize terminal: %w", err)
	}

	logBuffer := NewLogBuffer(100)
	slog.SetDefault(slog.New(NewLogBufferHandler(logBuffer, slog.LevelDebug)))
	slog.Info("terminal renderer initialized")

	return &TerminalRenderer{screen: screen, emulator: emu, running: true, logBuffer: logBuffer}, nil
}

func (t *TerminalRenderer) Run() error {
	defer t.screen.Fini()

	t.screen.SetStyle(tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.ColorWhite))
	t.screen.Clear()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)

	go t.handleInput()

	ticker := time.NewTicker(frameTime)
	defer ticker.Stop()

	for t.running {
		select {
		case <-ticker.C:
			t.emulator.RunUntilFrame()
			t.render()
			t.screen.Show()
		case <-signals:
			t.running = false
			slog.Info("received signal to stop")
			return nil
		}
	}

	return nil
}

func (t *TerminalRenderer) handleInput() {
	for t.running {
		switch ev := t.screen.PollEvent().(type) {
		case *tcell.EventKey:
			t.handleKey(ev)
		case *tcell.EventResize:
			t.screen.Sync()
		}
	}
}

func (t *TerminalRenderer) handleKey(ev *tcell.EventKey) {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		t.running = false
	case tcell.KeyEnter:
		t.emulator.HandleKeyPress(memory.JoypadStart)
	case tcell.KeyRight:
		t.emulator.HandleKeyPress(memory.JoypadRight)
	case tcell.KeyLeft:
		t.emulator.HandleKeyPress(memory.JoypadLeft)
	case tcell.KeyUp:
		t.emulator.HandleKeyPress(memory.JoypadUp)
	case tcell.KeyDown:
		t.emulator.HandleKeyPress(memory.JoypadDown)
	case tcell.KeyRune:
		t.handleRune(ev.Rune())
	}
}

func (t *TerminalRenderer) handleRune(r rune) {
	switch r {
	case 'a':
		t.emulator.HandleKeyPress(memory.JoypadA)
	case 's':
		t.emulator.HandleKeyPress(memory.JoypadB)
	case 'q':
		t.emulator.HandleKeyPress(memory.JoypadSelect)
	case ' ':
		if t.emulator.GetDebuggerState() == jeebie.DebuggerPaused {
			t.emulator.DebuggerResume()
		} else {
			t.emulator.DebuggerPause()
		}
	case 'n':
		t.emulator.DebuggerStepInstruction()
	case 'f':
		t.emulator.DebuggerStepFrame()
	case 'r':
		t.emulator.DebuggerResume()
	case 'p':
		t.emulator.DebuggerPause()
	}
}

func (t *TerminalRenderer) render() {
	termWidth, termHeight := t.screen.Size()

	if termWidth < minTermWidth || termHeight < minTermHeight {
		t.screen.Clear()
		style := tcell.StyleDefault.Foreground(tcell.ColorRed)
		msg := fmt.Sprintf("Terminal too small! Need at least %dx%d", minTermWidth, minTermHeight)
		for i, ch := range msg {
			t.screen.SetContent(i, termHeight/2, ch, nil, style)
		}
		return
	}

	t.screen.Clear()
	t.drawBorders(termWidth, termHeight)
	t.drawGameBoy()
	t.drawRegisters(termWidth, termHeight)
	t.drawDisassembly(termWidth, termHeight)
	t.drawLogs(termWidth, termHeight)
}

func (t *TerminalRenderer) drawBorders(termWidth, termHeight int) {
	borderStyle := tcell.StyleDefault.Foreground(tcell.ColorWhite)

	borderX := min(gameAreaWidth+1, termWidth/2)
	if borderX >= termWidth-10 {
		borderX = termWidth - 10
	}

	for y := 0; y < termHeight; y++ {
		if borderX < termWidth {
			t.screen.SetContent(borderX, y, '│', nil, borderStyle)
		}
	}

	registerEndY := registerHeight + 1
	disasmEndY := registerEndY + disasmHeight + 1
	for _, y := range []int{registerEndY, disasmEndY} {
		if y >= termHeight {
			continue
		}
		for x := borderX + 1; x < termWidth; x++ {
			t.screen.SetContent(x, y, '─', nil, borderStyle)
		}
		t.screen.SetContent(borderX, y, '├', nil, borderStyle)
	}

	titleStyle := tcell.StyleDefault.Foreground(tcell.ColorYellow)
	t.drawText(1, 0, " Game Boy ", titleStyle)
	t.drawText(borderX+2, 0, " CPU Registers ", titleStyle)
	if registerEndY+1 < termHeight {
		t.drawText(borderX+2, registerEndY+1, " Disassembly ", titleStyle)
	}
	if disasmEndY+1 < termHeight {
		t.drawText(borderX+2, disasmEndY+1, " Logs ", titleStyle)
	}

	if termHeight > 10 {
		helpText := "Debug: SPACE=pause/resume N=step P=pause R=resume F=step-frame"
		t.drawTextClamped(1, termHeight-1, helpText, tcell.StyleDefault.Foreground(tcell.ColorWhite), termWidth-2)
	}
}

func (t *TerminalRenderer) drawText(x, y int, text string, style tcell.Style) {
	for i, ch := range text {
		t.screen.SetContent(x+i, y, ch, nil, style)
	}
}

func (t *TerminalRenderer) drawTextClamped(x, y int, text string, style tcell.Style, maxWidth int) {
	if len(text) > maxWidth {
		text = text[:maxWidth]
	}
	t.drawText(x, y, text, style)
}

func (t *TerminalRenderer) drawGameBoy() {
	fb := t.emulator.GetCurrentFrame()
	frame := fb.ToSlice()
	style := tcell.StyleDefault.Foreground(tcell.ColorWhite)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			shade := shadeIndexOf(frame[y*width+x])
			t.screen.SetContent(x, y+1, shadeChars[shade], nil, style)
		}
	}
}

func (t *TerminalRenderer) drawRegisters(termWidth, termHeight int) {
	cpu := t.emulator.GetCPU()
	startX := gameAreaWidth + 3
	startY := 1

	regStyle := tcell.StyleDefault.Foreground(tcell.ColorGreen)

	debugStatus, debugStyle := debuggerStatus(t.emulator.GetDebuggerState())

	registers := []string{
		fmt.Sprintf("Status: %s", debugStatus),
		fmt.Sprintf("A: 0x%02X  F: 0x%02X [%s]", cpu.GetA(), cpu.GetF(), cpu.GetFlagString()),
		fmt.Sprintf("B: 0x%02X  C: 0x%02X", cpu.GetB(), cpu.GetC()),
		fmt.Sprintf("D: 0x%02X  E: 0x%02X", cpu.GetD(), cpu.GetE()),
		fmt.Sprintf("H: 0x%02X  L: 0x%02X", cpu.GetH(), cpu.GetL()),
		fmt.Sprintf("SP: 0x%04X  PC: 0x%04X", cpu.GetSP(), cpu.GetPC()),
		fmt.Sprintf("Frame: %d  Instr: %d", t.emulator.GetFrameCount(), t.emulator.GetInstructionCount()),
	}

	for i, reg := range registers {
		if startY+i >= registerHeight+1 || startY+i >= termHeight {
			break
		}
		style := regStyle
		if i == 0 {
			style = debugStyle
		}
		t.drawTextClamped(startX, startY+i, reg, style, termWidth-startX)
	}
}

func debuggerStatus(state jeebie.DebuggerState) (string, tcell.Style) {
	switch state {
	case jeebie.DebuggerPaused:
		return "PAUSED", tcell.StyleDefault.Foreground(tcell.ColorYellow)
	case jeebie.DebuggerStep:
		return "STEP", tcell.StyleDefault.Foreground(tcell.ColorBlue)
	case jeebie.DebuggerStepFrame:
		return "FRAME", tcell.StyleDefault.Foreground(tcell.ColorRed)
	default:
		return "RUNNING", tcell.StyleDefault.Foreground(tcell.ColorGreen)
	}
}

func (t *TerminalRenderer) drawDisassembly(termWidth, termHeight int) {
	startX := gameAreaWidth + 3
	startY := registerHeight + 3

	cpu := t.emulator.GetCPU()
	mmu := t.emulator.GetMMU()
	currentPC := cpu.GetPC()

	lines := disasm.DisassembleAround(currentPC, 4, 4, mmu)

	disasmStyle := tcell.StyleDefault.Foreground(tcell.ColorGreen)
	currentPCStyle := tcell.StyleDefault.Foreground(tcell.ColorWhite).Background(tcell.ColorBlue)

	maxLines := min(len(lines), disasmHeight)
	for i := 0; i < maxLines; i++ {
		if startY+i >= termHeight {
			break
		}

		line := lines[i]
		isCurrentPC := line.Address == currentPC
		text := disasm.FormatDisassemblyLine(line, isCurrentPC)

		style := disasmStyle
		if isCurrentPC {
			style = currentPCStyle
		}
		t.drawTextClamped(startX, startY+i, text, style, termWidth-startX-1)
	}
}

func (t *TerminalRenderer) drawLogs(termWidth, termHeight int) {
	startX := gameAreaWidth + 3
	startY := registerHeight + 3 + disasmHeight + 1
	availableHeight := termHeight - startY
	if availableHeight <= 0 {
		return
	}

	logs := t.logBuffer.GetRecent(availableHeight)

	for i, entry := range logs {
		style := tcell.StyleDefault.Foreground(tcell.ColorBlue)
		switch entry.Level {
		case slog.LevelWarn:
			style = tcell.StyleDefault.Foreground(tcell.ColorYellow)
		case slog.LevelError:
			style = tcell.StyleDefault.Foreground(tcell.ColorRed)
		}

		t.drawTextClamped(startX, startY+i, FormatLogEntry(entry), style, termWidth-startX-1)
	}
}
