package video

import (
	"fmt"
	"log/slog"

	"github.com/valerio/go-jeebie/jeebie/addr"
	"github.com/valerio/go-jeebie/jeebie/bit"
	"github.com/valerio/go-jeebie/jeebie/memory"
)

// GpuMode represents the PPU's current rendering stage.
// These values match the STAT register bits 1-0.
type GpuMode int

const (
	// hblankMode (Mode 0): Horizontal blank period, CPU can access VRAM/OAM
	hblankMode GpuMode = 0
	// vblankMode (Mode 1): Vertical blank period, CPU can access VRAM/OAM
	vblankMode GpuMode = 1
	// oamReadMode (Mode 2): PPU is reading OAM, CPU cannot access OAM
	oamReadMode GpuMode = 2
	// vramReadMode (Mode 3): PPU is reading VRAM, CPU cannot access VRAM/OAM
	vramReadMode GpuMode = 3
)

const (
	oamScanDots    = 80
	scanlineDots   = 456
	vblankLines    = 10
	totalLines     = 144 + vblankLines
	minTransferDots = 172
)

// fetcherStage is one step of the background/window tile fetcher.
// Real hardware advances one stage every 2 dots; PUSH retries every
// dot until the FIFO has room.
type fetcherStage int

const (
	fetchTile fetcherStage = iota
	fetchDataLow
	fetchDataHigh
	fetchPush
)

// fifoPixel is one queued background/window pixel awaiting output.
type fifoPixel struct {
	color uint8 // 0-3, palette index before BGP/OBP translation
}

// GPU implements the DMG picture processing unit: a four-mode state
// machine driving a pixel FIFO fed by a background/window fetcher,
// with sprites mixed in as they are fetched from OAM.
type GPU struct {
	memory      *memory.MMU
	oam         *OAM
	framebuffer *FrameBuffer

	mode GpuMode
	line int // LY, 0-153
	dot  int // position within the current 456-dot scanline

	// mode 3 pixel-transfer state
	lx             int // next output pixel column, 0-159
	scxDiscard     int // pending SCX%8 pixels to drop at line start
	transferDots   int // dots consumed so far this mode-3 pass
	stage          fetcherStage
	stageDots      int // dots spent in the current fetcher stage
	fetchTileX     int // tile column being fetched (in tile units)
	tileLow        byte
	tileHigh       byte
	bgFIFO         []fifoPixel
	windowActive   bool // window fetch engaged for the rest of this line
	windowLine     int  // internal window line counter, increments only on lines window was drawn
	windowWasDrawn bool // whether window contributed to the line just finished

	scanlineSprites []Sprite
	spriteDrawn     [FramebufferWidth]bool // sprite pixel already resolved for this line

	statLine bool // previous level of the STAT IRQ line, for edge detection

	frameReady bool // set on entry to VBlank, cleared by ConsumeFrame
}

func NewGpu(mmu *memory.MMU) *GPU {
	fb := NewFrameBuffer()
	gpu := &GPU{
		framebuffer: fb,
		memory:      mmu,
		oam:         NewOAM(mmu),
		mode:        vblankMode,
		line:        144,
		bgFIFO:      make([]fifoPixel, 0, 16),
	}

	lcdc := mmu.Read(addr.LCDC)
	bgp := mmu.Read(addr.BGP)
	slog.Debug("GPU initialized", "LCDC", fmt.Sprintf("0x%02X", lcdc), "LCD_enabled", (lcdc&0x80) != 0, "BGP", fmt.Sprintf("0x%02X", bgp))

	return gpu
}

func (g *GPU) GetFrameBuffer() *FrameBuffer {
	return g.framebuffer
}

// ConsumeFrame reports whether a full frame has completed (LY just
// wrapped into VBlank) since the last call, clearing the flag either way.
func (g *GPU) ConsumeFrame() bool {
	ready := g.frameReady
	g.frameReady = false
	return ready
}

// VRAMAccessible reports whether the CPU may read/write VRAM this dot.
// The PPU holds VRAM exclusively during mode 3; with the LCD off it is
// always free.
func (g *GPU) VRAMAccessible() bool {
	if g.readLCDCVariable(lcdDisplayEnable) != 1 {
		return true
	}
	return g.mode != vramReadMode
}

// OAMAccessible reports whether the CPU may read/write OAM this dot.
// The PPU holds OAM during both mode 2 and mode 3; with the LCD off it
// is always free.
func (g *GPU) OAMAccessible() bool {
	if g.readLCDCVariable(lcdDisplayEnable) != 1 {
		return true
	}
	return g.mode != oamReadMode && g.mode != vramReadMode
}

// Tick advances the PPU by the given number of T-states, one at a time,
// so that the fetcher/FIFO pipeline and mode transitions land on the
// exact dot real hardware would.
func (g *GPU) Tick(cycles int) {
	for i := 0; i < cycles; i++ {
		g.tickOneDot()
	}
}

func (g *GPU) tickOneDot() {
	if g.readLCDCVariable(lcdDisplayEnable) != 1 {
		return
	}

	g.dot++

	switch g.mode {
	case oamReadMode:
		if g.dot == 1 {
			g.scanlineSprites = g.oam.GetSpritesForScanline(g.line)
			for i := range g.spriteDrawn {
				g.spriteDrawn[i] = false
			}
		}
		if g.dot >= oamScanDots {
			g.enterTransferMode()
		}
	case vramReadMode:
		g.tickTransfer()
	case hblankMode:
		if g.dot >= scanlineDots {
			g.advanceLine()
		}
	case vblankMode:
		if g.dot >= scanlineDots {
			g.advanceLine()
		}
	}

	g.updateStatLine()
}

func (g *GPU) enterTransferMode() {
	g.setMode(vramReadMode)
	g.lx = 0
	g.transferDots = g.dot - oamScanDots
	g.stage = fetchTile
	g.stageDots = 0
	g.fetchTileX = 0
	g.bgFIFO = g.bgFIFO[:0]
	g.windowActive = false
	g.windowWasDrawn = false
	g.scxDiscard = int(g.memory.Read(addr.SCX)) % 8
}

// tickTransfer runs one dot of the fetcher/FIFO pipeline and, if the
// FIFO has a pixel ready, pops and emits exactly one screen pixel.
func (g *GPU) tickTransfer() {
	g.transferDots++

	g.maybeActivateWindow()
	g.stepFetcher()
	g.tryEmitPixel()

	if g.lx >= FramebufferWidth {
		g.transferDots = max(g.transferDots, minTransferDots)
		g.dot = oamScanDots + g.transferDots
		g.setMode(hblankMode)
	}
}

// maybeActivateWindow checks whether the window should start supplying
// pixels at the current output column, per WX/WY and LCDC bit 5.
func (g *GPU) maybeActivateWindow() {
	if g.windowActive || g.readLCDCVariable(windowDisplayEnable) != 1 {
		return
	}

	wy := g.memory.Read(addr.WY)
	if int(wy) > g.line {
		return
	}

	wx := int(g.memory.Read(addr.WX)) - 7
	if g.lx < wx {
		return
	}

	g.windowActive = true
	g.windowWasDrawn = true
	g.bgFIFO = g.bgFIFO[:0]
	g.stage = fetchTile
	g.stageDots = 0
	g.fetchTileX = 0
}

// stepFetcher advances the tile fetcher one dot. Each of the three
// data stages takes two dots; PUSH happens instantly once a tile row
// is ready and the FIFO has room (<=8 entries).
func (g *GPU) stepFetcher() {
	if len(g.bgFIFO) > 8 {
		return
	}

	switch g.stage {
	case fetchTile:
		g.stageDots++
		if g.stageDots >= 2 {
			g.stageDots = 0
			g.stage = fetchDataLow
		}
	case fetchDataLow:
		g.stageDots++
		if g.stageDots >= 2 {
			g.stageDots = 0
			g.tileLow, g.tileHigh = g.fetchTileRow()
			g.stage = fetchDataHigh
		}
	case fetchDataHigh:
		g.stageDots++
		if g.stageDots >= 2 {
			g.stageDots = 0
			g.stage = fetchPush
		}
	case fetchPush:
		g.pushRow()
		g.fetchTileX++
		g.stage = fetchTile
	}
}

// fetchTileRow reads the two bit-plane bytes for the tile row currently
// being fetched, from either the background or window tile map.
func (g *GPU) fetchTileRow() (low, high byte) {
	useSignedTileSet := g.readLCDCVariable(bgWindowTileDataSelect) == 0
	tilesAddr := addr.TileData0
	if useSignedTileSet {
		tilesAddr = addr.TileData2
	}

	var tileMapAddr uint16
	var mapRow, pixelY, mapCol int
	if g.windowActive {
		if g.readLCDCVariable(windowTileMapSelect) == 0 {
			tileMapAddr = addr.TileMap0
		} else {
			tileMapAddr = addr.TileMap1
		}
		mapRow = (g.windowLine / 8) * 32
		pixelY = g.windowLine % 8
		mapCol = g.fetchTileX % 32
	} else {
		scx := g.memory.Read(addr.SCX)
		scy := g.memory.Read(addr.SCY)
		if g.readLCDCVariable(bgTileMapDisplaySelect) == 0 {
			tileMapAddr = addr.TileMap0
		} else {
			tileMapAddr = addr.TileMap1
		}
		lineScrolled := (g.line + int(scy)) & 0xFF
		mapRow = (lineScrolled / 8) * 32
		pixelY = lineScrolled % 8
		mapCol = (int(scx)/8 + g.fetchTileX) % 32
	}

	tileIndex := g.memory.Read(tileMapAddr + uint16(mapRow+mapCol))

	var tileAddr uint16
	if useSignedTileSet {
		tileAddr = uint16(int(tilesAddr) + int(int8(tileIndex))*16 + pixelY*2)
	} else {
		tileAddr = tilesAddr + uint16(int(tileIndex)*16+pixelY*2)
	}

	return g.memory.Read(tileAddr), g.memory.Read(tileAddr + 1)
}

// pushRow decodes the fetched row into 8 palette-index pixels and
// appends them to the background FIFO.
func (g *GPU) pushRow() {
	if len(g.bgFIFO) > 8 {
		return
	}

	for x := 0; x < 8; x++ {
		bitIdx := uint8(7 - x)
		color := uint8(0)
		if bit.IsSet(bitIdx, g.tileLow) {
			color |= 1
		}
		if bit.IsSet(bitIdx, g.tileHigh) {
			color |= 2
		}
		g.bgFIFO = append(g.bgFIFO, fifoPixel{color: color})
	}
}

// tryEmitPixel pops one background pixel (discarding SCX%8 fine-scroll
// pixels at the start of the line) and mixes in any sprite owning this
// column before writing it to the framebuffer.
func (g *GPU) tryEmitPixel() {
	if len(g.bgFIFO) == 0 {
		return
	}

	if g.scxDiscard > 0 {
		g.bgFIFO = g.bgFIFO[1:]
		g.scxDiscard--
		return
	}

	if g.lx >= FramebufferWidth {
		return
	}

	bgColor := uint8(0)
	if g.readLCDCVariable(bgDisplay) == 1 {
		bgColor = g.bgFIFO[0].color
	}
	g.bgFIFO = g.bgFIFO[1:]

	finalColor := g.applyPalette(addr.BGP, bgColor)
	bgOpaque := bgColor != 0

	if sprite, pixel, ok := g.resolveSpritePixel(g.lx, bgOpaque); ok {
		paletteAddr := addr.OBP0
		if sprite.PaletteOBP1 {
			paletteAddr = addr.OBP1
		}
		finalColor = g.applyPalette(paletteAddr, pixel)
	}

	pos := g.line*FramebufferWidth + g.lx
	g.framebuffer.buffer[pos] = uint32(finalColor)
	g.lx++
}

// resolveSpritePixel returns the color index a sprite contributes at
// the given column, honoring OAM priority and the OBJ-to-BG priority
// flag (sprite hidden behind a non-zero, opaque background pixel).
func (g *GPU) resolveSpritePixel(x int, bgOpaque bool) (Sprite, uint8, bool) {
	if g.readLCDCVariable(spriteDisplayEnable) != 1 {
		return Sprite{}, 0, false
	}

	for i := range g.scanlineSprites {
		sprite := &g.scanlineSprites[i]
		offset := x - int(sprite.X)
		if offset < 0 || offset >= 8 {
			continue
		}
		if !sprite.HasPriorityForPixel(offset) {
			continue
		}

		pixelIdx := offset
		if !sprite.FlipX {
			pixelIdx = 7 - offset
		}

		row := g.spriteTileRow(sprite)
		color := uint8(0)
		if bit.IsSet(uint8(pixelIdx), row.Low) {
			color |= 1
		}
		if bit.IsSet(uint8(pixelIdx), row.High) {
			color |= 2
		}

		if color == 0 {
			continue // transparent, background shows through
		}
		if sprite.BehindBG && bgOpaque {
			continue
		}

		return *sprite, color, true
	}

	return Sprite{}, 0, false
}

func (g *GPU) spriteTileRow(sprite *Sprite) TileRow {
	pixelY := g.line - int(sprite.Y)
	if sprite.FlipY {
		pixelY = sprite.Height - 1 - pixelY
	}

	tileIndex := int(sprite.TileIndex)
	if sprite.Height == 16 {
		tileIndex &= 0xFE
	}

	tileAddr := addr.TileData0 + uint16(tileIndex*16+pixelY*2)
	return TileRow{
		Low:  g.memory.Read(tileAddr),
		High: g.memory.Read(tileAddr + 1),
	}
}

func (g *GPU) applyPalette(paletteAddr uint16, colorIndex uint8) GBColor {
	palette := g.memory.Read(paletteAddr)
	shade := (palette >> (colorIndex * 2)) & 0x03
	return ByteToColor(shade)
}

// advanceLine moves to the next scanline, handling the OAM-scan /
// VBlank transition and the LY=153-to-0 wraparound.
func (g *GPU) advanceLine() {
	g.dot -= scanlineDots

	if g.windowWasDrawn {
		g.windowLine++
	}

	g.setLY(g.line + 1)

	if g.line == 144 {
		g.setMode(vblankMode)
		g.windowLine = 0
		g.frameReady = true
		g.memory.RequestInterrupt(addr.VBlankInterrupt)
		return
	}

	if g.line > 153 {
		g.setLY(0)
	}

	if g.mode == vblankMode && g.line == 0 {
		g.setMode(oamReadMode)
		return
	}

	if g.mode != vblankMode {
		g.setMode(oamReadMode)
	}
}

// updateStatLine recomputes the STAT interrupt line and requests an
// LCDSTAT interrupt on its rising edge, matching the real hardware's
// OR-of-enabled-sources behavior (including the "STAT IRQ blocking"
// quirk where the line only pulses on 0->1 transitions).
func (g *GPU) updateStatLine() {
	stat := g.memory.Read(addr.STAT)

	line := false
	switch g.mode {
	case hblankMode:
		line = bit.IsSet(uint8(statHblankIrq), stat)
	case vblankMode:
		line = bit.IsSet(uint8(statVblankIrq), stat)
	case oamReadMode:
		line = bit.IsSet(uint8(statOamIrq), stat)
	}
	if bit.IsSet(statLycCondition, stat) && bit.IsSet(uint8(statLycIrq), stat) {
		line = true
	}

	if line && !g.statLine {
		g.memory.RequestInterrupt(addr.LCDSTATInterrupt)
	}
	g.statLine = line
}

// LCD Stat (Status) Register bit values
// Bit 7 - unused
// Bit 6 - Interrupt based on LYC to LY comparison (based on bit 2)
// Bit 5 - Interrupt when Mode 10 (oamReadMode)
// Bit 4 - Interrupt when Mode 01 (vblankMode)
// Bit 3 - Interrupt when Mode 00 (hblankMode)
// Bit 2 - condition for triggering LYC/LY (0=LYC != LY, 1=LYC == LY)
// Bit 1,0 - represents the current GPU mode
//   - 00 -> hblankMode
//   - 01 -> vblankMode
//   - 10 -> oamReadMode
//   - 11 -> vramReadMode
type statFlag uint8

const (
	statLycIrq       statFlag = 6
	statOamIrq                = 5
	statVblankIrq             = 4
	statHblankIrq             = 3
	statLycCondition          = 2
	statModeHigh              = 1
	statModeLow               = 0
)

// LCDC (LCD Control) Register bit values
// Bit 7 - LCD Display Enable (0=Off, 1=On)
// Bit 6 - Window Tile Map Display Select (0=9800-9BFF, 1=9C00-9FFF)
// Bit 5 - Window Display Enable (0=Off, 1=On)
// Bit 4 - BG & Window Tile Data Select (0=8800-97FF, 1=8000-8FFF)
// Bit 3 - BG Tile Map Display Select (0=9800-9BFF, 1=9C00-9FFF)
// Bit 2 - OBJ (Sprite) Size (0=8x8, 1=8x16)
// Bit 1 - OBJ (Sprite) Display Enable (0=Off, 1=On)
// Bit 0 - BG Display (0=Off, 1=On)
type lcdcFlag uint8

const (
	lcdDisplayEnable       lcdcFlag = 7
	windowTileMapSelect             = 6
	windowDisplayEnable             = 5
	bgWindowTileDataSelect          = 4
	bgTileMapDisplaySelect          = 3
	spriteSize                      = 2
	spriteDisplayEnable             = 1
	bgDisplay                       = 0
)

func (g *GPU) readLCDCVariable(flag lcdcFlag) byte {
	if bit.IsSet(uint8(flag), g.memory.Read(addr.LCDC)) {
		return 1
	}

	return 0
}

// setMode sets the two bits (1,0) in the STAT register according to
// the selected GPU mode.
func (g *GPU) setMode(mode GpuMode) {
	g.mode = mode
	stat := g.memory.Read(addr.STAT)
	stat = stat&0xFC | byte(g.mode)
	g.memory.WriteRaw(addr.STAT, stat)
}

// setLY updates the current scanline (LY register) and refreshes the
// LYC coincidence flag.
func (g *GPU) setLY(line int) {
	g.line = line
	g.memory.WriteRaw(addr.LY, byte(g.line))

	ly := byte(g.line)
	lyc := g.memory.Read(addr.LYC)
	stat := g.memory.Read(addr.STAT)
	if ly == lyc {
		stat = bit.Set(statLycCondition, stat)
	} else {
		stat = bit.Reset(statLycCondition, stat)
	}
	g.memory.WriteRaw(addr.STAT, stat)
}
