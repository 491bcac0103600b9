package video

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valerio/go-jeebie/jeebie/addr"
	"github.com/valerio/go-jeebie/jeebie/memory"
)

// runScanline ticks the GPU until LY advances past the given line,
// assuming the GPU is already positioned at the start of that line.
func runScanline(gpu *GPU) {
	startLine := gpu.line
	for gpu.line == startLine {
		gpu.Tick(1)
	}
}

func newTestGpu() (*GPU, *memory.MMU) {
	mmu := memory.New()
	mmu.Write(addr.LCDC, 0x91) // LCD on, BG on, tileset 1, tilemap 0
	mmu.Write(addr.BGP, 0xE4)  // identity palette: 3,2,1,0
	gpu := NewGpu(mmu)
	gpu.setMode(oamReadMode)
	gpu.setLY(0)
	return gpu, mmu
}

func TestGPU_modeSequenceWithinScanline(t *testing.T) {
	gpu, _ := newTestGpu()

	assert.Equal(t, oamReadMode, gpu.mode)
	gpu.Tick(oamScanDots)
	assert.Equal(t, vramReadMode, gpu.mode)

	for gpu.mode == vramReadMode {
		gpu.Tick(1)
	}
	assert.Equal(t, hblankMode, gpu.mode)
}

func TestGPU_frameTimingReachesVBlank(t *testing.T) {
	gpu, _ := newTestGpu()

	for gpu.line < 144 {
		runScanline(gpu)
	}

	assert.Equal(t, vblankMode, gpu.mode)
	assert.Equal(t, 144, gpu.line)
}

func TestGPU_vblankWrapsLYToZero(t *testing.T) {
	gpu, _ := newTestGpu()

	for gpu.line != 153 {
		runScanline(gpu)
	}
	runScanline(gpu)

	assert.Equal(t, 0, gpu.line)
	assert.Equal(t, oamReadMode, gpu.mode)
}

func TestGPU_backgroundTileRendersSolidColor(t *testing.T) {
	gpu, mmu := newTestGpu()

	// tile 0: every pixel is color 3 (all bits set in both planes)
	for i := uint16(0); i < 16; i += 2 {
		mmu.Write(addr.TileData0+i, 0xFF)
		mmu.Write(addr.TileData0+i+1, 0xFF)
	}
	mmu.Write(addr.TileMap0, 0x00)

	runScanline(gpu)

	fb := gpu.GetFrameBuffer()
	for x := 0; x < FramebufferWidth; x++ {
		assert.Equal(t, uint32(WhiteColor), fb.GetPixel(uint(x), 0), "pixel %d", x)
	}
}

func TestGPU_scxDiscardsLeadingFinePixels(t *testing.T) {
	gpu, mmu := newTestGpu()
	mmu.Write(addr.SCX, 3)

	// checkerboard tile so the SCX shift is visible in the output
	mmu.Write(addr.TileData0+0, 0xAA)
	mmu.Write(addr.TileData0+1, 0x00)
	mmu.Write(addr.TileMap0, 0x00)
	mmu.Write(addr.TileMap0+1, 0x00)

	runScanline(gpu)

	// with SCX=3 the first visible pixel is the 4th pixel of tile 0's
	// checkerboard row (0xAA => 1,0,1,0,1,0,1,0 as color indices)
	fb := gpu.GetFrameBuffer()
	assert.Equal(t, uint32(BlackColor), fb.GetPixel(0, 0))
}

func TestGPU_statLycInterruptFiresOnMatch(t *testing.T) {
	gpu, mmu := newTestGpu()
	mmu.Write(addr.LYC, 1)
	mmu.Write(addr.STAT, 0x40) // enable LYC=LY interrupt source

	for gpu.line != 1 {
		runScanline(gpu)
	}

	flags := mmu.Read(addr.IF)
	assert.True(t, flags&byte(addr.LCDSTATInterrupt) != 0)
}

func TestGPU_spriteOwnsPixelOverBackground(t *testing.T) {
	gpu, mmu := newTestGpu()
	mmu.Write(addr.LCDC, 0x93) // LCD+BG+sprites on

	// background tile 0 stays solid color 0 (transparent for sprite test)
	mmu.Write(addr.TileMap0, 0x00)

	// sprite tile 1: solid color 3
	for i := uint16(0); i < 16; i += 2 {
		mmu.Write(addr.TileData0+16+i, 0xFF)
		mmu.Write(addr.TileData0+16+i+1, 0xFF)
	}

	mmu.Write(addr.OAMStart, 16)   // Y=0 on screen
	mmu.Write(addr.OAMStart+1, 8)  // X=0 on screen
	mmu.Write(addr.OAMStart+2, 1)  // tile 1
	mmu.Write(addr.OAMStart+3, 0)  // OBP0, no flip, above BG

	runScanline(gpu)

	fb := gpu.GetFrameBuffer()
	assert.Equal(t, uint32(WhiteColor), fb.GetPixel(0, 0))
}
