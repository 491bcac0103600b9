package render

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/valerio/go-jeebie/jeebie/video"
)

const (
	testPatternCount = 4
	targetFPS        = 60
	animationFrames  = 30

	checkerboardTileSize = 8
	stripeWidth          = 4
	diagonalTileSize     = 8

	displayOffsetX = 5
	displayOffsetY = 2
	verticalScale  = 2 // skip every other line to correct for terminal cell aspect ratio
)

var patternNames = [testPatternCount]string{"Checkerboard", "Gradient", "Stripes", "Diagonal"}

// RunTestPattern displays a synthetic framebuffer pattern through the
// same tcell rendering path the real renderer uses, to verify the
// pipeline without a ROM loaded.
func RunTestPattern() error {
	screen, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := screen.Init(); err != nil {
		return err
	}
	defer screen.Fini()

	screen.SetStyle(tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.ColorWhite))
	screen.Clear()
	slog.Info("starting test pattern display")

	fb := video.NewFrameBuffer()
	patternType := 0
	drawPattern(fb, patternType, 0)

	running := true
	go func() {
		for running {
			switch ev := screen.PollEvent().(type) {
			case *tcell.EventKey:
				switch ev.Key() {
				case tcell.KeyEscape, tcell.KeyCtrlC:
					running = false
					return
				case tcell.KeyRune:
					if ev.Rune() == ' ' {
						patternType = (patternType + 1) % testPatternCount
					}
				}
			case *tcell.EventResize:
				screen.Sync()
			}
		}
	}()

	ticker := time.NewTicker(time.Second / targetFPS)
	defer ticker.Stop()

	frameCount := 0
	for running {
		<-ticker.C
		frameCount++

		if frameCount%animationFrames == 0 {
			drawPattern(fb, patternType, frameCount/animationFrames)
		}

		drawTestFramebuffer(screen, fb)

		termWidth, termHeight := screen.Size()
		info := "Test Pattern Mode - Press SPACE to change pattern, ESC to exit"
		drawLine(screen, info, 0, termHeight-1, termWidth, tcell.ColorYellow)

		status := fmt.Sprintf("Pattern: %s | Frame: %d", patternNames[patternType], frameCount)
		drawLine(screen, status, 0, 0, termWidth, tcell.ColorGreen)

		screen.Show()
	}

	return nil
}

func drawLine(screen tcell.Screen, text string, x, y, termWidth int, color tcell.Color) {
	style := tcell.StyleDefault.Foreground(color)
	for i, ch := range text {
		if x+i >= termWidth {
			break
		}
		screen.SetContent(x+i, y, ch, nil, style)
	}
}

func drawTestFramebuffer(screen tcell.Screen, fb *video.FrameBuffer) {
	frame := fb.ToSlice()
	style := tcell.StyleDefault.Foreground(tcell.ColorWhite)

	for y := 0; y < video.FramebufferHeight; y += verticalScale {
		for x := 0; x < video.FramebufferWidth; x++ {
			shade := shadeIndexOf(frame[y*video.FramebufferWidth+x])
			screen.SetContent(x+displayOffsetX, y/verticalScale+displayOffsetY, shadeChars[shade], nil, style)
		}
	}
}

func shadeIndexOf(pixel uint32) int {
	switch video.GBColor(pixel) {
	case video.BlackColor:
		return 0
	case video.DarkGreyColor:
		return 1
	case video.LightGreyColor:
		return 2
	case video.WhiteColor:
		return 3
	default:
		return 0
	}
}

// drawPattern fills fb with one of the four test patterns, parameterized
// by frame so the stripe/diagonal patterns can be re-drawn with motion.
func drawPattern(fb *video.FrameBuffer, patternType, frame int) {
	for y := 0; y < video.FramebufferHeight; y++ {
		for x := 0; x < video.FramebufferWidth; x++ {
			var color video.GBColor
			switch patternType {
			case 0:
				if ((x/checkerboardTileSize)+(y/checkerboardTileSize))%2 == 0 {
					color = video.WhiteColor
				} else {
					color = video.BlackColor
				}
			case 1:
				gray := uint32(x * 255 / video.FramebufferWidth)
				color = video.GBColor((gray << 24) | (gray << 16) | (gray << 8) | 0xFF)
			case 2:
				if ((x+frame*2)/stripeWidth)%2 == 0 {
					color = video.WhiteColor
				} else {
					color = video.DarkGreyColor
				}
			case 3:
				if ((x+y+frame*4)/diagonalTileSize)%2 == 0 {
					color = video.LightGreyColor
				} else {
					color = video.DarkGreyColor
				}
			}
			fb.SetPixel(uint(x), uint(y), color)
		}
	}
}
