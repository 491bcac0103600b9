package memory

import (
	"fmt"
	"log/slog"

	"github.com/valerio/go-jeebie/jeebie/bit"
)

const titleLength = 11

const (
	entryPointAddress       = 0x100
	logoAddress             = 0x104
	titleAddress            = 0x134
	manufacturerCodeAddress = 0x13F
	cgbFlagAddress          = 0x143
	newLicenseCodeAddress   = 0x144
	sgbFlagAddress          = 0x146
	cartridgeTypeAddress    = 0x147
	romSizeAddress          = 0x148
	ramSizeAddress          = 0x149
	destinationCodeAddress  = 0x14A
	oldLicenseCodeAddress   = 0x14B
	versionNumberAddress    = 0x14C
	headerChecksumAddress   = 0x14D
	globalChecksumAddress   = 0x14E
)

// MBCType identifies which memory bank controller a cartridge header requests.
type MBCType uint8

const (
	NoMBCType MBCType = iota
	MBC1Type
	MBC1MultiType
	MBC2Type
	MBC3Type
	MBC5Type
	MBCUnknownType
)

// ramBankCountFromHeader maps the 0x149 RAM-size header byte to a bank count (8KiB each).
func ramBankCountFromHeader(code uint8) uint8 {
	switch code {
	case 0x00:
		return 0
	case 0x02:
		return 1
	case 0x03:
		return 4
	case 0x04:
		return 16
	case 0x05:
		return 8
	default:
		return 0
	}
}

// mbcTypeFromHeader classifies the 0x147 cartridge-type byte into the
// coarse MBC family the bus needs to pick a controller; it discards the
// fine distinctions (±RAM, ±battery, ±RTC, ±rumble) the caller derives
// separately from the same byte.
func mbcTypeFromHeader(cartType uint8) MBCType {
	switch cartType {
	case 0x00:
		return NoMBCType
	case 0x01, 0x02, 0x03:
		return MBC1Type
	case 0x05, 0x06:
		return MBC2Type
	case 0x0F, 0x10, 0x11, 0x12, 0x13:
		return MBC3Type
	case 0x19, 0x1A, 0x1B, 0x1C, 0x1D, 0x1E:
		return MBC5Type
	default:
		return MBCUnknownType
	}
}

func hasBatteryFromHeader(cartType uint8) bool {
	switch cartType {
	case 0x03, 0x06, 0x09, 0x0D, 0x0F, 0x10, 0x13, 0x1B, 0x1E, 0x22, 0xFF:
		return true
	default:
		return false
	}
}

func hasRTCFromHeader(cartType uint8) bool {
	return cartType == 0x0F || cartType == 0x10
}

func hasRumbleFromHeader(cartType uint8) bool {
	switch cartType {
	case 0x1C, 0x1D, 0x1E:
		return true
	default:
		return false
	}
}

type Cartridge struct {
	data           []byte
	title          string
	headerChecksum uint16
	globalChecksum uint16
	version        uint8
	cartType       uint8
	romSize        uint8
	ramSize        uint8

	mbcType      MBCType
	hasBattery   bool
	hasRTC       bool
	hasRumble    bool
	ramBankCount uint8
}

// NewCartridge creates an empty cartridge, useful only for debugging purposes.
func NewCartridge() *Cartridge {
	return &Cartridge{
		data:    make([]byte, 0x10000),
		mbcType: NoMBCType,
	}
}

// NewCartridgeWithData initializes a new Cartridge from a slice of bytes,
// parsing the header at 0x100-0x14F and validating the header checksum.
// A checksum mismatch is logged but never aborts the load (InvalidHeader
// is informational only).
func NewCartridgeWithData(bytes []byte) *Cartridge {
	titleBytes := bytes[titleAddress : titleAddress+titleLength]
	cartType := bytes[cartridgeTypeAddress]

	cart := &Cartridge{
		data:           make([]byte, len(bytes)),
		title:          cleanGameboyTitle(titleBytes),
		headerChecksum: uint16(bytes[headerChecksumAddress]),
		globalChecksum: bit.Combine(bytes[globalChecksumAddress], bytes[globalChecksumAddress+1]),
		version:        bytes[versionNumberAddress],
		cartType:       cartType,
		romSize:        bytes[romSizeAddress],
		ramSize:        bytes[ramSizeAddress],
		mbcType:        mbcTypeFromHeader(cartType),
		hasBattery:     hasBatteryFromHeader(cartType),
		hasRTC:         hasRTCFromHeader(cartType),
		hasRumble:      hasRumbleFromHeader(cartType),
		ramBankCount:   ramBankCountFromHeader(bytes[ramSizeAddress]),
	}

	copy(cart.data, bytes)

	if !cart.validateHeaderChecksum() {
		slog.Warn("cartridge header checksum mismatch, continuing anyway",
			"title", cart.title, "cartType", fmt.Sprintf("0x%02X", cartType))
	}

	return cart
}

// validateHeaderChecksum replays the boot ROM's checksum loop over
// 0x134-0x14C and compares against the stored checksum byte at 0x14D.
func (c *Cartridge) validateHeaderChecksum() bool {
	var x uint8
	for i := 0x134; i <= 0x14C; i++ {
		x = x - c.data[i] - 1
	}
	return x == uint8(c.headerChecksum)
}

// ReadByte reads a byte at the specified address. Does not check bounds, so the caller must make sure the
// address is valid for the cartridge.
func (c Cartridge) ReadByte(addr uint16) uint8 {
	return c.data[addr]
}

// WriteByte attempts a write to the specified address. Writing to a cartridge has sense if the cartridge
// has extra RAM or for some special operations, like switching ROM banks.
func (c Cartridge) WriteByte(addr uint16, value uint8) uint8 {
	return c.data[addr]
}
