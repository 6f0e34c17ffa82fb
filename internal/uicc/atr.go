package uicc

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ATR (Answer To Reset) layout, ISO/IEC 7816-3:
//
//   TS   - initial character: 0x3B direct convention, 0x3F inverse.
//   T0   - format byte: high nibble Y1 announces TA1..TD1, low nibble K is
//          the number of historical bytes.
//   TAi/TBi/TCi/TDi - interface bytes, presence announced by the Y nibble of
//          the previous TD; the low nibble of each TD selects the protocol T
//          for the next group.
//   Historical bytes - K bytes; when the category indicator is 0x80 they
//          hold COMPACT-TLV objects, including the card capabilities object
//          (tag 0x7) whose third byte advertises extended APDU support.
//   TCK  - check byte, present iff any protocol other than T=0 was offered.
//
// eUICC detection follows SGP.22: the card is an eUICC iff the first TB
// following a TD that offers T=15 has b8 set.

// InterfaceByte is one decoded TA/TB/TC/TD position of an ATR.
type InterfaceByte struct {
	TA, TB, TC, TD *byte
}

// AnswerToReset holds the parsed capabilities of a card's ATR.
type AnswerToReset struct {
	raw              string
	directConvention bool
	interfaceBytes   []InterfaceByte
	historical       []byte
	checkByte        *byte

	euiccSupported        bool
	extendedApduSupported bool
}

// ParseATR parses a hex-encoded ATR string.
func ParseATR(atr string) (*AnswerToReset, error) {
	raw := strings.ToLower(strings.TrimSpace(atr))
	data, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("atr is not valid hex: %w", err)
	}
	if len(data) < 2 {
		return nil, fmt.Errorf("atr too short: %d bytes", len(data))
	}

	a := &AnswerToReset{raw: raw}

	switch data[0] {
	case 0x3b:
		a.directConvention = true
	case 0x3f:
		a.directConvention = false
	default:
		return nil, fmt.Errorf("invalid TS byte 0x%02x", data[0])
	}

	t0 := data[1]
	historicalCount := int(t0 & 0x0f)

	pos := 2
	y := t0 >> 4
	onlyT0 := true
	sawT15 := false
	for y != 0 {
		var ib InterfaceByte
		if y&0x01 != 0 {
			if pos >= len(data) {
				return nil, fmt.Errorf("atr truncated at TA, offset %d", pos)
			}
			b := data[pos]
			ib.TA = &b
			pos++
		}
		if y&0x02 != 0 {
			if pos >= len(data) {
				return nil, fmt.Errorf("atr truncated at TB, offset %d", pos)
			}
			b := data[pos]
			ib.TB = &b
			// First TB after a T=15 TD carries the eUICC flag in b8.
			if sawT15 {
				if b&0x80 != 0 {
					a.euiccSupported = true
				}
				sawT15 = false
			}
			pos++
		}
		if y&0x04 != 0 {
			if pos >= len(data) {
				return nil, fmt.Errorf("atr truncated at TC, offset %d", pos)
			}
			b := data[pos]
			ib.TC = &b
			pos++
		}
		var nextY byte
		if y&0x08 != 0 {
			if pos >= len(data) {
				return nil, fmt.Errorf("atr truncated at TD, offset %d", pos)
			}
			b := data[pos]
			ib.TD = &b
			pos++
			nextY = b >> 4
			if b&0x0f != 0 {
				onlyT0 = false
			}
			if b&0x0f == 0x0f {
				sawT15 = true
			}
		}
		a.interfaceBytes = append(a.interfaceBytes, ib)
		y = nextY
	}

	if pos+historicalCount > len(data) {
		return nil, fmt.Errorf("atr truncated in historical bytes: want %d at offset %d", historicalCount, pos)
	}
	a.historical = data[pos : pos+historicalCount]
	pos += historicalCount

	if !onlyT0 {
		if pos >= len(data) {
			return nil, fmt.Errorf("atr missing TCK byte")
		}
		tck := data[pos]
		a.checkByte = &tck
		pos++
	}
	if pos != len(data) {
		return nil, fmt.Errorf("atr has %d trailing bytes", len(data)-pos)
	}

	a.extendedApduSupported = parseExtendedApdu(a.historical)
	return a, nil
}

// IsEuiccSupported reports whether the ATR marks the card as an eUICC.
func (a *AnswerToReset) IsEuiccSupported() bool {
	return a.euiccSupported
}

// IsExtendedApduSupported reports whether the card capabilities advertise
// extended Lc/Le APDU support.
func (a *AnswerToReset) IsExtendedApduSupported() bool {
	return a.extendedApduSupported
}

// IsDirectConvention reports whether TS announced direct convention.
func (a *AnswerToReset) IsDirectConvention() bool {
	return a.directConvention
}

// HistoricalBytes returns the raw historical bytes.
func (a *AnswerToReset) HistoricalBytes() []byte {
	return a.historical
}

func (a *AnswerToReset) String() string {
	return a.raw
}

// parseExtendedApdu walks the COMPACT-TLV historical bytes looking for the
// card capabilities object (tag 0x7, length 3); bit 0x40 of its third byte
// is the extended Lc/Le indicator.
func parseExtendedApdu(historical []byte) bool {
	if len(historical) == 0 || historical[0] != 0x80 {
		return false
	}
	i := 1
	for i < len(historical) {
		tag := historical[i] >> 4
		length := int(historical[i] & 0x0f)
		i++
		if i+length > len(historical) {
			return false
		}
		if tag == 0x7 && length == 3 {
			return historical[i+2]&0x40 != 0
		}
		i += length
	}
	return false
}
