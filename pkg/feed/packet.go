package feed

import (
	"encoding/binary"
	"fmt"
)

// Mode classifies how much of a tick the wire payload carried.
type Mode string

const (
	ModeLTP   Mode = "ltp"   // price only
	ModeQuote Mode = "quote" // index summary (OHLC, no depth)
	ModeFull  Mode = "full"  // traded quantities, optionally depth and OI
)

// Known sub-packet sizes on the wire. Anything else is skipped so newer
// upstream payloads do not break older engines.
const (
	packetLTP       = 8
	packetIndex     = 28
	packetIndexFull = 32
	packetQuote     = 44
	packetFull      = 184

	depthLevels    = 5
	depthEntrySize = 12
)

// priceDivisor converts wire integers into currency values. The upstream
// sends all prices multiplied by 100.
const priceDivisor = 100.0

// DepthItem is one level of the order book.
type DepthItem struct {
	Quantity uint32  `json:"quantity"`
	Price    float64 `json:"price"`
	Orders   uint16  `json:"orders"`
}

// Depth carries five levels per side, best first.
type Depth struct {
	Buy  [depthLevels]DepthItem `json:"buy"`
	Sell [depthLevels]DepthItem `json:"sell"`
}

// Tick is a decoded point-in-time market observation for one instrument.
// Ticks are ephemeral: decoded, dispatched, and discarded.
type Tick struct {
	Mode            Mode    `json:"mode"`
	InstrumentToken uint32  `json:"instrument_token"`
	LastPrice       float64 `json:"last_price"`

	// quote and full
	Open      float64 `json:"open,omitempty"`
	High      float64 `json:"high,omitempty"`
	Low       float64 `json:"low,omitempty"`
	Close     float64 `json:"close,omitempty"`
	NetChange float64 `json:"net_change,omitempty"`

	// full (tradable instruments)
	LastQuantity      uint32  `json:"last_quantity,omitempty"`
	AveragePrice      float64 `json:"average_price,omitempty"`
	Volume            uint32  `json:"volume,omitempty"`
	TotalBuyQuantity  uint32  `json:"total_buy_quantity,omitempty"`
	TotalSellQuantity uint32  `json:"total_sell_quantity,omitempty"`

	// 184-byte variant only
	LastTradeTime uint32 `json:"last_trade_time,omitempty"`
	OI            uint32 `json:"oi,omitempty"`
	OIDayHigh     uint32 `json:"oi_day_high,omitempty"`
	OIDayLow      uint32 `json:"oi_day_low,omitempty"`
	Timestamp     uint32 `json:"timestamp,omitempty"`
	HasDepth      bool   `json:"-"`
	Depth         Depth  `json:"depth,omitempty"`
}

// DecodeError reports a malformed update frame. The connection manager
// logs it and drops the frame; it never tears down the connection.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "feed: decode: " + e.Reason
}

// ParseFrame splits one binary update frame into ticks.
//
// Frame layout: uint16 big-endian sub-packet count, then per sub-packet a
// uint16 big-endian length followed by that many payload bytes. Sub-packets
// with an unrecognized length decode to no tick.
func ParseFrame(buf []byte) ([]Tick, error) {
	if len(buf) < 2 {
		return nil, &DecodeError{Reason: fmt.Sprintf("frame too short (%d bytes)", len(buf))}
	}

	count := int(binary.BigEndian.Uint16(buf[0:2]))
	ticks := make([]Tick, 0, count)
	offset := 2

	for i := 0; i < count; i++ {
		if offset+2 > len(buf) {
			return nil, &DecodeError{Reason: fmt.Sprintf("truncated length header for packet %d/%d", i+1, count)}
		}
		size := int(binary.BigEndian.Uint16(buf[offset : offset+2]))
		offset += 2
		if offset+size > len(buf) {
			return nil, &DecodeError{Reason: fmt.Sprintf("truncated payload for packet %d/%d (want %d bytes, have %d)", i+1, count, size, len(buf)-offset)}
		}

		if tick, ok := parsePacket(buf[offset : offset+size]); ok {
			ticks = append(ticks, tick)
		}
		offset += size
	}

	return ticks, nil
}

// parsePacket decodes a single sub-packet. Unknown sizes return ok=false.
func parsePacket(p []byte) (Tick, bool) {
	switch len(p) {
	case packetLTP:
		return parseLTP(p), true
	case packetIndex, packetIndexFull:
		return parseIndex(p), true
	case packetQuote, packetFull:
		return parseQuote(p), true
	default:
		return Tick{}, false
	}
}

func parseLTP(p []byte) Tick {
	return Tick{
		Mode:            ModeLTP,
		InstrumentToken: binary.BigEndian.Uint32(p[0:4]),
		LastPrice:       wirePrice(p[4:8]),
	}
}

// parseIndex handles the 28- and 32-byte index packets: OHLC but no
// traded quantities or depth.
func parseIndex(p []byte) Tick {
	t := Tick{
		Mode:            ModeQuote,
		InstrumentToken: binary.BigEndian.Uint32(p[0:4]),
		LastPrice:       wirePrice(p[4:8]),
		High:            wirePrice(p[8:12]),
		Low:             wirePrice(p[12:16]),
		Open:            wirePrice(p[16:20]),
		Close:           wirePrice(p[20:24]),
		NetChange:       wirePrice(p[24:28]),
	}
	if len(p) == packetIndexFull {
		t.Timestamp = binary.BigEndian.Uint32(p[28:32])
	}
	return t
}

// parseQuote handles the 44-byte quote packet and the 184-byte full
// packet, which extends it with trade time, open interest and depth.
func parseQuote(p []byte) Tick {
	t := Tick{
		Mode:              ModeFull,
		InstrumentToken:   binary.BigEndian.Uint32(p[0:4]),
		LastPrice:         wirePrice(p[4:8]),
		LastQuantity:      binary.BigEndian.Uint32(p[8:12]),
		AveragePrice:      wirePrice(p[12:16]),
		Volume:            binary.BigEndian.Uint32(p[16:20]),
		TotalBuyQuantity:  binary.BigEndian.Uint32(p[20:24]),
		TotalSellQuantity: binary.BigEndian.Uint32(p[24:28]),
		Open:              wirePrice(p[28:32]),
		High:              wirePrice(p[32:36]),
		Low:               wirePrice(p[36:40]),
		Close:             wirePrice(p[40:44]),
	}
	if len(p) != packetFull {
		return t
	}

	t.LastTradeTime = binary.BigEndian.Uint32(p[44:48])
	t.OI = binary.BigEndian.Uint32(p[48:52])
	t.OIDayHigh = binary.BigEndian.Uint32(p[52:56])
	t.OIDayLow = binary.BigEndian.Uint32(p[56:60])
	t.Timestamp = binary.BigEndian.Uint32(p[60:64])
	t.HasDepth = true

	// 10 depth entries of 12 bytes each: 5 bid levels then 5 ask levels.
	for i := 0; i < depthLevels*2; i++ {
		e := p[64+i*depthEntrySize : 64+(i+1)*depthEntrySize]
		item := DepthItem{
			Quantity: binary.BigEndian.Uint32(e[0:4]),
			Price:    wirePrice(e[4:8]),
			Orders:   binary.BigEndian.Uint16(e[8:10]),
			// e[10:12] is padding
		}
		if i < depthLevels {
			t.Depth.Buy[i] = item
		} else {
			t.Depth.Sell[i-depthLevels] = item
		}
	}

	return t
}

func wirePrice(b []byte) float64 {
	return float64(int32(binary.BigEndian.Uint32(b))) / priceDivisor
}
