package h264

import (
	"encoding/binary"
	"fmt"
)

// Reframer converts Annex-B access units into length-prefixed AVCC buffers.
// The output buffer is reused between calls, so the result is only valid
// until the next Convert.
type Reframer struct {
	buffer []byte
}

// NewReframer creates a Reframer with a preallocated output buffer.
func NewReframer() *Reframer {
	return &Reframer{
		buffer: make([]byte, 0, 512*1024),
	}
}

// Convert rewrites an Annex-B access unit as 4-byte length-prefixed NAL
// records. Only slice and SEI units (types 1 through 6) are kept; parameter
// sets and other units travel out of band in the decoder configuration.
func (r *Reframer) Convert(annexB []byte) []byte {
	r.buffer = r.buffer[:0]

	for _, nal := range SplitNALUnits(annexB) {
		t := NALType(nal)
		if t < NALUnitTypeNonIDR || t > NALUnitTypeSEI {
			continue
		}
		var prefix [4]byte
		binary.BigEndian.PutUint32(prefix[:], uint32(len(nal)))
		r.buffer = append(r.buffer, prefix[:]...)
		r.buffer = append(r.buffer, nal...)
	}

	return r.buffer
}

// AnnexBToAVCC is a one-shot Convert that returns an independent buffer.
func AnnexBToAVCC(annexB []byte) []byte {
	out := NewReframer().Convert(annexB)
	dup := make([]byte, len(out))
	copy(dup, out)
	return dup
}

// ParseAVCC splits a length-prefixed buffer back into NAL unit payloads.
func ParseAVCC(avcc []byte) ([][]byte, error) {
	var nals [][]byte
	offset := 0

	for offset < len(avcc) {
		if offset+4 > len(avcc) {
			return nil, fmt.Errorf("truncated length prefix at offset %d", offset)
		}
		n := int(binary.BigEndian.Uint32(avcc[offset:]))
		offset += 4
		if n <= 0 || offset+n > len(avcc) {
			return nil, fmt.Errorf("invalid NAL length %d at offset %d", n, offset-4)
		}
		nals = append(nals, avcc[offset:offset+n])
		offset += n
	}

	return nals, nil
}

// BuildDecoderConfig assembles an AVC decoder configuration record from raw
// SPS and PPS payloads: an 11-byte header carrying the profile, profile
// compatibility and level copied from the SPS, followed by the
// length-prefixed parameter sets.
func BuildDecoderConfig(sps, pps []byte) ([]byte, error) {
	if len(sps) < 4 {
		return nil, fmt.Errorf("SPS too short: %d bytes", len(sps))
	}
	if len(pps) == 0 {
		return nil, fmt.Errorf("missing PPS")
	}

	cfg := make([]byte, 0, 11+len(sps)+len(pps))
	cfg = append(cfg,
		0x01,   // configurationVersion
		sps[1], // AVCProfileIndication
		sps[2], // profile_compatibility
		sps[3], // AVCLevelIndication
		0xFF,   // 4-byte NAL length fields
		0xE1,   // one SPS
	)
	cfg = append(cfg, byte(len(sps)>>8), byte(len(sps)))
	cfg = append(cfg, sps...)
	cfg = append(cfg, 0x01) // one PPS
	cfg = append(cfg, byte(len(pps)>>8), byte(len(pps)))
	cfg = append(cfg, pps...)

	return cfg, nil
}

// ParseDecoderConfig extracts the first SPS and PPS from a decoder
// configuration record built by BuildDecoderConfig.
func ParseDecoderConfig(cfg []byte) (sps, pps []byte, err error) {
	if len(cfg) < 7 {
		return nil, nil, fmt.Errorf("decoder config too short: %d bytes", len(cfg))
	}
	if cfg[0] != 0x01 {
		return nil, nil, fmt.Errorf("unsupported configuration version %d", cfg[0])
	}

	offset := 5
	numSPS := int(cfg[offset] & 0x1F)
	offset++
	for i := 0; i < numSPS; i++ {
		if offset+2 > len(cfg) {
			return nil, nil, fmt.Errorf("truncated SPS length")
		}
		n := int(binary.BigEndian.Uint16(cfg[offset:]))
		offset += 2
		if offset+n > len(cfg) {
			return nil, nil, fmt.Errorf("truncated SPS payload")
		}
		if sps == nil {
			sps = cfg[offset : offset+n]
		}
		offset += n
	}

	if offset >= len(cfg) {
		return nil, nil, fmt.Errorf("missing PPS count")
	}
	numPPS := int(cfg[offset])
	offset++
	for i := 0; i < numPPS; i++ {
		if offset+2 > len(cfg) {
			return nil, nil, fmt.Errorf("truncated PPS length")
		}
		n := int(binary.BigEndian.Uint16(cfg[offset:]))
		offset += 2
		if offset+n > len(cfg) {
			return nil, nil, fmt.Errorf("truncated PPS payload")
		}
		if pps == nil {
			pps = cfg[offset : offset+n]
		}
		offset += n
	}

	if sps == nil || pps == nil {
		return nil, nil, fmt.Errorf("decoder config has no parameter sets")
	}
	return sps, pps, nil
}

// CodecString derives the RFC 6381 codec identifier from an SPS payload,
// e.g. "avc1.64001f".
func CodecString(sps []byte) (string, error) {
	if len(sps) < 4 {
		return "", fmt.Errorf("SPS too short: %d bytes", len(sps))
	}
	return fmt.Sprintf("avc1.%02x%02x%02x", sps[1], sps[2], sps[3]), nil
}
