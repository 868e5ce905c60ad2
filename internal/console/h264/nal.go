// Package h264 reframes H.264 elementary streams between the Annex-B
// representation used on the wire and the length-prefixed representation
// consumed by decoders and the MP4 muxer.
package h264

// NALUnitType is the low five bits of a NAL unit header byte.
type NALUnitType byte

const (
	NALUnitTypeNonIDR NALUnitType = 1
	NALUnitTypeSliceA NALUnitType = 2
	NALUnitTypeSliceB NALUnitType = 3
	NALUnitTypeSliceC NALUnitType = 4
	NALUnitTypeIDR    NALUnitType = 5
	NALUnitTypeSEI    NALUnitType = 6
	NALUnitTypeSPS    NALUnitType = 7
	NALUnitTypePPS    NALUnitType = 8
	NALUnitTypeAUD    NALUnitType = 9
)

// NALType returns the type of a NAL unit payload, or 0 for empty input.
func NALType(nal []byte) NALUnitType {
	if len(nal) == 0 {
		return 0
	}
	return NALUnitType(nal[0] & 0x1F)
}

// findStartCode returns the index and length of the next Annex-B start code
// in data, or (-1, 0) when none remains. Both 3-byte and 4-byte start codes
// are recognized; a 3-byte match preceded by 0x00 is reported as the
// enclosing 4-byte code.
func findStartCode(data []byte) (pos, length int) {
	for i := 0; i+3 <= len(data); i++ {
		if data[i] != 0x00 || data[i+1] != 0x00 {
			continue
		}
		if i+4 <= len(data) && data[i+2] == 0x00 && data[i+3] == 0x01 {
			return i, 4
		}
		if data[i+2] == 0x01 {
			return i, 3
		}
	}
	return -1, 0
}

// SplitNALUnits splits an Annex-B buffer into raw NAL unit payloads with
// start codes removed. Bytes before the first start code are discarded.
// Empty units produced by adjacent start codes are skipped.
func SplitNALUnits(annexB []byte) [][]byte {
	var nals [][]byte

	pos, scLen := findStartCode(annexB)
	if pos == -1 {
		return nil
	}
	offset := pos + scLen

	for offset < len(annexB) {
		next, nextLen := findStartCode(annexB[offset:])
		var end int
		if next == -1 {
			end = len(annexB)
		} else {
			end = offset + next
		}
		if end > offset {
			nals = append(nals, annexB[offset:end])
		}
		if next == -1 {
			break
		}
		offset = end + nextLen
	}

	return nals
}

// ExtractParameterSets returns the first SPS and PPS payloads found in an
// Annex-B buffer. Either result may be nil.
func ExtractParameterSets(annexB []byte) (sps, pps []byte) {
	for _, nal := range SplitNALUnits(annexB) {
		switch NALType(nal) {
		case NALUnitTypeSPS:
			if sps == nil {
				sps = nal
			}
		case NALUnitTypePPS:
			if pps == nil {
				pps = nal
			}
		}
		if sps != nil && pps != nil {
			break
		}
	}
	return sps, pps
}

// ContainsKeyframe reports whether the Annex-B buffer holds an IDR slice.
func ContainsKeyframe(annexB []byte) bool {
	for _, nal := range SplitNALUnits(annexB) {
		if NALType(nal) == NALUnitTypeIDR {
			return true
		}
	}
	return false
}
