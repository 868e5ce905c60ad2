package h264

import (
	"bytes"
	"testing"
)

var (
	testSPS = []byte{0x67, 0x42, 0x00, 0x1e, 0x96, 0x54, 0x05, 0x01, 0xed, 0x80}
	testPPS = []byte{0x68, 0xce, 0x38, 0x80}
	testIDR = []byte{0x65, 0x88, 0x84, 0x00, 0x10}
)

func annexB(startCode []byte, nals ...[]byte) []byte {
	var out []byte
	for _, nal := range nals {
		out = append(out, startCode...)
		out = append(out, nal...)
	}
	return out
}

func TestSplitNALUnits4ByteStartCodes(t *testing.T) {
	data := annexB([]byte{0x00, 0x00, 0x00, 0x01}, testSPS, testPPS, testIDR)

	nals := SplitNALUnits(data)
	if len(nals) != 3 {
		t.Fatalf("expected 3 NAL units, got %d", len(nals))
	}
	if !bytes.Equal(nals[0], testSPS) {
		t.Errorf("SPS mismatch: %x", nals[0])
	}
	if !bytes.Equal(nals[1], testPPS) {
		t.Errorf("PPS mismatch: %x", nals[1])
	}
	if !bytes.Equal(nals[2], testIDR) {
		t.Errorf("IDR mismatch: %x", nals[2])
	}
}

func TestSplitNALUnits3ByteStartCodes(t *testing.T) {
	data := annexB([]byte{0x00, 0x00, 0x01}, testSPS, testPPS)

	nals := SplitNALUnits(data)
	if len(nals) != 2 {
		t.Fatalf("expected 2 NAL units, got %d", len(nals))
	}
	if !bytes.Equal(nals[0], testSPS) || !bytes.Equal(nals[1], testPPS) {
		t.Errorf("NAL payloads mismatch: %x / %x", nals[0], nals[1])
	}
}

func TestSplitNALUnitsMixedStartCodes(t *testing.T) {
	var data []byte
	data = append(data, 0x00, 0x00, 0x00, 0x01)
	data = append(data, testSPS...)
	data = append(data, 0x00, 0x00, 0x01)
	data = append(data, testPPS...)

	nals := SplitNALUnits(data)
	if len(nals) != 2 {
		t.Fatalf("expected 2 NAL units, got %d", len(nals))
	}
}

func TestSplitNALUnitsNoStartCode(t *testing.T) {
	if nals := SplitNALUnits([]byte{0x01, 0x02, 0x03, 0x04}); nals != nil {
		t.Fatalf("expected nil, got %d units", len(nals))
	}
	if nals := SplitNALUnits(nil); nals != nil {
		t.Fatalf("expected nil for empty input")
	}
}

func TestNALType(t *testing.T) {
	if NALType(testSPS) != NALUnitTypeSPS {
		t.Errorf("SPS type mismatch: %d", NALType(testSPS))
	}
	if NALType(testPPS) != NALUnitTypePPS {
		t.Errorf("PPS type mismatch: %d", NALType(testPPS))
	}
	if NALType(testIDR) != NALUnitTypeIDR {
		t.Errorf("IDR type mismatch: %d", NALType(testIDR))
	}
	if NALType(nil) != 0 {
		t.Errorf("empty NAL should have type 0")
	}
}

func TestExtractParameterSets(t *testing.T) {
	data := annexB([]byte{0x00, 0x00, 0x00, 0x01}, testSPS, testPPS, testIDR)

	sps, pps := ExtractParameterSets(data)
	if !bytes.Equal(sps, testSPS) {
		t.Errorf("SPS mismatch: %x", sps)
	}
	if !bytes.Equal(pps, testPPS) {
		t.Errorf("PPS mismatch: %x", pps)
	}

	sps, pps = ExtractParameterSets(annexB([]byte{0x00, 0x00, 0x00, 0x01}, testIDR))
	if sps != nil || pps != nil {
		t.Errorf("expected no parameter sets in IDR-only stream")
	}
}

func TestContainsKeyframe(t *testing.T) {
	withIDR := annexB([]byte{0x00, 0x00, 0x00, 0x01}, testSPS, testPPS, testIDR)
	if !ContainsKeyframe(withIDR) {
		t.Error("IDR not detected")
	}

	nonIDR := []byte{0x41, 0x9a, 0x02}
	withoutIDR := annexB([]byte{0x00, 0x00, 0x00, 0x01}, nonIDR)
	if ContainsKeyframe(withoutIDR) {
		t.Error("false keyframe detection")
	}
}
