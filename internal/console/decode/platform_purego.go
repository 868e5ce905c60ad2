//go:build darwin || linux

package decode

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

// The native decode helper (libscdec) wraps the platform hardware decode API
// (VideoToolbox on darwin, VA-API on linux) and a bundled software decoder.
// It is loaded lazily on first use.

var (
	scdecOnce    sync.Once
	scdecHandle  uintptr
	scdecLoadErr error
)

var (
	scdecGetError func() uintptr

	scdecHWAvailable func() int32
	scdecHWCreate    func(cfg uintptr, cfgLen int32, width, height int32) uint64
	scdecHWSubmit    func(h uint64, data uintptr, dataLen int32, keyframe int32) int32
	scdecHWPoll      func(h uint64, pixOut uintptr, pixCap int32, wOut, hOut uintptr) int32
	scdecHWDestroy   func(h uint64)

	scdecSWAvailable func() int32
	scdecSWCreate    func(threads int32) uint64
	scdecSWDecode    func(h uint64, data uintptr, dataLen int32, outY, outU, outV, outYStride, outUVStride, outW, outH uintptr) int32
	scdecSWDestroy   func(h uint64)
)

const (
	scdecOK        = 0
	scdecAgain     = 1
	scdecErrCodec  = -1
	scdecErrNoMem  = -2
	scdecErrConfig = -3
)

func loadScdec() error {
	scdecOnce.Do(func() {
		scdecLoadErr = loadScdecLib()
	})
	return scdecLoadErr
}

func loadScdecLib() error {
	var lastErr error
	for _, path := range scdecLibPaths() {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			lastErr = err
			continue
		}
		scdecHandle = handle
		registerScdecSymbols()
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("failed to load libscdec: %w", lastErr)
	}
	return errors.New("libscdec not found")
}

func scdecLibPaths() []string {
	libName := "libscdec.so"
	if runtime.GOOS == "darwin" {
		libName = "libscdec.dylib"
	}

	var paths []string
	if envPath := os.Getenv("SCDEC_LIB_PATH"); envPath != "" {
		paths = append(paths, envPath)
	}
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, libName),
			filepath.Join(exeDir, "..", "lib", libName),
		)
	}
	switch runtime.GOOS {
	case "darwin":
		paths = append(paths, libName, "/usr/local/lib/"+libName, "/opt/homebrew/lib/"+libName)
	default:
		paths = append(paths, libName, "/usr/local/lib/"+libName, "/usr/lib/"+libName)
	}
	return paths
}

func registerScdecSymbols() {
	purego.RegisterLibFunc(&scdecGetError, scdecHandle, "scdec_get_error")

	purego.RegisterLibFunc(&scdecHWAvailable, scdecHandle, "scdec_hw_available")
	purego.RegisterLibFunc(&scdecHWCreate, scdecHandle, "scdec_hw_create")
	purego.RegisterLibFunc(&scdecHWSubmit, scdecHandle, "scdec_hw_submit")
	purego.RegisterLibFunc(&scdecHWPoll, scdecHandle, "scdec_hw_poll")
	purego.RegisterLibFunc(&scdecHWDestroy, scdecHandle, "scdec_hw_destroy")

	purego.RegisterLibFunc(&scdecSWAvailable, scdecHandle, "scdec_sw_available")
	purego.RegisterLibFunc(&scdecSWCreate, scdecHandle, "scdec_sw_create")
	purego.RegisterLibFunc(&scdecSWDecode, scdecHandle, "scdec_sw_decode")
	purego.RegisterLibFunc(&scdecSWDestroy, scdecHandle, "scdec_sw_destroy")
}

func scdecError() string {
	ptr := scdecGetError()
	if ptr == 0 {
		return "unknown error"
	}
	var buf []byte
	for i := 0; ; i++ {
		b := *(*byte)(unsafe.Pointer(ptr + uintptr(i)))
		if b == 0 {
			break
		}
		buf = append(buf, b)
	}
	return string(buf)
}

// hardwareDecoderAvailable probes the platform for hardware decode support.
func hardwareDecoderAvailable() bool {
	if err := loadScdec(); err != nil {
		return false
	}
	return scdecHWAvailable() != 0
}

// nativeHardwareDecoder drives the platform decode session through libscdec.
type nativeHardwareDecoder struct {
	handle uint64
	pixBuf []byte
}

func newNativeHardwareDecoder() (platformDecoder, error) {
	if err := loadScdec(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHardwareUnavailable, err)
	}
	if scdecHWAvailable() == 0 {
		return nil, ErrHardwareUnavailable
	}
	return &nativeHardwareDecoder{}, nil
}

func (d *nativeHardwareDecoder) Configure(cfg Config) error {
	if d.handle != 0 {
		scdecHWDestroy(d.handle)
		d.handle = 0
	}
	if len(cfg.DecoderConfig) == 0 {
		return fmt.Errorf("empty decoder configuration")
	}
	h := scdecHWCreate(
		uintptr(unsafe.Pointer(&cfg.DecoderConfig[0])),
		int32(len(cfg.DecoderConfig)),
		int32(cfg.Width),
		int32(cfg.Height),
	)
	if h == 0 {
		return fmt.Errorf("hardware decoder create failed: %s", scdecError())
	}
	d.handle = h
	d.pixBuf = make([]byte, cfg.Width*cfg.Height*4)
	return nil
}

func (d *nativeHardwareDecoder) Submit(avcc []byte, keyframe bool) error {
	if d.handle == 0 {
		return ErrNotConfigured
	}
	if len(avcc) == 0 {
		return nil
	}
	kf := int32(0)
	if keyframe {
		kf = 1
	}
	rc := scdecHWSubmit(d.handle, uintptr(unsafe.Pointer(&avcc[0])), int32(len(avcc)), kf)
	if rc < 0 {
		return fmt.Errorf("hardware decode failed: %s", scdecError())
	}
	return nil
}

func (d *nativeHardwareDecoder) Poll() (*Picture, error) {
	if d.handle == 0 {
		return nil, ErrNotConfigured
	}
	var w, h int32
	rc := scdecHWPoll(
		d.handle,
		uintptr(unsafe.Pointer(&d.pixBuf[0])),
		int32(len(d.pixBuf)),
		uintptr(unsafe.Pointer(&w)),
		uintptr(unsafe.Pointer(&h)),
	)
	if rc < 0 {
		if rc == scdecErrNoMem {
			d.pixBuf = make([]byte, len(d.pixBuf)*2)
			return d.Poll()
		}
		return nil, fmt.Errorf("hardware poll failed: %s", scdecError())
	}
	if rc == 0 {
		return nil, nil
	}
	n := int(w) * int(h) * 4
	pix := make([]byte, n)
	copy(pix, d.pixBuf[:n])
	return &Picture{Pixels: pix, Width: int(w), Height: int(h)}, nil
}

func (d *nativeHardwareDecoder) Close() error {
	if d.handle != 0 {
		scdecHWDestroy(d.handle)
		d.handle = 0
	}
	return nil
}

// nativeSoftwareDecoder wraps the bundled software decoder. It takes raw
// Annex-B NAL units and produces planar YUV 4:2:0 pictures.
type nativeSoftwareDecoder struct {
	handle uint64
}

func newNativeSoftwareDecoder() (rawDecoder, error) {
	if err := loadScdec(); err != nil {
		return nil, fmt.Errorf("software decoder not available: %w", err)
	}
	if scdecSWAvailable() == 0 {
		return nil, errors.New("software decoder not available")
	}
	h := scdecSWCreate(int32(runtime.NumCPU()))
	if h == 0 {
		return nil, fmt.Errorf("software decoder create failed: %s", scdecError())
	}
	return &nativeSoftwareDecoder{handle: h}, nil
}

func (d *nativeSoftwareDecoder) DecodeNAL(nal []byte) (*yuvPicture, error) {
	if d.handle == 0 {
		return nil, ErrClosed
	}
	if len(nal) == 0 {
		return nil, nil
	}

	var outY, outU, outV uintptr
	var yStride, uvStride, w, h int32

	rc := scdecSWDecode(
		d.handle,
		uintptr(unsafe.Pointer(&nal[0])),
		int32(len(nal)),
		uintptr(unsafe.Pointer(&outY)),
		uintptr(unsafe.Pointer(&outU)),
		uintptr(unsafe.Pointer(&outV)),
		uintptr(unsafe.Pointer(&yStride)),
		uintptr(unsafe.Pointer(&uvStride)),
		uintptr(unsafe.Pointer(&w)),
		uintptr(unsafe.Pointer(&h)),
	)
	if rc < 0 {
		return nil, fmt.Errorf("software decode failed: %s", scdecError())
	}
	if rc == 0 {
		// No picture yet (parameter set or partial access unit).
		return nil, nil
	}

	width, height := int(w), int(h)
	uvW, uvH := width/2, height/2

	pic := &yuvPicture{
		Width:    width,
		Height:   height,
		YStride:  width,
		UVStride: uvW,
		Y:        make([]byte, width*height),
		U:        make([]byte, uvW*uvH),
		V:        make([]byte, uvW*uvH),
	}
	for row := 0; row < height; row++ {
		src := unsafe.Slice((*byte)(unsafe.Pointer(outY+uintptr(row*int(yStride)))), width)
		copy(pic.Y[row*width:], src)
	}
	for row := 0; row < uvH; row++ {
		srcU := unsafe.Slice((*byte)(unsafe.Pointer(outU+uintptr(row*int(uvStride)))), uvW)
		srcV := unsafe.Slice((*byte)(unsafe.Pointer(outV+uintptr(row*int(uvStride)))), uvW)
		copy(pic.U[row*uvW:], srcU)
		copy(pic.V[row*uvW:], srcV)
	}
	return pic, nil
}

func (d *nativeSoftwareDecoder) Close() error {
	if d.handle != 0 {
		scdecSWDestroy(d.handle)
		d.handle = 0
	}
	return nil
}
