package decode

// yuvPicture is one planar YUV 4:2:0 picture from the software decoder.
type yuvPicture struct {
	Y, U, V  []byte
	YStride  int
	UVStride int
	Width    int
	Height   int
}

func clampByte(v float32) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// yuvToRGBA converts a 4:2:0 picture into tightly packed RGBA using BT.601
// full-swing coefficients. dst must hold width*height*4 bytes.
func yuvToRGBA(dst []byte, pic *yuvPicture) {
	for row := 0; row < pic.Height; row++ {
		yOff := row * pic.YStride
		uvOff := (row / 2) * pic.UVStride
		outOff := row * pic.Width * 4

		for col := 0; col < pic.Width; col++ {
			y := float32(pic.Y[yOff+col])
			u := float32(pic.U[uvOff+col/2]) - 128
			v := float32(pic.V[uvOff+col/2]) - 128

			o := outOff + col*4
			dst[o] = clampByte(y + 1.402*v)
			dst[o+1] = clampByte(y - 0.344136*u - 0.714136*v)
			dst[o+2] = clampByte(y + 1.772*u)
			dst[o+3] = 0xFF
		}
	}
}
