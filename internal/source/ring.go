package source

import "fmt"

const (
	tpacketAlignment = 16 // TPACKET_ALIGNMENT
	tpacketHdrLen    = 52 // TPACKET3_HDRLEN, rounded
	maxBlockSize     = 4 * 1024 * 1024
)

// ringGeometry sizes a TPACKET_V3 ring for snapLen-byte frames within about
// bufferMB megabytes. The kernel requires frames aligned to
// TPACKET_ALIGNMENT and blocks that are a multiple of both the page size and
// the frame size. Frames are rounded to a power of two so the block size
// stays close to maxBlockSize.
func ringGeometry(bufferMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	if bufferMB <= 0 {
		return 0, 0, 0, fmt.Errorf("buffer size must be positive, got %d MB", bufferMB)
	}
	frameSize, err = ringFrameSize(snapLen)
	if err != nil {
		return 0, 0, 0, err
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return 0, 0, 0, fmt.Errorf("page size must be a positive multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	blockSize = lcm(pageSize, frameSize)
	if k := maxBlockSize / blockSize; k > 1 {
		blockSize *= k
	}

	numBlocks = bufferMB * 1024 * 1024 / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}
	return frameSize, blockSize, numBlocks, nil
}

// ringFrameSize returns the ring frame size for snapLen-byte captures.
func ringFrameSize(snapLen int) (int, error) {
	if snapLen <= 0 {
		return 0, fmt.Errorf("snap length must be positive, got %d", snapLen)
	}
	size := tpacketAlignment
	for size < tpacketHdrLen+snapLen {
		size <<= 1
	}
	return size, nil
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return a / gcd(a, b) * b
}
