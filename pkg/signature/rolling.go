package signature

// RollingChecksum implements the rsync-style Adler-32 rolling checksum:
// the two-half-sum form that can be updated in O(1) as a fixed-size
// window slides one byte at a time, without rereading the window.
type RollingChecksum struct {
	a, b   uint32
	window uint32
}

// WeakChecksum computes the rolling checksum over a full block from
// scratch, for the initial window or for blocks read in bulk.
func WeakChecksum(block []byte) uint32 {
	var rc RollingChecksum
	rc.Reset(block)
	return rc.Value()
}

// Reset seeds the checksum from an initial window of bytes.
func (rc *RollingChecksum) Reset(block []byte) {
	var a, b uint32
	n := uint32(len(block))
	for i, c := range block {
		a += uint32(c)
		b += (n - uint32(i)) * uint32(c)
	}
	rc.a = a
	rc.b = b
	rc.window = n
}

// Roll slides the window forward by one byte: outByte leaves the window
// at its front, inByte enters at its back.
func (rc *RollingChecksum) Roll(outByte, inByte byte) {
	rc.a = rc.a - uint32(outByte) + uint32(inByte)
	rc.b = rc.b - rc.window*uint32(outByte) + rc.a
}

// Value returns the current checksum as a single packed uint32, with the
// weighted sum b in the upper 16 bits and the plain byte sum a in the
// lower 16 bits, matching the classic Adler-32 rsync layout.
func (rc *RollingChecksum) Value() uint32 {
	return (rc.b << 16) | (rc.a & 0xffff)
}
