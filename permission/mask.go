package permission

// Mask is a 64-bit capability set. Bit positions come from a [Registry].
type Mask uint64

// Has reports whether bit is set.
func (m Mask) Has(bit int) bool {
	if bit < 0 || bit >= 64 {
		return false
	}
	return m&(1<<bit) != 0
}

// Set turns bit on.
func (m *Mask) Set(bit int) {
	if bit < 0 || bit >= 64 {
		return
	}
	*m |= 1 << bit
}

// Clear turns bit off.
func (m *Mask) Clear(bit int) {
	if bit < 0 || bit >= 64 {
		return
	}
	*m &^= 1 << bit
}

// Raw returns the underlying bits.
func (m Mask) Raw() uint64 {
	return uint64(m)
}
