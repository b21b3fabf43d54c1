package block

// ID is a 64-bit block address encoding (cylinder<<32)|sector. Block
// 0 is reserved as the null ID and never addresses real storage.
type ID uint64

// NewID packs a (cylinder, sector) pair into a block ID.
func NewID(cylinder, sector int32) ID {
	return ID(uint64(uint32(cylinder))<<32 | uint64(uint32(sector)))
}

// Cylinder returns the high 32 bits.
func (b ID) Cylinder() int32 {
	return int32(uint32(b >> 32))
}

// Sector returns the low 32 bits.
func (b ID) Sector() int32 {
	return int32(uint32(b))
}

// IsNull reports whether b is the reserved null block ID.
func (b ID) IsNull() bool {
	return b == 0
}
