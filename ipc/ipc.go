package ipc

// CommandBuffer is the per-thread buffer used to exchange requests and replies.
// Word 0 is the header, the normal parameters follow, then the translate parameters.
type CommandBuffer [64]uint32

// Header is the first word of a request or reply
type Header uint32

// ReceiveOnly is written to the command buffer when there is nothing to reply to
const ReceiveOnly Header = 0xFFFF0000

// MakeHeader creates a command header. normal and translate are sizes in words
func MakeHeader(id uint16, normal uint, translate uint) Header {
	return Header(uint32(id)<<16 | (uint32(normal)&0x3F)<<6 | uint32(translate)&0x3F)
}

func (h Header) ID() uint16 {
	return uint16(h >> 16)
}

func (h Header) Normal() uint {
	return uint(h>>6) & 0x3F
}

func (h Header) Translate() uint {
	return uint(h) & 0x3F
}

// DescSharedHandles creates the translate descriptor for number handles that follow it
func DescSharedHandles(number uint) uint32 {
	return uint32(number-1) << 26
}

// DescIsHandles reports whether word is a handle descriptor and how many handles follow
func DescIsHandles(word uint32) (bool, uint) {
	if word&0x3FFFFFF != 0 {
		return false, 0
	}
	return true, uint(word>>26) + 1
}

func (c *CommandBuffer) Header() Header {
	return Header(c[0])
}

func (c *CommandBuffer) SetHeader(h Header) {
	c[0] = uint32(h)
}

// Words returns the header and all parameters described by it
func (c *CommandBuffer) Words() []uint32 {
	h := c.Header()
	n := 1 + h.Normal() + h.Translate()
	if n > uint(len(c)) {
		n = uint(len(c))
	}
	return c[:n]
}
