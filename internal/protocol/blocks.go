package protocol

import "encoding/binary"

// Block wire types inside a sub-frame. They match protobuf wire types 0 and 2.
const (
	blockVarint = 0
	blockBytes  = 2

	maxVarintLen = 10
)

// block is one tagged span of a sub-frame. Varint blocks store the value as
// 8 big-endian bytes.
type block struct {
	id   uint64
	kind byte
	data []byte
}

// readVarint decodes a little-endian base-128 integer starting at pos and
// returns the value and the offset just past it.
func readVarint(buf []byte, pos int) (uint64, int, error) {
	var value uint64
	for i := 0; i < maxVarintLen; i++ {
		if pos+i >= len(buf) {
			return 0, pos, formatErr(pos, ErrTruncated, "truncated varint")
		}
		b := buf[pos+i]
		if i == maxVarintLen-1 && b > 1 {
			return 0, pos, formatErr(pos, ErrVarintOverflow, "varint overflows 64 bits")
		}
		value |= uint64(b&0x7f) << (7 * i)
		if b < 0x80 {
			return value, pos + i + 1, nil
		}
	}
	return 0, pos, formatErr(pos, ErrVarintOverflow, "varint longer than %d bytes", maxVarintLen)
}

// splitBlocks decomposes buf into its blocks in encounter order. The whole
// slice must be consumed.
func splitBlocks(buf []byte) ([]block, error) {
	var blocks []block
	i := 0
	for i < len(buf) {
		tag := buf[i]
		kind := tag & 0x07
		id := uint64(tag >> 3)
		begin := i
		i++

		switch kind {
		case blockVarint:
			v, next, err := readVarint(buf, i)
			if err != nil {
				return nil, err
			}
			i = next
			blocks = append(blocks, block{id: id, kind: kind, data: binary.BigEndian.AppendUint64(nil, v)})

		case blockBytes:
			n, next, err := readVarint(buf, i)
			if err != nil {
				return nil, err
			}
			if n > uint64(len(buf)-next) {
				return nil, formatErr(begin, ErrTruncated, "block declares %d bytes, %d remain", n, len(buf)-next)
			}
			end := next + int(n)
			data := make([]byte, n)
			copy(data, buf[next:end])
			i = end
			blocks = append(blocks, block{id: id, kind: kind, data: data})

		default:
			return nil, formatErr(begin, ErrInvalidBlockType, "invalid block type: %d", kind)
		}
	}
	return blocks, nil
}

// splitMethodData returns the name and payload spans of a sub-frame, which
// must hold exactly two blocks.
func splitMethodData(buf []byte) (name, payload []byte, err error) {
	blocks, err := splitBlocks(buf)
	if err != nil {
		return nil, nil, err
	}
	if len(blocks) != 2 {
		return nil, nil, formatErr(-1, ErrBlockCount, "invalid number of blocks: %d", len(blocks))
	}
	return blocks[0].data, blocks[1].data, nil
}
