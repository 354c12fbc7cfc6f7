package mvcc

// Page is a fixed-size slotted page, byte-accessed the way mvcc/layout.go's
// SummaryPage/DirectoryPage types are: a []byte with LittleEndian
// get/set methods at fixed offsets, rather than a struct requiring
// marshal/unmarshal passes. Layout (§3):
//
//	PageHeader{ pd_lower uint16, pd_upper uint16, item_count uint16, special_size uint16 }
//	ItemPointer{ offset uint16, length uint16 } ... up to MaxItemPointers
//	raw data area, tuple bodies packed from the tail backward
type Page []byte

const (
	pageHeaderSize  = 8
	itemPointerSize = 4

	DefaultPageSize        = 4096
	DefaultMaxItemPointers = 200
)

func (p Page) PdLower() uint16      { return byteOrder.Uint16(p[0:2]) }
func (p Page) SetPdLower(v uint16)  { byteOrder.PutUint16(p[0:2], v) }
func (p Page) PdUpper() uint16      { return byteOrder.Uint16(p[2:4]) }
func (p Page) SetPdUpper(v uint16)  { byteOrder.PutUint16(p[2:4], v) }
func (p Page) ItemCount() uint16    { return byteOrder.Uint16(p[4:6]) }
func (p Page) setItemCount(v uint16) { byteOrder.PutUint16(p[4:6], v) }
func (p Page) SpecialSize() uint16  { return byteOrder.Uint16(p[6:8]) }
func (p Page) setSpecialSize(v uint16) { byteOrder.PutUint16(p[6:8], v) }

// ItemPointer locates one tuple body within a page's data area.
type ItemPointer struct {
	Offset uint16
	Length uint16 // 0 marks a dead/removed slot
}

func itemPointerOffset(idx int) int {
	return pageHeaderSize + idx*itemPointerSize
}

// ItemPointerAt returns the idx'th item pointer; idx must be < ItemCount().
func (p Page) ItemPointerAt(idx int) ItemPointer {
	off := itemPointerOffset(idx)
	return ItemPointer{
		Offset: byteOrder.Uint16(p[off : off+2]),
		Length: byteOrder.Uint16(p[off+2 : off+4]),
	}
}

func (p Page) setItemPointerAt(idx int, ip ItemPointer) {
	off := itemPointerOffset(idx)
	byteOrder.PutUint16(p[off:off+2], ip.Offset)
	byteOrder.PutUint16(p[off+2:off+4], ip.Length)
}

// FreeSpace is pd_upper - pd_lower, per §3.
func (p Page) FreeSpace() int {
	return int(p.PdUpper()) - int(p.PdLower())
}

// NewPage initializes an empty page of pageSize bytes, header set so
// pd_lower sits right after the header and pd_upper at the page tail.
func NewPage(pageSize int) Page {
	p := make(Page, pageSize)
	p.SetPdLower(pageHeaderSize)
	p.SetPdUpper(uint16(pageSize))
	p.setItemCount(0)
	p.setSpecialSize(0)
	return p
}

// CanFit reports whether a tuple body of recordSize bytes (plus one new
// ItemPointer) fits in the page's current free space and item pointer
// budget, per §4.1's "writes never straddle pages" contract.
func (p Page) CanFit(recordSize, maxItemPointers int) bool {
	if int(p.ItemCount()) >= maxItemPointers {
		return false
	}
	return p.FreeSpace() >= recordSize+itemPointerSize
}

// Insert packs body at the page tail and appends a new item pointer,
// returning the slot index. Caller must have checked CanFit.
func (p Page) Insert(body []byte) (slot int) {
	newUpper := int(p.PdUpper()) - len(body)
	copy(p[newUpper:], body)
	p.SetPdUpper(uint16(newUpper))

	slot = int(p.ItemCount())
	p.setItemPointerAt(slot, ItemPointer{Offset: uint16(newUpper), Length: uint16(len(body))})
	p.SetPdLower(uint16(itemPointerOffset(slot + 1)))
	p.setItemCount(uint16(slot + 1))
	return slot
}

// RecordBytes returns the raw bytes of the tuple at slot, or nil if the
// slot is dead (Length == 0) or out of range.
func (p Page) RecordBytes(slot int) []byte {
	if slot < 0 || slot >= int(p.ItemCount()) {
		return nil
	}
	ip := p.ItemPointerAt(slot)
	if ip.Length == 0 {
		return nil
	}
	return p[ip.Offset : ip.Offset+ip.Length]
}

// PutRecordBytes overwrites the bytes at slot in place; body must be the
// same length as the existing tuple (used to flip xmax without moving the
// tuple, §4.7 delete_records/update_records).
func (p Page) PutRecordBytes(slot int, body []byte) {
	ip := p.ItemPointerAt(slot)
	copy(p[ip.Offset:ip.Offset+ip.Length], body)
}

// RemoveItemPointer marks a slot dead without compacting the page; used by
// vacuum_table, which reclaims pointers but never physically frees pages
// (§3 Lifecycle).
func (p Page) RemoveItemPointer(slot int) {
	ip := p.ItemPointerAt(slot)
	ip.Length = 0
	p.setItemPointerAt(slot, ip)
}

// Valid checks the page geometry invariant (§8 property 6).
func (p Page) Valid(pageSize, maxItemPointers int) bool {
	return int(p.PdLower()) <= int(p.PdUpper()) &&
		int(p.PdUpper()) <= pageSize &&
		int(p.ItemCount()) <= maxItemPointers
}
