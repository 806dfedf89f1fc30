// Package elfutil parses just enough of the ELF section table to drive
// the module scanner's signature/WX/large-text/suspicious-name checks
// (§4.Y). It is not a general-purpose ELF reader: it stops at the
// section header table and resolves names via .shstrtab.
package elfutil

import (
	"encoding/binary"
	"errors"
)

const (
	maxSections   = 512
	maxStrtabSize = 1 << 20 // 1 MiB

	// Section flags (sh_flags), standard ELF values.
	FlagWrite     = 0x1
	FlagExecInstr = 0x4
)

var (
	ErrBadMagic     = errors.New("elfutil: bad magic")
	ErrTooManySects = errors.New("elfutil: too many section headers")
	ErrNoSections   = errors.New("elfutil: no section header table")
)

// Section is one parsed ELF section header, name resolved via .shstrtab.
type Section struct {
	Name  string
	Flags uint64
	Size  uint64
}

// File holds the parsed section table of one ELF object.
type File struct {
	Is64    bool
	Little  bool
	Sections []Section
}

// Parse validates the ELF magic and header, then reads the section
// header table in one pass and resolves names in a second pass against
// .shstrtab. It rejects files with more than 512 sections or a zero
// section header offset (§4.Y).
func Parse(data []byte) (*File, error) {
	if len(data) < 20 || data[0] != 0x7f || data[1] != 'E' || data[2] != 'L' || data[3] != 'F' {
		return nil, ErrBadMagic
	}
	is64 := data[4] == 2
	little := data[5] == 1
	var bo binary.ByteOrder = binary.LittleEndian
	if !little {
		bo = binary.BigEndian
	}

	var shoff uint64
	var shentsize, shnum, shstrndx uint16

	if is64 {
		if len(data) < 64 {
			return nil, ErrNoSections
		}
		shoff = bo.Uint64(data[40:48])
		shentsize = bo.Uint16(data[58:60])
		shnum = bo.Uint16(data[60:62])
		shstrndx = bo.Uint16(data[62:64])
	} else {
		if len(data) < 52 {
			return nil, ErrNoSections
		}
		shoff = uint64(bo.Uint32(data[32:36]))
		shentsize = bo.Uint16(data[46:48])
		shnum = bo.Uint16(data[48:50])
		shstrndx = bo.Uint16(data[50:52])
	}

	if shoff == 0 {
		return nil, ErrNoSections
	}
	if shnum > maxSections {
		return nil, ErrTooManySects
	}

	type rawSect struct {
		nameOff uint32
		flags   uint64
		size    uint64
	}
	raws := make([]rawSect, 0, shnum)

	for i := uint16(0); i < shnum; i++ {
		off := shoff + uint64(i)*uint64(shentsize)
		if off+uint64(shentsize) > uint64(len(data)) {
			break
		}
		hdr := data[off : off+uint64(shentsize)]
		var r rawSect
		if is64 {
			if len(hdr) < 64 {
				continue
			}
			r.nameOff = bo.Uint32(hdr[0:4])
			r.flags = bo.Uint64(hdr[8:16])
			r.size = bo.Uint64(hdr[32:40])
		} else {
			if len(hdr) < 40 {
				continue
			}
			r.nameOff = bo.Uint32(hdr[0:4])
			r.flags = uint64(bo.Uint32(hdr[8:12]))
			r.size = uint64(bo.Uint32(hdr[20:24]))
		}
		raws = append(raws, r)
	}

	var strtab []byte
	if int(shstrndx) < len(raws) {
		strOff := shoff + uint64(shstrndx)*uint64(shentsize)
		if strOff+uint64(shentsize) <= uint64(len(data)) {
			hdr := data[strOff : strOff+uint64(shentsize)]
			var dataOff, dataSize uint64
			if is64 {
				if len(hdr) >= 64 {
					dataOff = bo.Uint64(hdr[24:32])
					dataSize = bo.Uint64(hdr[32:40])
				}
			} else {
				if len(hdr) >= 40 {
					dataOff = uint64(bo.Uint32(hdr[16:20]))
					dataSize = uint64(bo.Uint32(hdr[20:24]))
				}
			}
			if dataSize > maxStrtabSize {
				dataSize = maxStrtabSize
			}
			if dataOff+dataSize <= uint64(len(data)) {
				strtab = data[dataOff : dataOff+dataSize]
			}
		}
	}

	f := &File{Is64: is64, Little: little}
	for _, r := range raws {
		f.Sections = append(f.Sections, Section{
			Name:  resolveName(strtab, r.nameOff),
			Flags: r.flags,
			Size:  r.size,
		})
	}
	return f, nil
}

func resolveName(strtab []byte, off uint32) string {
	if strtab == nil || int(off) >= len(strtab) {
		return ""
	}
	end := int(off)
	for end < len(strtab) && strtab[end] != 0 {
		end++
	}
	return string(strtab[off:end])
}

// IsWX reports whether a section has both WRITE and EXECINSTR set.
func (s Section) IsWX() bool {
	return s.Flags&FlagWrite != 0 && s.Flags&FlagExecInstr != 0
}
