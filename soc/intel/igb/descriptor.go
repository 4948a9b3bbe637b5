// Intel 82576 gigabit Ethernet controller driver
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package igb

import "encoding/binary"

// DescriptorSize is the fixed size, in bytes, of every advanced RX and TX
// descriptor cell.
const DescriptorSize = 16

// RX read-format masks (Advanced Receive Descriptor Read Format).
const (
	rxAddrMask = 0xFFFF_FFFF_FFFF_FFFE // Address bits [63:1]
	rxNSEMask  = 0x1                   // No-Snoop Enable / A0 [0]
	rxDDMask   = 0x1                   // Descriptor Done (header word) [0]
)

// RX write-back field masks/shifts, low dword (hdr_status).
const (
	hdrLenMask      = 0xFFC0_0000
	hdrLenShift     = 22
	splitHeaderMask = 0x0020_0000
	splitHeaderBit  = 21
	fragCsumMask    = 0xFFFF_0000
	fragCsumShift   = 16
	ipIDMask        = 0x0000_FFFF
)

// RX write-back field masks/shifts, high dword (error_type_status /
// vlan_length).
const (
	extErrorMask  = 0xFFF0_0000
	extErrorShift = 20
	rssTypeMask   = 0x000E_0000
	rssTypeShift  = 17
	pktTypeMask   = 0x0001_FFF0
	pktTypeShift  = 4
	vlanTagMask   = 0xFFFF_0000
	vlanTagShift  = 16
	pktLenMask    = 0x0000_FFFF
)

// Extended-status bits, present in both the low dword (hdr_status) and the
// high dword's low nibble as specified by the 82576 datasheet. ParseRxWB
// tests DD in the high dword only, per the resolution of Open Question 3
// (SPEC_FULL.md §9); the other bits are tested in the union of
// hdr_status[20:0] and error_type_status[3:0].
const (
	rxStatusDD    = 1 << 0
	rxStatusEOP   = 1 << 1
	rxStatusVP    = 1 << 3
	rxStatusUDPCS = 1 << 4
	rxStatusL4I   = 1 << 5
	rxStatusIPCS  = 1 << 6
	rxStatusPIF   = 1 << 7
	rxStatusTS    = 1 << 16
	rxStatusVEXT  = 1 << 9
	rxStatusUDPV  = 1 << 10
	rxStatusLLINT = 1 << 11
	rxStatusSECP  = 1 << 17
	rxStatusLB    = 1 << 18
)

// Extended-error bits, as positions within the ext_error field
// (high dword, error_type_status[31:20]).
const (
	rxErrorHBO    = 1 << 3
	rxErrorSECERR = 0x0000_0180
	rxErrorShift  = 7
	rxErrorL4E    = 1 << 9
	rxErrorIPE    = 1 << 10
	rxErrorRXE    = 1 << 11
)

// TX cmd_type_len command bits.
const (
	CmdEOP  = 1 << 24
	CmdIFCS = 1 << 25
	CmdIC   = 1 << 26
	CmdRS   = 1 << 27
	CmdDEXT = 1 << 29
	CmdVLE  = 1 << 30
	CmdIDE  = 1 << 31

	dtypeData    = 0b11 << 20
	dtypeContext = 0b10 << 20

	txLenMask = 0x000F_FFFF

	txStatusDD = 1 << 0
)

// RssType classifies the RSS hash function that produced an RX completion's
// rss_hash_or_frag_csum_ip field.
type RssType uint8

const (
	RssNone RssType = iota
	RssHashTCPIPv4
	RssHashIPv4
	RssHashTCPIPv6
	RssHashIPv6Ex
	RssHashIPv6
	RssHashTCPIPv6Ex
	RssHashUDPIPv4
	RssHashUDPIPv6
	RssHashUDPIPv6Ex
)

// SecurityError classifies the SECERR field of an RX completion.
type SecurityError uint8

const (
	SecurityErrorNone SecurityError = iota
	SecurityErrorNoSAMatch
	SecurityErrorReplay
	SecurityErrorBadSignature
)

// MakeRxRead encodes a 16-byte RX descriptor in read (software-posted)
// format: pktPhys is the packet buffer's physical address, hdrPhys the
// header buffer's (zero when header-split is unused, per Open Question 4),
// and nse requests No-Snoop-Enable on the PCIe transaction. DD is always
// forced to 0 in the header word, as hardware requires on posting.
func MakeRxRead(pktPhys uint64, hdrPhys uint64, nse bool) [DescriptorSize]byte {
	pkt := pktPhys &^ uint64(rxNSEMask)
	if nse {
		pkt |= rxNSEMask
	}

	hdr := hdrPhys &^ uint64(rxDDMask)

	var d [DescriptorSize]byte
	binary.LittleEndian.PutUint64(d[0:8], pkt)
	binary.LittleEndian.PutUint64(d[8:16], hdr)

	return d
}

// RxCompletion is the parsed view of an RX write-back descriptor.
type RxCompletion struct {
	Done              bool
	EOP               bool
	PacketLen         uint16
	VlanTag           uint16
	RssHash           uint32
	RssType           RssType
	PacketType        uint16
	IPChecksumOK      bool
	L4ChecksumOK      bool
	SecurityError     SecurityError
	HeaderOverflow    bool
	VlanPacket        bool
	Loopback          bool
	Timestamped       bool
	HasError          bool
	HeaderLen         uint16
	SplitHeader       bool
	FragCsumNoRss     uint16
	IPIdentNoRss      uint16
}

// ParseRxWB decodes a 16-byte RX descriptor in write-back (hardware
// completed) format.
func ParseRxWB(d [DescriptorSize]byte) RxCompletion {
	rssHashOrCsumIP := binary.LittleEndian.Uint32(d[0:4])
	hdrStatus := binary.LittleEndian.Uint32(d[4:8])
	errorTypeStatus := binary.LittleEndian.Uint32(d[8:12])
	vlanLength := binary.LittleEndian.Uint32(d[12:16])

	extStatus := (hdrStatus & 0x001F_FFFF) | (errorTypeStatus & 0xF)
	extError := (errorTypeStatus & extErrorMask) >> extErrorShift

	c := RxCompletion{
		Done:           errorTypeStatus&rxStatusDD != 0,
		EOP:            extStatus&rxStatusEOP != 0,
		PacketLen:      uint16(vlanLength & pktLenMask),
		VlanTag:        uint16((vlanLength & vlanTagMask) >> vlanTagShift),
		RssHash:        rssHashOrCsumIP,
		RssType:        RssType((errorTypeStatus & rssTypeMask) >> rssTypeShift),
		PacketType:     uint16((errorTypeStatus & pktTypeMask) >> pktTypeShift),
		IPChecksumOK:   extStatus&rxStatusIPCS != 0,
		L4ChecksumOK:   extStatus&rxStatusL4I != 0,
		SecurityError:  SecurityError((extError & rxErrorSECERR) >> rxErrorShift),
		HeaderOverflow: extError&rxErrorHBO != 0,
		VlanPacket:     extStatus&rxStatusVP != 0,
		Loopback:       extStatus&rxStatusLB != 0,
		Timestamped:    extStatus&rxStatusTS != 0,
		HeaderLen:      uint16((hdrStatus & hdrLenMask) >> hdrLenShift),
		SplitHeader:    hdrStatus&splitHeaderMask != 0,
		FragCsumNoRss:  uint16((rssHashOrCsumIP & fragCsumMask) >> fragCsumShift),
		IPIdentNoRss:   uint16(rssHashOrCsumIP & ipIDMask),
	}

	c.HasError = extError != 0 ||
		extError&rxErrorL4E != 0 ||
		extError&rxErrorIPE != 0 ||
		extError&rxErrorRXE != 0

	return c
}

// MakeTxData encodes a 16-byte TX descriptor in advanced data-descriptor
// (software-posted) format. cmds is the bitwise OR of the Cmd* constants;
// the canonical combination for a standalone frame requesting write-back is
// CmdEOP|CmdIFCS|CmdRS|CmdDEXT.
func MakeTxData(bufPhys uint64, length uint32, cmds uint32) [DescriptorSize]byte {
	cmdTypeLen := dtypeData | (length & txLenMask) | cmds

	var d [DescriptorSize]byte
	binary.LittleEndian.PutUint64(d[0:8], bufPhys)
	binary.LittleEndian.PutUint32(d[8:12], cmdTypeLen)
	// olinfo_status left zero: checksum-offload configuration is a
	// non-goal (SPEC_FULL.md §1).

	return d
}

// ParseTxWBStatus decodes the DD bit of a 16-byte TX write-back descriptor.
func ParseTxWBStatus(d [DescriptorSize]byte) (done bool) {
	status := binary.LittleEndian.Uint32(d[12:16])
	return status&txStatusDD != 0
}
