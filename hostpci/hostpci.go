// Intel 82576 gigabit Ethernet controller driver
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package hostpci is the hosted counterpart to soc/intel/pci: it gives a
// privileged userspace process access to one PCI device's configuration
// space, BAR0 MMIO window and MSI-X vectors through the Linux VFIO
// framework, so the igb driver can run unmodified against real hardware
// from an ordinary process instead of GOOS=tamago.
package hostpci

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// VFIO ioctl numbers, computed from <linux/vfio.h>'s _IO/_IOW/_IOR macros
// with VFIO_TYPE=';' (0x3b) and VFIO_BASE=100.
const (
	vfioGetAPIVersion       = 0x3b64
	vfioCheckExtension      = 0x40043b65
	vfioSetIOMMU            = 0x40043b66
	vfioGroupGetStatus      = 0x80083b67
	vfioGroupSetContainer   = 0x40043b68
	vfioGroupGetDeviceFD    = 0x3b6a
	vfioDeviceGetInfo       = 0x3b6b
	vfioDeviceGetRegionInfo = 0x3b6c
	vfioDeviceSetIRQs       = 0x3b6e
)

const (
	vfioTypeIOMMU = 1 // VFIO_TYPE1_IOMMU

	vfioGroupFlagsViable = 1 << 0

	vfioPCIBAR0RegionIndex   = 0
	vfioPCIConfigRegionIndex = 7
	vfioPCIMSIXIRQIndex      = 2

	vfioRegionInfoFlagMmap = 1 << 2

	vfioIRQSetDataEventFD   = 1 << 2
	vfioIRQSetActionTrigger = 1 << 5
)

type vfioGroupStatus struct {
	ArgSz uint32
	Flags uint32
}

type vfioRegionInfo struct {
	ArgSz     uint32
	Flags     uint32
	Index     uint32
	CapOffset uint32
	Size      uint64
	Offset    uint64
}

// vfioIRQSet is the fixed header of struct vfio_irq_set; the eventfd array
// is appended after it by the caller.
type vfioIRQSet struct {
	ArgSz uint32
	Flags uint32
	Index uint32
	Start uint32
	Count uint32
}

// Device is one VFIO-bound PCI device: its configuration space, BAR0 MMIO
// window, and MSI-X interrupt vectors (spec §4.8).
type Device struct {
	containerFd int
	groupFd     int
	deviceFd    int

	configOffset int64
	bar0Offset   int64
	bar0Size     int

	mmio []byte
}

// Probe walks sysfsRoot (ordinarily "/sys/bus/pci/devices") looking for a
// device whose vendor/device files match vendorID/deviceID, returning its
// PCI address (e.g. "0000:00:03.0") for use with Open. This is the hosted
// analogue of soc/intel/pci.Probe's port-I/O bus scan (spec §4.7,
// supplemented).
func Probe(sysfsRoot string, vendorID, deviceID uint16) (string, error) {
	entries, err := os.ReadDir(sysfsRoot)
	if err != nil {
		return "", fmt.Errorf("hostpci: read %s: %w", sysfsRoot, err)
	}

	for _, e := range entries {
		vid, err := readHexFile(filepath.Join(sysfsRoot, e.Name(), "vendor"))
		if err != nil {
			continue
		}

		did, err := readHexFile(filepath.Join(sysfsRoot, e.Name(), "device"))
		if err != nil {
			continue
		}

		if uint16(vid) == vendorID && uint16(did) == deviceID {
			return e.Name(), nil
		}
	}

	return "", fmt.Errorf("hostpci: no device %04x:%04x under %s", vendorID, deviceID, sysfsRoot)
}

func readHexFile(path string) (uint64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	return strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(string(b)), "0x"), 16, 32)
}

// Open binds to the PCI device at pciAddress within IOMMU group groupID,
// via the VFIO Type1 IOMMU container at /dev/vfio/vfio and the group
// device node at /dev/vfio/<groupID>.
func Open(groupID int, pciAddress string) (*Device, error) {
	container, err := unix.Open("/dev/vfio/vfio", unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("hostpci: open container: %w", err)
	}

	group, err := unix.Open(fmt.Sprintf("/dev/vfio/%d", groupID), unix.O_RDWR, 0)
	if err != nil {
		unix.Close(container)
		return nil, fmt.Errorf("hostpci: open group %d: %w", groupID, err)
	}

	d := &Device{containerFd: container, groupFd: group}

	if err := d.bindGroup(); err != nil {
		d.Close()
		return nil, err
	}

	deviceFd, err := d.groupGetDeviceFD(pciAddress)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.deviceFd = deviceFd

	cfgInfo, err := d.regionInfo(vfioPCIConfigRegionIndex)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.configOffset = int64(cfgInfo.Offset)

	barInfo, err := d.regionInfo(vfioPCIBAR0RegionIndex)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.bar0Offset = int64(barInfo.Offset)
	d.bar0Size = int(barInfo.Size)

	if barInfo.Flags&vfioRegionInfoFlagMmap != 0 {
		mmio, err := unix.Mmap(d.deviceFd, d.bar0Offset, d.bar0Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("hostpci: mmap BAR0: %w", err)
		}
		d.mmio = mmio
	}

	return d, nil
}

func (d *Device) bindGroup() error {
	var status vfioGroupStatus
	status.ArgSz = uint32(unsafe.Sizeof(status))

	if err := ioctl(d.groupFd, vfioGroupGetStatus, unsafe.Pointer(&status)); err != nil {
		return fmt.Errorf("hostpci: group status: %w", err)
	}
	if status.Flags&vfioGroupFlagsViable == 0 {
		return fmt.Errorf("hostpci: group not viable (is another driver bound?)")
	}

	if err := ioctlInt(d.groupFd, vfioGroupSetContainer, d.containerFd); err != nil {
		return fmt.Errorf("hostpci: set container: %w", err)
	}

	if err := ioctlInt(d.containerFd, vfioSetIOMMU, vfioTypeIOMMU); err != nil {
		return fmt.Errorf("hostpci: set IOMMU type1: %w", err)
	}

	return nil
}

func (d *Device) groupGetDeviceFD(pciAddress string) (int, error) {
	name := append([]byte(pciAddress), 0)

	fd, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.groupFd), uintptr(vfioGroupGetDeviceFD), uintptr(unsafe.Pointer(&name[0])))
	if errno != 0 {
		return 0, fmt.Errorf("hostpci: get device fd for %s: %w", pciAddress, errno)
	}

	return int(fd), nil
}

func (d *Device) regionInfo(index uint32) (vfioRegionInfo, error) {
	info := vfioRegionInfo{ArgSz: uint32(unsafe.Sizeof(vfioRegionInfo{})), Index: index}
	if err := ioctl(d.deviceFd, vfioDeviceGetRegionInfo, unsafe.Pointer(&info)); err != nil {
		return vfioRegionInfo{}, fmt.Errorf("hostpci: region %d info: %w", index, err)
	}

	return info, nil
}

// MMIOBase is the address BAR0 is mapped at in this process, suitable for
// igb.Config.MMIOBase.
func (d *Device) MMIOBase() uint64 {
	if len(d.mmio) == 0 {
		return 0
	}

	return uint64(uintptr(unsafe.Pointer(&d.mmio[0])))
}

// ReadConfig32 reads one little-endian 32-bit word from configuration
// space at off.
func (d *Device) ReadConfig32(off uint32) (uint32, error) {
	var buf [4]byte

	if _, err := unix.Pread(d.deviceFd, buf[:], d.configOffset+int64(off)); err != nil {
		return 0, fmt.Errorf("hostpci: read config %#x: %w", off, err)
	}

	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteConfig32 writes val as a little-endian 32-bit word to configuration
// space at off. off must be 32-bit aligned.
func (d *Device) WriteConfig32(off uint32, val uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], val)

	if _, err := unix.Pwrite(d.deviceFd, buf[:], d.configOffset+int64(off)); err != nil {
		return fmt.Errorf("hostpci: write config %#x: %w", off, err)
	}

	return nil
}

// Close unmaps BAR0 and releases the device, group and container file
// descriptors.
func (d *Device) Close() error {
	if len(d.mmio) > 0 {
		unix.Munmap(d.mmio)
	}
	if d.deviceFd != 0 {
		unix.Close(d.deviceFd)
	}
	if d.groupFd != 0 {
		unix.Close(d.groupFd)
	}
	if d.containerFd != 0 {
		unix.Close(d.containerFd)
	}

	return nil
}

// EnableMSIX arms count MSI-X vectors, each signaled by its own eventfd,
// and returns the eventfds for the caller to epoll/read as interrupts
// arrive.
func (d *Device) EnableMSIX(count int) ([]int, error) {
	fds := make([]int, count)

	for i := range fds {
		fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
		if err != nil {
			return nil, fmt.Errorf("hostpci: eventfd: %w", err)
		}
		fds[i] = fd
	}

	hdrSize := int(unsafe.Sizeof(vfioIRQSet{}))
	buf := make([]byte, hdrSize+count*4)

	hdr := (*vfioIRQSet)(unsafe.Pointer(&buf[0]))
	*hdr = vfioIRQSet{
		ArgSz: uint32(len(buf)),
		Flags: vfioIRQSetDataEventFD | vfioIRQSetActionTrigger,
		Index: vfioPCIMSIXIRQIndex,
		Count: uint32(count),
	}

	for i, fd := range fds {
		binary.LittleEndian.PutUint32(buf[hdrSize+i*4:], uint32(fd))
	}

	if err := ioctl(d.deviceFd, vfioDeviceSetIRQs, unsafe.Pointer(&buf[0])); err != nil {
		return nil, fmt.Errorf("hostpci: set IRQs: %w", err)
	}

	return fds, nil
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}

	return nil
}

func ioctlInt(fd int, req uintptr, arg int) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}

	return nil
}

const (
	capabilitiesPointerOffset = 0x34
	// CapMSIX is the PCI Capability ID for MSI-X, matching
	// soc/intel/pci.MSIX.
	CapMSIX = 0x11
)

// CapabilityHeader is the common header of one PCI Capabilities List entry.
type CapabilityHeader struct {
	ID   uint8
	Next uint8
}

// configReader is satisfied by *Device and by test fakes, isolating the
// capability-list walk from real file-descriptor I/O.
type configReader interface {
	ReadConfig32(off uint32) (uint32, error)
}

func walkCapabilities(c configReader) func(func(off uint32, hdr CapabilityHeader) bool) {
	return func(yield func(uint32, CapabilityHeader) bool) {
		ptr, err := c.ReadConfig32(capabilitiesPointerOffset)
		if err != nil {
			return
		}

		off := ptr & 0xFF

		for off != 0 {
			v, err := c.ReadConfig32(off)
			if err != nil {
				return
			}

			hdr := CapabilityHeader{ID: uint8(v), Next: uint8(v >> 8)}
			if !yield(off, hdr) {
				return
			}

			off = uint32(hdr.Next)
		}
	}
}

// Capabilities iterates this device's PCI Capabilities List.
func (d *Device) Capabilities() func(func(uint32, CapabilityHeader) bool) {
	return walkCapabilities(d)
}

// HasMSIX reports whether c's capability list advertises an MSI-X
// capability (ID 0x11), used by callers to decide between
// igb.Config.MSIXCapable true or false (spec §4.6/§4.7).
func HasMSIX(c configReader) bool {
	found := false

	for _, hdr := range walkCapabilities(c) {
		if hdr.ID == CapMSIX {
			found = true
			break
		}
	}

	return found
}
