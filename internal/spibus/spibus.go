/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package spibus drives a /dev/spidevX.Y character device for the
// register-level reads and writes an external switch servo performs
// against a switch's management interface.
package spibus

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/vtolstov/go-ioctl"
	"golang.org/x/sys/unix"
)

const spiIOCMagic = 'k'

var (
	iocWRMode       = ioctl.IOW(spiIOCMagic, 1, unsafe.Sizeof(uint8(0)))
	iocWRBitsPerWord = ioctl.IOW(spiIOCMagic, 3, unsafe.Sizeof(uint8(0)))
	iocWRMaxSpeedHz = ioctl.IOW(spiIOCMagic, 4, unsafe.Sizeof(uint32(0)))
)

// iocMessage1 builds the SPI_IOC_MESSAGE(1) request number for a single
// spiIOCTransfer, since go-ioctl has no generated constant for it.
var iocMessage1 = ioctl.IOW(spiIOCMagic, 0, unsafe.Sizeof(spiIOCTransfer{}))

// spiIOCTransfer mirrors struct spi_ioc_transfer from linux/spi/spidev.h.
type spiIOCTransfer struct {
	TxBuf       uint64
	RxBuf       uint64
	Len         uint32
	SpeedHz     uint32
	DelayUsecs  uint16
	BitsPerWord uint8
	CSChange    uint8
	TxNbits     uint8
	RxNbits     uint8
	Pad         uint16
}

// Bus is an open SPI character device configured for CPHA mode 10 MHz
// 8-bit-word transfers, the profile an SJA1105-class switch's management
// interface expects.
type Bus struct {
	file *os.File
}

// Config overrides the bus's default transfer parameters.
type Config struct {
	Mode      uint8 // SPI_CPHA, SPI_CPOL bits; default SPI mode 1 (CPHA set)
	SpeedHz   uint32
	BitsPerWord uint8
}

// DefaultConfig is 10 MHz, CPHA mode, 8-bit words, per the external
// switch servo's wire format.
func DefaultConfig() Config {
	return Config{Mode: 0x01, SpeedHz: 10_000_000, BitsPerWord: 8}
}

// Open opens and configures path (e.g. "/dev/spidev0.0").
func Open(path string, cfg Config) (*Bus, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening spi device %s: %w", path, err)
	}
	b := &Bus{file: f}
	if err := b.ioctl(iocWRMode, unsafe.Pointer(&cfg.Mode)); err != nil {
		f.Close()
		return nil, fmt.Errorf("setting spi mode: %w", err)
	}
	if err := b.ioctl(iocWRBitsPerWord, unsafe.Pointer(&cfg.BitsPerWord)); err != nil {
		f.Close()
		return nil, fmt.Errorf("setting spi bits per word: %w", err)
	}
	if err := b.ioctl(iocWRMaxSpeedHz, unsafe.Pointer(&cfg.SpeedHz)); err != nil {
		f.Close()
		return nil, fmt.Errorf("setting spi speed: %w", err)
	}
	return b, nil
}

func (b *Bus) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, b.file.Fd(), req, uintptr(arg))
	if errno != 0 {
		return fmt.Errorf("errno %w during IOCTL %d on FD %s", errno, req, b.file.Name())
	}
	return nil
}

// Transfer performs a single full-duplex SPI transaction: tx is written
// out, and a same-length buffer is returned with whatever was clocked in.
func (b *Bus) Transfer(tx []byte) ([]byte, error) {
	rx := make([]byte, len(tx))
	xfer := spiIOCTransfer{
		TxBuf: uint64(uintptr(unsafe.Pointer(&tx[0]))),
		RxBuf: uint64(uintptr(unsafe.Pointer(&rx[0]))),
		Len:   uint32(len(tx)),
	}
	if err := b.ioctl(iocMessage1, unsafe.Pointer(&xfer)); err != nil {
		return nil, fmt.Errorf("spi transfer: %w", err)
	}
	return rx, nil
}

// ReadRegister performs a register read as one full-duplex transfer: a
// 4-byte big-endian address followed by 4*words zero bytes. The words are
// taken from the bytes received after the first 4; no length field is
// sent.
func (b *Bus) ReadRegister(addr uint32, words int) ([]uint32, error) {
	resp, err := b.Transfer(buildReadRequest(addr, words))
	if err != nil {
		return nil, err
	}
	return parseReadResponse(resp, words), nil
}

// WriteRegister performs a register write using the switch's address-plus-
// value SPI framing: the high bit of the address marks a write.
func (b *Bus) WriteRegister(addr uint32, value uint32) error {
	_, err := b.Transfer(buildWriteRequest(addr, value))
	return err
}

func putBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func getBE32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func buildReadRequest(addr uint32, words int) []byte {
	req := make([]byte, 4+4*words)
	putBE32(req, addr)
	return req
}

func parseReadResponse(resp []byte, words int) []uint32 {
	out := make([]uint32, words)
	for i := 0; i < words; i++ {
		out[i] = getBE32(resp[4+4*i:])
	}
	return out
}

func buildWriteRequest(addr, value uint32) []byte {
	req := make([]byte, 8)
	putBE32(req, addr|0x80000000)
	putBE32(req[4:], value)
	return req
}

// Close closes the underlying device file.
func (b *Bus) Close() error { return b.file.Close() }
