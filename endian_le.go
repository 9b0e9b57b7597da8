//go:build amd64 || 386 || arm64 || arm || riscv64 || mips64le || mipsle || ppc64le || wasm

package ptnk

import "unsafe"

// Page layouts are little-endian on disk. On little-endian hosts the
// accessors collapse to single loads and stores; page bodies are hot
// enough (every record decode goes through them) that the cast is
// worth carrying.

func getUint16LE(b []byte) uint16 { return *(*uint16)(unsafe.Pointer(&b[0])) }
func getUint32LE(b []byte) uint32 { return *(*uint32)(unsafe.Pointer(&b[0])) }
func getUint64LE(b []byte) uint64 { return *(*uint64)(unsafe.Pointer(&b[0])) }

func putUint16LE(b []byte, v uint16) { *(*uint16)(unsafe.Pointer(&b[0])) = v }
func putUint32LE(b []byte, v uint32) { *(*uint32)(unsafe.Pointer(&b[0])) = v }
func putUint64LE(b []byte, v uint64) { *(*uint64)(unsafe.Pointer(&b[0])) = v }
