package wasm

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"glyph-ide/internal/domain"
)

// Memory is the subset of api.Memory the marshaling layer uses. Narrowing
// the surface keeps guest-memory access behind a bounds-checked view and
// lets tests substitute a plain byte-backed fake.
type Memory interface {
	Read(offset, byteCount uint32) ([]byte, bool)
	Write(offset uint32, v []byte) bool
	WriteUint32Le(offset uint32, v uint32) bool
}

// Allocator exposes the guest's exported functions, of which the
// marshaling layer only ever calls malloc and free.
type Allocator interface {
	ExportedFunction(name string) api.Function
}

// ReadString decodes size bytes of guest memory at ptr as UTF-8.
// Out-of-range reads fail closed with ErrMemoryAccess; no host-level
// panic ever reaches guest code.
func ReadString(mem Memory, ptr, size uint32) (string, error) {
	b, err := ReadBytes(mem, ptr, size)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadBytes copies size bytes out of guest memory at ptr.
func ReadBytes(mem Memory, ptr, size uint32) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	buf, ok := mem.Read(ptr, size)
	if !ok {
		return nil, fmt.Errorf("%w: read at ptr=%d len=%d", domain.ErrMemoryAccess, ptr, size)
	}
	// Copy so the caller owns the slice after the guest runs again.
	out := make([]byte, size)
	copy(out, buf)
	return out, nil
}

// WriteString transfers a UTF-8 string into guest memory via the guest's
// exported malloc. The (0, 0) return is a sentinel meaning the transfer
// failed (no allocator, allocator error, or null pointer) — callers must
// treat it as failure, never as an empty string. Empty strings therefore
// still allocate one byte so the returned pointer is non-null.
func WriteString(ctx context.Context, mod Allocator, mem Memory, value string) (uint32, uint32, error) {
	return WriteBytes(ctx, mod, mem, []byte(value))
}

// WriteBytes is WriteString for raw bytes.
func WriteBytes(ctx context.Context, mod Allocator, mem Memory, data []byte) (uint32, uint32, error) {
	malloc := mod.ExportedFunction("malloc")
	if malloc == nil {
		return 0, 0, fmt.Errorf("%w: guest exports no malloc", domain.ErrMemoryAccess)
	}

	size := uint32(len(data))
	allocSize := size
	if allocSize == 0 {
		allocSize = 1
	}

	results, err := malloc.Call(ctx, uint64(allocSize))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: malloc(%d): %v", domain.ErrMemoryAccess, allocSize, err)
	}
	if len(results) == 0 {
		return 0, 0, fmt.Errorf("%w: malloc returned no results", domain.ErrMemoryAccess)
	}

	ptr := uint32(results[0])
	if ptr == 0 {
		return 0, 0, fmt.Errorf("%w: malloc returned null pointer", domain.ErrMemoryAccess)
	}

	if size > 0 && !mem.Write(ptr, data) {
		return 0, 0, fmt.Errorf("%w: write at ptr=%d len=%d", domain.ErrMemoryAccess, ptr, size)
	}

	return ptr, size, nil
}

// WriteResult fills a guest-supplied output slot: two little-endian u32
// words (data pointer, data length) at outPtr.
func WriteResult(mem Memory, outPtr, dataPtr, dataLen uint32) error {
	if !mem.WriteUint32Le(outPtr, dataPtr) || !mem.WriteUint32Le(outPtr+4, dataLen) {
		return fmt.Errorf("%w: result slot at ptr=%d", domain.ErrMemoryAccess, outPtr)
	}
	return nil
}

// Free releases guest memory via the guest's exported free, best-effort.
func Free(ctx context.Context, mod Allocator, ptr, size uint32) {
	if ptr == 0 {
		return
	}
	free := mod.ExportedFunction("free")
	if free == nil {
		return
	}
	_, _ = free.Call(ctx, uint64(ptr), uint64(size))
}
