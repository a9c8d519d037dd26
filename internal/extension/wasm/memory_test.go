package wasm

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/api"

	"glyph-ide/internal/domain"
)

// fakeMemory is a byte-backed stand-in for guest linear memory.
type fakeMemory struct {
	data []byte
}

func newFakeMemory(size int) *fakeMemory {
	return &fakeMemory{data: make([]byte, size)}
}

func (m *fakeMemory) Read(offset, byteCount uint32) ([]byte, bool) {
	if uint64(offset)+uint64(byteCount) > uint64(len(m.data)) {
		return nil, false
	}
	return m.data[offset : offset+byteCount], true
}

func (m *fakeMemory) Write(offset uint32, v []byte) bool {
	if uint64(offset)+uint64(len(v)) > uint64(len(m.data)) {
		return false
	}
	copy(m.data[offset:], v)
	return true
}

func (m *fakeMemory) WriteUint32Le(offset uint32, v uint32) bool {
	if uint64(offset)+4 > uint64(len(m.data)) {
		return false
	}
	binary.LittleEndian.PutUint32(m.data[offset:], v)
	return true
}

// fakeFunc implements api.Function around a plain Go function.
type fakeFunc struct {
	api.Function
	fn func(params ...uint64) ([]uint64, error)
}

func (f *fakeFunc) Definition() api.FunctionDefinition { return nil }

func (f *fakeFunc) Call(_ context.Context, params ...uint64) ([]uint64, error) {
	return f.fn(params...)
}

func (f *fakeFunc) CallWithStack(_ context.Context, stack []uint64) error {
	results, err := f.fn(stack...)
	if err != nil {
		return err
	}
	copy(stack, results)
	return nil
}

// fakeAllocator exposes a bump allocator as the guest's malloc/free.
type fakeAllocator struct {
	next  uint32
	freed []uint32
	funcs map[string]api.Function
}

func newFakeAllocator() *fakeAllocator {
	a := &fakeAllocator{next: 8}
	a.funcs = map[string]api.Function{
		"malloc": &fakeFunc{fn: func(params ...uint64) ([]uint64, error) {
			ptr := a.next
			a.next += uint32(params[0])
			return []uint64{uint64(ptr)}, nil
		}},
		"free": &fakeFunc{fn: func(params ...uint64) ([]uint64, error) {
			a.freed = append(a.freed, uint32(params[0]))
			return nil, nil
		}},
	}
	return a
}

func (a *fakeAllocator) ExportedFunction(name string) api.Function {
	return a.funcs[name]
}

func TestReadString_RoundTrip(t *testing.T) {
	mem := newFakeMemory(1024)
	copy(mem.data[100:], "hello")

	s, err := ReadString(mem, 100, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
}

func TestReadBytes_ZeroLength(t *testing.T) {
	mem := newFakeMemory(16)
	b, err := ReadBytes(mem, 0, 0)
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestReadBytes_OutOfBounds(t *testing.T) {
	mem := newFakeMemory(16)
	_, err := ReadBytes(mem, 10, 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMemoryAccess)
}

func TestReadBytes_CopiesOut(t *testing.T) {
	mem := newFakeMemory(16)
	copy(mem.data, "abcd")

	b, err := ReadBytes(mem, 0, 4)
	require.NoError(t, err)

	// Mutating guest memory afterwards must not change the copy.
	mem.data[0] = 'z'
	assert.Equal(t, []byte("abcd"), b)
}

func TestWriteString_RoundTrip(t *testing.T) {
	mem := newFakeMemory(4096)
	alloc := newFakeAllocator()

	for _, value := range []string{"hello", "héllo wörld 日本語"} {
		ptr, size, err := WriteString(context.Background(), alloc, mem, value)
		require.NoError(t, err)
		assert.NotZero(t, ptr)
		assert.Equal(t, uint32(len(value)), size)

		back, err := ReadString(mem, ptr, size)
		require.NoError(t, err)
		assert.Equal(t, value, back)
	}
}

func TestWriteString_EmptyIsNotSentinel(t *testing.T) {
	mem := newFakeMemory(64)
	alloc := newFakeAllocator()

	ptr, size, err := WriteString(context.Background(), alloc, mem, "")
	require.NoError(t, err)
	assert.NotZero(t, ptr, "empty string must still produce a non-null pointer")
	assert.Zero(t, size)
}

func TestWriteBytes_NoMalloc(t *testing.T) {
	mem := newFakeMemory(64)
	alloc := &fakeAllocator{funcs: map[string]api.Function{}}

	ptr, size, err := WriteBytes(context.Background(), alloc, mem, []byte("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMemoryAccess)
	assert.Zero(t, ptr)
	assert.Zero(t, size)
}

func TestWriteBytes_NullPointer(t *testing.T) {
	mem := newFakeMemory(64)
	alloc := &fakeAllocator{funcs: map[string]api.Function{
		"malloc": &fakeFunc{fn: func(...uint64) ([]uint64, error) {
			return []uint64{0}, nil
		}},
	}}

	ptr, size, err := WriteBytes(context.Background(), alloc, mem, []byte("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMemoryAccess)
	assert.Zero(t, ptr)
	assert.Zero(t, size)
}

func TestWriteResult_LittleEndianPair(t *testing.T) {
	mem := newFakeMemory(64)
	require.NoError(t, WriteResult(mem, 8, 0x1122, 0x33))

	assert.Equal(t, uint32(0x1122), binary.LittleEndian.Uint32(mem.data[8:]))
	assert.Equal(t, uint32(0x33), binary.LittleEndian.Uint32(mem.data[12:]))
}

func TestWriteResult_OutOfBounds(t *testing.T) {
	mem := newFakeMemory(8)
	err := WriteResult(mem, 6, 1, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMemoryAccess)
}

func TestFree_BestEffort(t *testing.T) {
	alloc := newFakeAllocator()
	Free(context.Background(), alloc, 42, 8)
	assert.Equal(t, []uint32{42}, alloc.freed)

	// Null pointers and missing exports are silently ignored.
	Free(context.Background(), alloc, 0, 8)
	assert.Len(t, alloc.freed, 1)
	Free(context.Background(), &fakeAllocator{funcs: map[string]api.Function{}}, 42, 8)
}
