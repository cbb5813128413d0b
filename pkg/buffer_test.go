package pkg

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestTransferBuffer_ByteOrder(t *testing.T) {
	b := NewTransferBuffer(8)
	for _, c := range []byte("abc") {
		if err := b.WriteByte(c); err != nil {
			t.Fatalf("WriteByte: %v", err)
		}
	}
	if _, err := b.Write([]byte("de")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if b.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", b.Len())
	}

	var got []byte
	for {
		c, err := b.ReadByte()
		if errors.Is(err, ErrBufferEmpty) {
			break
		}
		if err != nil {
			t.Fatalf("ReadByte: %v", err)
		}
		got = append(got, c)
	}
	if string(got) != "abcde" {
		t.Errorf("drained %q, want %q", got, "abcde")
	}
	if b.Len() != 0 {
		t.Errorf("Len() after drain = %d, want 0", b.Len())
	}
}

func TestTransferBuffer_Read(t *testing.T) {
	b := NewTransferBufferFrom([]byte("hello world"))
	p := make([]byte, 5)

	n, err := b.Read(p)
	if err != nil || n != 5 || string(p) != "hello" {
		t.Fatalf("Read() = %d, %v, %q", n, err, p[:n])
	}
	rest, err := io.ReadAll(b)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(rest) != " world" {
		t.Errorf("rest = %q", rest)
	}
	if n, err := b.Read(p); n != 0 || err != io.EOF {
		t.Errorf("Read() on empty = %d, %v; want 0, EOF", n, err)
	}
}

func TestTransferBuffer_Reset(t *testing.T) {
	b := NewTransferBuffer(512)
	_, _ = b.Write(bytes.Repeat([]byte{0xAA}, 100))
	b.Reset()
	if b.Len() != 0 {
		t.Errorf("Len() after Reset = %d", b.Len())
	}
	if b.CapacityHint() != 512 {
		t.Errorf("CapacityHint() after Reset = %d, want 512", b.CapacityHint())
	}
	b.SetCapacityHint(13)
	if b.CapacityHint() != 13 {
		t.Errorf("CapacityHint() = %d, want 13", b.CapacityHint())
	}
}

func TestTransferBuffer_Bytes(t *testing.T) {
	b := NewTransferBufferFrom([]byte{1, 2, 3})
	_, _ = b.ReadByte()
	if !bytes.Equal(b.Bytes(), []byte{2, 3}) {
		t.Errorf("Bytes() = %v", b.Bytes())
	}
}

func BenchmarkTransferBuffer_Write(b *testing.B) {
	block := make([]byte, 512)
	buf := NewTransferBuffer(512)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		_, _ = buf.Write(block)
	}
}
