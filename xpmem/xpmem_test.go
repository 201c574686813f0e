//go:build linux

// File: xpmem/xpmem_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package xpmem

import (
	"fmt"
	"testing"
)

func uniqueName(t *testing.T) string {
	return fmt.Sprintf("portals4go-test-%s-%p", t.Name(), t)
}

func TestExportImportSharesBytes(t *testing.T) {
	exp := NewExporter()
	name := uniqueName(t)

	seg, err := exp.Export(name, 4096)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	defer exp.Unexport(seg)

	copy(seg.Data, []byte("hello xpmem"))

	imp := NewExporter()
	imported, err := imp.Import(SegmentHandle{Name: name, Size: 4096})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	defer imp.Release(imported)

	if string(imported.Data[:11]) != "hello xpmem" {
		t.Fatalf("imported segment does not see exporter's bytes: %q", imported.Data[:11])
	}

	imported.Data[0] = 'H'
	if seg.Data[0] != 'H' {
		t.Fatal("write through imported mapping not visible to exporter: mappings are not shared")
	}
}

func TestImportIsIdempotentByRefcount(t *testing.T) {
	exp := NewExporter()
	name := uniqueName(t)
	seg, err := exp.Export(name, 4096)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	defer exp.Unexport(seg)

	again, err := exp.Import(seg.Handle)
	if err != nil {
		t.Fatalf("second Import: %v", err)
	}
	if again != seg {
		t.Fatal("re-importing an already-imported segment should return the same *Segment")
	}
	if seg.refs != 2 {
		t.Fatalf("refs = %d, want 2", seg.refs)
	}

	if err := exp.Release(again); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if seg.refs != 1 {
		t.Fatalf("refs after one Release = %d, want 1", seg.refs)
	}
}
